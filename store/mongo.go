//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of GoFlow.
//
// GoFlow is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// GoFlow is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with GoFlow. If not, see https://www.gnu.org/licenses/.

package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aaronlmathis/goflow/run"
)

// MongoOptions configures the MongoDB store.
type MongoOptions struct {
	URI             string        // MongoDB connection URI
	Database        string        // Database name
	Collection      string        // Collection holding one document per run
	Timeout         time.Duration // Connect and per-operation timeout
	MaxPoolSize     uint64        // Max connections in the client pool
	MaxConnIdleTime time.Duration // Max idle time for pooled connections
}

// MongoOption represents a configuration function for MongoOptions.
type MongoOption func(*MongoOptions)

// WithMongoURI sets the connection URI.
func WithMongoURI(uri string) MongoOption {
	return func(opts *MongoOptions) {
		opts.URI = uri
	}
}

// WithMongoDatabase sets the database and collection names.
func WithMongoDatabase(database, collection string) MongoOption {
	return func(opts *MongoOptions) {
		opts.Database = database
		if collection != "" {
			opts.Collection = collection
		}
	}
}

// WithMongoTimeout sets the connect and operation timeout.
func WithMongoTimeout(timeout time.Duration) MongoOption {
	return func(opts *MongoOptions) {
		opts.Timeout = timeout
	}
}

// WithMongoPool configures the client connection pool.
func WithMongoPool(maxSize uint64, maxIdle time.Duration) MongoOption {
	return func(opts *MongoOptions) {
		opts.MaxPoolSize = maxSize
		opts.MaxConnIdleTime = maxIdle
	}
}

// Mongo stores each run as one document keyed by run id, with its task
// instances embedded.
type Mongo struct {
	client     *mongo.Client
	collection *mongo.Collection
	opts       MongoOptions
}

// NewMongo connects to MongoDB and verifies the connection.
func NewMongo(ctx context.Context, opts ...MongoOption) (*Mongo, error) {
	cfg := &MongoOptions{
		URI:             "mongodb://localhost:27017",
		Database:        "goflow",
		Collection:      "runs",
		Timeout:         10 * time.Second,
		MaxPoolSize:     20,
		MaxConnIdleTime: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Database == "" {
		return nil, &Error{Op: "validate", Err: errors.New("database name is required")}
	}

	client, err := mongo.Connect(ctx, buildClientOptions(cfg))
	if err != nil {
		return nil, &Error{Op: "connect", Err: err}
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, &Error{Op: "ping", Err: err}
	}

	return &Mongo{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		opts:       *cfg,
	}, nil
}

func buildClientOptions(opts *MongoOptions) *options.ClientOptions {
	clientOpts := options.Client().ApplyURI(opts.URI)
	if opts.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(opts.MaxPoolSize)
	}
	if opts.MaxConnIdleTime > 0 {
		clientOpts.SetMaxConnIdleTime(opts.MaxConnIdleTime)
	}
	if opts.Timeout > 0 {
		clientOpts.SetConnectTimeout(opts.Timeout)
	}
	return clientOpts
}

func (m *Mongo) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opts.Timeout > 0 {
		return context.WithTimeout(ctx, m.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

func (m *Mongo) SaveRun(ctx context.Context, snap run.Snapshot) error {
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	if snap.Instances == nil {
		snap.Instances = []run.InstanceSnapshot{}
	}
	_, err := m.collection.ReplaceOne(ctx, bson.M{"_id": snap.RunID}, snap, options.Replace().SetUpsert(true))
	if err != nil {
		return &Error{Op: "save_run", Err: err}
	}
	return nil
}

func (m *Mongo) SaveInstance(ctx context.Context, runID string, inst run.InstanceSnapshot) error {
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	res, err := m.collection.UpdateOne(ctx,
		bson.M{"_id": runID, "instances.task_id": inst.TaskID},
		bson.M{"$set": bson.M{"instances.$": inst}})
	if err != nil {
		return &Error{Op: "save_instance", Err: err}
	}
	if res.MatchedCount > 0 {
		return nil
	}

	res, err = m.collection.UpdateOne(ctx,
		bson.M{"_id": runID},
		bson.M{"$push": bson.M{"instances": inst}})
	if err != nil {
		return &Error{Op: "save_instance", Err: err}
	}
	if res.MatchedCount == 0 {
		return &Error{Op: "save_instance", Err: ErrNotFound}
	}
	return nil
}

func (m *Mongo) LoadRun(ctx context.Context, runID string) (run.Snapshot, error) {
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	var snap run.Snapshot
	err := m.collection.FindOne(ctx, bson.M{"_id": runID}).Decode(&snap)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return run.Snapshot{}, &Error{Op: "load_run", Err: ErrNotFound}
	}
	if err != nil {
		return run.Snapshot{}, &Error{Op: "load_run", Err: err}
	}
	normalizeTimes(&snap)
	return snap, nil
}

func (m *Mongo) ListRuns(ctx context.Context, graphID string) ([]run.Snapshot, error) {
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	findOpts := options.Find().SetSort(bson.D{{Key: "logical_date", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := m.collection.Find(ctx, bson.M{"graph_id": graphID}, findOpts)
	if err != nil {
		return nil, &Error{Op: "list_runs", Err: err}
	}
	defer cursor.Close(ctx)

	var out []run.Snapshot
	if err := cursor.All(ctx, &out); err != nil {
		return nil, &Error{Op: "list_runs", Err: err}
	}
	for i := range out {
		normalizeTimes(&out[i])
	}
	return out, nil
}

func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.Timeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// normalizeTimes maps the BSON zero date back to time.Time{} and decoded
// dates to UTC.
func normalizeTimes(snap *run.Snapshot) {
	fix := func(t *time.Time) {
		if t.IsZero() || t.Year() <= 1 {
			*t = time.Time{}
			return
		}
		*t = t.UTC()
	}
	fix(&snap.LogicalDate)
	fix(&snap.StartedAt)
	fix(&snap.EndedAt)
	for i := range snap.Instances {
		fix(&snap.Instances[i].StartedAt)
		fix(&snap.Instances[i].EndedAt)
		fix(&snap.Instances[i].RetryAt)
	}
}
