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

package export

import (
	"context"
	"errors"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Credentials holds static AWS credentials.
type S3Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// S3Options configures the uploader.
type S3Options struct {
	Bucket         string        // Target bucket
	Prefix         string        // Key prefix for every upload
	Region         string        // AWS region
	Profile        string        // Shared config profile
	EndpointURL    string        // Custom endpoint, e.g. MinIO or LocalStack
	ForcePathStyle bool          // Path-style addressing for S3-compatible stores
	Credentials    S3Credentials // Static credentials; empty uses the default chain
}

// S3Option represents a configuration function for S3Options.
type S3Option func(*S3Options)

// WithBucket sets the target bucket and key prefix.
func WithBucket(bucket, prefix string) S3Option {
	return func(opts *S3Options) {
		opts.Bucket = bucket
		opts.Prefix = prefix
	}
}

// WithRegion sets the AWS region.
func WithRegion(region string) S3Option {
	return func(opts *S3Options) {
		opts.Region = region
	}
}

// WithProfile selects a shared config profile.
func WithProfile(profile string) S3Option {
	return func(opts *S3Options) {
		opts.Profile = profile
	}
}

// WithEndpoint points the uploader at an S3-compatible endpoint.
func WithEndpoint(url string, pathStyle bool) S3Option {
	return func(opts *S3Options) {
		opts.EndpointURL = url
		opts.ForcePathStyle = pathStyle
	}
}

// WithStaticCredentials uses fixed credentials instead of the default chain.
func WithStaticCredentials(accessKeyID, secretAccessKey, sessionToken string) S3Option {
	return func(opts *S3Options) {
		opts.Credentials = S3Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
			SessionToken:    sessionToken,
		}
	}
}

// S3Uploader puts export files into a bucket.
type S3Uploader struct {
	client *s3.Client
	opts   S3Options
}

// NewS3Uploader resolves AWS configuration and creates the client.
func NewS3Uploader(ctx context.Context, opts ...S3Option) (*S3Uploader, error) {
	options := S3Options{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Bucket == "" {
		return nil, &Error{Op: "validate", Err: errors.New("bucket is required")}
	}

	cfg, err := loadAWSConfig(ctx, options)
	if err != nil {
		return nil, &Error{Op: "aws_config", Err: err}
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if options.EndpointURL != "" {
			o.BaseEndpoint = aws.String(options.EndpointURL)
		}
		o.UsePathStyle = options.ForcePathStyle
	})
	return &S3Uploader{client: client, opts: options}, nil
}

func loadAWSConfig(ctx context.Context, opts S3Options) (aws.Config, error) {
	var configOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		configOpts = append(configOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		configOpts = append(configOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.Credentials.AccessKeyID != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				opts.Credentials.AccessKeyID,
				opts.Credentials.SecretAccessKey,
				opts.Credentials.SessionToken,
			),
		))
	}
	return config.LoadDefaultConfig(ctx, configOpts...)
}

// Key joins the configured prefix and name.
func (u *S3Uploader) Key(name string) string {
	if u.opts.Prefix == "" {
		return name
	}
	return path.Join(u.opts.Prefix, name)
}

// Upload stores body under the prefixed key and returns its s3:// URI.
func (u *S3Uploader) Upload(ctx context.Context, name string, body io.ReadSeeker, contentType string) (string, error) {
	key := u.Key(name)
	input := &s3.PutObjectInput{
		Bucket: aws.String(u.opts.Bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := u.client.PutObject(ctx, input); err != nil {
		return "", &Error{Op: "upload", Err: err}
	}
	return "s3://" + u.opts.Bucket + "/" + key, nil
}
