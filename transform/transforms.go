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

// Package transform provides record transformers for the transform
// operator. Transformers receive a private copy of each record and may
// change it in place.
package transform

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aaronlmathis/goflow/core"
)

// Chain applies transformers in order. A nil record from any step drops
// the record.
func Chain(steps ...core.Transformer) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		var err error
		for _, step := range steps {
			if record, err = step.Transform(ctx, record); err != nil || record == nil {
				return nil, err
			}
		}
		return record, nil
	})
}

// Select keeps only the listed fields.
func Select(fields ...string) core.Transformer {
	return core.TransformFunc(func(_ context.Context, record core.Record) (core.Record, error) {
		out := make(core.Record, len(fields))
		for _, field := range fields {
			if value, ok := record[field]; ok {
				out[field] = value
			}
		}
		return out, nil
	})
}

// Rename moves fields from the old name (key) to the new name (value).
func Rename(mapping map[string]string) core.Transformer {
	return core.TransformFunc(func(_ context.Context, record core.Record) (core.Record, error) {
		out := make(core.Record, len(record))
		for key, value := range record {
			if renamed, ok := mapping[key]; ok {
				key = renamed
			}
			out[key] = value
		}
		return out, nil
	})
}

// Drop removes the listed fields.
func Drop(fields ...string) core.Transformer {
	return core.TransformFunc(func(_ context.Context, record core.Record) (core.Record, error) {
		for _, field := range fields {
			delete(record, field)
		}
		return record, nil
	})
}

// Set adds field with a value computed from the record.
func Set(field string, fn func(core.Record) interface{}) core.Transformer {
	return core.TransformFunc(func(_ context.Context, record core.Record) (core.Record, error) {
		record[field] = fn(record)
		return record, nil
	})
}

// TrimSpace trims surrounding whitespace from string fields.
func TrimSpace(fields ...string) core.Transformer {
	return mapStrings(strings.TrimSpace, fields)
}

// ToUpper upper-cases string fields.
func ToUpper(fields ...string) core.Transformer {
	return mapStrings(strings.ToUpper, fields)
}

// ToLower lower-cases string fields.
func ToLower(fields ...string) core.Transformer {
	return mapStrings(strings.ToLower, fields)
}

func mapStrings(fn func(string) string, fields []string) core.Transformer {
	return core.TransformFunc(func(_ context.Context, record core.Record) (core.Record, error) {
		for _, field := range fields {
			if s, ok := record[field].(string); ok {
				record[field] = fn(s)
			}
		}
		return record, nil
	})
}

// ToInt converts fields to int64. Missing and nil fields are left alone.
func ToInt(fields ...string) core.Transformer {
	return convert(fields, toInt)
}

// ToFloat converts fields to float64. Missing and nil fields are left alone.
func ToFloat(fields ...string) core.Transformer {
	return convert(fields, toFloat)
}

// ToString formats fields as strings.
func ToString(fields ...string) core.Transformer {
	return convert(fields, func(v interface{}) (interface{}, error) {
		return fmt.Sprint(v), nil
	})
}

func convert(fields []string, fn func(interface{}) (interface{}, error)) core.Transformer {
	return core.TransformFunc(func(_ context.Context, record core.Record) (core.Record, error) {
		for _, field := range fields {
			value, ok := record[field]
			if !ok || value == nil {
				continue
			}
			converted, err := fn(value)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", field, err)
			}
			record[field] = converted
		}
		return record, nil
	})
}

func toInt(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	}
	return nil, fmt.Errorf("cannot convert %T to int", value)
}

func toFloat(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	}
	return nil, fmt.Errorf("cannot convert %T to float", value)
}
