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

// Package filter provides record predicates for the filter operator.
package filter

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/aaronlmathis/goflow/core"
)

// NotNull keeps records where field is present, not nil and not "".
func NotNull(field string) core.Filter {
	return core.FilterFunc(func(_ context.Context, record core.Record) (bool, error) {
		value, ok := record[field]
		if !ok || value == nil {
			return false, nil
		}
		s, isString := value.(string)
		return !isString || s != "", nil
	})
}

// Equals keeps records where field equals want. Numbers compare by value
// regardless of their Go type, everything else by its text form.
func Equals(field string, want interface{}) core.Filter {
	return core.FilterFunc(func(_ context.Context, record core.Record) (bool, error) {
		value, ok := record[field]
		return ok && equal(value, want), nil
	})
}

// In keeps records where field equals one of values.
func In(field string, values ...interface{}) core.Filter {
	return core.FilterFunc(func(_ context.Context, record core.Record) (bool, error) {
		value, ok := record[field]
		if !ok {
			return false, nil
		}
		for _, want := range values {
			if equal(value, want) {
				return true, nil
			}
		}
		return false, nil
	})
}

// Contains keeps records whose string field contains substr.
func Contains(field, substr string) core.Filter {
	return stringMatch(field, func(s string) bool { return strings.Contains(s, substr) })
}

// MatchesRegex keeps records whose string field matches pattern.
func MatchesRegex(field, pattern string) (core.Filter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return stringMatch(field, re.MatchString), nil
}

func stringMatch(field string, match func(string) bool) core.Filter {
	return core.FilterFunc(func(_ context.Context, record core.Record) (bool, error) {
		s, ok := record[field].(string)
		return ok && match(s), nil
	})
}

// GreaterThan keeps records whose numeric field is above threshold.
func GreaterThan(field string, threshold float64) core.Filter {
	return compare(field, func(n float64) bool { return n > threshold })
}

// LessThan keeps records whose numeric field is below threshold.
func LessThan(field string, threshold float64) core.Filter {
	return compare(field, func(n float64) bool { return n < threshold })
}

func compare(field string, pred func(float64) bool) core.Filter {
	return core.FilterFunc(func(_ context.Context, record core.Record) (bool, error) {
		n, ok := number(record[field])
		return ok && pred(n), nil
	})
}

// And keeps records every filter keeps.
func And(filters ...core.Filter) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		for _, f := range filters {
			keep, err := f.ShouldInclude(ctx, record)
			if err != nil || !keep {
				return false, err
			}
		}
		return true, nil
	})
}

// Or keeps records any filter keeps.
func Or(filters ...core.Filter) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		for _, f := range filters {
			keep, err := f.ShouldInclude(ctx, record)
			if err != nil {
				return false, err
			}
			if keep {
				return true, nil
			}
		}
		return false, nil
	})
}

// Not inverts f.
func Not(f core.Filter) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		keep, err := f.ShouldInclude(ctx, record)
		return !keep && err == nil, err
	})
}

// Where builds a filter from a textual operator: eq, ne, gt, lt, in,
// contains, matches or not_null.
func Where(field, op string, value interface{}) (core.Filter, error) {
	switch op {
	case "eq", "=", "==":
		return Equals(field, value), nil
	case "ne", "!=":
		return Not(Equals(field, value)), nil
	case "gt", ">", "lt", "<":
		threshold, ok := number(value)
		if !ok {
			return nil, fmt.Errorf("%s %s needs a number, got %v", field, op, value)
		}
		if op == "gt" || op == ">" {
			return GreaterThan(field, threshold), nil
		}
		return LessThan(field, threshold), nil
	case "in":
		values, ok := value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("%s in needs a list, got %v", field, value)
		}
		return In(field, values...), nil
	case "contains":
		return Contains(field, fmt.Sprint(value)), nil
	case "matches":
		return MatchesRegex(field, fmt.Sprint(value))
	case "not_null":
		return NotNull(field), nil
	}
	return nil, fmt.Errorf("unknown filter operator %q", op)
}

func equal(a, b interface{}) bool {
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			return x == y
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func number(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return n, err == nil
	}
	return 0, false
}
