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

// backoff.go - Delay strategies between task attempts
package backoff

import (
	"math/rand"
	"time"
)

// Strategy computes the delay before the next attempt. attempt is the
// zero-based index of the retry being scheduled.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Default is used by tasks that declare retries without a strategy.
func Default() Strategy {
	return &Exponential{BaseDelay: time.Second, MaxDelay: time.Minute}
}

// Exponential doubles BaseDelay on every attempt, capped at MaxDelay.
type Exponential struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (eb *Exponential) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 1<<62 overflows time.Duration arithmetic well before this, clamp early
	if attempt > 30 {
		attempt = 30
	}
	delay := eb.BaseDelay * time.Duration(1<<uint(attempt))
	if eb.MaxDelay > 0 && (delay > eb.MaxDelay || delay < 0) {
		delay = eb.MaxDelay
	}
	return delay
}

// Linear grows the delay by BaseDelay per attempt.
type Linear struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (lb *Linear) Delay(attempt int) time.Duration {
	delay := lb.BaseDelay * time.Duration(attempt+1)
	if lb.MaxDelay > 0 && delay > lb.MaxDelay {
		delay = lb.MaxDelay
	}
	return delay
}

// Fixed waits the same amount between every attempt.
type Fixed struct {
	FixedDelay time.Duration
}

func (fb *Fixed) Delay(attempt int) time.Duration {
	return fb.FixedDelay
}

// Jittered is Exponential with a random spread of +/- Jitter/2.
type Jittered struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    float64 // 0.0 to 1.0
}

func (jb *Jittered) Delay(attempt int) time.Duration {
	delay := (&Exponential{BaseDelay: jb.BaseDelay, MaxDelay: jb.MaxDelay}).Delay(attempt)

	if jb.Jitter > 0 {
		jitterAmount := float64(delay) * jb.Jitter * (rand.Float64() - 0.5)
		delay += time.Duration(jitterAmount)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// None retries immediately.
type None struct{}

func (nb *None) Delay(attempt int) time.Duration {
	return 0
}
