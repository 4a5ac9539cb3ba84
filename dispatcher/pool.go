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

package dispatcher

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool is a process-wide cap on concurrently executing tasks, shared by any
// number of dispatchers. A nil *Pool imposes no limit.
type Pool struct {
	sem   *semaphore.Weighted
	size  int
	mu    sync.Mutex
	freed chan struct{}
}

// NewPool creates a pool admitting at most size concurrent tasks.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		sem:   semaphore.NewWeighted(int64(size)),
		size:  size,
		freed: make(chan struct{}),
	}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	if p == nil {
		return 0
	}
	return p.size
}

// TryAcquire takes a slot without blocking.
func (p *Pool) TryAcquire() bool {
	if p == nil {
		return true
	}
	return p.sem.TryAcquire(1)
}

// Release returns a slot and wakes everyone waiting on Freed.
func (p *Pool) Release() {
	if p == nil {
		return
	}
	p.sem.Release(1)
	p.mu.Lock()
	close(p.freed)
	p.freed = make(chan struct{})
	p.mu.Unlock()
}

// Freed returns a channel closed at the next Release. Fetch it before
// calling TryAcquire so a release in between is not missed.
func (p *Pool) Freed() <-chan struct{} {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freed
}
