// Copyright 2024 The Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package stopper provides cooperative goroutine lifecycle management:
// a Context that background work registers against via Go, and that a
// caller drains via Stop with a bounded grace period.
package stopper

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Context wraps a context.Context with a group of goroutines that must
// observe Stopping() and exit before Stop's grace period elapses.
type Context struct {
	context.Context

	stopping  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	mu        sync.Mutex
	firstErr  error
	cancelCtx context.CancelFunc
}

// New returns a Context derived from parent, ready to accept Go calls.
func New(parent context.Context) *Context {
	cctx, cancel := context.WithCancel(parent)
	return &Context{
		Context:   cctx,
		stopping:  make(chan struct{}),
		cancelCtx: cancel,
	}
}

// Stopping returns a channel that is closed once Stop has been called,
// signaling registered goroutines to wind down.
func (c *Context) Stopping() <-chan struct{} {
	return c.stopping
}

// Go runs fn in a new goroutine tracked by this Context. The first
// non-nil error returned by any tracked goroutine is retained and
// surfaced by Stop.
func (c *Context) Go(fn func() error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(); err != nil {
			c.mu.Lock()
			if c.firstErr == nil {
				c.firstErr = err
			}
			c.mu.Unlock()
		}
	}()
}

// Stop closes Stopping(), cancels the derived context, and waits up to
// timeout for every tracked goroutine to finish. It returns the first
// error reported by a tracked goroutine, or a timeout error if the
// grace period elapses first.
func (c *Context) Stop(timeout time.Duration) error {
	c.stopOnce.Do(func() {
		close(c.stopping)
		c.cancelCtx()
	})

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.firstErr
	case <-time.After(timeout):
		return errors.Errorf("stopper: timed out after %s waiting for goroutines to stop", timeout)
	}
}
