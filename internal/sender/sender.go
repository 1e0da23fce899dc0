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

// Package sender bounds the number of outstanding broker send
// completions and enforces a periodic synchronization point, so a
// ReplicationEndpoint never accumulates an unbounded number of
// in-flight sends across a large WAL batch.
package sender

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/AshyWIngs/etl/internal/metrics"
)

// Metadata describes a successfully acknowledged send.
type Metadata struct {
	Topic     string
	Partition int32
	Offset    int64
}

// CompletionHandle is the future-like result of one broker send.
type CompletionHandle interface {
	Await(ctx context.Context, timeout time.Duration) (Metadata, error)
}

// ErrTimeout is returned when a handle's wait budget is exhausted before
// it completes.
var ErrTimeout = errors.New("sender: flush deadline exceeded")

// BatchSender buffers pending completion handles for one scoped batch of
// sends and flushes them against a single batch-wide deadline.
//
// BatchSender has a single owner: it is not safe for concurrent use by
// more than one goroutine. This is enforced by contract (no internal
// mutex), matching the owning ReplicationEndpoint invocation's "one
// owning thread" rule; violations are expected to be caught by
// `go test -race`, not by a runtime lock.
type BatchSender struct {
	topic string

	pending []CompletionHandle

	awaitEvery     int
	awaitTimeout   time.Duration
	autoFlushSusp  bool
	countersEnable bool
	debugOnFailure bool

	confirmed     int64
	flushes       int64
	failedFlushes int64
}

// Option configures a new BatchSender.
type Option func(*BatchSender)

// WithCounters enables mirroring counters onto internal/metrics,
// labeled by topic.
func WithCounters(enabled bool) Option {
	return func(s *BatchSender) { s.countersEnable = enabled }
}

// WithDebugOnFailure enables a debug-level log line on silent-flush
// failure.
func WithDebugOnFailure(enabled bool) Option {
	return func(s *BatchSender) { s.debugOnFailure = enabled }
}

// New constructs a BatchSender for topic, flushing silently every
// awaitEvery additions and bounding any flush's total wait to
// awaitTimeout.
func New(topic string, awaitEvery int, awaitTimeout time.Duration, opts ...Option) *BatchSender {
	s := &BatchSender{
		topic:        topic,
		pending:      make([]CompletionHandle, 0, awaitEvery),
		awaitEvery:   awaitEvery,
		awaitTimeout: awaitTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PendingCount returns the number of buffered, unflushed handles.
func (s *BatchSender) PendingCount() int { return len(s.pending) }

// HasPending reports whether any handle is buffered.
func (s *BatchSender) HasPending() bool { return len(s.pending) > 0 }

// AwaitEvery returns the configured auto-flush threshold.
func (s *BatchSender) AwaitEvery() int { return s.awaitEvery }

// AwaitTimeout returns the configured per-flush deadline.
func (s *BatchSender) AwaitTimeout() time.Duration { return s.awaitTimeout }

// AutoFlushSuspended reports whether a prior silent-flush failure has
// suspended threshold-triggered auto-flush.
func (s *BatchSender) AutoFlushSuspended() bool { return s.autoFlushSusp }

// CountersEnabled reports whether counter recording was enabled at
// construction.
func (s *BatchSender) CountersEnabled() bool { return s.countersEnable }

// DebugOnFailure reports whether silent-flush failures are logged at
// debug level.
func (s *BatchSender) DebugOnFailure() bool { return s.debugOnFailure }

// Confirmed returns the lifetime count of successfully awaited handles.
func (s *BatchSender) Confirmed() int64 { return s.confirmed }

// Flushes returns the lifetime count of successful flushes.
func (s *BatchSender) Flushes() int64 { return s.flushes }

// FailedFlushes returns the lifetime count of failed flush attempts.
func (s *BatchSender) FailedFlushes() int64 { return s.failedFlushes }

// Add appends handle to the pending buffer. A nil handle is a no-op.
// When the buffer reaches awaitEvery and auto-flush is not suspended, a
// silent flush runs immediately; on failure, auto-flush is suspended and
// the buffer is left untouched.
func (s *BatchSender) Add(ctx context.Context, handle CompletionHandle) {
	if handle == nil {
		return
	}
	s.pending = append(s.pending, handle)
	if len(s.pending) >= s.awaitEvery && !s.autoFlushSusp {
		s.tryFlushLocked(ctx)
	}
}

// AddAll appends every handle in handles, performing a silent flush each
// time the buffer crosses the awaitEvery threshold, leaving any trailing
// remainder below threshold buffered. Equivalent to a sequence of Add
// calls.
func (s *BatchSender) AddAll(ctx context.Context, handles []CompletionHandle) {
	if cap(s.pending)-len(s.pending) < len(handles) {
		grown := make([]CompletionHandle, len(s.pending), len(s.pending)+len(handles))
		copy(grown, s.pending)
		s.pending = grown
	}
	for _, h := range handles {
		s.Add(ctx, h)
	}
}

// Flush strictly awaits every pending handle against one batch-wide
// deadline. On any failure, the error is returned and the buffer is left
// untouched. On success, the buffer is cleared, auto-flush suspension is
// lifted, and counters are incremented.
func (s *BatchSender) Flush(ctx context.Context) error {
	n, err := s.awaitAll(ctx)
	if err != nil {
		s.recordFailedFlush()
		return err
	}
	s.pending = s.pending[:0]
	s.autoFlushSusp = false
	s.recordFlush(n)
	return nil
}

// TryFlush is the silent counterpart to Flush: failures are reported as
// a false return rather than an error, the buffer is left untouched,
// failedFlushes is incremented, and autoFlushSuspended is set. Success
// behaves identically to Flush.
func (s *BatchSender) TryFlush(ctx context.Context) bool {
	return s.tryFlushLocked(ctx)
}

func (s *BatchSender) tryFlushLocked(ctx context.Context) bool {
	n, err := s.awaitAll(ctx)
	if err != nil {
		s.autoFlushSusp = true
		s.recordFailedFlush()
		if s.debugOnFailure {
			log.WithError(err).WithField("topic", s.topic).Debug("batch sender: silent flush failed")
		}
		return false
	}
	s.pending = s.pending[:0]
	s.autoFlushSusp = false
	s.recordFlush(n)
	return true
}

// FlushUpToFirstFailure walks the pending handles in order, awaiting
// each against the batch-wide deadline, and returns the count
// successfully awaited before the first failure along with that
// failure. It never clears the buffer and never touches counters; it
// exists purely as a diagnostic aid.
func (s *BatchSender) FlushUpToFirstFailure(ctx context.Context) (int, error) {
	deadline := time.Now().Add(s.awaitTimeout)
	for i, h := range s.pending {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return i, ErrTimeout
		}
		if _, err := h.Await(ctx, remaining); err != nil {
			return i, err
		}
	}
	return len(s.pending), nil
}

// Close performs a strict Flush.
func (s *BatchSender) Close(ctx context.Context) error {
	return s.Flush(ctx)
}

// awaitAll waits on every pending handle against one deadline computed
// at the start of the call; the single deadline covers the whole set
// regardless of buffer size.
func (s *BatchSender) awaitAll(ctx context.Context) (int, error) {
	started := time.Now()
	if s.countersEnable {
		defer func() {
			metrics.SenderFlushDuration.WithLabelValues(s.topic).Observe(time.Since(started).Seconds())
		}()
	}
	deadline := started.Add(s.awaitTimeout)
	n := 0
	for _, h := range s.pending {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return n, ErrTimeout
		}
		if _, err := h.Await(ctx, remaining); err != nil {
			if ctx.Err() != nil {
				return n, errors.Wrap(ctx.Err(), "batch sender: context canceled during flush")
			}
			return n, errors.Wrap(err, "batch sender: await failed")
		}
		n++
	}
	return n, nil
}

// recordFlush updates the success counters for a flush that confirmed n
// handles. Counters are a no-op unless enabled at construction.
func (s *BatchSender) recordFlush(n int) {
	if !s.countersEnable {
		return
	}
	s.confirmed += int64(n)
	s.flushes++
	metrics.SenderFlushes.WithLabelValues(s.topic).Inc()
	if n > 0 {
		metrics.SenderConfirmed.WithLabelValues(s.topic).Add(float64(n))
	}
}

func (s *BatchSender) recordFailedFlush() {
	if !s.countersEnable {
		return
	}
	s.failedFlushes++
	metrics.SenderFailedFlushes.WithLabelValues(s.topic).Inc()
}
