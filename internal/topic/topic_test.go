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

package topic_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshyWIngs/etl/internal/broker"
	"github.com/AshyWIngs/etl/internal/topic"
)

type fakeAdmin struct {
	describeCalls int
	createCalls   int

	describeResult func(topics []string) []broker.TopicResult
	createResult   func(specs []broker.TopicSpec) []broker.TopicResult
}

func (f *fakeAdmin) DescribeTopics(_ context.Context, topics []string, _ time.Duration) []broker.TopicResult {
	f.describeCalls++
	return f.describeResult(topics)
}

func (f *fakeAdmin) CreateTopics(_ context.Context, specs []broker.TopicSpec, _ time.Duration) []broker.TopicResult {
	f.createCalls++
	return f.createResult(specs)
}

func (f *fakeAdmin) Close() {}

func defaultConfig() topic.Config {
	return topic.Config{
		Partitions:        3,
		ReplicationFactor: 1,
		AdminTimeout:      time.Second,
		UnknownBackoff:    10 * time.Millisecond,
	}
}

func TestValidName(t *testing.T) {
	assert.True(t, topic.ValidName("my-topic.v1_2"))
	assert.False(t, topic.ValidName(""))
	assert.False(t, topic.ValidName("."))
	assert.False(t, topic.ValidName(".."))
	assert.False(t, topic.ValidName("bad/name"))
}

func TestEnsureExistingTopicCachesResult(t *testing.T) {
	admin := &fakeAdmin{
		describeResult: func(topics []string) []broker.TopicResult {
			return []broker.TopicResult{{Topic: topics[0]}}
		},
	}
	e := topic.NewEnsurer(admin, defaultConfig())

	e.Ensure(context.Background(), "orders")
	e.Ensure(context.Background(), "orders")

	assert.Equal(t, 1, admin.describeCalls, "second call should hit the cache")
}

func TestEnsureMissingTopicCreatesIt(t *testing.T) {
	admin := &fakeAdmin{
		describeResult: func(topics []string) []broker.TopicResult {
			return []broker.TopicResult{{Topic: topics[0], Err: broker.ErrUnknownTopic}}
		},
		createResult: func(specs []broker.TopicSpec) []broker.TopicResult {
			require.Len(t, specs, 1)
			assert.Equal(t, 3, specs[0].Partitions)
			return []broker.TopicResult{{Topic: specs[0].Name}}
		},
	}
	e := topic.NewEnsurer(admin, defaultConfig())
	e.Ensure(context.Background(), "orders")

	assert.Equal(t, 1, admin.createCalls)

	// A subsequent ensure should hit the cache, not describe again.
	e.Ensure(context.Background(), "orders")
	assert.Equal(t, 1, admin.describeCalls)
}

func TestEnsureTopicExistsRaceCountsAsSuccess(t *testing.T) {
	admin := &fakeAdmin{
		describeResult: func(topics []string) []broker.TopicResult {
			return []broker.TopicResult{{Topic: topics[0], Err: broker.ErrUnknownTopic}}
		},
		createResult: func(specs []broker.TopicSpec) []broker.TopicResult {
			return []broker.TopicResult{{Topic: specs[0].Name, Err: broker.ErrTopicExists}}
		},
	}
	e := topic.NewEnsurer(admin, defaultConfig())
	e.Ensure(context.Background(), "orders")

	// Treated as success: a second ensure hits the cache rather than
	// describing again.
	e.Ensure(context.Background(), "orders")
	assert.Equal(t, 1, admin.describeCalls)
}

func TestEnsureUnknownOutcomeBacksOffThenRetries(t *testing.T) {
	admin := &fakeAdmin{
		describeResult: func(topics []string) []broker.TopicResult {
			return []broker.TopicResult{{Topic: topics[0], Err: assert.AnError}}
		},
	}
	cfg := defaultConfig()
	cfg.UnknownBackoff = 5 * time.Millisecond
	e := topic.NewEnsurer(admin, cfg)

	e.Ensure(context.Background(), "orders")
	e.Ensure(context.Background(), "orders")
	assert.Equal(t, 1, admin.describeCalls, "within backoff window, should not re-describe")

	time.Sleep(20 * time.Millisecond)
	e.Ensure(context.Background(), "orders")
	assert.Equal(t, 2, admin.describeCalls, "after backoff window elapses, should retry")
}

func TestEnsureInvalidNameSkipped(t *testing.T) {
	admin := &fakeAdmin{
		describeResult: func(topics []string) []broker.TopicResult {
			t.Fatalf("describe should not be called for invalid names")
			return nil
		},
	}
	e := topic.NewEnsurer(admin, defaultConfig())
	e.Ensure(context.Background(), "")
	assert.Equal(t, 0, admin.describeCalls)
}

func TestEnsureAllMixedOutcomes(t *testing.T) {
	// "a" is already cached; "b" is missing and gets created; "c"
	// describe fails with a generic error and lands in unknown-backoff.
	admin := &fakeAdmin{
		describeResult: func(topics []string) []broker.TopicResult {
			results := make([]broker.TopicResult, len(topics))
			for i, name := range topics {
				switch name {
				case "b":
					results[i] = broker.TopicResult{Topic: name, Err: broker.ErrUnknownTopic}
				case "c":
					results[i] = broker.TopicResult{Topic: name, Err: assert.AnError}
				default:
					results[i] = broker.TopicResult{Topic: name}
				}
			}
			return results
		},
		createResult: func(specs []broker.TopicSpec) []broker.TopicResult {
			require.Len(t, specs, 1)
			assert.Equal(t, "b", specs[0].Name)
			return []broker.TopicResult{{Topic: specs[0].Name}}
		},
	}
	cfg := defaultConfig()
	cfg.UnknownBackoff = time.Minute
	e := topic.NewEnsurer(admin, cfg)

	e.Ensure(context.Background(), "a")
	require.Equal(t, 1, admin.describeCalls)

	e.EnsureAll(context.Background(), []string{"a", "b", "c"})
	assert.Equal(t, 2, admin.describeCalls, "one describe covering {b, c}")
	assert.Equal(t, 1, admin.createCalls, "one create covering {b}")

	// a and b are cached; c is suppressed by backoff. No further admin
	// traffic for any of them.
	e.EnsureAll(context.Background(), []string{"a", "b", "c"})
	assert.Equal(t, 2, admin.describeCalls)
	assert.Equal(t, 1, admin.createCalls)
}

func TestEnsureAllBatchesSingleDescribeCall(t *testing.T) {
	admin := &fakeAdmin{
		describeResult: func(topics []string) []broker.TopicResult {
			results := make([]broker.TopicResult, len(topics))
			for i, t := range topics {
				results[i] = broker.TopicResult{Topic: t}
			}
			return results
		},
	}
	e := topic.NewEnsurer(admin, defaultConfig())
	e.EnsureAll(context.Background(), []string{"a", "b", "c"})
	assert.Equal(t, 1, admin.describeCalls)
}
