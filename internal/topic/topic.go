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

// Package topic ensures broker topics exist before the endpoint
// publishes to them, caching confirmed topics and backing off on
// uncertain admin-API outcomes.
package topic

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/AshyWIngs/etl/internal/broker"
	"github.com/AshyWIngs/etl/internal/metrics"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidName reports whether topic satisfies the broker's naming rules:
// non-empty, at most 249 characters, characters drawn from
// [A-Za-z0-9._-], and not equal to "." or "..".
func ValidName(t string) bool {
	if t == "" || len(t) > 249 || t == "." || t == ".." {
		return false
	}
	return validName.MatchString(t)
}

// Admin is the subset of internal/broker.Admin this package consumes.
type Admin interface {
	DescribeTopics(ctx context.Context, topics []string, timeout time.Duration) []broker.TopicResult
	CreateTopics(ctx context.Context, specs []broker.TopicSpec, timeout time.Duration) []broker.TopicResult
	Close()
}

// Config controls creation parameters and timing.
type Config struct {
	Partitions        int
	ReplicationFactor int
	Configs           map[string]string
	AdminTimeout      time.Duration
	UnknownBackoff    time.Duration
}

// Ensurer confirms topics exist, caching results and backing off on
// uncertain describe outcomes.
type Ensurer struct {
	admin Admin
	cfg   Config

	mu           sync.Mutex
	ensured      map[string]struct{}
	unknownUntil map[string]time.Time

	invocations int64
	cacheHits   int64
}

// NewEnsurer constructs an Ensurer.
func NewEnsurer(admin Admin, cfg Config) *Ensurer {
	return &Ensurer{
		admin:        admin,
		cfg:          cfg,
		ensured:      map[string]struct{}{},
		unknownUntil: map[string]time.Time{},
	}
}

// Ensure confirms a single topic exists, creating it if necessary.
// Failures are never fatal: invalid names and admin errors are logged
// and the call returns without error, matching the best-effort contract
// the ReplicationEndpoint relies on.
func (e *Ensurer) Ensure(ctx context.Context, name string) {
	name = strings.TrimSpace(name)
	if !ValidName(name) {
		log.WithField("topic", name).Warn("topic ensurer: invalid topic name, skipping")
		return
	}

	e.mu.Lock()
	e.invocations++
	metrics.TopicEnsureInvocations.WithLabelValues(name).Inc()

	if _, ok := e.ensured[name]; ok {
		e.cacheHits++
		metrics.TopicEnsureCacheHits.WithLabelValues(name).Inc()
		e.mu.Unlock()
		return
	}
	if until, ok := e.unknownUntil[name]; ok && time.Now().Before(until) {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	results := e.admin.DescribeTopics(ctx, []string{name}, e.cfg.AdminTimeout)
	e.classifyDescribe(ctx, results)
}

// classifyDescribe handles one describeTopics response for either the
// single-topic or batch path.
func (e *Ensurer) classifyDescribe(ctx context.Context, results []broker.TopicResult) {
	var missing []string
	for _, r := range results {
		switch {
		case r.Err == nil:
			e.markEnsured(r.Topic)
			metrics.TopicDescribeOutcomes.WithLabelValues(r.Topic, "exists").Inc()
		case errors.Is(r.Err, broker.ErrUnknownTopic):
			missing = append(missing, r.Topic)
			metrics.TopicDescribeOutcomes.WithLabelValues(r.Topic, "unknown_topic").Inc()
		default:
			e.backoff(r.Topic)
			metrics.TopicDescribeOutcomes.WithLabelValues(r.Topic, "unknown").Inc()
		}
	}
	if len(missing) > 0 {
		e.create(ctx, missing)
	}
}

// EnsureAll confirms a batch of topics, issuing a single describeTopics
// call against whatever is not already cached.
func (e *Ensurer) EnsureAll(ctx context.Context, names []string) {
	var toCheck []string
	for _, name := range names {
		name = strings.TrimSpace(name)
		if !ValidName(name) {
			log.WithField("topic", name).Warn("topic ensurer: invalid topic name, skipping")
			continue
		}

		e.mu.Lock()
		e.invocations++
		metrics.TopicEnsureInvocations.WithLabelValues(name).Inc()
		_, cached := e.ensured[name]
		until, onBackoff := e.unknownUntil[name]
		e.mu.Unlock()

		if cached {
			e.mu.Lock()
			e.cacheHits++
			e.mu.Unlock()
			metrics.TopicEnsureCacheHits.WithLabelValues(name).Inc()
			continue
		}
		if onBackoff && time.Now().Before(until) {
			continue
		}
		toCheck = append(toCheck, name)
	}
	if len(toCheck) == 0 {
		return
	}

	results := e.admin.DescribeTopics(ctx, toCheck, e.cfg.AdminTimeout)
	e.classifyDescribe(ctx, results)
}

func (e *Ensurer) markEnsured(topic string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensured[topic] = struct{}{}
	delete(e.unknownUntil, topic)
}

func (e *Ensurer) backoff(topic string) {
	jitter, err := jitteredBackoff(e.cfg.UnknownBackoff)
	if err != nil {
		jitter = e.cfg.UnknownBackoff
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unknownUntil[topic] = time.Now().Add(jitter)
}

func (e *Ensurer) create(ctx context.Context, names []string) {
	specs := make([]broker.TopicSpec, 0, len(names))
	for _, n := range names {
		specs = append(specs, broker.TopicSpec{
			Name:              n,
			Partitions:        e.cfg.Partitions,
			ReplicationFactor: e.cfg.ReplicationFactor,
			Configs:           e.cfg.Configs,
		})
	}

	results := e.admin.CreateTopics(ctx, specs, e.cfg.AdminTimeout)
	for _, r := range results {
		switch {
		case r.Err == nil:
			e.markEnsured(r.Topic)
			metrics.TopicCreateOutcomes.WithLabelValues(r.Topic, "ok").Inc()
			log.WithFields(log.Fields{
				"topic":             r.Topic,
				"partitions":        e.cfg.Partitions,
				"replicationFactor": e.cfg.ReplicationFactor,
				"configs":           summarizeConfigs(e.cfg.Configs),
			}).Info("topic ensurer: created topic")
		case errors.Is(r.Err, broker.ErrTopicExists):
			e.markEnsured(r.Topic)
			metrics.TopicCreateOutcomes.WithLabelValues(r.Topic, "race").Inc()
		default:
			metrics.TopicCreateOutcomes.WithLabelValues(r.Topic, "fail").Inc()
			log.WithError(r.Err).WithField("topic", r.Topic).Warn("topic ensurer: create failed")
		}
	}
}

// summaryKeys are the creation-time config keys worth surfacing in the
// created-topic log line; everything else collapses into a "+N more"
// marker to keep the line compact.
var summaryKeys = []string{"retention.ms", "cleanup.policy", "compression.type", "min.insync.replicas"}

func summarizeConfigs(configs map[string]string) string {
	if len(configs) == 0 {
		return ""
	}
	var b strings.Builder
	shown := 0
	for _, k := range summaryKeys {
		v, ok := configs[k]
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(v)
		shown++
	}
	if rest := len(configs) - shown; rest > 0 {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString("+")
		b.WriteString(strconv.Itoa(rest))
		b.WriteString(" more")
	}
	return b.String()
}

// jitteredBackoff returns base ± 20%, sampled from a cryptographically
// strong source with rejection sampling to avoid modulo bias, floored
// at 1ms.
func jitteredBackoff(base time.Duration) (time.Duration, error) {
	if base <= 0 {
		return time.Millisecond, nil
	}
	spread := base / 5 // 20%
	if spread <= 0 {
		return base, nil
	}
	// Sample an offset uniformly in [-spread, spread].
	n, err := rand.Int(rand.Reader, big.NewInt(int64(2*spread)+1))
	if err != nil {
		return base, err
	}
	offset := time.Duration(n.Int64()) - spread
	result := base + offset
	if result < time.Millisecond {
		result = time.Millisecond
	}
	return result, nil
}

// Close releases the underlying admin client.
func (e *Ensurer) Close() {
	e.admin.Close()
}
