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

// Package metrics declares the Prometheus collectors shared by the
// batch sender, topic ensurer, and decoder. Collectors are registered
// at package-init time via promauto, the same pattern the rest of the
// pipeline's ambient stack follows for logging and configuration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LatencyBuckets is the shared histogram bucket layout for latency-style
// measurements across the pipeline (send awaits, admin calls).
var LatencyBuckets = []float64{
	.001, .002, .005, .01, .02, .05, .1, .2, .5, 1, 2, 5, 10, 30, 60,
}

// TopicLabels is the label set used by per-topic counters.
var TopicLabels = []string{"topic"}

var (
	// SenderConfirmed counts completion handles successfully awaited.
	SenderConfirmed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replication_sender_confirmed_total",
		Help: "the number of send completions successfully awaited",
	}, TopicLabels)

	// SenderFlushes counts successful flush operations.
	SenderFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replication_sender_flushes_total",
		Help: "the number of successful BatchSender flushes",
	}, TopicLabels)

	// SenderFailedFlushes counts flush attempts that failed.
	SenderFailedFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replication_sender_failed_flushes_total",
		Help: "the number of BatchSender flushes that failed",
	}, TopicLabels)

	// SenderFlushDuration measures flush wait latency.
	SenderFlushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "replication_sender_flush_duration_seconds",
		Help:    "the length of time spent awaiting a BatchSender flush",
		Buckets: LatencyBuckets,
	}, TopicLabels)

	// TopicEnsureInvocations counts calls into TopicEnsurer.ensure.
	TopicEnsureInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replication_topic_ensure_invocations_total",
		Help: "the number of TopicEnsurer.ensure invocations",
	}, TopicLabels)

	// TopicEnsureCacheHits counts ensure calls short-circuited by the cache.
	TopicEnsureCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replication_topic_ensure_cache_hits_total",
		Help: "the number of ensure calls satisfied from the ensured-topics cache",
	}, TopicLabels)

	// TopicDescribeOutcomes counts describeTopic outcomes by result label.
	TopicDescribeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replication_topic_describe_total",
		Help: "the number of describeTopic outcomes, labeled by result",
	}, []string{"topic", "result"})

	// TopicCreateOutcomes counts createTopic outcomes by result label.
	TopicCreateOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replication_topic_create_total",
		Help: "the number of createTopic outcomes, labeled by result",
	}, []string{"topic", "result"})

	// DecodeErrors counts DecodeError occurrences by table.
	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replication_decode_errors_total",
		Help: "the number of typed-decode failures, labeled by table",
	}, []string{"table"})

	// DecodeUnknownTypeWarnings counts distinct columns that fell back to
	// VARCHAR semantics because no recognised declared type was found.
	DecodeUnknownTypeWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replication_decode_unknown_type_total",
		Help: "the number of columns that fell back to VARCHAR decoding for lack of a recognised declared type",
	}, []string{"table"})
)
