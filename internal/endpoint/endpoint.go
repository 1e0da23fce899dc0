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

// Package endpoint implements the ReplicationEndpoint: the host
// framework's init/start/stop/replicate lifecycle hooks, the per-batch
// row-grouping and dispatch loop, and the scoped BatchSender release at
// batch end.
package endpoint

import (
	"bytes"
	"context"
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/AshyWIngs/etl/internal/config"
	"github.com/AshyWIngs/etl/internal/decode"
	"github.com/AshyWIngs/etl/internal/model"
	"github.com/AshyWIngs/etl/internal/payload"
	"github.com/AshyWIngs/etl/internal/rowkey"
	"github.com/AshyWIngs/etl/internal/sender"
)

// Producer is the subset of internal/broker.Producer this package
// consumes, narrowed for testability.
type Producer interface {
	Send(msg Message) (sender.CompletionHandle, error)
	Close()
}

// Message mirrors internal/broker.Message so this package does not need
// to import internal/broker directly; Glue adapts the concrete producer.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
}

// TopicEnsurer is the subset of internal/topic.Ensurer this package
// consumes.
type TopicEnsurer interface {
	Ensure(ctx context.Context, name string)
	Close()
}

// Serializer turns an assembled payload into wire bytes. The production
// wiring uses payload.Map's own json.Marshaler; this seam exists so
// tests can inject a recording serializer.
type Serializer interface {
	Marshal(m *payload.Map) ([]byte, error)
}

// JSONSerializer is the default Serializer, delegating to
// encoding/json via payload.Map.MarshalJSON.
type JSONSerializer struct{}

// Marshal implements Serializer. HTML-escaping is disabled: the output
// is a broker message value, never an HTML document.
func (JSONSerializer) Marshal(m *payload.Map) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	// json.Encoder.Encode appends a trailing newline; the wire format is
	// a single JSON document with no trailing delimiter.
	if n := len(out); n > 0 && out[n-1] == '\n' {
		out = out[:n-1]
	}
	return out, nil
}

// Batch is the host-supplied input to Replicate: an ordered sequence of
// WAL entries, each for one table.
type Batch struct {
	Entries []model.WalEntry
}

// ReplicationEndpoint wires the pipeline components into the host's
// init/start/stop/replicate lifecycle.
type ReplicationEndpoint struct {
	cfg        *config.Configuration
	producer   Producer
	ensurer    TopicEnsurer
	decoder    decode.Decoder
	assembler  *payload.Assembler
	serializer Serializer

	started bool
	stopped bool

	peerUUID string
}

// New constructs a ReplicationEndpoint from already-built collaborators.
// This is the seam internal/glue's wiring calls into after constructing
// the producer/ensurer/decoder from Configuration; it is also what tests
// exercise directly with fakes.
func New(
	cfg *config.Configuration,
	producer Producer,
	ensurer TopicEnsurer,
	decoder decode.Decoder,
	serializer Serializer,
) *ReplicationEndpoint {
	opts := payload.Options{
		IncludeRowKey:  cfg.IncludeRowKey,
		RowKeyEncoding: payload.RowKeyEncoding(cfg.RowKeyEncoding),
		IncludeMeta:    cfg.IncludeMeta,
		IncludeWalMeta: cfg.IncludeMetaWAL,
		SerializeNulls: cfg.SerializeNulls,
		TargetFamily:   cfg.FamilyName,
	}
	if serializer == nil {
		serializer = JSONSerializer{}
	}
	return &ReplicationEndpoint{
		cfg:        cfg,
		producer:   producer,
		ensurer:    ensurer,
		decoder:    decoder,
		assembler:  payload.NewAssembler(decoder, opts),
		serializer: serializer,
	}
}

// Start signals the endpoint has started. It is idempotent.
func (e *ReplicationEndpoint) Start() {
	e.started = true
	log.Info("replication endpoint: started")
}

// Stop closes the topic ensurer and then the producer. It flushes no
// BatchSender itself: every Replicate call strictly flushes its own
// senders before returning, so none is outstanding across Stop.
func (e *ReplicationEndpoint) Stop(ctx context.Context) {
	if e.ensurer != nil {
		e.ensurer.Close()
	}
	if e.producer != nil {
		e.producer.Close()
	}
	e.stopped = true
	log.Info("replication endpoint: stopped")
}

// PeerUUID returns the replication peer identifier. The endpoint has no
// opinion on peer identity; it always returns the empty string, which
// the host framework interprets as "use the default".
func (e *ReplicationEndpoint) PeerUUID() string {
	return e.peerUUID
}

// groupedRow is one row's cells in first-appearance order, keyed by its
// zero-copy row-key view.
type groupedRow struct {
	key   rowkey.View
	cells []model.Cell
}

// groupByRowKey partitions entry's cells by row-key, preserving the
// first-appearance order of each row and the original cell order within
// each row, without copying the underlying cell byte slices.
//
// rowkey.View borrows a byte slice and is therefore not a comparable Go
// map key (slices can't satisfy ==); rows are instead bucketed by
// View.Hash() with View.Equal used to resolve collisions within a
// bucket, so no row-key bytes are copied during grouping.
func groupByRowKey(cells []model.Cell) []groupedRow {
	byHash := make(map[uint64][]int, len(cells))
	rows := make([]groupedRow, 0, len(cells))

	for _, cell := range cells {
		key := rowkey.Whole(cell.Row)
		idx := -1
		for _, candidate := range byHash[key.Hash()] {
			if rows[candidate].key.Equal(key) {
				idx = candidate
				break
			}
		}
		if idx == -1 {
			idx = len(rows)
			byHash[key.Hash()] = append(byHash[key.Hash()], idx)
			rows = append(rows, groupedRow{key: key})
		}
		rows[idx].cells = append(rows[idx].cells, cell)
	}
	return rows
}

// passesWALFilter reports whether row contains at least one cell of
// family with Timestamp >= minTS.
func passesWALFilter(row groupedRow, family string, minTS int64) bool {
	for _, c := range row.cells {
		if string(c.Family) == family && c.Timestamp >= minTS {
			return true
		}
	}
	return false
}

// Replicate is the main per-batch loop: resolve topic, best-effort
// ensure, group cells by row, filter, assemble, serialize, and send,
// followed by a single strict flush of every send registered during the
// batch. It returns true on success (the host may consider the batch
// acknowledged) and false on any condition that could cause data loss if
// acknowledged, so the host retries the batch.
func (e *ReplicationEndpoint) Replicate(ctx context.Context, batch Batch) bool {
	senders := map[string]*sender.BatchSender{}
	ok := true

	// The last-ensured topic is tracked per invocation, not on the
	// endpoint, so a reentrant host calling Replicate concurrently
	// cannot race on it.
	var lastEnsuredTopic string

	for _, entry := range batch.Entries {
		topic := e.cfg.TopicFor(entry.Table)

		if e.cfg.TopicEnsure && e.ensurer != nil && topic != lastEnsuredTopic {
			e.ensurer.Ensure(ctx, topic)
			lastEnsuredTopic = topic
		}

		rows := groupByRowKey(entry.Cells)

		bs, exists := senders[topic]
		if !exists {
			bs = sender.New(topic, e.cfg.ProducerAwaitEvery, e.cfg.ProducerAwaitTimeout,
				sender.WithCounters(e.cfg.ProducerCountersEnabled),
				sender.WithDebugOnFailure(e.cfg.ProducerDebugOnFailure))
			senders[topic] = bs
		}

		for _, row := range rows {
			if e.cfg.FilterWALEnabled && !passesWALFilter(row, e.cfg.FamilyName, e.cfg.FilterWALMinTS) {
				continue
			}

			m, err := e.assembler.Assemble(entry.Table, row.cells, row.key, entry.SequenceID, entry.WriteTime)
			if err != nil {
				log.WithError(err).WithFields(log.Fields{
					"table": entry.Table.String(),
					"topic": topic,
				}).Error("replication endpoint: payload assembly failed")
				return false
			}

			value, err := e.serializer.Marshal(m)
			if err != nil {
				log.WithError(err).WithField("topic", topic).Error("replication endpoint: serialization failed")
				return false
			}

			handle, err := e.producer.Send(Message{Topic: topic, Key: row.key.ToBytes(), Value: value})
			if err != nil {
				log.WithError(err).WithField("topic", topic).Error("replication endpoint: send failed")
				return false
			}
			bs.Add(ctx, handle)
		}
	}

	for topic, bs := range senders {
		if err := bs.Flush(ctx); err != nil {
			log.WithError(err).WithField("topic", topic).Error("replication endpoint: batch-end flush failed")
			ok = false
		}
	}
	return ok
}
