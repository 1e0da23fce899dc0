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

// Package config declares the immutable, validated Configuration the
// replication endpoint is built from, plus a Builder that accepts either
// the host's key-value configuration map or a pflag.FlagSet.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// RowKeyEncoding selects how the payload assembler encodes row-key bytes.
type RowKeyEncoding int

const (
	// RowKeyHex is the default encoding.
	RowKeyHex RowKeyEncoding = iota
	RowKeyBase64
)

// DecodeMode selects between the raw pass-through and typed decoders.
type DecodeMode int

const (
	DecodeRaw DecodeMode = iota
	DecodeTyped
)

// Configuration is the immutable, validated set of options a
// ReplicationEndpoint is built from. Construct one via NewBuilder.
type Configuration struct {
	BrokerBootstrap string
	TopicPattern    string
	TopicMaxLength  int
	FamilyName      string

	IncludeRowKey    bool
	RowKeyEncoding   RowKeyEncoding
	IncludeMeta      bool
	IncludeMetaWAL   bool
	SerializeNulls   bool

	FilterWALEnabled bool
	FilterWALMinTS   int64

	TopicEnsure            bool
	TopicPartitions        int
	TopicReplicationFactor int
	AdminTimeout           time.Duration
	AdminClientID          string
	TopicUnknownBackoff    time.Duration
	TopicConfigs           map[string]string

	ProducerAwaitEvery      int
	ProducerAwaitTimeout    time.Duration
	ProducerCountersEnabled bool
	ProducerDebugOnFailure  bool

	DecodeMode DecodeMode
	SchemaPath string
}

// ValuesSource is the host replication framework's configuration loader:
// a key-value map with string-typed accessors, as handed to the endpoint
// at init.
type ValuesSource interface {
	// Get returns the raw string value for key and whether it was present.
	Get(key string) (string, bool)
}

// MapSource adapts a plain map[string]string to ValuesSource.
type MapSource map[string]string

// Get implements ValuesSource.
func (m MapSource) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Builder accumulates options before validating them at Build.
type Builder struct {
	cfg Configuration
}

// NewBuilder returns a Builder pre-populated with every option's default.
func NewBuilder() *Builder {
	b := &Builder{}
	b.cfg = Configuration{
		TopicPattern:            "${table}",
		TopicMaxLength:          249,
		FamilyName:              "0",
		IncludeRowKey:           true,
		RowKeyEncoding:          RowKeyHex,
		TopicPartitions:         3,
		TopicReplicationFactor:  1,
		AdminTimeout:            60 * time.Second,
		TopicUnknownBackoff:     15 * time.Second,
		TopicConfigs:            map[string]string{},
		ProducerAwaitEvery:      500,
		ProducerAwaitTimeout:    180 * time.Second,
		DecodeMode:              DecodeRaw,
	}
	return b
}

// FromValues populates the Builder from a ValuesSource, overriding any
// default for every key present in src. When src is a MapSource,
// `topic.config.*` keys are collected into TopicConfigs, with the prefix
// stripped; other ValuesSource implementations contribute no
// `topic.config.*` entries, since ValuesSource cannot enumerate its keys.
func (b *Builder) FromValues(src ValuesSource) *Builder {
	if s, ok := src.Get("broker.bootstrap"); ok {
		b.cfg.BrokerBootstrap = strings.TrimSpace(s)
	}
	if s, ok := src.Get("topic.pattern"); ok {
		b.cfg.TopicPattern = s
	}
	if s, ok := src.Get("topic.max-length"); ok {
		b.cfg.TopicMaxLength = mustAtoi(s, b.cfg.TopicMaxLength)
	}
	if s, ok := src.Get("family.name"); ok {
		b.cfg.FamilyName = s
	}
	if s, ok := src.Get("payload.include-rowkey"); ok {
		b.cfg.IncludeRowKey = parseBool(s, b.cfg.IncludeRowKey)
	}
	if s, ok := src.Get("rowkey.encoding"); ok {
		b.cfg.RowKeyEncoding = parseEncoding(s)
	}
	if s, ok := src.Get("payload.include-meta"); ok {
		b.cfg.IncludeMeta = parseBool(s, b.cfg.IncludeMeta)
	}
	if s, ok := src.Get("payload.include-meta-wal"); ok {
		b.cfg.IncludeMetaWAL = parseBool(s, b.cfg.IncludeMetaWAL)
	}
	if s, ok := src.Get("json.serialize-nulls"); ok {
		b.cfg.SerializeNulls = parseBool(s, b.cfg.SerializeNulls)
	}
	if s, ok := src.Get("filter.wal.min-ts"); ok {
		if ts, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			b.cfg.FilterWALEnabled = true
			b.cfg.FilterWALMinTS = ts
		}
	}
	if s, ok := src.Get("topic.ensure"); ok {
		b.cfg.TopicEnsure = parseBool(s, b.cfg.TopicEnsure)
	}
	if s, ok := src.Get("topic.partitions"); ok {
		b.cfg.TopicPartitions = mustAtoi(s, b.cfg.TopicPartitions)
	}
	if s, ok := src.Get("topic.replication"); ok {
		b.cfg.TopicReplicationFactor = mustAtoi(s, b.cfg.TopicReplicationFactor)
	}
	if s, ok := src.Get("admin.timeout-ms"); ok {
		b.cfg.AdminTimeout = mustMillis(s, b.cfg.AdminTimeout)
	}
	if s, ok := src.Get("admin.client-id"); ok {
		b.cfg.AdminClientID = strings.TrimSpace(s)
	}
	if s, ok := src.Get("topic.unknown-backoff-ms"); ok {
		b.cfg.TopicUnknownBackoff = mustMillis(s, b.cfg.TopicUnknownBackoff)
	}
	if s, ok := src.Get("producer.await.every"); ok {
		b.cfg.ProducerAwaitEvery = mustAtoi(s, b.cfg.ProducerAwaitEvery)
	}
	if s, ok := src.Get("producer.await.timeout-ms"); ok {
		b.cfg.ProducerAwaitTimeout = mustMillis(s, b.cfg.ProducerAwaitTimeout)
	}
	if s, ok := src.Get("producer.batch.counters-enabled"); ok {
		b.cfg.ProducerCountersEnabled = parseBool(s, b.cfg.ProducerCountersEnabled)
	}
	if s, ok := src.Get("producer.batch.debug-on-failure"); ok {
		b.cfg.ProducerDebugOnFailure = parseBool(s, b.cfg.ProducerDebugOnFailure)
	}
	if s, ok := src.Get("decode.mode"); ok && strings.EqualFold(strings.TrimSpace(s), "typed") {
		b.cfg.DecodeMode = DecodeTyped
	}
	if s, ok := src.Get("schema.path"); ok {
		b.cfg.SchemaPath = strings.TrimSpace(s)
	}
	if m, ok := src.(MapSource); ok {
		for k, v := range m {
			if strings.HasPrefix(k, "topic.config.") {
				b.cfg.TopicConfigs[strings.TrimPrefix(k, "topic.config.")] = v
			}
		}
	}
	return b
}

// Bind registers a subset of the options onto flags for the standalone
// CLI harness. Options without a flag here (row-key encoding, the WAL
// filter, timeouts, backoff, debug-on-failure, decode mode, topic
// configs) keep their defaults.
func (b *Builder) Bind(flags *pflag.FlagSet) *Builder {
	flags.StringVar(&b.cfg.BrokerBootstrap, "broker-bootstrap", b.cfg.BrokerBootstrap, "broker bootstrap servers")
	flags.StringVar(&b.cfg.TopicPattern, "topic-pattern", b.cfg.TopicPattern, "topic name template")
	flags.IntVar(&b.cfg.TopicMaxLength, "topic-max-length", b.cfg.TopicMaxLength, "maximum derived topic name length")
	flags.StringVar(&b.cfg.FamilyName, "family-name", b.cfg.FamilyName, "target column family")
	flags.BoolVar(&b.cfg.IncludeRowKey, "payload-include-rowkey", b.cfg.IncludeRowKey, "include row key in payload")
	flags.BoolVar(&b.cfg.IncludeMeta, "payload-include-meta", b.cfg.IncludeMeta, "include table/family metadata fields")
	flags.BoolVar(&b.cfg.IncludeMetaWAL, "payload-include-meta-wal", b.cfg.IncludeMetaWAL, "include WAL sequence/write-time fields")
	flags.BoolVar(&b.cfg.SerializeNulls, "json-serialize-nulls", b.cfg.SerializeNulls, "keep null-valued columns in JSON")
	flags.BoolVar(&b.cfg.TopicEnsure, "topic-ensure", b.cfg.TopicEnsure, "ensure topics exist before publishing")
	flags.IntVar(&b.cfg.TopicPartitions, "topic-partitions", b.cfg.TopicPartitions, "partitions for created topics")
	flags.IntVar(&b.cfg.TopicReplicationFactor, "topic-replication", b.cfg.TopicReplicationFactor, "replication factor for created topics")
	flags.StringVar(&b.cfg.AdminClientID, "admin-client-id", b.cfg.AdminClientID, "admin/producer client id")
	flags.IntVar(&b.cfg.ProducerAwaitEvery, "producer-await-every", b.cfg.ProducerAwaitEvery, "auto-flush threshold")
	flags.BoolVar(&b.cfg.ProducerCountersEnabled, "producer-counters-enabled", b.cfg.ProducerCountersEnabled, "enable BatchSender counters")
	flags.StringVar(&b.cfg.SchemaPath, "schema-path", b.cfg.SchemaPath, "path to the column-type schema JSON")
	return b
}

// Build validates the accumulated options and returns an immutable
// Configuration, or the first validation error encountered.
func (b *Builder) Build() (*Configuration, error) {
	cfg := b.cfg

	if strings.TrimSpace(cfg.BrokerBootstrap) == "" {
		return nil, errors.New("config: broker.bootstrap is required")
	}
	if cfg.TopicMaxLength <= 0 {
		return nil, errors.New("config: topic.max-length must be > 0")
	}
	if cfg.TopicPartitions <= 0 {
		return nil, errors.New("config: topic.partitions must be > 0")
	}
	if cfg.TopicReplicationFactor <= 0 {
		return nil, errors.New("config: topic.replication must be > 0")
	}
	if cfg.AdminTimeout <= 0 {
		return nil, errors.New("config: admin.timeout-ms must be > 0")
	}
	if cfg.TopicUnknownBackoff <= 0 {
		return nil, errors.New("config: topic.unknown-backoff-ms must be > 0")
	}
	if cfg.ProducerAwaitEvery <= 0 {
		return nil, errors.New("config: producer.await.every must be > 0")
	}
	if cfg.ProducerAwaitTimeout <= 0 {
		return nil, errors.New("config: producer.await.timeout-ms must be > 0")
	}
	if cfg.DecodeMode == DecodeTyped && strings.TrimSpace(cfg.SchemaPath) == "" {
		return nil, errors.New("config: schema.path is required when decode.mode=typed")
	}
	if cfg.FamilyName == "" {
		cfg.FamilyName = "0"
	}

	if cfg.AdminClientID == "" {
		cfg.AdminClientID = defaultClientID()
	}

	return &cfg, nil
}

// defaultClientID is the local hostname, falling back to a random
// UUID-suffixed identity when the hostname lookup fails, so that client
// identity is always unique even on hosts where os.Hostname errors.
func defaultClientID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "replication-endpoint-" + uuid.NewString()
	}
	return host
}

func mustAtoi(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return n
}

func mustMillis(s string, fallback time.Duration) time.Duration {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}

func parseBool(s string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "y", "yes", "on":
		return true
	case "0", "f", "false", "n", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseEncoding(s string) RowKeyEncoding {
	if strings.EqualFold(strings.TrimSpace(s), "base64") {
		return RowKeyBase64
	}
	return RowKeyHex
}

// TopicFor derives the output topic name for table: template expansion,
// character sanitization, then the length clamp.
func (c *Configuration) TopicFor(table TableNamer) string {
	ns, qual := table.TableParts()
	name := c.TopicPattern
	name = strings.ReplaceAll(name, "${table}", ns+"_"+qual)
	name = strings.ReplaceAll(name, "${namespace}", ns)
	name = strings.ReplaceAll(name, "${qualifier}", qual)
	name = sanitizeTopicChars(name)
	if len(name) > c.TopicMaxLength {
		name = name[:c.TopicMaxLength]
	}
	return name
}

// TableNamer is the minimal shape TopicFor needs from model.TableName,
// kept here instead of importing internal/model to avoid a cyclic
// dependency between config and the types it configures.
type TableNamer interface {
	TableParts() (namespace, qualifier string)
}

func sanitizeTopicChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
