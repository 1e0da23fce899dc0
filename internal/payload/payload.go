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

// Package payload assembles one row's cells into a stable-order JSON
// object: decoded columns, optional row-key encoding, optional metadata,
// and a computed event version.
package payload

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"

	"github.com/AshyWIngs/etl/internal/decode"
	"github.com/AshyWIngs/etl/internal/model"
	"github.com/AshyWIngs/etl/internal/rowkey"
)

// RowKeyEncoding selects how the row key is rendered into the payload.
type RowKeyEncoding int

const (
	// HexEncoding renders the row key as lower-case hex under rowkey_hex.
	HexEncoding RowKeyEncoding = iota
	// Base64Encoding renders the row key as standard base64 under rowkey_b64.
	Base64Encoding
)

// Options controls which optional fields Assemble emits. Zero value
// emits only column entries and event_version.
type Options struct {
	IncludeRowKey  bool
	RowKeyEncoding RowKeyEncoding
	IncludeMeta    bool
	IncludeWalMeta bool
	SerializeNulls bool
	TargetFamily   string
}

// Map is an insertion-ordered key/value sequence. Re-inserting an
// existing key overwrites its value in place without disturbing
// position, matching ordinary map semantics with stable iteration order.
type Map struct {
	keys   []string
	values []any
	index  map[string]int
}

// NewMap returns an empty Map pre-sized to hold capacity entries without
// rehashing its internal index.
func NewMap(capacity int) *Map {
	return &Map{
		keys:   make([]string, 0, capacity),
		values: make([]any, 0, capacity),
		index:  make(map[string]int, indexCapacity(capacity)),
	}
}

// indexCapacity applies the integer-only load-factor formula
// 1 + ceil(4*cap/3) so the backing map of a Go map literal of this size
// does not need to grow via rehash for the expected entry count.
func indexCapacity(capacity int) int {
	return 1 + (4*capacity+2)/3
}

// Set inserts or overwrites key with value, preserving key's original
// position in iteration order when it already exists.
func (m *Map) Set(key string, value any) {
	if i, ok := m.index[key]; ok {
		m.values[i] = value
		return
	}
	m.index[key] = len(m.keys)
	m.keys = append(m.keys, key)
	m.values = append(m.values, value)
}

// Len returns the number of entries.
func (m *Map) Len() int { return len(m.keys) }

// Get returns the value stored under key, if any.
func (m *Map) Get(key string) (any, bool) {
	i, ok := m.index[key]
	if !ok {
		return nil, false
	}
	return m.values[i], true
}

// MarshalJSON writes the map as a JSON object with keys in insertion
// order. Keys and values are written without HTML-safe escaping; an
// enclosing encoder then applies its own setting (json.Marshal escapes
// the result, a json.Encoder with SetEscapeHTML(false) leaves it as is).
func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshalValue(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := marshalValue(m.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalValue renders one payload value as JSON. encoding/json's default
// treatment of []byte is a base64 string, but this wire format's raw and
// binary columns are the source bytes rendered as a plain JSON array of
// numbers (per the RawDecoder/BINARY "as-is" contract), so []byte is
// special-cased ahead of the generic fallback. The fallback encodes
// without HTML-safe escaping of '<', '>' and '&'.
func marshalValue(v any) ([]byte, error) {
	if b, ok := v.([]byte); ok {
		if b == nil {
			return []byte("null"), nil
		}
		nums := make([]int, len(b))
		for i, c := range b {
			nums[i] = int(c)
		}
		return json.Marshal(nums)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Capacity computes the expected number of entries for a row given the
// number of cells that will be visited and the enabled option groups,
// per the formula: 1 (event_version) + cells + meta(5) + rowkey(1) + walMeta(2).
func Capacity(cellCount int, opts Options, haveRowKey bool) int {
	n := 1 + cellCount
	if opts.IncludeMeta {
		n += 5
	}
	if opts.IncludeRowKey && haveRowKey {
		n++
	}
	if opts.IncludeWalMeta {
		n += 2
	}
	return n
}

// Assembler groups one row's cells into an ordered Map via a Decoder.
type Assembler struct {
	decoder decode.Decoder
	opts    Options
}

// NewAssembler constructs an Assembler backed by decoder and opts.
func NewAssembler(decoder decode.Decoder, opts Options) *Assembler {
	return &Assembler{decoder: decoder, opts: opts}
}

// Assemble builds the ordered payload for one row's cells, all of which
// must belong to table. rowKey may be the zero rowkey.View when no row
// key is available. walSeqID and walWriteTime are included only when
// IncludeWalMeta is set and the respective value is >= 0.
func (a *Assembler) Assemble(
	table model.TableName,
	cells []model.Cell,
	rowKey rowkey.View,
	walSeqID, walWriteTime int64,
) (*Map, error) {
	haveRowKey := rowKey.Len() > 0
	m := NewMap(Capacity(len(cells), a.opts, haveRowKey))

	if a.opts.IncludeMeta {
		m.Set("_table", table.String())
		m.Set("_namespace", table.Namespace)
		m.Set("_qualifier", table.Qualifier)
		m.Set("_cf", a.opts.TargetFamily)
		m.Set("_cells_total", len(cells))
	}

	var cfCells int
	var maxTs int64
	var hasDelete bool

	for _, cell := range cells {
		if string(cell.Family) != a.opts.TargetFamily {
			continue
		}
		cfCells++
		if cell.Timestamp > maxTs {
			maxTs = cell.Timestamp
		}
		if cell.Tombstone {
			hasDelete = true
			continue
		}
		v, err := a.decoder.Decode(table, string(cell.Qualifier), cell.Value)
		if err != nil {
			return nil, err
		}
		if v != nil || a.opts.SerializeNulls {
			m.Set(string(cell.Qualifier), v)
		}
	}

	if a.opts.IncludeMeta {
		m.Set("_cells_cf", cfCells)
	}

	m.Set("event_version", maxTs)

	if hasDelete {
		m.Set("delete", true)
	}

	if a.opts.IncludeRowKey && haveRowKey {
		keyBytes := rowKey.ToBytes()
		switch a.opts.RowKeyEncoding {
		case Base64Encoding:
			m.Set("rowkey_b64", base64.StdEncoding.EncodeToString(keyBytes))
		default:
			m.Set("rowkey_hex", hex.EncodeToString(keyBytes))
		}
	}

	if a.opts.IncludeWalMeta {
		if walSeqID >= 0 {
			m.Set("_wal_seq", walSeqID)
		}
		if walWriteTime >= 0 {
			m.Set("_wal_write_time", walWriteTime)
		}
	}

	return m, nil
}
