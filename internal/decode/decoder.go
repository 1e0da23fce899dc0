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

// Package decode converts raw column bytes into typed Go values, either
// passing them through untouched (RawDecoder) or resolving a declared
// type from a schema.Registry (TypedDecoder).
package decode

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/AshyWIngs/etl/internal/metrics"
	"github.com/AshyWIngs/etl/internal/model"
	"github.com/AshyWIngs/etl/internal/schema"
)

// Decoder converts a cell's raw value into a typed representation, or
// returns it untouched for RawDecoder. A nil input always yields a nil
// output without a registry lookup.
type Decoder interface {
	Decode(table model.TableName, qualifier string, raw []byte) (any, error)
}

// Error wraps a conversion failure with the column it occurred on.
type Error struct {
	Table     model.TableName
	Qualifier string
	Type      string
	Cause     error
}

func (e *Error) Error() string {
	return "decode: " + e.Table.String() + "." + e.Qualifier + " (" + e.Type + "): " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// ---- RawDecoder -----------------------------------------------------

// Raw returns the input bytes as-is. It is stateless and safe for
// concurrent use.
type Raw struct{}

var _ Decoder = Raw{}

// Decode implements Decoder.
func (Raw) Decode(_ model.TableName, _ string, raw []byte) (any, error) {
	if raw == nil {
		return nil, nil
	}
	return raw, nil
}

// ---- TypedDecoder -----------------------------------------------------

type columnKey struct {
	namespace string
	qualifier string
	column    string
}

// columnTypeSource is the subset of schema.Registry that Typed needs. It
// exists so that tests can substitute a call-counting fake without a real
// schema file on disk.
type columnTypeSource interface {
	ColumnTypeRelaxed(table model.TableName, qualifier string) (string, bool)
}

var _ columnTypeSource = (*schema.Registry)(nil)

// Typed resolves the declared type for each column via a schema.Registry
// and caches the result. Unknown type names fall back to VARCHAR
// semantics, logging a warning exactly once per column.
type Typed struct {
	registry columnTypeSource

	mu    sync.RWMutex
	cache map[columnKey]resolvedType

	warnedMu sync.Mutex
	warned   map[columnKey]struct{}

	warnOnce func(table model.TableName, qualifier, rawType string)
}

// resolvedType is the cached outcome of one registry consultation for a
// column: the type name to decode with, and whether the registry declared
// a type this decoder recognises (false means the VARCHAR fallback was
// applied).
type resolvedType struct {
	name  string
	found bool
}

var _ Decoder = (*Typed)(nil)

// NewTyped constructs a Typed decoder backed by registry.
func NewTyped(registry *schema.Registry) *Typed {
	return NewTypedFromSource(registry)
}

// NewTypedFromSource constructs a Typed decoder backed by any
// columnTypeSource. It is exported so that tests outside this package can
// substitute an instrumented fake; production callers should use NewTyped.
func NewTypedFromSource(source columnTypeSource) *Typed {
	return &Typed{
		registry: source,
		cache:    map[columnKey]resolvedType{},
		warned:   map[columnKey]struct{}{},
	}
}

// SetWarnFunc installs the callback invoked the first time a column is
// seen with no declared type or with a declared type name the decoder
// does not recognise. Must be called before concurrent use
// begins; it is not itself safe to race with Decode.
func (d *Typed) SetWarnFunc(fn func(table model.TableName, qualifier, rawType string)) {
	d.warnOnce = fn
}

func keyFor(table model.TableName, qualifier string) columnKey {
	return columnKey{namespace: table.Namespace, qualifier: table.Qualifier, column: qualifier}
}

// resolvedTypeFor returns the resolved type for a column, consulting the
// registry at most once per (table, qualifier) for the lifetime of this
// decoder (until InvalidateCache is called after a schema refresh).
func (d *Typed) resolvedTypeFor(table model.TableName, qualifier string) resolvedType {
	k := keyFor(table, qualifier)

	d.mu.RLock()
	rt, ok := d.cache[k]
	d.mu.RUnlock()
	if ok {
		return rt
	}

	declared, found := d.registry.ColumnTypeRelaxed(table, qualifier)
	rt = resolvedType{name: "VARCHAR"}
	if found {
		name := Normalize(declared)
		elem, isArray := arrayElementType(name)
		if !isArray {
			elem = name
		}
		switch elem {
		case "VARCHAR", "CHAR", "STRING", "TINYINT", "SMALLINT", "INTEGER", "INT", "BIGINT", "LONG",
			"UNSIGNED TINYINT", "UNSIGNED SMALLINT", "UNSIGNED INT", "UNSIGNED INTEGER",
			"UNSIGNED LONG", "UNSIGNED BIGINT", "FLOAT", "DOUBLE", "DECIMAL", "BOOLEAN", "BOOL",
			"DATE", "TIME", "TIMESTAMP", "BINARY", "VARBINARY":
			rt = resolvedType{name: name, found: true}
		}
	}

	d.mu.Lock()
	d.cache[k] = rt
	d.mu.Unlock()
	return rt
}

// InvalidateCache clears the per-column type cache. Call after the
// backing schema.Registry has been refreshed so that subsequent decodes
// observe the new declarations.
func (d *Typed) InvalidateCache() {
	d.mu.Lock()
	d.cache = map[columnKey]resolvedType{}
	d.mu.Unlock()
}

// Normalize canonicalizes a raw type name the same way schema.Registry
// does, and additionally collapses the DECIMAL/NUMERIC/NUMBER family into
// a single "DECIMAL" spelling. Other family synonyms (e.g. BOOL vs
// BOOLEAN, LONG vs BIGINT) are left as distinct canonical spellings;
// family resolution during Decode treats them equivalently.
func Normalize(raw string) string {
	t := schema.CanonicalizeType(raw)
	switch t {
	case "NUMERIC", "NUMBER":
		return "DECIMAL"
	default:
		return t
	}
}

// Decode implements Decoder.
func (d *Typed) Decode(table model.TableName, qualifier string, raw []byte) (any, error) {
	if raw == nil {
		return nil, nil
	}

	rt := d.resolvedTypeFor(table, qualifier)
	if !rt.found {
		d.warnUnknown(table, qualifier)
	}

	val, err := decodeValue(rt.name, raw)
	if err != nil {
		metrics.DecodeErrors.WithLabelValues(table.String()).Inc()
		return nil, &Error{Table: table, Qualifier: qualifier, Type: rt.name, Cause: err}
	}
	return val, nil
}

func (d *Typed) warnUnknown(table model.TableName, qualifier string) {
	k := keyFor(table, qualifier)
	d.warnedMu.Lock()
	_, already := d.warned[k]
	if !already {
		d.warned[k] = struct{}{}
	}
	d.warnedMu.Unlock()
	if !already {
		metrics.DecodeUnknownTypeWarnings.WithLabelValues(table.String()).Inc()
		if d.warnOnce != nil {
			d.warnOnce(table, qualifier, "")
		}
	}
}

// decodeValue dispatches on a normalized type name. Array element types
// are decoded recursively via decodeArray.
func decodeValue(typeName string, raw []byte) (any, error) {
	if elem, ok := arrayElementType(typeName); ok {
		return decodeArray(elem, raw)
	}

	switch typeName {
	case "VARCHAR", "CHAR", "STRING":
		return string(raw), nil

	case "TINYINT":
		return decodeSignedInt(raw, 1)
	case "SMALLINT":
		return decodeSignedInt(raw, 2)
	case "INTEGER", "INT":
		return decodeSignedInt(raw, 4)
	case "BIGINT", "LONG":
		return decodeSignedInt(raw, 8)

	case "UNSIGNED TINYINT":
		return decodeUnsignedInt(raw, 1)
	case "UNSIGNED SMALLINT":
		return decodeUnsignedInt(raw, 2)
	case "UNSIGNED INT", "UNSIGNED INTEGER":
		return decodeUnsignedInt(raw, 4)
	case "UNSIGNED LONG", "UNSIGNED BIGINT":
		return decodeUnsignedInt(raw, 8)

	case "FLOAT":
		if len(raw) != 4 {
			return nil, errors.Errorf("FLOAT requires 4 bytes, got %d", len(raw))
		}
		return float64(math.Float32frombits(binary.BigEndian.Uint32(raw))), nil
	case "DOUBLE":
		if len(raw) != 8 {
			return nil, errors.Errorf("DOUBLE requires 8 bytes, got %d", len(raw))
		}
		return math.Float64frombits(binary.BigEndian.Uint64(raw)), nil

	case "DECIMAL":
		d, err := decimal.NewFromString(string(raw))
		if err != nil {
			return nil, errors.Wrap(err, "invalid decimal encoding")
		}
		return d, nil

	case "BOOLEAN", "BOOL":
		if len(raw) != 1 {
			return nil, errors.Errorf("BOOLEAN requires 1 byte, got %d", len(raw))
		}
		return raw[0] != 0, nil

	case "DATE", "TIME", "TIMESTAMP":
		ts, err := decodeSignedInt(raw, 8)
		if err != nil {
			return nil, err
		}
		return ts, nil

	case "BINARY", "VARBINARY":
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, nil

	default:
		// Unknown type names fall back to VARCHAR semantics.
		return string(raw), nil
	}
}

func decodeSignedInt(raw []byte, width int) (int64, error) {
	if len(raw) != width {
		return 0, errors.Errorf("expected %d bytes for a %d-byte signed integer, got %d", width, width, len(raw))
	}
	switch width {
	case 1:
		return int64(int8(raw[0])), nil
	case 2:
		return int64(int16(binary.BigEndian.Uint16(raw))), nil
	case 4:
		return int64(int32(binary.BigEndian.Uint32(raw))), nil
	case 8:
		return int64(binary.BigEndian.Uint64(raw)), nil
	default:
		return 0, errors.Errorf("unsupported integer width %d", width)
	}
}

func decodeUnsignedInt(raw []byte, width int) (int64, error) {
	if len(raw) != width {
		return 0, errors.Errorf("expected %d bytes for a %d-byte unsigned integer, got %d", width, width, len(raw))
	}
	switch width {
	case 1:
		return int64(raw[0]), nil
	case 2:
		return int64(binary.BigEndian.Uint16(raw)), nil
	case 4:
		return int64(binary.BigEndian.Uint32(raw)), nil
	case 8:
		// Widened into an int64; values above math.MaxInt64 are outside
		// what the source encoding is expected to produce.
		return int64(binary.BigEndian.Uint64(raw)), nil
	default:
		return 0, errors.Errorf("unsupported integer width %d", width)
	}
}

// arrayElementType reports whether typeName has the "T ARRAY" shape and
// returns T.
func arrayElementType(typeName string) (string, bool) {
	const suffix = " ARRAY"
	if len(typeName) > len(suffix) && typeName[len(typeName)-len(suffix):] == suffix {
		return typeName[:len(typeName)-len(suffix)], true
	}
	return "", false
}

// decodeArray decodes a JSON-array-encoded column into an ordered
// sequence of elem-typed values. An empty or null input yields an empty
// sequence.
func decodeArray(elemType string, raw []byte) (any, error) {
	if len(raw) == 0 {
		return []any{}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, errors.Wrap(err, "invalid array encoding")
	}

	out := make([]any, 0, len(items))
	for _, item := range items {
		v, err := decodeArrayElement(elemType, item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// decodeArrayElement decodes one JSON-encoded array element according to
// elemType's family. Unlike the top-level scalar decoders, array elements
// arrive as JSON literals (string/number/bool), not host-native binary
// encodings: arrays are a self-contained JSON document end to end.
func decodeArrayElement(elemType string, item json.RawMessage) (any, error) {
	switch elemType {
	case "VARCHAR", "CHAR", "STRING", "BINARY", "VARBINARY":
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			return nil, errors.Wrap(err, "invalid array element encoding")
		}
		return s, nil
	case "BOOLEAN", "BOOL":
		var b bool
		if err := json.Unmarshal(item, &b); err != nil {
			return nil, errors.Wrap(err, "invalid array element encoding")
		}
		return b, nil
	case "DECIMAL":
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			d, derr := decimal.NewFromString(s)
			if derr != nil {
				return nil, errors.Wrap(derr, "invalid decimal array element")
			}
			return d, nil
		}
		var f float64
		if err := json.Unmarshal(item, &f); err != nil {
			return nil, errors.Wrap(err, "invalid array element encoding")
		}
		return decimal.NewFromFloat(f), nil
	case "FLOAT", "DOUBLE":
		var f float64
		if err := json.Unmarshal(item, &f); err != nil {
			return nil, errors.Wrap(err, "invalid array element encoding")
		}
		return f, nil
	default:
		// Integer family (signed, unsigned, date/time/timestamp) and any
		// unknown element type: decode as a JSON number.
		var n int64
		if err := json.Unmarshal(item, &n); err != nil {
			return nil, errors.Wrap(err, "invalid array element encoding")
		}
		return n, nil
	}
}
