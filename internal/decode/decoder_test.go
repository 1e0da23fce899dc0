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

package decode_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshyWIngs/etl/internal/decode"
	"github.com/AshyWIngs/etl/internal/model"
	"github.com/AshyWIngs/etl/internal/schema"
)

func registryWith(t *testing.T, columns map[string]string) *schema.Registry {
	t.Helper()
	doc := `{"DEFAULT:TBL_A":{"columns":{`
	first := true
	for col, typ := range columns {
		if !first {
			doc += ","
		}
		first = false
		doc += `"` + col + `":"` + typ + `"`
	}
	doc += `}}}`

	dir := t.TempDir()
	path := filepath.Join(dir, "schema.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return schema.New(path)
}

var table = model.TableName{Namespace: "DEFAULT", Qualifier: "TBL_A"}

func TestRawDecoderPassesThrough(t *testing.T) {
	var r decode.Raw
	v, err := r.Decode(table, "col1", []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, v)

	v, err = r.Decode(table, "col1", nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestTypedDecoderIntegerFamilies(t *testing.T) {
	reg := registryWith(t, map[string]string{
		"signed":   "INTEGER",
		"unsigned": "UNSIGNED_INT",
	})
	d := decode.NewTyped(reg)

	raw := make([]byte, 4)
	binary.BigEndian.PutUint32(raw, 7)
	v, err := d.Decode(table, "unsigned", raw)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	buf := make([]byte, 4)
	signedVal := int32(-42)
	binary.BigEndian.PutUint32(buf, uint32(signedVal))
	v, err = d.Decode(table, "signed", buf)
	require.NoError(t, err)
	assert.Equal(t, int64(-42), v)
}

func TestTypedDecoderDecimal(t *testing.T) {
	reg := registryWith(t, map[string]string{"amount": "DECIMAL(10,2)"})
	d := decode.NewTyped(reg)

	v, err := d.Decode(table, "amount", []byte("12.34"))
	require.NoError(t, err)
	got, ok := v.(decimal.Decimal)
	require.True(t, ok)
	assert.True(t, got.Equal(decimal.RequireFromString("12.34")))
}

func TestTypedDecoderTimestamp(t *testing.T) {
	reg := registryWith(t, map[string]string{"ts": "TIMESTAMP"})
	d := decode.NewTyped(reg)

	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, uint64(1700000000000))
	v, err := d.Decode(table, "ts", raw)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), v)
}

func TestTypedDecoderArray(t *testing.T) {
	reg := registryWith(t, map[string]string{"tags": "VARCHAR ARRAY"})
	d := decode.NewTyped(reg)

	v, err := d.Decode(table, "tags", []byte(`["a","b","c"]`))
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, v)
}

func TestTypedDecoderUnknownTypeFallsBackToVarchar(t *testing.T) {
	reg := registryWith(t, map[string]string{"mystery": "FROBNICATE"})
	d := decode.NewTyped(reg)

	v, err := d.Decode(table, "mystery", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestTypedDecoderUnknownColumnWarnsOnce(t *testing.T) {
	reg := registryWith(t, map[string]string{})
	var warnings int
	d := decode.NewTyped(reg)
	d.SetWarnFunc(func(model.TableName, string, string) { warnings++ })

	v, err := d.Decode(table, "absent", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "x", v)

	v, err = d.Decode(table, "absent", []byte("y"))
	require.NoError(t, err)
	assert.Equal(t, "y", v)

	assert.Equal(t, 1, warnings, "warning must fire exactly once per column across any number of decodes")
}

// countingSource counts calls to ColumnTypeRelaxed, so tests can assert the
// registry is consulted at most once per (table, qualifier).
type countingSource struct {
	calls int
	typ   string
	found bool
}

func (c *countingSource) ColumnTypeRelaxed(model.TableName, string) (string, bool) {
	c.calls++
	return c.typ, c.found
}

func TestTypedDecoderConsultsRegistryExactlyOncePerColumn(t *testing.T) {
	src := &countingSource{typ: "VARCHAR", found: true}
	d := decode.NewTypedFromSource(src)

	for i := 0; i < 5; i++ {
		v, err := d.Decode(table, "col1", []byte("hi"))
		require.NoError(t, err)
		assert.Equal(t, "hi", v)
	}

	assert.Equal(t, 1, src.calls)
}

func TestNormalizeCollapsesDecimalFamily(t *testing.T) {
	assert.Equal(t, "DECIMAL", decode.Normalize("NUMBER(10,2)"))
	assert.Equal(t, "DECIMAL", decode.Normalize("NUMERIC"))
	assert.Equal(t, "BOOL", decode.Normalize("bool"))
}
