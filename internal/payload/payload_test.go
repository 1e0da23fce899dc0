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

package payload_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshyWIngs/etl/internal/decode"
	"github.com/AshyWIngs/etl/internal/model"
	"github.com/AshyWIngs/etl/internal/payload"
	"github.com/AshyWIngs/etl/internal/rowkey"
)

var table = model.TableName{Namespace: "DEFAULT", Qualifier: "TBL_A"}

func TestAssembleMinimalEntryCount(t *testing.T) {
	asm := payload.NewAssembler(decode.Raw{}, payload.Options{TargetFamily: "0"})

	cells := []model.Cell{
		{Family: []byte("0"), Qualifier: []byte("a"), Value: []byte("1"), Timestamp: 10},
		{Family: []byte("0"), Qualifier: []byte("b"), Value: []byte("2"), Timestamp: 20},
	}

	m, err := asm.Assemble(table, cells, rowkey.Empty(), -1, -1)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Len()) // 2 columns + event_version

	v, ok := m.Get("event_version")
	require.True(t, ok)
	assert.Equal(t, int64(20), v)
}

func TestAssembleTombstoneSetsDeleteAndOmitsColumn(t *testing.T) {
	asm := payload.NewAssembler(decode.Raw{}, payload.Options{TargetFamily: "0"})

	cells := []model.Cell{
		{Family: []byte("0"), Qualifier: []byte("a"), Timestamp: 30, Tombstone: true},
	}

	m, err := asm.Assemble(table, cells, rowkey.Empty(), -1, -1)
	require.NoError(t, err)

	_, hasCol := m.Get("a")
	assert.False(t, hasCol)

	del, ok := m.Get("delete")
	require.True(t, ok)
	assert.Equal(t, true, del)

	ev, _ := m.Get("event_version")
	assert.Equal(t, int64(30), ev)
}

func TestAssembleSkipsOtherFamilies(t *testing.T) {
	asm := payload.NewAssembler(decode.Raw{}, payload.Options{TargetFamily: "0"})

	cells := []model.Cell{
		{Family: []byte("1"), Qualifier: []byte("a"), Value: []byte("x"), Timestamp: 5},
	}

	m, err := asm.Assemble(table, cells, rowkey.Empty(), -1, -1)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len()) // just event_version
	ev, _ := m.Get("event_version")
	assert.Equal(t, int64(0), ev)
}

func TestAssembleRowKeyEncodingMutuallyExclusive(t *testing.T) {
	rk, err := rowkey.Of([]byte{0xde, 0xad}, 0, 2)
	require.NoError(t, err)

	asm := payload.NewAssembler(decode.Raw{}, payload.Options{
		TargetFamily:   "0",
		IncludeRowKey:  true,
		RowKeyEncoding: payload.HexEncoding,
	})
	m, err := asm.Assemble(table, nil, rk, -1, -1)
	require.NoError(t, err)

	hexVal, ok := m.Get("rowkey_hex")
	require.True(t, ok)
	assert.Equal(t, "dead", hexVal)
	_, hasB64 := m.Get("rowkey_b64")
	assert.False(t, hasB64)
}

func TestAssembleMetaFieldsAndWalMeta(t *testing.T) {
	asm := payload.NewAssembler(decode.Raw{}, payload.Options{
		TargetFamily:   "0",
		IncludeMeta:    true,
		IncludeWalMeta: true,
	})

	cells := []model.Cell{
		{Family: []byte("0"), Qualifier: []byte("a"), Value: []byte("1"), Timestamp: 1},
	}

	m, err := asm.Assemble(table, cells, rowkey.Empty(), 42, 99)
	require.NoError(t, err)

	for _, key := range []string{"_table", "_namespace", "_qualifier", "_cf", "_cells_total", "_cells_cf"} {
		_, ok := m.Get(key)
		assert.True(t, ok, "missing key %s", key)
	}

	seq, ok := m.Get("_wal_seq")
	require.True(t, ok)
	assert.Equal(t, int64(42), seq)

	wt, ok := m.Get("_wal_write_time")
	require.True(t, ok)
	assert.Equal(t, int64(99), wt)
}

func TestAssembleWalMetaOmittedWhenNegative(t *testing.T) {
	asm := payload.NewAssembler(decode.Raw{}, payload.Options{TargetFamily: "0", IncludeWalMeta: true})
	m, err := asm.Assemble(table, nil, rowkey.Empty(), -1, -1)
	require.NoError(t, err)

	_, ok := m.Get("_wal_seq")
	assert.False(t, ok)
	_, ok = m.Get("_wal_write_time")
	assert.False(t, ok)
}

func TestMapMarshalJSONPreservesInsertionOrder(t *testing.T) {
	m := payload.NewMap(4)
	m.Set("z", 1)
	m.Set("a", 2)
	m.Set("m", 3)

	raw, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":2,"m":3}`, string(raw))
}

func TestMapSetOverwritesInPlace(t *testing.T) {
	m := payload.NewMap(2)
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("a", 99)

	raw, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `{"a":99,"b":2}`, string(raw))
}

func TestCapacityFormula(t *testing.T) {
	opts := payload.Options{IncludeMeta: true, IncludeRowKey: true, IncludeWalMeta: true}
	got := payload.Capacity(3, opts, true)
	assert.Equal(t, 1+3+5+1+2, got)
}
