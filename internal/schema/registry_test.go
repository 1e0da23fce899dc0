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

package schema_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshyWIngs/etl/internal/model"
	"github.com/AshyWIngs/etl/internal/schema"
)

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestRegistryLookupAndAliases(t *testing.T) {
	path := writeFile(t, `{"DEFAULT:TBL_A":{"columns":{"col1":"VARCHAR","created_at":"TIMESTAMP"}}}`)
	r := schema.New(path)

	tbl := model.TableName{Namespace: "DEFAULT", Qualifier: "TBL_A"}

	typ, ok := r.ColumnType(tbl, "col1")
	require.True(t, ok)
	assert.Equal(t, "VARCHAR", typ)

	bare := model.TableName{Qualifier: "TBL_A"}
	typ, ok = r.ColumnTypeRelaxed(bare, "COL1")
	require.True(t, ok)
	assert.Equal(t, "VARCHAR", typ)

	typ, ok = r.ColumnTypeRelaxed(bare, "CREATED_AT")
	require.True(t, ok)
	assert.Equal(t, "TIMESTAMP", typ)

	_, ok = r.ColumnTypeRelaxed(bare, "unknown")
	assert.False(t, ok)
}

func TestRegistryRefreshReplacesSnapshot(t *testing.T) {
	path := writeFile(t, `{"DEFAULT:TBL_A":{"columns":{"col1":"INT"}}}`)
	r := schema.New(path)

	tbl := model.TableName{Namespace: "DEFAULT", Qualifier: "TBL_A"}
	typ, ok := r.ColumnType(tbl, "col1")
	require.True(t, ok)
	assert.Equal(t, "INT", typ)

	require.NoError(t, os.WriteFile(path, []byte(`{"DEFAULT:TBL_A":{"columns":{"x":"BIGINT","y":"VARCHAR"}}}`), 0o600))
	r.Refresh()

	typ, ok = r.ColumnType(tbl, "x")
	require.True(t, ok)
	assert.Equal(t, "BIGINT", typ)
	typ, ok = r.ColumnType(tbl, "y")
	require.True(t, ok)
	assert.Equal(t, "VARCHAR", typ)

	_, ok = r.ColumnType(tbl, "col1")
	assert.False(t, ok, "columns dropped from the source must disappear after refresh")
}

func TestRegistryMalformedJSONYieldsEmptySnapshot(t *testing.T) {
	path := writeFile(t, `{not valid json`)
	r := schema.New(path)

	tbl := model.TableName{Namespace: "DEFAULT", Qualifier: "TBL_A"}
	_, ok := r.ColumnType(tbl, "col1")
	assert.False(t, ok)
}

func TestRegistryMissingFileYieldsEmptySnapshot(t *testing.T) {
	r := schema.New(filepath.Join(t.TempDir(), "does-not-exist.json"))
	tbl := model.TableName{Namespace: "DEFAULT", Qualifier: "TBL_A"}
	_, ok := r.ColumnType(tbl, "col1")
	assert.False(t, ok)
}

func TestCanonicalizeType(t *testing.T) {
	cases := map[string]string{
		"varchar(10)":        "VARCHAR",
		"UNSIGNED_INT(10)":   "UNSIGNED INT",
		"ARRAY<VARCHAR>":     "VARCHAR ARRAY",
		"VARCHAR[]":          "VARCHAR ARRAY",
		"  decimal (10, 2) ": "DECIMAL",
	}
	for in, want := range cases {
		assert.Equal(t, want, schema.CanonicalizeType(in), "input=%q", in)
	}
}
