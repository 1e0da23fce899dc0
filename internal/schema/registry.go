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

// Package schema loads and serves the column-type declarations used by
// the typed value decoder. A Registry holds an atomically-swapped
// immutable Snapshot so that Refresh never exposes a torn view to
// concurrent readers.
package schema

import (
	"encoding/json"
	"io"
	"os"
	"regexp"
	"strings"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/AshyWIngs/etl/internal/model"
)

// Snapshot is an immutable mapping table-alias -> (qualifier-alias ->
// canonical type name). It is never mutated after construction; Registry
// replaces it wholesale on Refresh.
type Snapshot struct {
	// columns maps a table alias to a map of qualifier alias -> type name.
	columns map[string]map[string]string
}

func emptySnapshot() *Snapshot {
	return &Snapshot{columns: map[string]map[string]string{}}
}

// sourceDoc is the on-disk JSON shape:
//
//	{ "<namespace>:<qualifier>": { "columns": { "<col>": "<TYPE>" } } }
type sourceDoc map[string]struct {
	Columns map[string]string `json:"columns"`
}

// Registry answers columnType lookups backed by a hot-swappable Snapshot.
type Registry struct {
	path string
	snap atomic.Pointer[Snapshot]
}

// New constructs a Registry and performs an initial Load from path. Load
// failures never propagate: the Registry starts with an empty snapshot
// and a logged warning.
func New(path string) *Registry {
	r := &Registry{path: path}
	r.snap.Store(load(path))
	return r
}

// ColumnType returns the declared type name for (table, qualifier), or
// "" if unknown. Lookup is exact: the caller is responsible for
// upper/lower-casing if ColumnTypeRelaxed semantics are desired.
func (r *Registry) ColumnType(table model.TableName, qualifier string) (string, bool) {
	snap := r.snap.Load()
	key := table.String()
	if table.Namespace == "" {
		key = table.Qualifier
	}
	cols, ok := snap.columns[key]
	if !ok {
		return "", false
	}
	t, ok := cols[qualifier]
	return t, ok
}

// ColumnTypeRelaxed tries, in order: the exact qualifier, its upper-cased
// form, then its lower-cased form, against the table's canonical alias.
func (r *Registry) ColumnTypeRelaxed(table model.TableName, qualifier string) (string, bool) {
	if t, ok := r.ColumnType(table, qualifier); ok {
		return t, ok
	}
	if t, ok := r.ColumnType(table, strings.ToUpper(qualifier)); ok {
		return t, ok
	}
	return r.ColumnType(table, strings.ToLower(qualifier))
}

// Refresh reloads the snapshot from the configured source and atomically
// replaces it. Load failures never propagate: the previous snapshot
// remains in effect and a warning is logged.
func (r *Registry) Refresh() {
	next := load(r.path)
	if len(next.columns) == 0 {
		log.WithField("path", r.path).Warn("schema refresh produced an empty snapshot; keeping previous snapshot")
		return
	}
	r.snap.Store(next)
}

func load(path string) *Snapshot {
	if path == "" {
		return emptySnapshot()
	}
	f, err := os.Open(path)
	if err != nil {
		log.WithError(err).WithField("path", path).Warn("could not open schema file; using empty snapshot")
		return emptySnapshot()
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		log.WithError(err).WithField("path", path).Warn("could not read schema file; using empty snapshot")
		return emptySnapshot()
	}

	return parse(raw)
}

// parse builds a Snapshot from raw schema JSON. Malformed input yields an
// empty snapshot; the error is logged, never returned.
func parse(raw []byte) *Snapshot {
	var doc sourceDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		log.WithError(err).Warn("could not parse schema JSON; using empty snapshot")
		return emptySnapshot()
	}

	snap := emptySnapshot()
	for tableKey, decl := range doc {
		tableAliases := tableAliasesFor(tableKey)
		for col, typeName := range decl.Columns {
			canon := CanonicalizeType(typeName)
			qualifierAliases := []string{col, strings.ToUpper(col), strings.ToLower(col)}
			for _, ta := range tableAliases {
				bucket, ok := snap.columns[ta]
				if !ok {
					bucket = map[string]string{}
					snap.columns[ta] = bucket
				}
				for _, qa := range qualifierAliases {
					bucket[qa] = canon
				}
			}
		}
	}
	return snap
}

// tableAliasesFor computes up to six aliases for a "namespace:qualifier"
// (or bare "qualifier") table key: original/upper/lower of the full
// form, plus the same three of the short name after ':' when present.
func tableAliasesFor(tableKey string) []string {
	aliases := []string{tableKey, strings.ToUpper(tableKey), strings.ToLower(tableKey)}
	if idx := strings.IndexByte(tableKey, ':'); idx >= 0 {
		short := tableKey[idx+1:]
		aliases = append(aliases, short, strings.ToUpper(short), strings.ToLower(short))
	}
	return aliases
}

var (
	parenParams  = regexp.MustCompile(`\(.*\)`)
	arraySuffix  = regexp.MustCompile(`\[\s*\]\s*$`)
	arrayGeneric = regexp.MustCompile(`^ARRAY\s*<\s*(.+?)\s*>$`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// CanonicalizeType normalizes a declared type name per the registry's
// canonicalization rules: trim, upper-case, strip parenthesized
// parameters, normalize array syntax, replace underscores with spaces,
// collapse whitespace. Unknown shapes pass through unchanged (after the
// same normalization steps).
func CanonicalizeType(raw string) string {
	t := strings.ToUpper(strings.TrimSpace(raw))
	t = parenParams.ReplaceAllString(t, "")
	t = strings.TrimSpace(t)

	if m := arrayGeneric.FindStringSubmatch(t); m != nil {
		t = strings.TrimSpace(m[1]) + " ARRAY"
	} else if arraySuffix.MatchString(t) {
		t = strings.TrimSpace(arraySuffix.ReplaceAllString(t, "")) + " ARRAY"
	}

	t = strings.ReplaceAll(t, "_", " ")
	t = whitespace.ReplaceAllString(t, " ")
	return strings.TrimSpace(t)
}
