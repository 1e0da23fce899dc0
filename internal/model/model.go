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

// Package model contains the data types shared across the replication
// pipeline: the host-supplied WAL batch shape and the table identity used
// to key schema and topic lookups.
package model

import "fmt"

// TableName identifies a source table by namespace and qualifier. The
// canonical string form is "namespace:qualifier".
type TableName struct {
	Namespace string
	Qualifier string
}

// String returns the canonical "namespace:qualifier" form.
func (t TableName) String() string {
	return fmt.Sprintf("%s:%s", t.Namespace, t.Qualifier)
}

// TableParts implements internal/config.TableNamer.
func (t TableName) TableParts() (namespace, qualifier string) {
	return t.Namespace, t.Qualifier
}

// Cell is a single host-supplied column write. Byte slices are borrowed
// from the host's batch buffer and must not be retained past the
// processing scope of one WAL batch; callers that need longer-lived
// copies must make them explicitly.
type Cell struct {
	Row       []byte
	Family    []byte
	Qualifier []byte
	Value     []byte

	// Timestamp is the cell's write time in the host's native unit
	// (milliseconds since epoch).
	Timestamp int64

	// Tombstone marks this cell as a logical delete; Value is meaningless
	// when true.
	Tombstone bool
}

// WalEntry is one unit of replication traffic: a table plus its ordered
// cells, in host-provided order.
type WalEntry struct {
	Table TableName

	// SequenceID and WriteTime are optional WAL metadata; negative values
	// mean "unset".
	SequenceID int64
	WriteTime  int64

	Cells []Cell
}
