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

// Package diag lets pipeline components register self-check/liveness
// probes under a name, and lets host tooling collect their current
// state for a health endpoint or diagnostic dump.
package diag

import (
	"context"
	"sort"
	"sync"
)

// Check is a named liveness/self-check probe. It returns a non-nil
// error when the component it represents is unhealthy.
type Check func(ctx context.Context) error

// Diagnostics collects named checks from every component wired into a
// running endpoint.
type Diagnostics struct {
	mu     sync.Mutex
	checks map[string]Check
}

// New constructs an empty Diagnostics registry and a cleanup function,
// keeping the provider-plus-cleanup shape of the rest of the wiring
// chain; cleanup is a no-op here since the registry owns no external
// resources.
func New(_ context.Context) (*Diagnostics, func()) {
	return &Diagnostics{checks: map[string]Check{}}, func() {}
}

// Register adds or replaces the check registered under name.
func (d *Diagnostics) Register(name string, check Check) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.checks == nil {
		d.checks = map[string]Check{}
	}
	d.checks[name] = check
}

// Result is one named check's outcome.
type Result struct {
	Name string
	Err  error
}

// RunAll executes every registered check and returns their results in
// name-sorted order, for deterministic reporting.
func (d *Diagnostics) RunAll(ctx context.Context) []Result {
	d.mu.Lock()
	names := make([]string, 0, len(d.checks))
	for name := range d.checks {
		names = append(names, name)
	}
	checks := make(map[string]Check, len(d.checks))
	for k, v := range d.checks {
		checks[k] = v
	}
	d.mu.Unlock()

	sort.Strings(names)
	results := make([]Result, 0, len(names))
	for _, name := range names {
		results = append(results, Result{Name: name, Err: checks[name](ctx)})
	}
	return results
}

// Healthy reports whether every registered check currently passes.
func (d *Diagnostics) Healthy(ctx context.Context) bool {
	for _, r := range d.RunAll(ctx) {
		if r.Err != nil {
			return false
		}
	}
	return true
}
