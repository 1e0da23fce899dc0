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

package diag_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshyWIngs/etl/internal/diag"
)

func TestHealthyWithNoChecks(t *testing.T) {
	d, cleanup := diag.New(context.Background())
	defer cleanup()
	assert.True(t, d.Healthy(context.Background()))
}

func TestUnhealthyWhenAnyCheckFails(t *testing.T) {
	d, cleanup := diag.New(context.Background())
	defer cleanup()

	d.Register("producer", func(ctx context.Context) error { return nil })
	d.Register("admin", func(ctx context.Context) error { return assert.AnError })

	assert.False(t, d.Healthy(context.Background()))
}

func TestRunAllSortedByName(t *testing.T) {
	d, cleanup := diag.New(context.Background())
	defer cleanup()

	d.Register("zeta", func(ctx context.Context) error { return nil })
	d.Register("alpha", func(ctx context.Context) error { return nil })

	results := d.RunAll(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, "alpha", results[0].Name)
	assert.Equal(t, "zeta", results[1].Name)
}
