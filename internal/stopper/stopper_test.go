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

package stopper_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshyWIngs/etl/internal/stopper"
)

func TestStopWaitsForGoroutines(t *testing.T) {
	ctx := stopper.New(context.Background())
	started := make(chan struct{})

	ctx.Go(func() error {
		close(started)
		<-ctx.Stopping()
		return nil
	})

	<-started
	require.NoError(t, ctx.Stop(time.Second))
}

func TestStopSurfacesFirstError(t *testing.T) {
	ctx := stopper.New(context.Background())
	boom := assert.AnError

	ctx.Go(func() error {
		<-ctx.Stopping()
		return boom
	})

	err := ctx.Stop(time.Second)
	assert.ErrorIs(t, err, boom)
}

func TestStopTimesOutIfGoroutineHangs(t *testing.T) {
	ctx := stopper.New(context.Background())
	release := make(chan struct{})
	defer close(release)

	ctx.Go(func() error {
		<-release
		return nil
	})

	err := ctx.Stop(20 * time.Millisecond)
	require.Error(t, err)
}
