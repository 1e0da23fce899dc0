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

package glue

import (
	"time"

	"github.com/AshyWIngs/etl/internal/broker"
	"github.com/AshyWIngs/etl/internal/endpoint"
	"github.com/AshyWIngs/etl/internal/sender"
)

// producerAdapter narrows *broker.Producer to endpoint.Producer: it
// rewrites endpoint.Message into broker.Message at the call boundary and
// supplies the fixed flush timeout Close needs, so internal/endpoint
// need not import internal/broker (and, by extension, the
// confluent-kafka-go client) directly.
type producerAdapter struct {
	impl         *broker.Producer
	closeTimeout time.Duration
}

func (p *producerAdapter) Send(msg endpoint.Message) (sender.CompletionHandle, error) {
	return p.impl.Send(broker.Message{Topic: msg.Topic, Key: msg.Key, Value: msg.Value})
}

func (p *producerAdapter) Close() {
	p.impl.Close(p.closeTimeout)
}
