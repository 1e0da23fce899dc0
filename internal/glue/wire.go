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

//go:build wireinject
// +build wireinject

package glue

import (
	"github.com/google/wire"

	"github.com/AshyWIngs/etl/internal/broker"
	"github.com/AshyWIngs/etl/internal/config"
	"github.com/AshyWIngs/etl/internal/decode"
	"github.com/AshyWIngs/etl/internal/endpoint"
	"github.com/AshyWIngs/etl/internal/schema"
	"github.com/AshyWIngs/etl/internal/topic"
)

func provideProducer(cfg *config.Configuration) (*producerAdapter, func(), error) {
	p, err := broker.NewProducer(cfg.BrokerBootstrap, cfg.AdminClientID)
	if err != nil {
		return nil, func() {}, err
	}
	adapter := &producerAdapter{impl: p, closeTimeout: cfg.ProducerAwaitTimeout}
	return adapter, adapter.Close, nil
}

func provideDecoder(cfg *config.Configuration) decode.Decoder {
	if cfg.DecodeMode == config.DecodeTyped {
		return decode.NewTyped(schema.New(cfg.SchemaPath))
	}
	return decode.Raw{}
}

func provideEnsurer(cfg *config.Configuration) (endpoint.TopicEnsurer, func(), error) {
	if !cfg.TopicEnsure {
		return nil, func() {}, nil
	}
	admin, err := broker.NewAdmin(cfg.BrokerBootstrap, cfg.AdminClientID)
	if err != nil {
		return nil, func() {}, err
	}
	ensurer := topic.NewEnsurer(admin, topic.Config{
		Partitions:        cfg.TopicPartitions,
		ReplicationFactor: cfg.TopicReplicationFactor,
		Configs:           cfg.TopicConfigs,
		AdminTimeout:      cfg.AdminTimeout,
		UnknownBackoff:    cfg.TopicUnknownBackoff,
	})
	return ensurer, ensurer.Close, nil
}

// Build constructs every collaborator from cfg and returns a ready
// ReplicationEndpoint along with its teardown function. This injector is
// never compiled directly; `go generate ./...` expands it into
// wire_gen.go, which is what the rest of the module imports.
func Build(cfg *config.Configuration) (*endpoint.ReplicationEndpoint, func(), error) {
	panic(wire.Build(
		provideProducer,
		provideDecoder,
		provideEnsurer,
		wire.Bind(new(endpoint.Producer), new(*producerAdapter)),
		endpoint.New,
		wire.Value(endpoint.Serializer(endpoint.JSONSerializer{})),
	))
}
