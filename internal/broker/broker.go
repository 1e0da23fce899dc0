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

// Package broker wraps confluent-kafka-go/v2's Producer and AdminClient
// behind the narrow producer/admin contracts the rest of the pipeline
// consumes (internal/sender.CompletionHandle, internal/topic's describe/
// create calls).
package broker

import (
	"context"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/pkg/errors"

	"github.com/AshyWIngs/etl/internal/sender"
)

// ErrUnknownTopic is the TopicResult.Err DescribeTopics reports when the
// requested topic is absent or the broker reports
// UNKNOWN_TOPIC_OR_PARTITION for it.
var ErrUnknownTopic = errors.New("broker: unknown topic or partition")

// ErrTopicExists is the TopicResult.Err CreateTopics reports when the
// broker says the topic already exists (a creation race, not a caller
// error).
var ErrTopicExists = errors.New("broker: topic already exists")

// Message is the wire unit submitted to Producer.Send.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
}

// Producer sends messages and returns a completion handle per send.
type Producer struct {
	impl *ck.Producer
}

// NewProducer constructs a Producer from a bootstrap server list and
// client id.
func NewProducer(bootstrap, clientID string) (*Producer, error) {
	p, err := ck.NewProducer(&ck.ConfigMap{
		"bootstrap.servers": bootstrap,
		"client.id":         clientID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "broker: producer init failed")
	}
	return &Producer{impl: p}, nil
}

// Send submits msg and returns a handle resolving once the broker
// acknowledges (or rejects) delivery.
func (p *Producer) Send(msg Message) (sender.CompletionHandle, error) {
	deliveryCh := make(chan ck.Event, 1)
	topic := msg.Topic
	err := p.impl.Produce(&ck.Message{
		TopicPartition: ck.TopicPartition{Topic: &topic, Partition: ck.PartitionAny},
		Key:            msg.Key,
		Value:          msg.Value,
	}, deliveryCh)
	if err != nil {
		return nil, errors.Wrap(err, "broker: produce failed")
	}
	return &completionHandle{deliveryCh: deliveryCh}, nil
}

// Close releases the producer, waiting up to timeout for outstanding
// deliveries to flush first.
func (p *Producer) Close(timeout time.Duration) {
	p.impl.Flush(int(timeout.Milliseconds()))
	p.impl.Close()
}

type completionHandle struct {
	deliveryCh chan ck.Event
}

// Await implements sender.CompletionHandle.
func (h *completionHandle) Await(ctx context.Context, timeout time.Duration) (sender.Metadata, error) {
	select {
	case ev := <-h.deliveryCh:
		msg, ok := ev.(*ck.Message)
		if !ok {
			return sender.Metadata{}, errors.Errorf("broker: unexpected delivery event type %T", ev)
		}
		if msg.TopicPartition.Error != nil {
			return sender.Metadata{}, errors.Wrap(msg.TopicPartition.Error, "broker: delivery failed")
		}
		return sender.Metadata{
			Topic:     *msg.TopicPartition.Topic,
			Partition: msg.TopicPartition.Partition,
			Offset:    int64(msg.TopicPartition.Offset),
		}, nil
	case <-time.After(timeout):
		return sender.Metadata{}, sender.ErrTimeout
	case <-ctx.Done():
		return sender.Metadata{}, errors.Wrap(ctx.Err(), "broker: await canceled")
	}
}

// TopicResult is the per-topic outcome of a describe or create call.
type TopicResult struct {
	Topic string
	Err   error
}

// Admin wraps the broker's topic administration API.
type Admin struct {
	impl *ck.AdminClient
}

// NewAdmin constructs an Admin from a bootstrap server list and client id.
func NewAdmin(bootstrap, clientID string) (*Admin, error) {
	a, err := ck.NewAdminClient(&ck.ConfigMap{
		"bootstrap.servers": bootstrap,
		"client.id":         clientID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "broker: admin init failed")
	}
	return &Admin{impl: a}, nil
}

// DescribeTopics reports, per topic, whether it exists; ErrUnknownTopic
// distinguishes a missing topic from any other failure.
func (a *Admin) DescribeTopics(ctx context.Context, topics []string, timeout time.Duration) []TopicResult {
	_ = ctx // GetMetadata takes a millisecond timeout, not a context; kept for interface symmetry with CreateTopics.

	md, err := a.impl.GetMetadata(nil, true, int(timeout.Milliseconds()))
	results := make([]TopicResult, 0, len(topics))
	if err != nil {
		for _, t := range topics {
			results = append(results, TopicResult{Topic: t, Err: errors.Wrap(err, "broker: describe failed")})
		}
		return results
	}

	for _, t := range topics {
		meta, ok := md.Topics[t]
		switch {
		case !ok:
			results = append(results, TopicResult{Topic: t, Err: ErrUnknownTopic})
		case meta.Error.Code() == ck.ErrUnknownTopicOrPart:
			results = append(results, TopicResult{Topic: t, Err: ErrUnknownTopic})
		case meta.Error.Code() != ck.ErrNoError:
			results = append(results, TopicResult{Topic: t, Err: errors.Wrap(meta.Error, "broker: describe failed")})
		default:
			results = append(results, TopicResult{Topic: t})
		}
	}
	return results
}

// TopicSpec is the creation parameter set for one topic.
type TopicSpec struct {
	Name              string
	Partitions        int
	ReplicationFactor int
	Configs           map[string]string
}

// CreateTopics attempts to create each spec; ErrTopicExists distinguishes
// a creation race from any other failure.
func (a *Admin) CreateTopics(ctx context.Context, specs []TopicSpec, timeout time.Duration) []TopicResult {
	specsCk := make([]ck.TopicSpecification, 0, len(specs))
	for _, s := range specs {
		specsCk = append(specsCk, ck.TopicSpecification{
			Topic:             s.Name,
			NumPartitions:     s.Partitions,
			ReplicationFactor: s.ReplicationFactor,
			Config:            s.Configs,
		})
	}

	results := make([]TopicResult, 0, len(specs))
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cres, err := a.impl.CreateTopics(cctx, specsCk, ck.SetAdminOperationTimeout(timeout))
	if err != nil {
		for _, s := range specs {
			results = append(results, TopicResult{Topic: s.Name, Err: errors.Wrap(err, "broker: create failed")})
		}
		return results
	}

	for _, r := range cres {
		switch {
		case r.Error.Code() == ck.ErrTopicAlreadyExists:
			results = append(results, TopicResult{Topic: r.Topic, Err: ErrTopicExists})
		case r.Error.Code() != ck.ErrNoError:
			results = append(results, TopicResult{Topic: r.Topic, Err: errors.Wrap(r.Error, "broker: create failed")})
		default:
			results = append(results, TopicResult{Topic: r.Topic})
		}
	}
	return results
}

// Close releases the admin client.
func (a *Admin) Close() {
	a.impl.Close()
}
