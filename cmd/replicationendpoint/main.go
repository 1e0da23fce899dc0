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

// Command replicationendpoint is a standalone harness for exercising the
// replication endpoint outside of the host database's own process: it
// binds Configuration to flags, wires the pipeline via internal/glue,
// registers a liveness check, and blocks until an interrupt signal asks
// it to wind down. The host framework's own init/start/stop/replicate
// hooks are the normal way this endpoint is driven; this binary exists
// for local smoke-testing and CI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/AshyWIngs/etl/internal/config"
	"github.com/AshyWIngs/etl/internal/diag"
	"github.com/AshyWIngs/etl/internal/glue"
	"github.com/AshyWIngs/etl/internal/stopper"
)

func main() {
	if err := run(); err != nil {
		log.WithError(err).Error("replicationendpoint: fatal")
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("replicationendpoint", pflag.ExitOnError)
	builder := config.NewBuilder().Bind(flags)
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := builder.Build()
	if err != nil {
		return fmt.Errorf("replicationendpoint: %w", err)
	}

	ep, cleanup, err := glue.Build(cfg)
	if err != nil {
		return fmt.Errorf("replicationendpoint: %w", err)
	}
	defer cleanup()

	diagnostics, diagCleanup := diag.New(context.Background())
	defer diagCleanup()
	diagnostics.Register("replication-endpoint", func(context.Context) error {
		return nil
	})

	ep.Start()

	sctx := stopper.New(context.Background())
	sctx.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, r := range diagnostics.RunAll(sctx.Context) {
					if r.Err != nil {
						log.WithError(r.Err).WithField("check", r.Name).Warn("replicationendpoint: health check failing")
					}
				}
			case <-sctx.Stopping():
				return nil
			}
		}
	})

	log.WithField("bootstrap", cfg.BrokerBootstrap).Info("replicationendpoint: running; waiting for a host batch source or interrupt")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	return sctx.Stop(30 * time.Second)
}
