// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"log/slog"

	"github.com/oklog/run"
)

// Run runs every Runner in its own goroutine until the first one returns;
// the others are then interrupted through their context. Runners that are
// also Shutdowners are shut down on interrupt.
func Run(outer context.Context, logger *slog.Logger, services []Service) error {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(outer)
	defer cancel()

	var g run.Group
	for _, s := range services {
		runner, ok := s.(Runner)
		if !ok {
			logger.Debug("skipping service", "service", s.Name(), "reason", "service does not implement Runner")
			continue
		}

		g.Add(
			func() error {
				logger.Info("Running service", "service", runner.Name())
				return runner.Run(ctx)
			},
			func(err error) {
				cancel()
				if err != nil {
					logger.Debug("service interrupted", "service", runner.Name(), "reason", err)
				}

				shutdowner, ok := runner.(Shutdowner)
				if !ok {
					return
				}
				logger.Info("shutting down", "service", runner.Name())
				if err := shutdowner.Shutdown(); err != nil {
					logger.Warn("service shutdown failed with error", "service", runner.Name(), "error", err)
				}
			},
		)
	}

	logger.Info("Running all services")
	return g.Run()
}
