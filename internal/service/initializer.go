// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"fmt"
	"log/slog"
)

// Init initializes services in order. When one fails, the services already
// initialized are shut down in reverse order and the failure is returned.
func Init(logger *slog.Logger, services []Service) error {
	if logger == nil {
		logger = slog.Default()
	}

	initialized := make([]Service, 0, len(services))
	for _, s := range services {
		srv, ok := s.(Initializer)
		if !ok {
			logger.Debug("skipping service initialization", "service", s.Name(),
				"reason", "service does not implement Initializer")
			continue
		}

		logger.Info("Initializing service", "service", s.Name())
		if err := srv.Init(); err != nil {
			logger.Info("Shutting down initialized services", "failed", s.Name())
			if shutdownErr := Shutdown(logger, initialized); shutdownErr != nil {
				logger.Error("failed to shutdown services", "error", shutdownErr)
			}
			return fmt.Errorf("failed to initialize service %s: %w", s.Name(), err)
		}
		initialized = append(initialized, s)
	}
	return nil
}
