// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"errors"
	"fmt"
	"log/slog"
)

// Shutdown shuts down services in reverse order and joins their errors.
// Services that are not Shutdowners are skipped.
func Shutdown(logger *slog.Logger, services []Service) error {
	if logger == nil {
		logger = slog.Default()
	}

	var errs error
	for i := len(services) - 1; i >= 0; i-- {
		s := services[i]
		srv, ok := s.(Shutdowner)
		if !ok {
			continue
		}
		if err := srv.Shutdown(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		logger.Debug("service shutdown successfully", "service", s.Name())
	}
	return errs
}
