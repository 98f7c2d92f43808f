// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import "context"

// Service is implemented by every long lived component of raplstat
type Service interface {
	// Name identifies the service in logs
	Name() string
}

// Initializer is a Service that must be initialized before use
type Initializer interface {
	Service
	Init() error
}

// Runner is a Service with a background loop
type Runner interface {
	Service
	// Run blocks until ctx is done or the service fails
	Run(ctx context.Context) error
}

// Shutdowner is a Service holding resources that must be released
type Shutdowner interface {
	Service
	Shutdown() error
}
