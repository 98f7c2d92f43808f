// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package rapl

import "errors"

var (
	// ErrDeviceUnavailable indicates a register device that is missing or
	// not readable, usually for lack of privilege.
	ErrDeviceUnavailable = errors.New("rapl: register device unavailable")

	// ErrNotInitialized is returned by every operation used before Init or
	// after Shutdown.
	ErrNotInitialized = errors.New("rapl: telemetry not initialized")

	// ErrAlreadyInitialized is returned by a second Init without Shutdown.
	ErrAlreadyInitialized = errors.New("rapl: telemetry already initialized")

	// ErrUnsupportedMicroArchitecture marks a host whose CPU has no known
	// RAPL layout. Detection itself never fails with it.
	ErrUnsupportedMicroArchitecture = errors.New("rapl: unsupported microarchitecture")
)
