// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"log/slog"
	"time"

	"k8s.io/utils/clock"
)

// CounterUpdatePeriod is roughly how often the hardware refreshes the RAPL
// energy counters. Samples closer together than this mostly read unchanged
// counters.
const CounterUpdatePeriod = time.Millisecond

type Opts struct {
	logger       *slog.Logger
	interval     time.Duration
	clock        clock.WithTicker
	maxStaleness time.Duration
	minSampleGap time.Duration
}

// DefaultOpts returns the options of a PowerMonitor that samples on demand
// only, refreshing data older than 500ms
func DefaultOpts() Opts {
	return Opts{
		logger:       slog.Default(),
		interval:     0, // no periodic sampling
		clock:        clock.RealClock{},
		maxStaleness: 500 * time.Millisecond,
		minSampleGap: CounterUpdatePeriod,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithInterval sets how often the registers are sampled; 0 disables
// periodic sampling
func WithInterval(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.interval = d
	}
}

func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithClock sets the clock used for scheduling and snapshot age
func WithClock(c clock.WithTicker) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// WithMaxStaleness sets the age after which Snapshot samples again
func WithMaxStaleness(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.maxStaleness = d
	}
}

// WithMinSampleGap sets the shortest interval a power figure is computed
// over; a sample taken sooner keeps the previous snapshot
func WithMinSampleGap(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.minSampleGap = d
	}
}
