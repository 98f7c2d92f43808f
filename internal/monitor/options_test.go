// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	testingclock "k8s.io/utils/clock/testing"
)

func TestDefaultOpts(t *testing.T) {
	opts := DefaultOpts()
	assert.Equal(t, time.Duration(0), opts.interval)
	assert.Equal(t, 500*time.Millisecond, opts.maxStaleness)
	assert.Equal(t, CounterUpdatePeriod, opts.minSampleGap)
	assert.NotNil(t, opts.logger)
	assert.NotNil(t, opts.clock)
}

func TestOptionFns(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fakeClock := testingclock.NewFakeClock(time.Now())

	opts := DefaultOpts()
	for _, apply := range []OptionFn{
		WithInterval(2 * time.Second),
		WithMaxStaleness(time.Second),
		WithLogger(logger),
		WithClock(fakeClock),
		WithMinSampleGap(10 * time.Millisecond),
	} {
		apply(&opts)
	}

	assert.Equal(t, 2*time.Second, opts.interval)
	assert.Equal(t, time.Second, opts.maxStaleness)
	assert.Same(t, logger, opts.logger)
	assert.Equal(t, fakeClock, opts.clock)
	assert.Equal(t, 10*time.Millisecond, opts.minSampleGap)
}
