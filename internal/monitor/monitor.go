// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sustainable-computing-io/raplstat/internal/rapl"
	"github.com/sustainable-computing-io/raplstat/internal/service"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"
)

// EnergySampler is the part of rapl.Telemetry the monitor reads from
type EnergySampler interface {
	Sample() (*rapl.Sample, error)
	WrapArounds() (rapl.WrapArounds, error)
	DomainSet() (rapl.DomainSet, error)
	MicroArchitectureName() (string, error)
}

var _ EnergySampler = (*rapl.Telemetry)(nil)

type PowerDataProvider interface {
	// Snapshot returns the current power data
	Snapshot() (*Snapshot, error)

	// DataChannel returns a channel that signals when new data is available
	DataChannel() <-chan struct{}

	// DomainSet returns the domains every socket reports
	DomainSet() rapl.DomainSet

	// MicroArchitecture returns the name of the detected microarchitecture
	MicroArchitecture() string
}

// Service defines the interface for the power monitoring service
type Service interface {
	service.Service
	PowerDataProvider
}

// PowerMonitor turns periodic energy samples into cumulative energy and
// average power per socket and domain
type PowerMonitor struct {
	// passed externally
	logger  *slog.Logger
	sampler EnergySampler

	interval     time.Duration
	clock        clock.WithTicker
	maxStaleness time.Duration
	minSampleGap time.Duration

	// read once in Init
	domains rapl.DomainSet
	arch    string
	wraps   rapl.WrapArounds

	// signals when a snapshot has been updated
	dataCh chan struct{}

	computeGroup singleflight.Group
	snapshot     atomic.Pointer[Snapshot]

	// For managing the collection loop
	collectionCtx    context.Context
	collectionCancel context.CancelFunc
}

var _ Service = (*PowerMonitor)(nil)

// NewPowerMonitor creates a new PowerMonitor instance
func NewPowerMonitor(sampler EnergySampler, applyOpts ...OptionFn) *PowerMonitor {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &PowerMonitor{
		logger:           opts.logger.With("service", "monitor"),
		sampler:          sampler,
		clock:            opts.clock,
		interval:         opts.interval,
		maxStaleness:     opts.maxStaleness,
		minSampleGap:     max(opts.minSampleGap, time.Nanosecond),
		dataCh:           make(chan struct{}, 1),
		collectionCtx:    ctx,
		collectionCancel: cancel,
	}
}

func (pm *PowerMonitor) Name() string {
	return "monitor"
}

// Init caches the domain set, microarchitecture and wrap energies. The
// sampler must be initialized first.
func (pm *PowerMonitor) Init() error {
	domains, err := pm.sampler.DomainSet()
	if err != nil {
		return fmt.Errorf("failed to read domain set: %w", err)
	}
	arch, err := pm.sampler.MicroArchitectureName()
	if err != nil {
		return fmt.Errorf("failed to read microarchitecture: %w", err)
	}
	wraps, err := pm.sampler.WrapArounds()
	switch {
	case errors.Is(err, rapl.ErrUnsupportedMicroArchitecture):
		// no counters to wrap; samples carry no energy
		pm.logger.Warn("RAPL is not supported on this CPU; power will be reported as empty",
			"microarchitecture", arch)
	case err != nil:
		return fmt.Errorf("failed to read wraparound energy: %w", err)
	}

	pm.domains = domains
	pm.arch = arch
	pm.wraps = wraps
	pm.logger.Info("Monitor initialized",
		"microarchitecture", arch,
		"domains", domains.String(),
		"wrap_j", wraps.Generic,
		"dram_wrap_j", wraps.DRAM)

	// signal now so that exporters can construct descriptors
	pm.signalNewData()
	return nil
}

func (pm *PowerMonitor) signalNewData() {
	select {
	case pm.dataCh <- struct{}{}: // send signal to any waiting goroutine
		pm.logger.Debug("Data channel updated")
	default:
		pm.logger.Debug("Data channel is full")
	}
}

func (pm *PowerMonitor) Run(ctx context.Context) error {
	pm.logger.Info("Monitor is running...")
	pm.collectionLoop()
	<-ctx.Done()
	pm.collectionCancel()
	pm.logger.Info("Monitor has terminated.")
	return nil
}

func (pm *PowerMonitor) Shutdown() error {
	pm.logger.Info("shutting down monitor")
	pm.collectionCancel()
	return nil
}

func (pm *PowerMonitor) DataChannel() <-chan struct{} {
	return pm.dataCh
}

func (pm *PowerMonitor) DomainSet() rapl.DomainSet {
	return pm.domains
}

func (pm *PowerMonitor) MicroArchitecture() string {
	return pm.arch
}

// Snapshot returns a copy of the latest snapshot, refreshing it first when
// it is older than the maximum staleness
func (pm *PowerMonitor) Snapshot() (*Snapshot, error) {
	if err := pm.ensureFreshData(); err != nil {
		return nil, err
	}

	snapshot := pm.snapshot.Load()
	if snapshot == nil {
		return nil, fmt.Errorf("failed to get snapshot")
	}
	return snapshot.Clone(), nil
}

// collectionLoop handles periodic data collection
func (pm *PowerMonitor) collectionLoop() {
	if err := pm.synchronizedPowerRefresh(); err != nil {
		pm.logger.Error("Failed to collect initial power data", "error", err)
	}

	if pm.interval > 0 {
		pm.scheduleNextCollection()
	}
}

// scheduleNextCollection schedules the next data collection
func (pm *PowerMonitor) scheduleNextCollection() {
	timer := pm.clock.After(pm.interval)
	go func() {
		select {
		case <-timer:
			if err := pm.synchronizedPowerRefresh(); err != nil {
				pm.logger.Error("Failed to collect power data", "error", err)
			}
			pm.scheduleNextCollection()

		case <-pm.collectionCtx.Done():
			pm.logger.Info("Collection loop terminated")
			return
		}
	}()
}

// ensureFreshData ensures that the data returned is recent enough (< maxStaleness)
func (pm *PowerMonitor) ensureFreshData() error {
	if pm.isFresh() {
		return nil
	}
	return pm.synchronizedPowerRefresh()
}

// synchronizedPowerRefresh creates a new snapshot, collapsing concurrent
// callers into a single read of the registers
func (pm *PowerMonitor) synchronizedPowerRefresh() error {
	_, err, _ := pm.computeGroup.Do("compute", func() (any, error) {
		// a caller that waited on the group may find the data refreshed
		if pm.isFresh() {
			return nil, nil
		}
		return nil, pm.refreshSnapshot()
	})
	return err
}

func (pm *PowerMonitor) isFresh() bool {
	snapshot := pm.snapshot.Load()
	if snapshot == nil || snapshot.Timestamp.IsZero() {
		return false
	}

	age := pm.clock.Now().Sub(snapshot.Timestamp)
	return age <= pm.maxStaleness
}

// refreshSnapshot reads a new sample and accounts it against the previous
// snapshot. The first snapshot starts every total at zero.
func (pm *PowerMonitor) refreshSnapshot() error {
	started := pm.clock.Now()
	defer func() {
		pm.logger.Debug("Computed power", "duration", pm.clock.Since(started))
	}()

	sample, err := pm.sampler.Sample()
	if err != nil {
		return fmt.Errorf("failed to sample energy: %w", err)
	}

	newSnapshot := NewSnapshot()
	newSnapshot.MicroArchitecture = pm.arch
	newSnapshot.DomainSet = pm.domains
	newSnapshot.Sample = sample

	prev := pm.snapshot.Load()
	if prev == nil {
		pm.firstReading(newSnapshot)
	} else {
		if gap := sample.Timestamp.Sub(prev.Sample.Timestamp); gap < pm.minSampleGap {
			// too soon for the counters to have moved; keep the previous accounting
			pm.logger.Debug("Skipping sample", "gap", gap, "min_gap", pm.minSampleGap)
			return nil
		}
		if err := pm.calculatePower(prev, newSnapshot); err != nil {
			return err
		}
	}

	newSnapshot.Timestamp = pm.clock.Now()
	pm.snapshot.Store(newSnapshot)
	pm.signalNewData()
	pm.logger.Debug("refreshSnapshot", "sockets", len(newSnapshot.Sockets), "interval", newSnapshot.Interval)
	return nil
}

func (pm *PowerMonitor) firstReading(snapshot *Snapshot) {
	for _, stat := range snapshot.Sample.Stats {
		socket := &Socket{ID: stat.Socket, Domains: make(DomainUsageMap, len(stat.Energy))}
		for d := range stat.Energy {
			socket.Domains[d] = Usage{}
		}
		snapshot.Sockets = append(snapshot.Sockets, socket)
	}
}

func (pm *PowerMonitor) calculatePower(prev, snapshot *Snapshot) error {
	interval, err := rapl.Difference(prev.Sample, snapshot.Sample, pm.wraps)
	if err != nil {
		return fmt.Errorf("failed to calculate socket energy: %w", err)
	}
	snapshot.Interval = interval.Duration()
	secs := interval.Duration().Seconds()

	for i, delta := range interval.Deltas {
		var prevDomains DomainUsageMap
		if i < len(prev.Sockets) {
			prevDomains = prev.Sockets[i].Domains
		}

		socket := &Socket{ID: delta.Socket, Domains: make(DomainUsageMap, len(delta.Energy))}
		for d, joules := range delta.Energy {
			socket.Domains[d] = Usage{
				EnergyTotal: prevDomains[d].EnergyTotal + joules,
				Delta:       joules,
				Power:       joules / secs,
			}
		}
		snapshot.Sockets = append(snapshot.Sockets, socket)

		pm.logger.Debug("Socket power",
			"socket", socket.ID,
			"delta_j", delta.Total(),
			"power_w", socket.Power(),
			"interval", snapshot.Interval)
	}
	return nil
}
