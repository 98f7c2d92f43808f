// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package rapl

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"k8s.io/utils/clock"
)

// Telemetry owns the process-wide RAPL state: the detected
// microarchitecture and one open register handle per socket. It is created
// unusable; Init opens it and Shutdown releases it.
//
// Lifecycle transitions take an exclusive lock while reads share it, so
// concurrent reads after Init are safe and no read ever observes a closed
// handle.
type Telemetry struct {
	// passed externally
	logger   *slog.Logger
	source   RegisterSource
	detector Detector
	topology Topology
	procPath string
	clock    clock.PassiveClock

	mu          sync.RWMutex
	initialized bool
	arch        MicroArchitecture
	cpuID       CPUID
	sockets     []socketHandle
}

type Opts struct {
	logger   *slog.Logger
	source   RegisterSource
	detector Detector
	topology Topology
	procPath string
	clock    clock.PassiveClock
}

// DefaultOpts returns the options of a Telemetry reading the real host
func DefaultOpts() Opts {
	return Opts{
		logger:   slog.Default(),
		source:   NewMSRSource(DefaultDevicePath),
		detector: NewCPUIDDetector(),
		procPath: "/proc",
		clock:    clock.RealClock{},
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for Telemetry
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithRegisterSource sets the source register readers are opened from
func WithRegisterSource(s RegisterSource) OptionFn {
	return func(o *Opts) {
		o.source = s
	}
}

// WithDetector sets the CPU detector
func WithDetector(d Detector) OptionFn {
	return func(o *Opts) {
		o.detector = d
	}
}

// WithTopology sets a fixed socket topology instead of discovering it from
// procfs
func WithTopology(t Topology) OptionFn {
	return func(o *Opts) {
		o.topology = t
	}
}

// WithProcFS sets the procfs mount used for socket discovery
func WithProcFS(path string) OptionFn {
	return func(o *Opts) {
		o.procPath = path
	}
}

// WithClock sets the clock samples are timestamped with
func WithClock(c clock.PassiveClock) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// NewTelemetry returns an uninitialized Telemetry.
func NewTelemetry(applyOpts ...OptionFn) *Telemetry {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Telemetry{
		logger:   opts.logger.With("service", "rapl"),
		source:   opts.source,
		detector: opts.detector,
		topology: opts.topology,
		procPath: opts.procPath,
		clock:    opts.clock,
	}
}

// Name implements service.Service
func (t *Telemetry) Name() string {
	return "rapl"
}

// Init detects the microarchitecture, opens every socket's register device
// and decodes its units. On an unsupported CPU no device is opened and every
// socket reads as empty. It fails with ErrAlreadyInitialized when called
// twice without Shutdown, and with ErrDeviceUnavailable when a device
// cannot be opened.
func (t *Telemetry) Init() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.initialized {
		return ErrAlreadyInitialized
	}

	arch, id, err := DetectMicroArchitecture(t.detector)
	if err != nil {
		// not fatal: an unidentifiable CPU is simply not supported
		t.logger.Warn("CPU detection failed", "detector", t.detector.Name(), "error", err)
		arch = Undefined
	}
	if !arch.Known() {
		t.logger.Warn("Unsupported microarchitecture; energy readings will be empty", "cpu", id.String())
	}

	topology := t.topology
	if topology == nil {
		topology, err = NewProcFSTopology(t.procPath)
		if err != nil {
			return fmt.Errorf("failed to create socket topology: %w", err)
		}
	}
	sockets, err := topology.Sockets()
	if err != nil {
		return fmt.Errorf("failed to discover sockets: %w", err)
	}
	sort.Slice(sockets, func(i, j int) bool {
		return sockets[i].ID < sockets[j].ID
	})

	handles := make([]socketHandle, 0, len(sockets))
	if !arch.Known() {
		// unsupported CPUs expose no RAPL registers; report empty readings
		for _, s := range sockets {
			handles = append(handles, socketHandle{Socket: s})
		}
		t.arch = arch
		t.cpuID = id
		t.sockets = handles
		t.initialized = true
		t.logger.Info("RAPL telemetry initialized without registers",
			"microarchitecture", arch.String(),
			"sockets", len(handles))
		return nil
	}

	for _, s := range sockets {
		reader, err := t.source.Open(s.CPU)
		if err != nil {
			if closeErr := closeHandles(handles); closeErr != nil {
				t.logger.Warn("Failed to close register devices", "error", closeErr)
			}
			return fmt.Errorf("failed to open socket %d (cpu %d): %w", s.ID, s.CPU, err)
		}

		calibration, err := ReadCalibration(reader)
		handles = append(handles, socketHandle{Socket: s, reader: reader, calibration: calibration})
		if err != nil {
			if closeErr := closeHandles(handles); closeErr != nil {
				t.logger.Warn("Failed to close register devices", "error", closeErr)
			}
			return fmt.Errorf("failed to calibrate socket %d: %w", s.ID, err)
		}

		t.logger.Debug("Opened socket",
			"socket", s.ID, "cpu", s.CPU, "energy_unit_j", calibration.Energy)
	}

	t.arch = arch
	t.cpuID = id
	t.sockets = handles
	t.initialized = true

	t.logger.Info("RAPL telemetry initialized",
		"source", t.source.Name(),
		"microarchitecture", arch.String(),
		"sockets", len(handles),
		"components", Domains(arch).String())
	return nil
}

// Shutdown closes every register handle and invalidates cached state.
func (t *Telemetry) Shutdown() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized {
		return ErrNotInitialized
	}

	err := closeHandles(t.sockets)
	t.sockets = nil
	t.arch = Undefined
	t.cpuID = CPUID{}
	t.initialized = false
	return err
}

func closeHandles(handles []socketHandle) error {
	var errs error
	for _, h := range handles {
		if h.reader == nil {
			continue
		}
		if err := h.reader.Close(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("socket %d: %w", h.ID, err))
		}
	}
	return errs
}

// Available reports whether Telemetry is initialized on a supported CPU with
// at least one socket.
func (t *Telemetry) Available() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.initialized && t.arch.Known() && len(t.sockets) > 0
}

// MicroArchitecture returns the detected microarchitecture.
func (t *Telemetry) MicroArchitecture() (MicroArchitecture, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.initialized {
		return Undefined, ErrNotInitialized
	}
	return t.arch, nil
}

// MicroArchitectureName returns the microarchitecture name, or
// UndefinedName on unsupported CPUs.
func (t *Telemetry) MicroArchitectureName() (string, error) {
	arch, err := t.MicroArchitecture()
	if err != nil {
		return "", err
	}
	return arch.String(), nil
}

// CPUID returns the identification the microarchitecture was derived from.
func (t *Telemetry) CPUID() (CPUID, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.initialized {
		return CPUID{}, ErrNotInitialized
	}
	return t.cpuID, nil
}

// SocketCount returns the number of opened sockets.
func (t *Telemetry) SocketCount() (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.initialized {
		return 0, ErrNotInitialized
	}
	return len(t.sockets), nil
}

// DomainSet returns the supported domains.
func (t *Telemetry) DomainSet() (DomainSet, error) {
	arch, err := t.MicroArchitecture()
	if err != nil {
		return UndefinedDomains, err
	}
	return Domains(arch), nil
}

// ComponentsSupported returns the supported domains comma-joined in record
// order, or "undefined".
func (t *Telemetry) ComponentsSupported() (string, error) {
	set, err := t.DomainSet()
	if err != nil {
		return "", err
	}
	return set.String(), nil
}

// Collect returns a point-in-time absolute energy reading per socket.
func (t *Telemetry) Collect() ([]EnergyStat, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.initialized {
		return nil, ErrNotInitialized
	}
	c := collector{arch: t.arch, sockets: t.sockets}
	return c.collect()
}

// Sample returns a timestamped Collect.
func (t *Telemetry) Sample() (*Sample, error) {
	stats, err := t.Collect()
	if err != nil {
		return nil, err
	}
	return &Sample{Timestamp: t.clock.Now(), Stats: stats}, nil
}

// ReadEnergyStats returns a Sample serialized as a record.
func (t *Telemetry) ReadEnergyStats() (string, error) {
	set, err := t.DomainSet()
	if err != nil {
		return "", err
	}
	sample, err := t.Sample()
	if err != nil {
		return "", err
	}
	return FormatRecord(set, sample.Stats, sample.Timestamp)
}

// WrapArounds returns the generic and DRAM wrap energies, decoding the unit
// from a fresh read of the first socket's power unit register. Unsupported
// CPUs have no unit to decode and fail with ErrUnsupportedMicroArchitecture.
func (t *Telemetry) WrapArounds() (WrapArounds, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.initialized {
		return WrapArounds{}, ErrNotInitialized
	}
	if !t.arch.Known() {
		return WrapArounds{}, ErrUnsupportedMicroArchitecture
	}
	if len(t.sockets) == 0 {
		return WrapArounds{}, fmt.Errorf("no sockets to read the energy unit from")
	}

	cpu := t.sockets[0].CPU
	reader, err := t.source.Open(cpu)
	if err != nil {
		return WrapArounds{}, fmt.Errorf("failed to open cpu %d: %w", cpu, err)
	}
	calibration, err := ReadCalibration(reader)
	if closeErr := reader.Close(); closeErr != nil {
		t.logger.Warn("Failed to close register device", "cpu", cpu, "error", closeErr)
	}
	if err != nil {
		return WrapArounds{}, err
	}

	return WrapArounds{
		Generic: WrapAround(calibration.Energy),
		DRAM:    DRAMWrapAround(t.arch, calibration.Energy),
	}, nil
}

// WrapAroundEnergy returns the joules of one wrap of the package, core and
// gpu counters.
func (t *Telemetry) WrapAroundEnergy() (float64, error) {
	w, err := t.WrapArounds()
	if err != nil {
		return 0, err
	}
	return w.Generic, nil
}

// DRAMWrapAroundEnergy returns the joules of one wrap of the DRAM counter.
func (t *Telemetry) DRAMWrapAroundEnergy() (float64, error) {
	w, err := t.WrapArounds()
	if err != nil {
		return 0, err
	}
	return w.DRAM, nil
}
