// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package rapl

import (
	"fmt"
	"math"
	"sync"
)

// NOTE: FakeRegisterSource is not intended to be used in production and is
// for development and testing only

// FakeRegisterSource is an in-memory RegisterSource. Registers of each CPU
// hold fixed values; energy status registers may be given an increment that
// is added on every read, wrapping the low 32 bits like real hardware.
type FakeRegisterSource struct {
	mu         sync.Mutex
	registers  map[int]map[uint32]uint64
	increments map[uint32]uint32
	openErr    map[int]error
	open       int
}

var _ RegisterSource = (*FakeRegisterSource)(nil)

// NewFakeRegisterSource returns an empty fake; CPUs without any register set
// fail to open with ErrDeviceUnavailable.
func NewFakeRegisterSource() *FakeRegisterSource {
	return &FakeRegisterSource{
		registers:  make(map[int]map[uint32]uint64),
		increments: make(map[uint32]uint32),
		openErr:    make(map[int]error),
	}
}

// NewFakeSocket is a convenience that sets the power unit register of cpu to
// the given energy-unit exponent and every energy counter to zero.
func (f *FakeRegisterSource) NewFakeSocket(cpu int, energyExponent uint) *FakeRegisterSource {
	f.Set(cpu, MSRPowerUnit, uint64(energyExponent&0x1F)<<8)
	for _, offset := range []uint32{MSRPkgEnergyStatus, MSRDRAMEnergyStatus, MSRPP0EnergyStatus, MSRPP1EnergyStatus} {
		f.Set(cpu, offset, 0)
	}
	return f
}

// Set stores value in register offset of cpu
func (f *FakeRegisterSource) Set(cpu int, offset uint32, value uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	regs, ok := f.registers[cpu]
	if !ok {
		regs = make(map[uint32]uint64)
		f.registers[cpu] = regs
	}
	regs[offset] = value
}

// Increment makes every read of offset advance its counter by step ticks.
func (f *FakeRegisterSource) Increment(offset uint32, step uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.increments[offset] = step
}

// FailOpen makes Open(cpu) return err.
func (f *FakeRegisterSource) FailOpen(cpu int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr[cpu] = err
}

// OpenHandles returns the number of readers not yet closed.
func (f *FakeRegisterSource) OpenHandles() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *FakeRegisterSource) Name() string {
	return "fake-msr"
}

func (f *FakeRegisterSource) Open(cpu int) (RegisterReader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.openErr[cpu]; ok {
		return nil, err
	}
	if _, ok := f.registers[cpu]; !ok {
		return nil, fmt.Errorf("%w: fake cpu %d", ErrDeviceUnavailable, cpu)
	}
	f.open++
	return &fakeRegisterReader{source: f, cpu: cpu}, nil
}

func (f *FakeRegisterSource) read(cpu int, offset uint32) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	value, ok := f.registers[cpu][offset]
	if !ok {
		return 0, fmt.Errorf("fake MSR 0x%x not present on CPU %d", offset, cpu)
	}

	if step, ok := f.increments[offset]; ok {
		counter := uint32(value&math.MaxUint32) + step
		f.registers[cpu][offset] = value&^uint64(math.MaxUint32) | uint64(counter)
	}
	return value, nil
}

func (f *FakeRegisterSource) release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open--
}

type fakeRegisterReader struct {
	source *FakeRegisterSource
	cpu    int
	closed bool
}

func (r *fakeRegisterReader) Read(offset uint32) (uint64, error) {
	if r.closed {
		return 0, fmt.Errorf("fake MSR reader for CPU %d is closed", r.cpu)
	}
	return r.source.read(r.cpu, offset)
}

func (r *fakeRegisterReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.source.release()
	return nil
}
