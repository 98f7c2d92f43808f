// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package rapl

// counterRange is the number of distinct values of a 32-bit energy counter
const counterRange = 1 << 32

// WrapAround returns the energy, in joules, of one full wrap of a counter
// with the given unit.
func WrapAround(unit float64) float64 {
	return unit * counterRange
}

// DRAMWrapAround is WrapAround for the DRAM counter of m, honouring the DRAM
// unit override.
func DRAMWrapAround(m MicroArchitecture, unit float64) float64 {
	return WrapAround(Calibration{Energy: unit}.EnergyUnit(m, DomainDRAM))
}

// WrapArounds holds the wrap energy of the generic and DRAM counters.
type WrapArounds struct {
	Generic float64
	DRAM    float64
}

// For returns the wrap energy that applies to domain d.
func (w WrapArounds) For(d Domain) float64 {
	if d == DomainDRAM {
		return w.DRAM
	}
	return w.Generic
}

// CounterDelta returns the ticks elapsed between two raw samples, assuming
// at most one wrap in between.
func CounterDelta(prev, cur uint32) uint64 {
	if cur >= prev {
		return uint64(cur - prev)
	}
	return uint64(cur) + counterRange - uint64(prev)
}

// EnergyDelta returns cur-prev in joules, adding one wrap when the later
// reading is smaller.
func EnergyDelta(prev, cur, wrap float64) float64 {
	delta := cur - prev
	if delta < 0 {
		delta += wrap
	}
	return delta
}
