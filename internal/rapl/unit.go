// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package rapl

import (
	"fmt"
	"math"
)

// BroadwellDRAMEnergyUnit is the fixed DRAM energy unit (joules per tick) of
// the Broadwell family; its power unit register does not describe DRAM.
const BroadwellDRAMEnergyUnit = 0.0000153

// MSR_RAPL_POWER_UNIT bit fields
const (
	powerUnitMask   = 0x0F // bits 3:0
	energyUnitShift = 8
	energyUnitMask  = 0x1F // bits 12:8
	timeUnitShift   = 16
	timeUnitMask    = 0x0F // bits 19:16
)

// Calibration holds the scaling factors decoded from one socket's power unit
// register.
type Calibration struct {
	Power  float64 // watts per tick
	Energy float64 // joules per tick
	Time   float64 // seconds per tick
}

// DecodeEnergyUnit extracts the energy unit, 1/2^ESU joules, from a raw power
// unit register value.
func DecodeEnergyUnit(raw uint64) float64 {
	return math.Ldexp(1, -int((raw>>energyUnitShift)&energyUnitMask))
}

// DecodeCalibration decodes all three units of a power unit register.
func DecodeCalibration(raw uint64) Calibration {
	return Calibration{
		Power:  math.Ldexp(1, -int(raw&powerUnitMask)),
		Energy: DecodeEnergyUnit(raw),
		Time:   math.Ldexp(1, -int((raw>>timeUnitShift)&timeUnitMask)),
	}
}

// ReadCalibration reads and decodes the power unit register.
func ReadCalibration(r RegisterReader) (Calibration, error) {
	raw, err := r.Read(MSRPowerUnit)
	if err != nil {
		return Calibration{}, fmt.Errorf("failed to read power unit register: %w", err)
	}
	return DecodeCalibration(raw), nil
}

// EnergyUnit returns the unit to scale domain d's counter with. The
// microarchitecture override is checked first and only ever applies to DRAM.
func (c Calibration) EnergyUnit(m MicroArchitecture, d Domain) float64 {
	if d == DomainDRAM {
		if u := m.row().dramUnit; u > 0 {
			return u
		}
	}
	return c.Energy
}
