// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package rapl

import (
	"fmt"
	"math"
)

// EnergyStat is one socket's absolute energy per domain in joules. Only the
// domains of the socket's DomainSet are present; a missing key means the
// domain is not supported, never zero energy.
type EnergyStat struct {
	Socket int
	Energy map[Domain]float64
}

// Clone returns a deep copy of s
func (s EnergyStat) Clone() EnergyStat {
	ret := EnergyStat{Socket: s.Socket, Energy: make(map[Domain]float64, len(s.Energy))}
	for d, e := range s.Energy {
		ret.Energy[d] = e
	}
	return ret
}

// socketHandle is an opened socket with its decoded units
type socketHandle struct {
	Socket
	reader      RegisterReader
	calibration Calibration
}

// collector reads point-in-time energy snapshots. It never mutates the
// handles it is given.
type collector struct {
	arch    MicroArchitecture
	sockets []socketHandle
}

// ReadCounter returns the 32-bit energy counter of domain d.
func ReadCounter(r RegisterReader, d Domain) (uint32, error) {
	offset := d.Register()
	if offset == 0 {
		return 0, fmt.Errorf("no energy register for domain %q", d)
	}
	raw, err := r.Read(offset)
	if err != nil {
		return 0, err
	}
	return uint32(raw & math.MaxUint32), nil
}

// collect returns one EnergyStat per socket in ascending socket order.
func (c *collector) collect() ([]EnergyStat, error) {
	domains := Domains(c.arch).Domains()

	stats := make([]EnergyStat, 0, len(c.sockets))
	for _, s := range c.sockets {
		stat := EnergyStat{Socket: s.ID, Energy: make(map[Domain]float64, len(domains))}
		for _, d := range domains {
			counter, err := ReadCounter(s.reader, d)
			if err != nil {
				return nil, fmt.Errorf("socket %d domain %s: %w", s.ID, d, err)
			}
			stat.Energy[d] = float64(counter) * s.calibration.EnergyUnit(c.arch, d)
		}
		stats = append(stats, stat)
	}
	return stats, nil
}
