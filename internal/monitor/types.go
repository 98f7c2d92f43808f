// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"maps"
	"time"

	"github.com/sustainable-computing-io/raplstat/internal/rapl"
)

// Usage is the energy accounting of one domain of one socket
type Usage struct {
	EnergyTotal float64 // joules consumed since the monitor started; never decreases
	Delta       float64 // joules consumed during the last interval
	Power       float64 // average watts over the last interval
}

// DomainUsageMap maps the domains of a socket to their usage
type DomainUsageMap map[rapl.Domain]Usage

// Socket is the energy accounting of one CPU package
type Socket struct {
	ID      int
	Domains DomainUsageMap
}

// Power returns the sum of the average power of all domains
func (s *Socket) Power() float64 {
	var total float64
	for _, u := range s.Domains {
		total += u.Power
	}
	return total
}

func (s *Socket) Clone() *Socket {
	ret := &Socket{ID: s.ID, Domains: make(DomainUsageMap, len(s.Domains))}
	maps.Copy(ret.Domains, s.Domains)
	return ret
}

// Snapshot is the state of every socket at Timestamp
type Snapshot struct {
	Timestamp time.Time     // time the snapshot was computed
	Interval  time.Duration // time covered by Delta and Power; 0 on the first reading

	MicroArchitecture string
	DomainSet         rapl.DomainSet
	Sockets           []*Socket

	// Sample is the raw reading the next snapshot is diffed against
	Sample *rapl.Sample
}

// NewSnapshot returns an empty snapshot
func NewSnapshot() *Snapshot {
	return &Snapshot{Sockets: []*Socket{}}
}

// Clone returns a deep copy of the snapshot
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}

	ret := &Snapshot{
		Timestamp:         s.Timestamp,
		Interval:          s.Interval,
		MicroArchitecture: s.MicroArchitecture,
		DomainSet:         s.DomainSet,
		Sockets:           make([]*Socket, len(s.Sockets)),
	}
	for i, socket := range s.Sockets {
		ret.Sockets[i] = socket.Clone()
	}
	if s.Sample != nil {
		ret.Sample = s.Sample.Clone()
	}
	return ret
}
