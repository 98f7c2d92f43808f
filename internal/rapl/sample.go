// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package rapl

import (
	"fmt"
	"time"
)

// Sample is a timestamped snapshot of every socket's absolute energy.
type Sample struct {
	Timestamp time.Time
	Stats     []EnergyStat
}

// Clone returns a deep copy of s
func (s *Sample) Clone() *Sample {
	ret := &Sample{Timestamp: s.Timestamp, Stats: make([]EnergyStat, len(s.Stats))}
	for i, st := range s.Stats {
		ret.Stats[i] = st.Clone()
	}
	return ret
}

// SocketDelta is the energy consumed by one socket between two samples.
type SocketDelta struct {
	Socket int
	Energy map[Domain]float64
}

// Total returns the energy summed over all domains.
func (d SocketDelta) Total() float64 {
	var total float64
	for _, e := range d.Energy {
		total += e
	}
	return total
}

// Interval is the per-socket energy consumed between two samples.
type Interval struct {
	Start  time.Time
	End    time.Time
	Deltas []SocketDelta
}

// Duration returns End-Start
func (i *Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Power returns the average power in watts of domain d on socket over the
// interval.
func (i *Interval) Power(socket int, d Domain) float64 {
	secs := i.Duration().Seconds()
	if secs <= 0 {
		return 0
	}
	for _, delta := range i.Deltas {
		if delta.Socket == socket {
			return delta.Energy[d] / secs
		}
	}
	return 0
}

// Difference computes the energy consumed from first to second. A domain
// whose later reading is smaller has wrapped and is corrected by one wrap
// of its counter. Only domains present in both samples are reported.
func Difference(first, second *Sample, wraps WrapArounds) (*Interval, error) {
	if !first.Timestamp.Before(second.Timestamp) {
		return nil, fmt.Errorf("first sample is not before second sample (%s !< %s)",
			first.Timestamp.Format(time.RFC3339Nano), second.Timestamp.Format(time.RFC3339Nano))
	}
	if len(first.Stats) != len(second.Stats) {
		return nil, fmt.Errorf("samples cover different sockets (%d != %d)", len(first.Stats), len(second.Stats))
	}

	interval := &Interval{
		Start:  first.Timestamp,
		End:    second.Timestamp,
		Deltas: make([]SocketDelta, len(first.Stats)),
	}
	for i := range first.Stats {
		a, b := first.Stats[i], second.Stats[i]
		if a.Socket != b.Socket {
			return nil, fmt.Errorf("readings are not from the same socket (%d != %d)", a.Socket, b.Socket)
		}

		delta := SocketDelta{Socket: a.Socket, Energy: make(map[Domain]float64, len(a.Energy))}
		for d, prev := range a.Energy {
			cur, ok := b.Energy[d]
			if !ok {
				continue
			}
			delta.Energy[d] = EnergyDelta(prev, cur, wraps.For(d))
		}
		interval.Deltas[i] = delta
	}
	return interval, nil
}
