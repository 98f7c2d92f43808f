// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package rapl

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

/*
Record format

A record is a single line of fields separated by RecordDelimiter:

	s0_d0;s0_d1;...;s1_d0;s1_d1;...;timestamp

Sockets appear in ascending id order. Within a socket the domains follow the
DomainSet order ("dram,gpu,core,pkg", "dram,core,pkg" or "gpu,core,pkg").
Energy values are joules with RecordPrecision decimals; the final field is
the sample time in microseconds since the Unix epoch. The delimiter is ";"
so that locales using "," as decimal separator do not break consumers.
*/

const (
	RecordDelimiter = ";"
	RecordPrecision = 6
)

// FormatRecord renders stats as a record. Every socket must carry every
// domain of set.
func FormatRecord(set DomainSet, stats []EnergyStat, ts time.Time) (string, error) {
	sorted := make([]EnergyStat, len(stats))
	copy(sorted, stats)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Socket < sorted[j].Socket
	})

	domains := set.Domains()
	fields := make([]string, 0, len(sorted)*len(domains)+1)
	for _, s := range sorted {
		for _, d := range domains {
			e, ok := s.Energy[d]
			if !ok {
				return "", fmt.Errorf("socket %d has no %s reading", s.Socket, d)
			}
			fields = append(fields, strconv.FormatFloat(e, 'f', RecordPrecision, 64))
		}
	}
	fields = append(fields, strconv.FormatInt(ts.UnixMicro(), 10))
	return strings.Join(fields, RecordDelimiter), nil
}

// ParseRecord is the inverse of FormatRecord for a host with the given
// domain set and socket count.
func ParseRecord(set DomainSet, sockets int, record string) (*Sample, error) {
	fields := strings.Split(strings.TrimSpace(record), RecordDelimiter)
	domains := set.Domains()
	if want := sockets*len(domains) + 1; len(fields) != want {
		return nil, fmt.Errorf("record has %d fields, expected %d", len(fields), want)
	}

	micros, err := strconv.ParseInt(fields[len(fields)-1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid record timestamp %q: %w", fields[len(fields)-1], err)
	}

	sample := &Sample{
		Timestamp: time.UnixMicro(micros),
		Stats:     make([]EnergyStat, sockets),
	}
	for s := 0; s < sockets; s++ {
		stat := EnergyStat{Socket: s, Energy: make(map[Domain]float64, len(domains))}
		for i, d := range domains {
			field := fields[s*len(domains)+i]
			e, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid %s energy %q for socket %d: %w", d, field, s, err)
			}
			stat.Energy[d] = e
		}
		sample.Stats[s] = stat
	}
	return sample, nil
}
