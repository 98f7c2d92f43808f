// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package powercap

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/procfs/sysfs"
	"github.com/sustainable-computing-io/raplstat/internal/rapl"
)

const microJoulesPerJoule = 1e6

// Reader reads the RAPL energy counters the kernel exposes through the
// powercap sysfs interface. It serves as an independent reference for the
// MSR readings.
type Reader struct {
	fs sysfs.FS
}

// NewReader creates a new powercap reader using the specified sysfs path
func NewReader(sysfsPath string) (*Reader, error) {
	fs, err := sysfs.NewFS(sysfsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create sysfs filesystem: %w", err)
	}
	return &Reader{fs: fs}, nil
}

// Name returns the name of this reader
func (r *Reader) Name() string {
	return "powercap"
}

// Available checks if powercap interface is available on this system
func (r *Reader) Available() bool {
	zones, err := r.Zones()
	return err == nil && len(zones) > 0
}

// Zone is one intel-rapl powercap zone
type Zone struct {
	zone sysfs.RaplZone

	Socket int
	Domain rapl.Domain
}

// Name returns the kernel name of the zone
func (z Zone) Name() string {
	return z.zone.Name
}

// Path returns the sysfs directory of the zone
func (z Zone) Path() string {
	return z.zone.Path
}

// Energy returns the counter in joules
func (z Zone) Energy() (float64, error) {
	uj, err := z.zone.GetEnergyMicrojoules()
	if err != nil {
		return 0, fmt.Errorf("failed to read energy of %s: %w", z.zone.Path, err)
	}
	return float64(uj) / microJoulesPerJoule, nil
}

// MaxEnergy returns the counter range in joules
func (z Zone) MaxEnergy() float64 {
	return float64(z.zone.MaxMicrojoules) / microJoulesPerJoule
}

// Delta returns the joules consumed between two readings of the zone,
// accounting for at most one wrap of the counter
func (z Zone) Delta(prev, cur float64) float64 {
	return rapl.EnergyDelta(prev, cur, z.MaxEnergy())
}

// Zones returns the intel-rapl zones ordered by socket and domain. Zones
// that are not backed by an intel-rapl:<socket>[:<sub>] directory or whose
// name does not map to a RAPL domain are skipped.
func (r *Reader) Zones() ([]Zone, error) {
	raplZones, err := sysfs.GetRaplZones(r.fs)
	if err != nil {
		return nil, fmt.Errorf("failed to read rapl zones: %w", err)
	}

	zones := make([]Zone, 0, len(raplZones))
	for _, rz := range raplZones {
		socket, ok := socketOf(rz.Path)
		if !ok {
			continue
		}
		domain, ok := domainOf(rz.Name)
		if !ok {
			continue
		}
		zones = append(zones, Zone{zone: rz, Socket: socket, Domain: domain})
	}

	sort.Slice(zones, func(i, j int) bool {
		if zones[i].Socket != zones[j].Socket {
			return zones[i].Socket < zones[j].Socket
		}
		return zones[i].Domain < zones[j].Domain
	})
	return zones, nil
}

// PackageZones returns the package zone of every socket keyed by socket id
func (r *Reader) PackageZones() (map[int]Zone, error) {
	zones, err := r.Zones()
	if err != nil {
		return nil, err
	}

	ret := map[int]Zone{}
	for _, z := range zones {
		if z.Domain == rapl.DomainPackage {
			ret[z.Socket] = z
		}
	}
	if len(ret) == 0 {
		return nil, fmt.Errorf("no package zones found")
	}
	return ret, nil
}

// socketOf parses the socket from an intel-rapl:<socket>[:<sub>] path
func socketOf(path string) (int, bool) {
	parts := strings.Split(filepath.Base(path), ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] != "intel-rapl" {
		return 0, false
	}
	socket, err := strconv.Atoi(parts[1])
	if err != nil || socket < 0 {
		return 0, false
	}
	return socket, true
}

// domainOf maps powercap zone names to RAPL domains
func domainOf(name string) (rapl.Domain, bool) {
	switch {
	case strings.HasPrefix(name, "package"):
		return rapl.DomainPackage, true
	case name == "core":
		return rapl.DomainCore, true
	case name == "uncore":
		return rapl.DomainGPU, true
	case name == "dram":
		return rapl.DomainDRAM, true
	}
	return "", false
}

// Deviation returns the difference of measured from reference relative to
// reference. It is 0 when both are 0.
func Deviation(measured, reference float64) float64 {
	if reference == 0 {
		if measured == 0 {
			return 0
		}
		return 1
	}
	d := (measured - reference) / reference
	if d < 0 {
		return -d
	}
	return d
}
