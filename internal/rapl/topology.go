// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package rapl

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Socket is a physical CPU package. RAPL registers are package scoped, so
// they are read through any one CPU of the package; CPU is the lowest
// numbered one.
type Socket struct {
	ID  int
	CPU int
}

// Topology discovers the sockets of the host.
type Topology interface {
	Sockets() ([]Socket, error)
}

// procfsTopology derives sockets from the "physical id" of each processor
type procfsTopology struct {
	fs procFS
}

// NewProcFSTopology returns a Topology reading cpuinfo below procPath.
func NewProcFSTopology(procPath string) (Topology, error) {
	fs, err := newProcFS(procPath)
	if err != nil {
		return nil, fmt.Errorf("creating procfs failed: %w", err)
	}
	return &procfsTopology{fs: fs}, nil
}

func (t *procfsTopology) Sockets() ([]Socket, error) {
	infos, err := t.fs.CPUInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to read cpuinfo: %w", err)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("cpuinfo lists no processors")
	}

	firstCPU := make(map[int]int) // physical id -> lowest processor
	for _, ci := range infos {
		id, err := strconv.Atoi(strings.TrimSpace(ci.PhysicalID))
		if err != nil {
			// no package information (common in VMs): treat the host as a
			// single socket read through CPU 0
			return []Socket{{ID: 0, CPU: 0}}, nil
		}
		cpu := int(ci.Processor)
		if cur, ok := firstCPU[id]; !ok || cpu < cur {
			firstCPU[id] = cpu
		}
	}

	ids := make([]int, 0, len(firstCPU))
	for id := range firstCPU {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	// socket ids are dense and ascending regardless of physical id gaps
	sockets := make([]Socket, len(ids))
	for i, id := range ids {
		sockets[i] = Socket{ID: i, CPU: firstCPU[id]}
	}
	return sockets, nil
}

// ProcessorCount returns the number of CPUs cpuinfo below procPath lists,
// counted as the highest processor number plus one.
func ProcessorCount(procPath string) (int, error) {
	fs, err := newProcFS(procPath)
	if err != nil {
		return 0, fmt.Errorf("creating procfs failed: %w", err)
	}
	return processorCount(fs)
}

func processorCount(fs procFS) (int, error) {
	infos, err := fs.CPUInfo()
	if err != nil {
		return 0, fmt.Errorf("failed to read cpuinfo: %w", err)
	}
	if len(infos) == 0 {
		return 0, fmt.Errorf("cpuinfo lists no processors")
	}

	n := 0
	for _, ci := range infos {
		n = max(n, int(ci.Processor)+1)
	}
	return n, nil
}

// StaticTopology is a fixed socket layout, used when the socket count is
// configured or for tests.
type StaticTopology []Socket

// NewStaticTopology lays out count sockets over cpus processors the way the
// msr driver numbers them: socket i is read through CPU i*cpus/count.
func NewStaticTopology(count, cpus int) StaticTopology {
	if cpus < count {
		cpus = count
	}
	sockets := make(StaticTopology, count)
	for i := range sockets {
		sockets[i] = Socket{ID: i, CPU: i * cpus / count}
	}
	return sockets
}

func (s StaticTopology) Sockets() ([]Socket, error) {
	ret := make([]Socket, len(s))
	copy(ret, s)
	return ret, nil
}
