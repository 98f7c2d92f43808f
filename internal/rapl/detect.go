// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package rapl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/klauspost/cpuid/v2"
	"github.com/prometheus/procfs"
)

// VendorIntel is the CPUID vendor string of Intel processors.
const VendorIntel = "GenuineIntel"

// CPUID is the identification a microarchitecture is derived from.
type CPUID struct {
	Vendor   string
	Family   int
	Model    int
	Stepping int
}

func (c CPUID) String() string {
	return fmt.Sprintf("%s family %d model 0x%X stepping %d", c.Vendor, c.Family, c.Model, c.Stepping)
}

// Detector reads the identification of the host CPU.
type Detector interface {
	Detect() (CPUID, error)
	Name() string
}

// cpuidDetector executes the CPUID instruction
type cpuidDetector struct {
	info func() cpuid.CPUInfo
}

// NewCPUIDDetector returns a Detector using the CPUID instruction. On
// non-x86 hosts it reports an unknown vendor.
func NewCPUIDDetector() Detector {
	return &cpuidDetector{info: func() cpuid.CPUInfo { return cpuid.CPU }}
}

func (d *cpuidDetector) Name() string {
	return "cpuid"
}

func (d *cpuidDetector) Detect() (CPUID, error) {
	info := d.info()
	vendor := info.VendorString
	if info.VendorID == cpuid.Intel {
		vendor = VendorIntel
	}
	return CPUID{
		Vendor:   vendor,
		Family:   info.Family,
		Model:    info.Model,
		Stepping: info.Stepping,
	}, nil
}

// StaticDetector reports a fixed identification. It pairs with
// FakeRegisterSource in development mode and tests.
type StaticDetector CPUID

func (s StaticDetector) Name() string {
	return "static"
}

func (s StaticDetector) Detect() (CPUID, error) {
	return CPUID(s), nil
}

// procFS is the subset of procfs.FS used for CPU discovery
type procFS interface {
	CPUInfo() ([]procfs.CPUInfo, error)
}

type realProcFS struct {
	fs procfs.FS
}

func (r *realProcFS) CPUInfo() ([]procfs.CPUInfo, error) {
	return r.fs.CPUInfo()
}

func newProcFS(mountPoint string) (procFS, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, err
	}
	return &realProcFS{fs: fs}, nil
}

// procfsDetector parses /proc/cpuinfo
type procfsDetector struct {
	fs procFS
}

// NewProcFSDetector returns a Detector reading cpuinfo below procPath.
func NewProcFSDetector(procPath string) (Detector, error) {
	fs, err := newProcFS(procPath)
	if err != nil {
		return nil, fmt.Errorf("creating procfs failed: %w", err)
	}
	return &procfsDetector{fs: fs}, nil
}

func (d *procfsDetector) Name() string {
	return "procfs"
}

func (d *procfsDetector) Detect() (CPUID, error) {
	infos, err := d.fs.CPUInfo()
	if err != nil {
		return CPUID{}, fmt.Errorf("failed to read cpuinfo: %w", err)
	}
	if len(infos) == 0 {
		return CPUID{}, fmt.Errorf("cpuinfo lists no processors")
	}

	// all processors of a supported host are the same model; the first is
	// representative
	ci := infos[0]
	return CPUID{
		Vendor:   strings.TrimSpace(ci.VendorID),
		Family:   parseCPUInfoInt(ci.CPUFamily),
		Model:    parseCPUInfoInt(ci.Model),
		Stepping: parseCPUInfoInt(ci.Stepping),
	}, nil
}

// parseCPUInfoInt parses a decimal cpuinfo field; missing or malformed
// fields (e.g. on ARM) yield -1 so they never match the model table.
func parseCPUInfoInt(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return -1
	}
	return v
}

// DetectMicroArchitecture runs d and identifies the result. A detector error
// is returned as is; an unrecognised CPU is Undefined without error.
func DetectMicroArchitecture(d Detector) (MicroArchitecture, CPUID, error) {
	id, err := d.Detect()
	if err != nil {
		return Undefined, id, err
	}
	return Identify(id), id, nil
}
