// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package rapl

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// MSR register offsets for Intel RAPL
const (
	// MSR_RAPL_POWER_UNIT - scaling factors for power, energy and time
	MSRPowerUnit = 0x606

	// Energy status counters (32-bit, wrap at 2^32)
	MSRPkgEnergyStatus  = 0x611
	MSRDRAMEnergyStatus = 0x619
	MSRPP0EnergyStatus  = 0x639 // cores
	MSRPP1EnergyStatus  = 0x641 // integrated graphics
)

// registerWidth is the size in bytes of every MSR read
const registerWidth = 8

// DefaultDevicePath is the msr driver's per-CPU device node.
const DefaultDevicePath = "/dev/cpu/%d/msr"

// RegisterReader reads 64-bit model specific registers of one CPU.
type RegisterReader interface {
	// Read returns the register at offset
	Read(offset uint32) (uint64, error)

	// Close releases the underlying handle
	Close() error
}

// RegisterSource opens register readers. It is the only seam between the
// calibration logic and the operating system.
type RegisterSource interface {
	// Open returns a reader for cpu. Errors wrap ErrDeviceUnavailable when
	// the device is missing or inaccessible.
	Open(cpu int) (RegisterReader, error)

	// Name identifies the implementation
	Name() string
}

// msrSource reads registers through the Linux msr driver
type msrSource struct {
	devicePath string
}

var _ RegisterSource = (*msrSource)(nil)

// NewMSRSource returns a RegisterSource backed by devicePath, a template with
// one %d verb for the CPU number (e.g. "/dev/cpu/%d/msr").
func NewMSRSource(devicePath string) RegisterSource {
	if devicePath == "" {
		devicePath = DefaultDevicePath
	}
	return &msrSource{devicePath: devicePath}
}

// DevicePathFor returns the msr device template below a dev filesystem root.
func DevicePathFor(devfs string) string {
	return filepath.Join(devfs, "cpu", "%d", "msr")
}

func (s *msrSource) Name() string {
	return "msr"
}

func (s *msrSource) Open(cpu int) (RegisterReader, error) {
	path := fmt.Sprintf(s.devicePath, cpu)
	file, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if isUnavailable(err) {
			return nil, fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, path, err)
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &msrFile{file: file, cpu: cpu}, nil
}

// isUnavailable reports whether an open error means the device cannot be
// used on this host at all
func isUnavailable(err error) bool {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return true
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		switch errno {
		case unix.EACCES, unix.EPERM, unix.ENXIO, unix.ENODEV, unix.EIO:
			return true
		}
	}
	return false
}

// msrFile reads a single CPU's msr device. ReadAt maps to pread so
// concurrent reads need no locking.
type msrFile struct {
	file *os.File
	cpu  int
}

func (m *msrFile) Read(offset uint32) (uint64, error) {
	buf := make([]byte, registerWidth)
	if _, err := m.file.ReadAt(buf, int64(offset)); err != nil {
		return 0, fmt.Errorf("failed to read MSR 0x%x from CPU %d: %w", offset, m.cpu, err)
	}
	return binary.LittleEndian.Uint64(buf), nil
}

func (m *msrFile) Close() error {
	return m.file.Close()
}
