// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package rapl

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/cpuid/v2"
	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProcFS struct {
	mock.Mock
}

func (m *mockProcFS) CPUInfo() ([]procfs.CPUInfo, error) {
	args := m.Called()
	if infos := args.Get(0); infos != nil {
		return infos.([]procfs.CPUInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

// fakeDetector returns a fixed identification
type fakeDetector struct {
	id  CPUID
	err error
}

func (d fakeDetector) Detect() (CPUID, error) { return d.id, d.err }
func (d fakeDetector) Name() string           { return "fake" }

func TestCPUIDDetector(t *testing.T) {
	tests := []struct {
		name string
		info cpuid.CPUInfo
		want CPUID
		arch MicroArchitecture
	}{{
		name: "intel sandy bridge ep",
		info: cpuid.CPUInfo{VendorID: cpuid.Intel, VendorString: "GenuineIntel", Family: 6, Model: 0x2D, Stepping: 7},
		want: CPUID{Vendor: VendorIntel, Family: 6, Model: 0x2D, Stepping: 7},
		arch: SandyBridgeEP,
	}, {
		name: "intel coffee lake",
		info: cpuid.CPUInfo{VendorID: cpuid.Intel, Family: 6, Model: 0x9E, Stepping: 10},
		want: CPUID{Vendor: VendorIntel, Family: 6, Model: 0x9E, Stepping: 10},
		arch: CoffeeLake2,
	}, {
		name: "amd",
		info: cpuid.CPUInfo{VendorID: cpuid.AMD, VendorString: "AuthenticAMD", Family: 25, Model: 1},
		want: CPUID{Vendor: "AuthenticAMD", Family: 25, Model: 1},
		arch: Undefined,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &cpuidDetector{info: func() cpuid.CPUInfo { return tt.info }}
			assert.Equal(t, "cpuid", d.Name())

			arch, id, err := DetectMicroArchitecture(d)
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
			assert.Equal(t, tt.arch, arch)
		})
	}
}

func TestProcFSDetector(t *testing.T) {
	tests := []struct {
		name    string
		infos   []procfs.CPUInfo
		err     error
		want    CPUID
		arch    MicroArchitecture
		wantErr string
	}{{
		name: "skylake server",
		infos: []procfs.CPUInfo{
			{Processor: 0, VendorID: "GenuineIntel", CPUFamily: "6", Model: "94", Stepping: "3"},
			{Processor: 1, VendorID: "GenuineIntel", CPUFamily: "6", Model: "94", Stepping: "3"},
		},
		want: CPUID{Vendor: VendorIntel, Family: 6, Model: 0x5E, Stepping: 3},
		arch: Skylake2,
	}, {
		name:  "arm without family",
		infos: []procfs.CPUInfo{{Processor: 0, VendorID: "", CPUFamily: "", Model: "", Stepping: "r0p1"}},
		want:  CPUID{Family: -1, Model: -1, Stepping: -1},
		arch:  Undefined,
	}, {
		name:    "no processors",
		infos:   []procfs.CPUInfo{},
		wantErr: "no processors",
	}, {
		name:    "read failure",
		err:     errors.New("permission denied"),
		wantErr: "failed to read cpuinfo",
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &mockProcFS{}
			fs.On("CPUInfo").Return(tt.infos, tt.err)
			d := &procfsDetector{fs: fs}

			arch, id, err := DetectMicroArchitecture(d)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Equal(t, Undefined, arch)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
			assert.Equal(t, tt.arch, arch)
			fs.AssertExpectations(t)
		})
	}
}

func TestNewProcFSDetectorReadsCPUInfo(t *testing.T) {
	proc := t.TempDir()
	cpuinfo := `processor	: 0
vendor_id	: GenuineIntel
cpu family	: 6
model		: 63
model name	: Intel(R) Xeon(R) CPU E5-2630 v3 @ 2.40GHz
stepping	: 2
physical id	: 0
core id		: 0
flags		: fpu msr

`
	require.NoError(t, os.WriteFile(filepath.Join(proc, "cpuinfo"), []byte(cpuinfo), 0o644))

	d, err := NewProcFSDetector(proc)
	require.NoError(t, err)
	assert.Equal(t, "procfs", d.Name())

	arch, id, err := DetectMicroArchitecture(d)
	require.NoError(t, err)
	assert.Equal(t, HaswellEP, arch)
	assert.Equal(t, 63, id.Model)
}

func TestCPUIDString(t *testing.T) {
	id := CPUID{Vendor: VendorIntel, Family: 6, Model: 0x2D, Stepping: 7}
	assert.Equal(t, "GenuineIntel family 6 model 0x2D stepping 7", id.String())
}

func TestStaticDetector(t *testing.T) {
	d := StaticDetector{Vendor: VendorIntel, Family: 6, Model: 0x4F, Stepping: 1}
	assert.Equal(t, "static", d.Name())

	arch, id, err := DetectMicroArchitecture(d)
	require.NoError(t, err)
	assert.Equal(t, Broadwell2, arch)
	assert.Equal(t, CPUID(d), id)
}
