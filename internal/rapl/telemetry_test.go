// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package rapl

import (
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

var sandyBridgeEP = fakeDetector{id: CPUID{Vendor: VendorIntel, Family: 6, Model: 0x2D, Stepping: 7}}

func newTestTelemetry(t *testing.T, src *FakeRegisterSource, d Detector, sockets int) (*Telemetry, *testingclock.FakePassiveClock) {
	t.Helper()
	clk := testingclock.NewFakePassiveClock(time.UnixMicro(1700000000000000))
	tel := NewTelemetry(
		WithRegisterSource(src),
		WithDetector(d),
		WithTopology(NewStaticTopology(sockets, sockets)),
		WithClock(clk),
	)
	return tel, clk
}

func TestTelemetrySingleSocketPackageEnergy(t *testing.T) {
	src := NewFakeRegisterSource().NewFakeSocket(0, 16)
	src.Set(0, MSRPkgEnergyStatus, 1000)

	tel, _ := newTestTelemetry(t, src, sandyBridgeEP, 1)
	require.NoError(t, tel.Init())
	defer func() { assert.NoError(t, tel.Shutdown()) }()

	name, err := tel.MicroArchitectureName()
	require.NoError(t, err)
	assert.Equal(t, "SANDYBRIDGE_EP", name)

	components, err := tel.ComponentsSupported()
	require.NoError(t, err)
	assert.Equal(t, "dram,core,pkg", components)

	count, err := tel.SocketCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.True(t, tel.Available())

	stats, err := tel.Collect()
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 1000*math.Ldexp(1, -16), stats[0].Energy[DomainPackage])
	assert.Len(t, stats[0].Energy, 3)
	_, hasGPU := stats[0].Energy[DomainGPU]
	assert.False(t, hasGPU)

	record, err := tel.ReadEnergyStats()
	require.NoError(t, err)
	fields := strings.Split(record, RecordDelimiter)
	require.Len(t, fields, 4)
	assert.Equal(t, "0.000000", fields[0])
	assert.Equal(t, "0.000000", fields[1])
	assert.Equal(t, "0.015259", fields[2])
	assert.Equal(t, "1700000000000000", fields[3])
}

func TestTelemetryWrapAroundAcrossSamples(t *testing.T) {
	src := NewFakeRegisterSource().NewFakeSocket(0, 16)
	src.Set(0, MSRPkgEnergyStatus, 4294967290)

	tel, clk := newTestTelemetry(t, src, sandyBridgeEP, 1)
	require.NoError(t, tel.Init())
	defer func() { assert.NoError(t, tel.Shutdown()) }()

	first, err := tel.Sample()
	require.NoError(t, err)

	src.Set(0, MSRPkgEnergyStatus, 10)
	clk.SetTime(clk.Now().Add(time.Second))
	second, err := tel.Sample()
	require.NoError(t, err)

	wraps, err := tel.WrapArounds()
	require.NoError(t, err)
	wrap, err := tel.WrapAroundEnergy()
	require.NoError(t, err)
	assert.Equal(t, math.Ldexp(1, -16)*math.Pow(2, 32), wrap)

	interval, err := Difference(first, second, wraps)
	require.NoError(t, err)
	pkg := interval.Deltas[0].Energy[DomainPackage]
	assert.Greater(t, pkg, 0.0)
	assert.InDelta(t, 16*math.Ldexp(1, -16), pkg, 1e-9)
}

func TestTelemetryDRAMWrapAround(t *testing.T) {
	broadwell := fakeDetector{id: CPUID{Vendor: VendorIntel, Family: 6, Model: 0x3D, Stepping: 4}}
	src := NewFakeRegisterSource().NewFakeSocket(0, 14)
	src.Set(0, MSRDRAMEnergyStatus, 100000)

	tel, _ := newTestTelemetry(t, src, broadwell, 1)
	require.NoError(t, tel.Init())
	defer func() { assert.NoError(t, tel.Shutdown()) }()

	generic, err := tel.WrapAroundEnergy()
	require.NoError(t, err)
	dram, err := tel.DRAMWrapAroundEnergy()
	require.NoError(t, err)
	assert.Equal(t, math.Ldexp(1, -14)*math.Pow(2, 32), generic)
	assert.Equal(t, BroadwellDRAMEnergyUnit*math.Pow(2, 32), dram)

	stats, err := tel.Collect()
	require.NoError(t, err)
	assert.Equal(t, 100000*BroadwellDRAMEnergyUnit, stats[0].Energy[DomainDRAM])
	assert.Len(t, stats[0].Energy, 4)
}

func TestTelemetryNotInitialized(t *testing.T) {
	tel, _ := newTestTelemetry(t, NewFakeRegisterSource().NewFakeSocket(0, 16), sandyBridgeEP, 1)

	_, err := tel.ReadEnergyStats()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = tel.Collect()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = tel.MicroArchitectureName()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = tel.ComponentsSupported()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = tel.SocketCount()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = tel.CPUID()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = tel.WrapAroundEnergy()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = tel.DRAMWrapAroundEnergy()
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, tel.Shutdown(), ErrNotInitialized)
	assert.False(t, tel.Available())
}

func TestTelemetryUnsupportedCPU(t *testing.T) {
	tests := []struct {
		name     string
		detector Detector
	}{
		{"unknown intel model", fakeDetector{id: CPUID{Vendor: VendorIntel, Family: 6, Model: 0x55, Stepping: 4}}},
		{"amd", fakeDetector{id: CPUID{Vendor: "AuthenticAMD", Family: 25, Model: 1}}},
		{"detector failure", fakeDetector{err: errors.New("no cpuid")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tel, _ := newTestTelemetry(t, NewFakeRegisterSource().NewFakeSocket(0, 16), tt.detector, 1)
			require.NoError(t, tel.Init())
			defer func() { assert.NoError(t, tel.Shutdown()) }()

			name, err := tel.MicroArchitectureName()
			require.NoError(t, err)
			assert.Equal(t, "UNDEFINED_MICROARCHITECTURE", name)

			components, err := tel.ComponentsSupported()
			require.NoError(t, err)
			assert.Equal(t, "undefined", components)
			assert.False(t, tel.Available())

			stats, err := tel.Collect()
			require.NoError(t, err)
			require.Len(t, stats, 1)
			assert.Empty(t, stats[0].Energy)
		})
	}
}

func TestTelemetryUnsupportedCPUWithoutRegisters(t *testing.T) {
	amd := StaticDetector{Vendor: "AuthenticAMD", Family: 25, Model: 1}

	noPowerUnit := NewFakeRegisterSource()
	noPowerUnit.Set(0, MSRPkgEnergyStatus, 0)
	noPowerUnit.Set(1, MSRPkgEnergyStatus, 0)

	tests := []struct {
		name string
		src  *FakeRegisterSource
	}{
		{"no power unit register", noPowerUnit},
		{"no msr device", NewFakeRegisterSource()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tel, _ := newTestTelemetry(t, tt.src, amd, 2)
			require.NoError(t, tel.Init())
			assert.Zero(t, tt.src.OpenHandles())

			name, err := tel.MicroArchitectureName()
			require.NoError(t, err)
			assert.Equal(t, UndefinedName, name)

			components, err := tel.ComponentsSupported()
			require.NoError(t, err)
			assert.Equal(t, "undefined", components)

			sockets, err := tel.SocketCount()
			require.NoError(t, err)
			assert.Equal(t, 2, sockets)
			assert.False(t, tel.Available())

			stats, err := tel.Collect()
			require.NoError(t, err)
			require.Len(t, stats, 2)
			for i, stat := range stats {
				assert.Equal(t, i, stat.Socket)
				assert.Empty(t, stat.Energy)
			}

			record, err := tel.ReadEnergyStats()
			require.NoError(t, err)
			assert.Equal(t, "1700000000000000", record)

			_, err = tel.WrapArounds()
			assert.ErrorIs(t, err, ErrUnsupportedMicroArchitecture)
			_, err = tel.DRAMWrapAroundEnergy()
			assert.ErrorIs(t, err, ErrUnsupportedMicroArchitecture)

			assert.NoError(t, tel.Shutdown())
			_, err = tel.MicroArchitectureName()
			assert.ErrorIs(t, err, ErrNotInitialized)
		})
	}
}

func TestTelemetryLifecycle(t *testing.T) {
	src := NewFakeRegisterSource().NewFakeSocket(0, 16).NewFakeSocket(4, 16)
	tel, _ := newTestTelemetry(t, src, sandyBridgeEP, 2)
	assert.Equal(t, "rapl", tel.Name())

	// NewStaticTopology(2, 2) reads socket 1 through CPU 1, which has no device
	err := tel.Init()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Equal(t, 0, src.OpenHandles(), "partially opened handles are closed")
	assert.False(t, tel.Available())

	tel = NewTelemetry(
		WithRegisterSource(src),
		WithDetector(sandyBridgeEP),
		WithTopology(StaticTopology{{ID: 1, CPU: 4}, {ID: 0, CPU: 0}}),
	)
	require.NoError(t, tel.Init())
	assert.Equal(t, 2, src.OpenHandles())
	assert.ErrorIs(t, tel.Init(), ErrAlreadyInitialized)
	assert.Equal(t, 2, src.OpenHandles())

	stats, err := tel.Collect()
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, 0, stats[0].Socket)
	assert.Equal(t, 1, stats[1].Socket)

	_, err = tel.WrapAroundEnergy()
	require.NoError(t, err)
	assert.Equal(t, 2, src.OpenHandles(), "wrap-around reads close their handle")

	require.NoError(t, tel.Shutdown())
	assert.Equal(t, 0, src.OpenHandles())
	assert.ErrorIs(t, tel.Shutdown(), ErrNotInitialized)
	_, err = tel.Collect()
	assert.ErrorIs(t, err, ErrNotInitialized)

	// re-initialization after shutdown is allowed
	require.NoError(t, tel.Init())
	require.NoError(t, tel.Shutdown())
}

func TestTelemetryCalibrationFailure(t *testing.T) {
	src := NewFakeRegisterSource()
	src.Set(0, MSRPkgEnergyStatus, 1)

	tel, _ := newTestTelemetry(t, src, sandyBridgeEP, 1)
	err := tel.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "calibrate")
	assert.Equal(t, 0, src.OpenHandles())
}

func TestTelemetryConcurrentReads(t *testing.T) {
	src := NewFakeRegisterSource().NewFakeSocket(0, 16).NewFakeSocket(1, 16)
	src.Increment(MSRPkgEnergyStatus, 100)

	tel, _ := newTestTelemetry(t, src, sandyBridgeEP, 2)
	require.NoError(t, tel.Init())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				record, err := tel.ReadEnergyStats()
				if !assert.NoError(t, err) {
					return
				}
				assert.Len(t, strings.Split(record, RecordDelimiter), 7)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, tel.Shutdown())
}
