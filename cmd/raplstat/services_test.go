// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sustainable-computing-io/raplstat/internal/rapl"
	"github.com/sustainable-computing-io/raplstat/internal/service"
	"k8s.io/utils/ptr"
)

func serviceNames(services []service.Service) []string {
	names := make([]string, 0, len(services))
	for _, s := range services {
		names = append(names, s.Name())
	}
	return names
}

func TestCreateServices(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		format  string
		want    []string
	}{
		{"table", true, "table", []string{"rapl", "monitor", "stdout", "signal-handler"}},
		{"record", true, "record", []string{"rapl", "monitor", "stdout", "signal-handler"}},
		{"prometheus", true, "prometheus", []string{"rapl", "monitor", "prometheus", "stdout", "signal-handler"}},
		{"stdout disabled", false, "table", []string{"rapl", "monitor", "signal-handler"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := fakeConfig(t, 1)
			cfg.Exporter.Stdout.Enabled = ptr.To(tt.enabled)
			cfg.Exporter.Stdout.Format = tt.format

			services, err := createServices(discardLogger(), cfg, &bytes.Buffer{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, serviceNames(services))
		})
	}
}

func TestCreateServicesInitPrometheus(t *testing.T) {
	cfg := fakeConfig(t, 2)
	cfg.Exporter.Stdout.Format = "prometheus"
	cfg.Exporter.Prometheus.DebugCollectors = nil

	services, err := createServices(discardLogger(), cfg, &bytes.Buffer{})
	require.NoError(t, err)
	require.NoError(t, service.Init(discardLogger(), services))
	assert.NoError(t, service.Shutdown(discardLogger(), services[:1]))
}

func TestNewTelemetry(t *testing.T) {
	t.Run("fake registers", func(t *testing.T) {
		tel, err := newTelemetry(discardLogger(), fakeConfig(t, 3))
		require.NoError(t, err)
		require.NoError(t, tel.Init())
		defer func() { assert.NoError(t, tel.Shutdown()) }()

		n, err := tel.SocketCount()
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.True(t, tel.Available())
	})

	t.Run("procfs detector", func(t *testing.T) {
		cfg := fakeConfig(t, 1)
		cfg.Dev.FakeMSR.Enabled = ptr.To(false)
		cfg.Rapl.Detector = "procfs"
		cfg.Host.ProcFS = writeCPUInfo(t, 0, 0)

		_, err := newTelemetry(discardLogger(), cfg)
		assert.NoError(t, err)
	})

	t.Run("procfs detector without procfs", func(t *testing.T) {
		cfg := fakeConfig(t, 1)
		cfg.Dev.FakeMSR.Enabled = ptr.To(false)
		cfg.Rapl.Detector = "procfs"
		cfg.Host.ProcFS = "/nonexistent/proc"

		_, err := newTelemetry(discardLogger(), cfg)
		assert.ErrorContains(t, err, "failed to create procfs detector")
	})

	t.Run("unknown detector", func(t *testing.T) {
		cfg := fakeConfig(t, 1)
		cfg.Dev.FakeMSR.Enabled = ptr.To(false)
		cfg.Rapl.Detector = "dmidecode"

		_, err := newTelemetry(discardLogger(), cfg)
		assert.ErrorContains(t, err, "unknown detector: dmidecode")
	})

	t.Run("missing msr devices", func(t *testing.T) {
		cfg := fakeConfig(t, 1)
		cfg.Dev.FakeMSR.Enabled = ptr.To(false)
		cfg.Rapl.Detector = "procfs"
		cfg.Host.DevFS = t.TempDir()
		cfg.Host.ProcFS = writeCPUInfo(t, 0)

		tel, err := newTelemetry(discardLogger(), cfg)
		require.NoError(t, err)
		assert.ErrorIs(t, tel.Init(), rapl.ErrDeviceUnavailable)
	})

	t.Run("unsupported cpu without msr devices", func(t *testing.T) {
		cfg := fakeConfig(t, 1)
		cfg.Dev.FakeMSR.Enabled = ptr.To(false)
		cfg.Rapl.Detector = "procfs"
		cfg.Host.DevFS = t.TempDir()
		cfg.Host.ProcFS = t.TempDir()
		cpuinfo := "processor\t: 0\nvendor_id\t: AuthenticAMD\ncpu family\t: 25\nmodel\t\t: 1\nphysical id\t: 0\n\n"
		require.NoError(t, os.WriteFile(filepath.Join(cfg.Host.ProcFS, "cpuinfo"), []byte(cpuinfo), 0o644))

		tel, err := newTelemetry(discardLogger(), cfg)
		require.NoError(t, err)
		require.NoError(t, tel.Init())
		defer func() { assert.NoError(t, tel.Shutdown()) }()

		components, err := tel.ComponentsSupported()
		require.NoError(t, err)
		assert.Equal(t, "undefined", components)
		assert.False(t, tel.Available())
	})
}

func TestStaticTopology(t *testing.T) {
	t.Run("matches discovered sockets", func(t *testing.T) {
		topology, err := staticTopology(writeCPUInfo(t, 0, 1, 0, 1), 2)
		require.NoError(t, err)
		assert.Equal(t, rapl.StaticTopology{{ID: 0, CPU: 0}, {ID: 1, CPU: 1}}, topology)
	})

	t.Run("overrides discovered sockets", func(t *testing.T) {
		topology, err := staticTopology(writeCPUInfo(t, 0, 0, 0, 0), 2)
		require.NoError(t, err)
		assert.Equal(t, rapl.StaticTopology{{ID: 0, CPU: 0}, {ID: 1, CPU: 2}}, topology)
	})

	t.Run("spreads over every processor", func(t *testing.T) {
		// two packages of 16 CPUs, interleaved, configured as four sockets
		ids := make([]int, 32)
		for cpu := range ids {
			ids[cpu] = cpu % 2
		}
		topology, err := staticTopology(writeCPUInfo(t, ids...), 4)
		require.NoError(t, err)
		assert.Equal(t, rapl.StaticTopology{{ID: 0, CPU: 0}, {ID: 1, CPU: 8}, {ID: 2, CPU: 16}, {ID: 3, CPU: 24}}, topology)
	})

	t.Run("no procfs", func(t *testing.T) {
		_, err := staticTopology("/nonexistent/proc", 2)
		assert.Error(t, err)
	})
}
