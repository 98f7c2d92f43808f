// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"

	"github.com/sustainable-computing-io/raplstat/config"
	"github.com/sustainable-computing-io/raplstat/internal/exporter/prometheus"
	"github.com/sustainable-computing-io/raplstat/internal/exporter/stdout"
	"github.com/sustainable-computing-io/raplstat/internal/monitor"
	"github.com/sustainable-computing-io/raplstat/internal/rapl"
	"github.com/sustainable-computing-io/raplstat/internal/service"
	"k8s.io/utils/ptr"
)

// energy counter ticks added on every read of a fake register
var fakeIncrements = map[uint32]uint32{
	rapl.MSRPkgEnergyStatus:  2000,
	rapl.MSRPP0EnergyStatus:  1200,
	rapl.MSRPP1EnergyStatus:  300,
	rapl.MSRDRAMEnergyStatus: 500,
}

const fakeEnergyExponent = 16

// newTelemetry builds an uninitialized Telemetry from cfg
func newTelemetry(log *slog.Logger, cfg *config.Config) (*rapl.Telemetry, error) {
	opts := []rapl.OptionFn{
		rapl.WithLogger(log),
		rapl.WithProcFS(cfg.Host.ProcFS),
	}

	if fake := cfg.Dev.FakeMSR; ptr.Deref(fake.Enabled, false) {
		log.Warn("Using fake MSR registers; readings are synthetic",
			"model", fake.Model, "stepping", fake.Stepping, "sockets", fake.Sockets)

		src := rapl.NewFakeRegisterSource()
		topology := rapl.NewStaticTopology(fake.Sockets, fake.Sockets)
		for _, s := range topology {
			src.NewFakeSocket(s.CPU, fakeEnergyExponent)
		}
		for offset, step := range fakeIncrements {
			src.Increment(offset, step)
		}

		return rapl.NewTelemetry(append(opts,
			rapl.WithRegisterSource(src),
			rapl.WithTopology(topology),
			rapl.WithDetector(rapl.StaticDetector{
				Vendor:   rapl.VendorIntel,
				Family:   6,
				Model:    fake.Model,
				Stepping: fake.Stepping,
			}),
		)...), nil
	}

	opts = append(opts, rapl.WithRegisterSource(rapl.NewMSRSource(rapl.DevicePathFor(cfg.Host.DevFS))))

	switch cfg.Rapl.Detector {
	case "procfs":
		d, err := rapl.NewProcFSDetector(cfg.Host.ProcFS)
		if err != nil {
			return nil, fmt.Errorf("failed to create procfs detector: %w", err)
		}
		opts = append(opts, rapl.WithDetector(d))
	case "cpuid", "":
		opts = append(opts, rapl.WithDetector(rapl.NewCPUIDDetector()))
	default:
		return nil, fmt.Errorf("unknown detector: %s", cfg.Rapl.Detector)
	}

	if n := cfg.Rapl.SocketCount; n > 0 {
		topology, err := staticTopology(cfg.Host.ProcFS, n)
		if err != nil {
			return nil, err
		}
		opts = append(opts, rapl.WithTopology(topology))
	}

	return rapl.NewTelemetry(opts...), nil
}

// staticTopology spreads n sockets over the CPUs procfs reports
func staticTopology(procPath string, n int) (rapl.StaticTopology, error) {
	discovered, err := rapl.NewProcFSTopology(procPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create socket topology: %w", err)
	}
	sockets, err := discovered.Sockets()
	if err != nil {
		return nil, fmt.Errorf("failed to discover sockets: %w", err)
	}

	if len(sockets) == n {
		return rapl.StaticTopology(sockets), nil
	}

	cpus, err := rapl.ProcessorCount(procPath)
	if err != nil {
		return nil, fmt.Errorf("failed to count processors: %w", err)
	}
	return rapl.NewStaticTopology(n, cpus), nil
}

// createServices returns the services of the run command in
// initialization order
func createServices(log *slog.Logger, cfg *config.Config, out io.Writer) ([]service.Service, error) {
	log.Debug("Creating all services")

	telemetry, err := newTelemetry(log, cfg)
	if err != nil {
		return nil, err
	}

	pm := monitor.NewPowerMonitor(telemetry,
		monitor.WithLogger(log),
		monitor.WithInterval(cfg.Monitor.Interval),
		monitor.WithMaxStaleness(cfg.Monitor.Staleness),
	)

	services := []service.Service{telemetry, pm}

	if ptr.Deref(cfg.Exporter.Stdout.Enabled, false) {
		format := stdout.Format(cfg.Exporter.Stdout.Format)
		stdoutOpts := []stdout.OptionFn{
			stdout.WithLogger(log),
			stdout.WithOutput(out),
			stdout.WithFormat(format),
		}
		if cfg.Monitor.Interval > 0 {
			stdoutOpts = append(stdoutOpts, stdout.WithInterval(cfg.Monitor.Interval))
		}

		if format == stdout.FormatPrometheus {
			promExporter := prometheus.NewExporter(
				prometheus.WithLogger(log),
				prometheus.WithDebugCollectors(cfg.Exporter.Prometheus.DebugCollectors),
				prometheus.WithCollectors(prometheus.CreateCollectors(pm, log)),
			)
			services = append(services, promExporter)
			stdoutOpts = append(stdoutOpts, stdout.WithGatherer(promExporter.Gatherer()))
		}

		services = append(services, stdout.NewExporter(pm, stdoutOpts...))
	}

	services = append(services, service.NewSignalHandler(log, os.Interrupt, syscall.SIGTERM))
	return services, nil
}

// runMonitor runs the monitor and exporters until interrupted
func runMonitor(ctx context.Context, log *slog.Logger, cfg *config.Config, out io.Writer) error {
	services, err := createServices(log, cfg, out)
	if err != nil {
		return err
	}

	if err := service.Init(log, services); err != nil {
		return err
	}

	log.Info("Starting raplstat")
	runErr := service.Run(ctx, log, services)

	// the telemetry is not a Runner and stays open until here
	if err := services[0].(service.Shutdowner).Shutdown(); err != nil {
		log.Warn("Failed to shut down telemetry", "error", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	log.Info("Graceful shutdown completed")
	return nil
}
