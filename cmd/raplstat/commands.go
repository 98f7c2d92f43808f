// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/sustainable-computing-io/raplstat/config"
	"github.com/sustainable-computing-io/raplstat/internal/powercap"
	"github.com/sustainable-computing-io/raplstat/internal/rapl"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/ptr"
)

// withTelemetry runs fn against an initialized Telemetry and shuts it down
// afterwards
func withTelemetry(log *slog.Logger, cfg *config.Config, fn func(*rapl.Telemetry) error) (err error) {
	t, err := newTelemetry(log, cfg)
	if err != nil {
		return err
	}
	if err := t.Init(); err != nil {
		return err
	}
	defer func() {
		if shutdownErr := t.Shutdown(); shutdownErr != nil {
			err = errors.Join(err, shutdownErr)
		}
	}()
	return fn(t)
}

func readOnce(log *slog.Logger, cfg *config.Config, out io.Writer) error {
	return withTelemetry(log, cfg, func(t *rapl.Telemetry) error {
		record, err := t.ReadEnergyStats()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, record)
		return err
	})
}

// hostInfo is the output of the info command
type hostInfo struct {
	MicroArchitecture    string  `yaml:"microarchitecture"`
	CPU                  string  `yaml:"cpu"`
	Available            bool    `yaml:"available"`
	Sockets              int     `yaml:"sockets"`
	Components           string  `yaml:"components"`
	WrapAroundEnergy     float64 `yaml:"wrapAroundEnergyJoules,omitempty"`
	DRAMWrapAroundEnergy float64 `yaml:"dramWrapAroundEnergyJoules,omitempty"`
}

func readHostInfo(t *rapl.Telemetry) (hostInfo, error) {
	var info hostInfo
	var err error

	if info.MicroArchitecture, err = t.MicroArchitectureName(); err != nil {
		return info, err
	}
	id, err := t.CPUID()
	if err != nil {
		return info, err
	}
	info.CPU = id.String()
	info.Available = t.Available()

	if info.Sockets, err = t.SocketCount(); err != nil {
		return info, err
	}
	if info.Components, err = t.ComponentsSupported(); err != nil {
		return info, err
	}
	if info.Sockets == 0 || !info.Available {
		return info, nil
	}

	wraps, err := t.WrapArounds()
	if err != nil {
		return info, err
	}
	info.WrapAroundEnergy = wraps.Generic
	info.DRAMWrapAroundEnergy = wraps.DRAM
	return info, nil
}

func printInfo(log *slog.Logger, cfg *config.Config, out io.Writer) error {
	return withTelemetry(log, cfg, func(t *rapl.Telemetry) error {
		info, err := readHostInfo(t)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(info); err != nil {
			return fmt.Errorf("failed to encode host info: %w", err)
		}
		return enc.Close()
	})
}

type checkOpts struct {
	duration  time.Duration
	tolerance float64
}

// busyLoop keeps one CPU busy for d or until ctx is done
func busyLoop(ctx context.Context, d time.Duration) {
	deadline := time.Now().Add(d)
	x := 1.0
	for time.Now().Before(deadline) && ctx.Err() == nil {
		for i := 0; i < 1000; i++ {
			x = math.Sqrt(x + float64(i))
		}
	}
	_ = x
}

// packageEnergy reads the package counter of every powercap zone
func packageEnergy(zones map[int]powercap.Zone) (map[int]float64, error) {
	ret := make(map[int]float64, len(zones))
	for socket, z := range zones {
		e, err := z.Energy()
		if err != nil {
			return nil, err
		}
		ret[socket] = e
	}
	return ret, nil
}

// check samples the counters around a busy loop and fails when no energy
// was consumed. When the kernel exposes powercap zones the package energy
// is compared against them.
func check(ctx context.Context, log *slog.Logger, cfg *config.Config, out io.Writer, opts checkOpts) error {
	return withTelemetry(log, cfg, func(t *rapl.Telemetry) error {
		if !t.Available() {
			arch, _ := t.MicroArchitectureName()
			return fmt.Errorf("RAPL telemetry is not available on %s: %w", arch, rapl.ErrUnsupportedMicroArchitecture)
		}

		wraps, err := t.WrapArounds()
		if err != nil {
			return err
		}
		set, err := t.DomainSet()
		if err != nil {
			return err
		}

		// the kernel counters only describe the real host
		var zones map[int]powercap.Zone
		if !ptr.Deref(cfg.Dev.FakeMSR.Enabled, false) {
			zones = powercapZones(log, cfg.Host.SysFS)
		}

		var pcBefore map[int]float64
		if zones != nil {
			if pcBefore, err = packageEnergy(zones); err != nil {
				log.Warn("Skipping powercap cross-check", "error", err)
				zones = nil
			}
		}

		first, err := t.Sample()
		if err != nil {
			return err
		}
		busyLoop(ctx, opts.duration)
		second, err := t.Sample()
		if err != nil {
			return err
		}

		var pcAfter map[int]float64
		if zones != nil {
			if pcAfter, err = packageEnergy(zones); err != nil {
				log.Warn("Skipping powercap cross-check", "error", err)
				zones = nil
			}
		}

		interval, err := rapl.Difference(first, second, wraps)
		if err != nil {
			return err
		}
		if err := writeCheckTable(out, set, interval); err != nil {
			return err
		}

		var total float64
		for _, d := range interval.Deltas {
			total += d.Total()
		}
		if total <= 0 {
			return fmt.Errorf("no energy consumed in %s: counters are not advancing", interval.Duration())
		}

		for _, d := range interval.Deltas {
			z, ok := zones[d.Socket]
			if !ok {
				continue
			}
			reference := z.Delta(pcBefore[d.Socket], pcAfter[d.Socket])
			measured := d.Energy[rapl.DomainPackage]
			deviation := powercap.Deviation(measured, reference)
			if deviation > opts.tolerance {
				log.Warn("Package energy deviates from powercap",
					"socket", d.Socket, "msr_j", measured, "powercap_j", reference, "deviation", deviation)
				continue
			}
			log.Info("Package energy matches powercap",
				"socket", d.Socket, "msr_j", measured, "powercap_j", reference, "deviation", deviation)
		}

		log.Info("RAPL check passed", "energy_j", total, "duration", interval.Duration())
		return nil
	})
}

// powercapZones returns the package zones below sysfs or nil when powercap
// is not usable
func powercapZones(log *slog.Logger, sysfs string) map[int]powercap.Zone {
	reader, err := powercap.NewReader(sysfs)
	if err != nil {
		log.Info("powercap not available", "error", err)
		return nil
	}
	zones, err := reader.PackageZones()
	if err != nil {
		log.Info("powercap not available", "error", err)
		return nil
	}
	return zones
}

func writeCheckTable(out io.Writer, set rapl.DomainSet, interval *rapl.Interval) error {
	rows := [][]string{}
	for _, d := range interval.Deltas {
		for _, domain := range set.Domains() {
			rows = append(rows, []string{
				strconv.Itoa(d.Socket),
				string(domain),
				strconv.FormatFloat(d.Energy[domain], 'f', 6, 64),
				strconv.FormatFloat(interval.Power(d.Socket, domain), 'f', 2, 64),
			})
		}
	}

	table := tablewriter.NewWriter(out)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Formatting.Alignment = tw.AlignRight
	})
	table.Header([]string{"Socket", "Domain", "Energy(J)", "Power(W)"})
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}
