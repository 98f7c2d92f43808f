// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package stdout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/sustainable-computing-io/raplstat/internal/exporter/prometheus"
	"github.com/sustainable-computing-io/raplstat/internal/monitor"
	"github.com/sustainable-computing-io/raplstat/internal/rapl"
	"github.com/sustainable-computing-io/raplstat/internal/service"
	"k8s.io/utils/clock"
)

type (
	Initializer = service.Initializer
	Runner      = service.Runner
	Monitor     = monitor.PowerDataProvider
)

// Format selects how snapshots are rendered
type Format string

const (
	// FormatTable renders power and cumulative energy per socket and domain
	FormatTable Format = "table"

	// FormatRecord renders the raw sample as a single record line
	FormatRecord Format = "record"

	// FormatPrometheus renders the gathered metrics in the text exposition format
	FormatPrometheus Format = "prometheus"
)

// Exporter periodically writes power data to an io.Writer
type Exporter struct {
	logger   *slog.Logger
	monitor  Monitor
	out      io.Writer
	interval time.Duration
	format   Format
	gatherer prom.Gatherer
	clock    clock.WithTicker

	ticker clock.Ticker
}

var (
	_ Initializer = (*Exporter)(nil)
	_ Runner      = (*Exporter)(nil)
)

type Opts struct {
	logger   *slog.Logger
	out      io.Writer
	interval time.Duration
	format   Format
	gatherer prom.Gatherer
	clock    clock.WithTicker
}

// DefaultOpts() returns a new Opts with defaults set
func DefaultOpts() Opts {
	return Opts{
		logger:   slog.Default(),
		out:      os.Stdout,
		interval: 5 * time.Second,
		format:   FormatTable,
		clock:    clock.RealClock{},
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the Exporter
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

func WithOutput(out io.Writer) OptionFn {
	return func(o *Opts) {
		o.out = out
	}
}

func WithInterval(interval time.Duration) OptionFn {
	return func(o *Opts) {
		o.interval = interval
	}
}

func WithFormat(f Format) OptionFn {
	return func(o *Opts) {
		o.format = f
	}
}

// WithGatherer sets the metrics source of FormatPrometheus
func WithGatherer(g prom.Gatherer) OptionFn {
	return func(o *Opts) {
		o.gatherer = g
	}
}

func WithClock(c clock.WithTicker) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

func NewExporter(pm Monitor, applyOpts ...OptionFn) *Exporter {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Exporter{
		logger:   opts.logger.With("service", "stdout"),
		monitor:  pm,
		out:      opts.out,
		interval: opts.interval,
		format:   opts.format,
		gatherer: opts.gatherer,
		clock:    opts.clock,
	}
}

// Name implements service.Name
func (e *Exporter) Name() string {
	return "stdout"
}

func (e *Exporter) Init() error {
	switch e.format {
	case FormatTable, FormatRecord:
	case FormatPrometheus:
		if e.gatherer == nil {
			return fmt.Errorf("%s format requires a metrics gatherer", e.format)
		}
	default:
		return fmt.Errorf("unknown stdout format: %q", e.format)
	}

	if e.interval <= 0 {
		return fmt.Errorf("invalid interval %s: must be positive", e.interval)
	}
	e.ticker = e.clock.NewTicker(e.interval)
	return nil
}

func (e *Exporter) Run(ctx context.Context) error {
	defer e.ticker.Stop()

	for {
		select {
		case <-e.ticker.C():
			if err := e.Export(); err != nil {
				e.logger.Error("Failed to export power data", "error", err)
			}
		case <-ctx.Done():
			e.logger.Info("Exiting ticker")
			return nil
		}
	}
}

// Export writes the current snapshot once
func (e *Exporter) Export() error {
	if e.format == FormatPrometheus {
		_, err := prometheus.WriteText(e.out, e.gatherer)
		return err
	}

	snapshot, err := e.monitor.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to collect power data: %w", err)
	}

	if e.format == FormatRecord {
		return writeRecord(e.out, snapshot)
	}
	return writeTable(e.out, snapshot)
}

func writeRecord(out io.Writer, snapshot *monitor.Snapshot) error {
	if snapshot.Sample == nil {
		return fmt.Errorf("snapshot at %s has no sample", snapshot.Timestamp)
	}
	rec, err := rapl.FormatRecord(snapshot.DomainSet, snapshot.Sample.Stats, snapshot.Sample.Timestamp)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, rec)
	return err
}

func writeTable(out io.Writer, snapshot *monitor.Snapshot) error {
	domains := snapshot.DomainSet.Domains()

	rows := [][]string{}
	for _, socket := range snapshot.Sockets {
		for _, d := range domains {
			usage, ok := socket.Domains[d]
			if !ok {
				continue
			}
			rows = append(rows, []string{
				strconv.Itoa(socket.ID),
				string(d),
				strconv.FormatFloat(usage.Power, 'f', 2, 64),
				strconv.FormatFloat(usage.EnergyTotal, 'f', 2, 64),
			})
		}
	}

	table := tablewriter.NewWriter(out)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Formatting.Alignment = tw.AlignRight
	})
	table.Header([]string{"Socket", "Domain", "Power(W)", "Energy(J)"})
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}
