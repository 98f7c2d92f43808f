// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package prometheus

import (
	"fmt"
	"io"
	"log/slog"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"
	collector "github.com/sustainable-computing-io/raplstat/internal/exporter/prometheus/collector"
	"github.com/sustainable-computing-io/raplstat/internal/monitor"
	"github.com/sustainable-computing-io/raplstat/internal/service"
)

type (
	Initializer = service.Initializer
	Monitor     = monitor.PowerDataProvider
)

type Opts struct {
	logger          *slog.Logger
	debugCollectors map[string]bool
	collectors      map[string]prom.Collector
}

// DefaultOpts() returns a new Opts with defaults set
func DefaultOpts() Opts {
	return Opts{
		logger: slog.Default(),
		debugCollectors: map[string]bool{
			"go": true,
		},
		collectors: map[string]prom.Collector{},
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

// WithDebugCollectors sets the debug collectors
func WithDebugCollectors(c []string) OptionFn {
	return func(o *Opts) {
		o.debugCollectors = make(map[string]bool)
		for _, name := range c {
			o.debugCollectors[name] = true
		}
	}
}

func WithCollectors(c map[string]prom.Collector) OptionFn {
	return func(o *Opts) {
		o.collectors = c
	}
}

// Exporter gathers the power metrics into a registry and renders them in
// the prometheus text format
type Exporter struct {
	logger          *slog.Logger
	registry        *prom.Registry
	debugCollectors map[string]bool
	collectors      map[string]prom.Collector
}

var _ Initializer = (*Exporter)(nil)

// NewExporter creates a new Exporter instance
func NewExporter(applyOpts ...OptionFn) *Exporter {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Exporter{
		logger:          opts.logger.With("service", "prometheus"),
		debugCollectors: opts.debugCollectors,
		collectors:      opts.collectors,
		registry:        prom.NewRegistry(),
	}
}

func collectorForName(name string) (prom.Collector, error) {
	switch name {
	case "go":
		return collectors.NewGoCollector(), nil
	case "process":
		return collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}), nil
	default:
		return nil, fmt.Errorf("unknown collector: %s", name)
	}
}

// CreateCollectors returns the raplstat collectors reading from pm
func CreateCollectors(pm Monitor, logger *slog.Logger) map[string]prom.Collector {
	return map[string]prom.Collector{
		"build_info": collector.NewBuildInfoCollector(),
		"cpu_info":   collector.NewCPUInfoCollector(pm),
		"power":      collector.NewPowerCollector(pm, logger),
	}
}

func (e *Exporter) Init() error {
	e.logger.Info("Initializing Prometheus exporter")
	for c := range e.debugCollectors {
		collector, err := collectorForName(c)
		if err != nil {
			e.logger.Error("Error creating collector", "collector", c, "error", err)
			return err
		}
		e.logger.Info("Enabling debug collector", "collector", c)
		if err := e.registry.Register(collector); err != nil {
			return fmt.Errorf("failed to register %s collector: %w", c, err)
		}
	}

	for name, collector := range e.collectors {
		e.logger.Info("Enabling collector", "collector", name)
		if err := e.registry.Register(collector); err != nil {
			return fmt.Errorf("failed to register %s collector: %w", name, err)
		}
	}
	return nil
}

// Name implements service.Name
func (e *Exporter) Name() string {
	return "prometheus"
}

// Gatherer returns the registry the collectors are registered with
func (e *Exporter) Gatherer() prom.Gatherer {
	return e.registry
}

// WriteTo gathers every registered collector and writes the result to w in
// the prometheus text exposition format
func (e *Exporter) WriteTo(w io.Writer) (int64, error) {
	return WriteText(w, e.registry)
}

// WriteText gathers g and writes the metric families to w in the prometheus
// text exposition format
func WriteText(w io.Writer, g prom.Gatherer) (int64, error) {
	families, err := g.Gather()
	if err != nil {
		return 0, fmt.Errorf("failed to gather metrics: %w", err)
	}

	var total int64
	for _, mf := range families {
		n, err := expfmt.MetricFamilyToText(w, mf)
		total += int64(n)
		if err != nil {
			return total, fmt.Errorf("failed to write %s: %w", mf.GetName(), err)
		}
	}
	return total, nil
}
