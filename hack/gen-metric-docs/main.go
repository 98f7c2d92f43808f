// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// gen-metric-docs writes a Markdown reference of the metrics raplstat
// exposes in the prometheus format.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sustainable-computing-io/raplstat/internal/exporter/prometheus/collector"
	"github.com/sustainable-computing-io/raplstat/internal/monitor"
	"github.com/sustainable-computing-io/raplstat/internal/rapl"
)

// MetricInfo holds information about a Prometheus metric
type MetricInfo struct {
	Name        string
	Type        string
	Description string
	Labels      []string
}

// descOnlyMonitor satisfies the collectors; only their descriptions are read
type descOnlyMonitor struct {
	dataCh chan struct{}
}

func (m *descOnlyMonitor) DataChannel() <-chan struct{} { return m.dataCh }

func (m *descOnlyMonitor) Snapshot() (*monitor.Snapshot, error) { return monitor.NewSnapshot(), nil }

func (m *descOnlyMonitor) DomainSet() rapl.DomainSet { return rapl.DRAMGPUCorePkg }

func (m *descOnlyMonitor) MicroArchitecture() string { return rapl.Broadwell.String() }

var (
	fqNameRegex         = regexp.MustCompile(`fqName: "([^"]+)"`)
	helpRegex           = regexp.MustCompile(`help: "([^"]+)"`)
	variableLabelsRegex = regexp.MustCompile(`variableLabels: \{([^}]*)\}`)
)

// extractMetricsInfo parses the descriptions of a collector
func extractMetricsInfo(c prometheus.Collector) ([]MetricInfo, error) {
	ch := make(chan *prometheus.Desc, 16)
	go func() {
		c.Describe(ch)
		close(ch)
	}()

	var metrics []MetricInfo
	for desc := range ch {
		s := desc.String()
		name := fqNameRegex.FindStringSubmatch(s)
		help := helpRegex.FindStringSubmatch(s)
		if len(name) < 2 || len(help) < 2 {
			return nil, fmt.Errorf("could not parse metric description: %s", s)
		}

		var labels []string
		if m := variableLabelsRegex.FindStringSubmatch(s); len(m) >= 2 && m[1] != "" {
			for _, l := range strings.Split(m[1], ",") {
				labels = append(labels, strings.TrimSpace(l))
			}
		}

		metricType := "GAUGE"
		if strings.HasSuffix(name[1], "_total") {
			metricType = "COUNTER"
		}
		metrics = append(metrics, MetricInfo{
			Name:        name[1],
			Type:        metricType,
			Description: help[1],
			Labels:      labels,
		})
	}
	return metrics, nil
}

// generateMarkdown renders the metrics grouped by socket and info metrics
func generateMarkdown(metrics []MetricInfo) string {
	sort.Slice(metrics, func(i, j int) bool {
		return metrics[i].Name < metrics[j].Name
	})

	var socket, info []MetricInfo
	for _, m := range metrics {
		if strings.HasPrefix(m.Name, "raplstat_socket_") {
			socket = append(socket, m)
			continue
		}
		info = append(info, m)
	}

	var md strings.Builder
	md.WriteString("# raplstat Metrics\n\n")
	md.WriteString("raplstat writes these metrics in the Prometheus text format when the stdout exporter format is `prometheus`.\n\n")
	md.WriteString("- **COUNTER**: A cumulative metric that only increases over time\n")
	md.WriteString("- **GAUGE**: A metric that can increase and decrease\n\n")

	if len(socket) > 0 {
		md.WriteString("## Socket Metrics\n\n")
		md.WriteString("Energy and power of each RAPL domain of each CPU package.\n\n")
		writeMetricsSection(&md, socket)
	}
	if len(info) > 0 {
		md.WriteString("## Info Metrics\n\n")
		writeMetricsSection(&md, info)
	}

	md.WriteString("---\n\n")
	md.WriteString("This documentation was automatically generated by the gen-metric-docs tool.\n")
	return md.String()
}

func writeMetricsSection(md *strings.Builder, metrics []MetricInfo) {
	for _, metric := range metrics {
		fmt.Fprintf(md, "### %s\n\n", metric.Name)
		fmt.Fprintf(md, "- **Type**: %s\n", metric.Type)
		fmt.Fprintf(md, "- **Description**: %s\n", metric.Description)
		if len(metric.Labels) > 0 {
			md.WriteString("- **Labels**:\n")
			for _, label := range metric.Labels {
				fmt.Fprintf(md, "  - `%s`\n", label)
			}
		}
		md.WriteString("\n")
	}
}

// collectMetrics describes every raplstat collector
func collectMetrics(logger *slog.Logger) ([]MetricInfo, error) {
	pm := &descOnlyMonitor{dataCh: make(chan struct{})}
	close(pm.dataCh)

	collectors := map[string]prometheus.Collector{
		"power":      collector.NewPowerCollector(pm, logger),
		"build_info": collector.NewBuildInfoCollector(),
		"cpu_info":   collector.NewCPUInfoCollector(pm),
	}

	var all []MetricInfo
	for name, c := range collectors {
		metrics, err := extractMetricsInfo(c)
		if err != nil {
			return nil, fmt.Errorf("failed to extract %s metrics: %w", name, err)
		}
		logger.Info("Extracted metrics", "collector", name, "count", len(metrics))
		all = append(all, metrics...)
	}
	return all, nil
}

func run(args []string, stderr io.Writer) error {
	app := kingpin.New("gen-metric-docs", "Generate the raplstat metrics reference.")
	output := app.Flag("output", "Path to output Markdown file").Default("docs/metrics.md").String()
	if _, err := app.Parse(args); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(stderr, nil))
	metrics, err := collectMetrics(logger)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(*output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(*output, []byte(generateMarkdown(metrics)), 0o644); err != nil {
		return fmt.Errorf("failed to write markdown file: %w", err)
	}
	logger.Info("Metrics documentation generated", "path", *output, "metrics", len(metrics))
	return nil
}

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
