// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/ptr"
)

// Config represents the complete application configuration
type (
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}

	Host struct {
		DevFS  string `yaml:"devfs"`
		ProcFS string `yaml:"procfs"`
		SysFS  string `yaml:"sysfs"`
	}

	Rapl struct {
		// Detector identifies the CPU: "cpuid" or "procfs"
		Detector string `yaml:"detector"`

		// SocketCount overrides socket discovery when > 0
		SocketCount int `yaml:"socketCount"`
	}

	Monitor struct {
		Interval  time.Duration `yaml:"interval"`  // sampling interval; 0 samples on demand only
		Staleness time.Duration `yaml:"staleness"` // age after which a snapshot is refreshed on read
	}

	StdoutExporter struct {
		Enabled *bool  `yaml:"enabled"`
		Format  string `yaml:"format"`
	}

	PrometheusExporter struct {
		DebugCollectors []string `yaml:"debugCollectors"`
	}

	Exporter struct {
		Stdout     StdoutExporter     `yaml:"stdout"`
		Prometheus PrometheusExporter `yaml:"prometheus"`
	}

	// FakeMSR replaces the msr driver with in-memory registers whose
	// counters advance on every read
	FakeMSR struct {
		Enabled  *bool `yaml:"enabled"`
		Model    int   `yaml:"model"`
		Stepping int   `yaml:"stepping"`
		Sockets  int   `yaml:"sockets"`
	}

	// Development mode settings; disabled by default
	Dev struct {
		FakeMSR FakeMSR `yaml:"fake-msr"`
	}

	Config struct {
		Log      Log      `yaml:"log"`
		Host     Host     `yaml:"host"`
		Rapl     Rapl     `yaml:"rapl"`
		Monitor  Monitor  `yaml:"monitor"`
		Exporter Exporter `yaml:"exporter"`
		Dev      Dev      `yaml:"dev"` // WARN: do not expose dev settings as flags
	}
)

type SkipValidation int

const (
	SkipHostValidation SkipValidation = 1
)

const (
	// Flags
	LogLevelFlag  = "log.level"
	LogFormatFlag = "log.format"

	HostDevFSFlag  = "host.devfs"
	HostProcFSFlag = "host.procfs"
	HostSysFSFlag  = "host.sysfs"

	RaplDetectorFlag    = "rapl.detector"
	RaplSocketCountFlag = "rapl.socket-count"

	MonitorIntervalFlag = "monitor.interval"
	MonitorStaleness    = "monitor.staleness" // not a flag

	ExporterStdoutEnabledFlag = "exporter.stdout"
	ExporterStdoutFormatFlag  = "exporter.stdout.format"

	ExporterPrometheusDebugCollectorsFlag = "exporter.prometheus.debug-collectors"

// WARN:  dev settings shouldn't be exposed as flags as flags are intended for end users
)

var (
	logLevels     = []string{"debug", "info", "warn", "error"}
	logFormats    = []string{"text", "json"}
	detectors     = []string{"cpuid", "procfs"}
	stdoutFormats = []string{"table", "record", "prometheus"}

	debugCollectors = []string{"go", "process"}
)

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	cfg := &Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Host: Host{
			DevFS:  "/dev",
			ProcFS: "/proc",
			SysFS:  "/sys",
		},
		Rapl: Rapl{
			Detector: "cpuid",
		},
		Monitor: Monitor{
			Interval:  5 * time.Second,
			Staleness: 500 * time.Millisecond,
		},
		Exporter: Exporter{
			Stdout: StdoutExporter{
				Enabled: ptr.To(true),
				Format:  "table",
			},
			Prometheus: PrometheusExporter{
				DebugCollectors: []string{"go"},
			},
		},
	}

	cfg.Dev.FakeMSR = FakeMSR{
		Enabled:  ptr.To(false),
		Model:    0x2D, // SANDYBRIDGE_EP
		Stepping: 7,
		Sockets:  1,
	}
	return cfg
}

// Load loads configuration from an io.Reader
func Load(r io.Reader, skips ...SkipValidation) (*Config, error) {
	cfg := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.sanitize()

	if err := cfg.Validate(skips...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile loads configuration from a file
func FromFile(filePath string, skips ...SkipValidation) (cfg *Config, err error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return Load(file, skips...)
}

type ConfigUpdaterFn func(*Config) error

// RegisterFlags registers command-line flags with kingpin app
// and returns ConfigUpdaterFn that updates the config from parsed flags
// as command line arguments override config file settings
func RegisterFlags(app *kingpin.Application) ConfigUpdaterFn {
	// track flags that were explicitly set
	flagsSet := map[string]bool{}

	app.PreAction(func(ctx *kingpin.ParseContext) error {
		flagsSet = map[string]bool{}
		for _, element := range ctx.Elements {
			if flag, ok := element.Clause.(*kingpin.FlagClause); ok && element.Value != nil {
				flagsSet[flag.Model().Name] = true
			}
		}
		return nil
	})

	logLevel := app.Flag(LogLevelFlag, "Logging level: debug, info, warn, error").Default("info").Enum(logLevels...)
	logFormat := app.Flag(LogFormatFlag, "Logging format: text or json").Default("text").Enum(logFormats...)

	hostDevFS := app.Flag(HostDevFSFlag, "Host dev path holding cpu/<n>/msr").Default("/dev").String()
	hostProcFS := app.Flag(HostProcFSFlag, "Host procfs path").Default("/proc").ExistingDir()
	hostSysFS := app.Flag(HostSysFSFlag, "Host sysfs path").Default("/sys").ExistingDir()

	raplDetector := app.Flag(RaplDetectorFlag, "CPU identification source: cpuid or procfs").Default("cpuid").Enum(detectors...)
	raplSocketCount := app.Flag(RaplSocketCountFlag, "Number of sockets; 0 to discover from procfs").Default("0").Int()

	monitorInterval := app.Flag(MonitorIntervalFlag, "Interval for sampling energy counters; 0 to disable").Default("5s").Duration()

	stdoutEnabled := app.Flag(ExporterStdoutEnabledFlag, "Enable stdout exporter").Default("true").Bool()
	stdoutFormat := app.Flag(ExporterStdoutFormatFlag, "Stdout exporter format: table, record or prometheus").Default("table").Enum(stdoutFormats...)
	promDebugCollectors := app.Flag(ExporterPrometheusDebugCollectorsFlag, "Debug collectors added to prometheus output: go, process").Default("go").Enums(debugCollectors...)

	return func(cfg *Config) error {
		if flagsSet[LogLevelFlag] {
			cfg.Log.Level = *logLevel
		}
		if flagsSet[LogFormatFlag] {
			cfg.Log.Format = *logFormat
		}

		if flagsSet[HostDevFSFlag] {
			cfg.Host.DevFS = *hostDevFS
		}
		if flagsSet[HostProcFSFlag] {
			cfg.Host.ProcFS = *hostProcFS
		}
		if flagsSet[HostSysFSFlag] {
			cfg.Host.SysFS = *hostSysFS
		}

		if flagsSet[RaplDetectorFlag] {
			cfg.Rapl.Detector = *raplDetector
		}
		if flagsSet[RaplSocketCountFlag] {
			cfg.Rapl.SocketCount = *raplSocketCount
		}

		if flagsSet[MonitorIntervalFlag] {
			cfg.Monitor.Interval = *monitorInterval
		}

		if flagsSet[ExporterStdoutEnabledFlag] {
			cfg.Exporter.Stdout.Enabled = stdoutEnabled
		}
		if flagsSet[ExporterStdoutFormatFlag] {
			cfg.Exporter.Stdout.Format = *stdoutFormat
		}
		if flagsSet[ExporterPrometheusDebugCollectorsFlag] {
			cfg.Exporter.Prometheus.DebugCollectors = *promDebugCollectors
		}

		cfg.sanitize()
		return cfg.Validate()
	}
}

func (c *Config) sanitize() {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Host.DevFS = strings.TrimSpace(c.Host.DevFS)
	c.Host.ProcFS = strings.TrimSpace(c.Host.ProcFS)
	c.Host.SysFS = strings.TrimSpace(c.Host.SysFS)
	c.Rapl.Detector = strings.ToLower(strings.TrimSpace(c.Rapl.Detector))
	c.Exporter.Stdout.Format = strings.ToLower(strings.TrimSpace(c.Exporter.Stdout.Format))
	for i, name := range c.Exporter.Prometheus.DebugCollectors {
		c.Exporter.Prometheus.DebugCollectors[i] = strings.ToLower(strings.TrimSpace(name))
	}
}

func oneOf(v string, valid []string) bool {
	for _, s := range valid {
		if v == s {
			return true
		}
	}
	return false
}

// Validate checks for configuration errors
func (c *Config) Validate(skips ...SkipValidation) error {
	validationSkipped := make(map[SkipValidation]bool, len(skips))
	for _, v := range skips {
		validationSkipped[v] = true
	}

	var errs []string
	{ // log
		if !oneOf(c.Log.Level, logLevels) {
			errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
		}
		if !oneOf(c.Log.Format, logFormats) {
			errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
		}
	}
	{ // host
		if !validationSkipped[SkipHostValidation] {
			if err := canReadDir(c.Host.ProcFS); err != nil {
				errs = append(errs, fmt.Sprintf("invalid procfs path: %s: %s", c.Host.ProcFS, err.Error()))
			}
			if err := canReadDir(c.Host.SysFS); err != nil {
				errs = append(errs, fmt.Sprintf("invalid sysfs path: %s: %s", c.Host.SysFS, err.Error()))
			}
			// the msr devices only need to exist on hosts read for real
			if !ptr.Deref(c.Dev.FakeMSR.Enabled, false) {
				if err := canReadDir(c.Host.DevFS); err != nil {
					errs = append(errs, fmt.Sprintf("invalid devfs path: %s: %s", c.Host.DevFS, err.Error()))
				}
			}
		}
	}
	{ // rapl
		if !oneOf(c.Rapl.Detector, detectors) {
			errs = append(errs, fmt.Sprintf("invalid rapl detector: %s", c.Rapl.Detector))
		}
		if c.Rapl.SocketCount < 0 {
			errs = append(errs, fmt.Sprintf("invalid rapl socket count: %d can't be negative", c.Rapl.SocketCount))
		}
	}
	{ // monitor
		if c.Monitor.Interval < 0 {
			errs = append(errs, fmt.Sprintf("invalid monitor interval: %s can't be negative", c.Monitor.Interval))
		}
		if c.Monitor.Staleness < 0 {
			errs = append(errs, fmt.Sprintf("invalid monitor staleness: %s can't be negative", c.Monitor.Staleness))
		}
	}
	{ // exporter
		if ptr.Deref(c.Exporter.Stdout.Enabled, false) && !oneOf(c.Exporter.Stdout.Format, stdoutFormats) {
			errs = append(errs, fmt.Sprintf("invalid stdout exporter format: %s", c.Exporter.Stdout.Format))
		}
		for _, name := range c.Exporter.Prometheus.DebugCollectors {
			if !oneOf(name, debugCollectors) {
				errs = append(errs, fmt.Sprintf("invalid prometheus debug collector: %s", name))
			}
		}
	}
	{ // dev
		if ptr.Deref(c.Dev.FakeMSR.Enabled, false) && c.Dev.FakeMSR.Sockets < 1 {
			errs = append(errs, fmt.Sprintf("invalid fake msr sockets: %d must be at least 1", c.Dev.FakeMSR.Sockets))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, ", "))
	}
	return nil
}

func canReadDir(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()

	_, err = f.ReadDir(1)
	return err
}

func (c *Config) String() string {
	bytes, err := yaml.Marshal(c)
	if err == nil {
		return string(bytes)
	}
	// NOTE: should not happen; fall back to the flag view
	return c.manualString()
}

func (c *Config) manualString() string {
	cfgs := []struct {
		Name  string
		Value string
	}{
		{LogLevelFlag, c.Log.Level},
		{LogFormatFlag, c.Log.Format},
		{HostDevFSFlag, c.Host.DevFS},
		{HostProcFSFlag, c.Host.ProcFS},
		{HostSysFSFlag, c.Host.SysFS},
		{RaplDetectorFlag, c.Rapl.Detector},
		{RaplSocketCountFlag, fmt.Sprintf("%d", c.Rapl.SocketCount)},
		{MonitorIntervalFlag, c.Monitor.Interval.String()},
		{MonitorStaleness, c.Monitor.Staleness.String()},
		{ExporterStdoutEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Exporter.Stdout.Enabled, false))},
		{ExporterStdoutFormatFlag, c.Exporter.Stdout.Format},
		{ExporterPrometheusDebugCollectorsFlag, strings.Join(c.Exporter.Prometheus.DebugCollectors, ",")},
	}

	sb := strings.Builder{}
	for _, cfg := range cfgs {
		sb.WriteString(cfg.Name)
		sb.WriteString(": ")
		sb.WriteString(cfg.Value)
		sb.WriteString("\n")
	}
	return sb.String()
}
