// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/sustainable-computing-io/raplstat/config"
	"github.com/sustainable-computing-io/raplstat/internal/logger"
	"github.com/sustainable-computing-io/raplstat/internal/version"
)

const appName = "raplstat"

// cli is the parsed command line
type cli struct {
	command string
	cfg     *config.Config

	checkDuration  time.Duration
	checkTolerance float64
}

func main() {
	c, err := parseArgsAndConfig(os.Args[1:])
	if err != nil {
		os.Exit(1)
	}

	// logs go to stderr so that stdout carries only the data
	log := logger.New(c.cfg.Log.Level, c.cfg.Log.Format, os.Stderr)
	log.Info("raplstat version information", "build", version.Info())

	if err := execute(context.Background(), log, c, os.Stdout); err != nil {
		log.Error("raplstat terminated with an error", "command", c.command, "error", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, log *slog.Logger, c *cli, out io.Writer) error {
	switch c.command {
	case "run":
		printConfigInfo(log, c.cfg)
		return runMonitor(ctx, log, c.cfg, out)
	case "read":
		return readOnce(log, c.cfg, out)
	case "info":
		return printInfo(log, c.cfg, out)
	case "check":
		return check(ctx, log, c.cfg, out, checkOpts{
			duration:  c.checkDuration,
			tolerance: c.checkTolerance,
		})
	default:
		return fmt.Errorf("unknown command: %s", c.command)
	}
}

func newApp() (*kingpin.Application, *cli, func() error) {
	app := kingpin.New(appName, "RAPL energy telemetry for Intel processors.")
	app.Version(version.Info().String())
	app.HelpFlag.Short('h')

	c := &cli{}
	configFiles := app.Flag("config.file", "Path to YAML configuration file; repeat to layer files, later ones win").Strings()
	updateConfig := config.RegisterFlags(app)

	app.Command("run", "Sample energy counters periodically and write them to stdout").Default()
	app.Command("read", "Print one energy record")
	app.Command("info", "Print the detected microarchitecture, sockets and domains")
	checkCmd := app.Command("check", "Verify the energy counters advance under load")
	checkCmd.Flag("check.duration", "Duration of the busy loop between the two samples").
		Default("1s").DurationVar(&c.checkDuration)
	checkCmd.Flag("check.tolerance", "Allowed relative deviation of the package energy from powercap").
		Default("0.1").Float64Var(&c.checkTolerance)

	load := func() error {
		log := logger.New("info", "text", os.Stderr)
		cfg := config.DefaultConfig()
		if len(*configFiles) > 0 {
			log.Info("Loading configuration files", "paths", *configFiles)
			loaded, err := (&config.Builder{}).Use(cfg).MergeFile(*configFiles...).Build()
			if err != nil {
				log.Error("Error loading config file", "error", err.Error())
				return err
			}
			cfg = loaded
		}

		// command line flags override config file settings
		if err := updateConfig(cfg); err != nil {
			log.Error("Error applying command line flags", "error", err.Error())
			return err
		}
		c.cfg = cfg
		return nil
	}
	return app, c, load
}

func parseArgsAndConfig(args []string) (*cli, error) {
	app, c, load := newApp()
	command, err := app.Parse(args)
	if err != nil {
		app.Errorf("%s", err)
		return nil, err
	}
	c.command = command

	if err := load(); err != nil {
		return nil, err
	}
	return c, nil
}

func printConfigInfo(log *slog.Logger, cfg *config.Config) {
	if !log.Enabled(context.Background(), slog.LevelDebug) || cfg.Log.Format == "json" {
		return
	}

	fmt.Fprintf(os.Stderr, `
Configuration
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
%s
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
`, cfg)
}
