// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sustainable-computing-io/raplstat/internal/monitor"
	"github.com/sustainable-computing-io/raplstat/internal/rapl"
)

type PowerDataProvider = monitor.PowerDataProvider

const (
	socketLabel = "socket"
	domainLabel = "domain"
)

// PowerCollector exposes the energy and power of every socket and domain
// of the latest monitor snapshot
type PowerCollector struct {
	pm     PowerDataProvider
	logger *slog.Logger

	mutex sync.RWMutex
	ready bool

	joulesDesc *prometheus.Desc
	wattsDesc  *prometheus.Desc
}

// NewPowerCollector creates a collector that reads one snapshot per scrape
func NewPowerCollector(pm PowerDataProvider, logger *slog.Logger) *PowerCollector {
	c := &PowerCollector{
		pm:     pm,
		logger: logger.With("collector", "power"),
		joulesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(raplstatNS, "socket", "energy_joules_total"),
			"Energy consumed per RAPL domain in joules since raplstat started",
			[]string{socketLabel, domainLabel}, nil,
		),
		wattsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(raplstatNS, "socket", "power_watts"),
			"Average power per RAPL domain in watts over the last interval",
			[]string{socketLabel, domainLabel}, nil,
		),
	}

	go c.waitForData()
	return c
}

func (c *PowerCollector) waitForData() {
	<-c.pm.DataChannel()
	c.mutex.Lock()
	c.ready = true
	c.mutex.Unlock()
}

func (c *PowerCollector) isReady() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.ready
}

// Describe implements the prometheus.Collector interface
func (c *PowerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.joulesDesc
	ch <- c.wattsDesc
}

// Collect implements the prometheus.Collector interface
func (c *PowerCollector) Collect(ch chan<- prometheus.Metric) {
	if !c.isReady() {
		c.logger.Debug("Collect called before monitor is ready")
		return
	}

	started := time.Now()
	defer func() {
		c.logger.Debug("Collected power data", "duration", time.Since(started))
	}()

	snapshot, err := c.pm.Snapshot()
	if err != nil {
		c.logger.Error("Failed to collect power data", "error", err)
		return
	}

	for _, socket := range snapshot.Sockets {
		id := strconv.Itoa(socket.ID)
		for _, d := range orderedDomains(snapshot.DomainSet, socket.Domains) {
			usage := socket.Domains[d]
			ch <- prometheus.MustNewConstMetric(c.joulesDesc, prometheus.CounterValue,
				usage.EnergyTotal, id, string(d))
			ch <- prometheus.MustNewConstMetric(c.wattsDesc, prometheus.GaugeValue,
				usage.Power, id, string(d))
		}
	}
}

// orderedDomains returns the domains of m in record order, followed by any
// domain the set does not name
func orderedDomains(set rapl.DomainSet, m monitor.DomainUsageMap) []rapl.Domain {
	ret := make([]rapl.Domain, 0, len(m))
	for _, d := range set.Domains() {
		if _, ok := m[d]; ok {
			ret = append(ret, d)
		}
	}
	var rest []rapl.Domain
	for d := range m {
		if !set.Contains(d) {
			rest = append(rest, d)
		}
	}
	slices.Sort(rest)
	return append(ret, rest...)
}
