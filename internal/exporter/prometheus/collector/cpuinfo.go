// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/sustainable-computing-io/raplstat/internal/rapl"
)

// CPUInfoProvider identifies the measured CPU
type CPUInfoProvider interface {
	MicroArchitecture() string
	DomainSet() rapl.DomainSet
}

type cpuInfoCollector struct {
	provider CPUInfoProvider
	desc     *prom.Desc
}

// NewCPUInfoCollector creates a collector labeled with the detected
// microarchitecture and the RAPL domains read on it
func NewCPUInfoCollector(provider CPUInfoProvider) *cpuInfoCollector {
	return &cpuInfoCollector{
		provider: provider,
		desc: prom.NewDesc(
			prom.BuildFQName(raplstatNS, "cpu", "info"),
			"A metric with a constant '1' value labeled with the RAPL microarchitecture and domains",
			[]string{"microarchitecture", "components"},
			nil,
		),
	}
}

func (c *cpuInfoCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.desc
}

func (c *cpuInfoCollector) Collect(ch chan<- prom.Metric) {
	arch := c.provider.MicroArchitecture()
	if arch == "" {
		// not initialized
		return
	}
	ch <- prom.MustNewConstMetric(c.desc, prom.GaugeValue, 1,
		arch,
		c.provider.DomainSet().String(),
	)
}
