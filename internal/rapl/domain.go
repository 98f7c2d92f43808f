// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package rapl

import "strings"

// Domain is a RAPL power domain with its own energy counter.
type Domain string

const (
	DomainDRAM    Domain = "dram"
	DomainGPU     Domain = "gpu"  // PP1, integrated graphics
	DomainCore    Domain = "core" // PP0, processor cores
	DomainPackage Domain = "pkg"
)

// Register returns the MSR offset of the domain's energy status register.
func (d Domain) Register() uint32 {
	switch d {
	case DomainDRAM:
		return MSRDRAMEnergyStatus
	case DomainGPU:
		return MSRPP1EnergyStatus
	case DomainCore:
		return MSRPP0EnergyStatus
	case DomainPackage:
		return MSRPkgEnergyStatus
	default:
		return 0
	}
}

// DomainSet is the set of domains a microarchitecture exposes.
type DomainSet int

const (
	UndefinedDomains DomainSet = iota
	DRAMGPUCorePkg
	DRAMCorePkg
	GPUCorePkg
)

const undefinedComponents = "undefined"

// domainOrder is the positional contract of serialized records.
var domainOrder = map[DomainSet][]Domain{
	DRAMGPUCorePkg: {DomainDRAM, DomainGPU, DomainCore, DomainPackage},
	DRAMCorePkg:    {DomainDRAM, DomainCore, DomainPackage},
	GPUCorePkg:     {DomainGPU, DomainCore, DomainPackage},
}

// Domains resolves the domain set of a microarchitecture.
func Domains(m MicroArchitecture) DomainSet {
	switch d := m.row().domains; d {
	case DRAMGPUCorePkg, DRAMCorePkg, GPUCorePkg:
		return d
	default:
		return UndefinedDomains
	}
}

// Domains returns the domains of the set in record order. The result is a
// copy; nil for UndefinedDomains.
func (s DomainSet) Domains() []Domain {
	order, ok := domainOrder[s]
	if !ok {
		return nil
	}
	ret := make([]Domain, len(order))
	copy(ret, order)
	return ret
}

// Contains reports whether d is part of the set.
func (s DomainSet) Contains(d Domain) bool {
	for _, o := range domainOrder[s] {
		if o == d {
			return true
		}
	}
	return false
}

// String returns the comma-joined domain order, e.g. "dram,core,pkg", or
// "undefined".
func (s DomainSet) String() string {
	order, ok := domainOrder[s]
	if !ok {
		return undefinedComponents
	}
	names := make([]string, len(order))
	for i, d := range order {
		names[i] = string(d)
	}
	return strings.Join(names, ",")
}
