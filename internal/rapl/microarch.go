// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package rapl

// MicroArchitecture identifies an Intel CPU generation with a known RAPL
// register layout.
type MicroArchitecture int

const (
	Undefined MicroArchitecture = iota
	SandyBridge
	SandyBridgeEP
	IvyBridge
	Haswell1
	Haswell2
	Haswell3
	HaswellEP
	Broadwell
	Broadwell2
	Skylake1
	Skylake2
	KabyLake
	CoffeeLake2
	ApolloLake

	numMicroArchitectures
)

// UndefinedName is reported for CPUs outside the known table.
const UndefinedName = "UNDEFINED_MICROARCHITECTURE"

// archRow holds everything that varies per microarchitecture. A new
// microarchitecture needs exactly one row here; TestArchTable checks
// that every enum value has one.
type archRow struct {
	name    string
	domains DomainSet
	// dramUnit, when non-zero, replaces the decoded energy unit for DRAM
	dramUnit float64
}

var archTable = [numMicroArchitectures]archRow{
	Undefined:     {name: UndefinedName, domains: UndefinedDomains},
	SandyBridge:   {name: "SANDYBRIDGE", domains: GPUCorePkg},
	SandyBridgeEP: {name: "SANDYBRIDGE_EP", domains: DRAMCorePkg},
	IvyBridge:     {name: "IVYBRIDGE", domains: GPUCorePkg},
	Haswell1:      {name: "HASWELL1", domains: GPUCorePkg},
	Haswell2:      {name: "HASWELL2", domains: GPUCorePkg},
	Haswell3:      {name: "HASWELL3", domains: DRAMCorePkg},
	HaswellEP:     {name: "HASWELL_EP", domains: GPUCorePkg},
	Broadwell:     {name: "BROADWELL", domains: DRAMGPUCorePkg, dramUnit: BroadwellDRAMEnergyUnit},
	Broadwell2:    {name: "BROADWELL2", domains: GPUCorePkg, dramUnit: BroadwellDRAMEnergyUnit},
	Skylake1:      {name: "SKYLAKE1", domains: GPUCorePkg},
	Skylake2:      {name: "SKYLAKE2", domains: DRAMCorePkg},
	KabyLake:      {name: "KABYLAKE", domains: DRAMGPUCorePkg},
	CoffeeLake2:   {name: "COFFEELAKE2", domains: GPUCorePkg},
	ApolloLake:    {name: "APOLLOLAKE", domains: DRAMCorePkg},
}

func (m MicroArchitecture) row() archRow {
	if m <= Undefined || m >= numMicroArchitectures {
		return archTable[Undefined]
	}
	return archTable[m]
}

// String returns the canonical upper-case name, or UndefinedName.
func (m MicroArchitecture) String() string {
	return m.row().name
}

// Known reports whether m is a recognised microarchitecture.
func (m MicroArchitecture) Known() bool {
	return m > Undefined && m < numMicroArchitectures
}

// MicroArchitectures returns every known microarchitecture in enum order.
func MicroArchitectures() []MicroArchitecture {
	ret := make([]MicroArchitecture, 0, numMicroArchitectures-1)
	for m := Undefined + 1; m < numMicroArchitectures; m++ {
		ret = append(ret, m)
	}
	return ret
}

// ParseMicroArchitecture is the inverse of String. Unknown names map to
// Undefined.
func ParseMicroArchitecture(name string) MicroArchitecture {
	for m := Undefined + 1; m < numMicroArchitectures; m++ {
		if archTable[m].name == name {
			return m
		}
	}
	return Undefined
}

// Intel family 6 model numbers
const (
	intelFamily = 6

	modelSandyBridge   = 0x2A
	modelSandyBridgeEP = 0x2D
	modelIvyBridge     = 0x3A
	modelHaswell       = 0x3C
	modelHaswellULT    = 0x45
	modelHaswellGT3E   = 0x46
	modelHaswellX      = 0x3F
	modelBroadwell     = 0x3D
	modelBroadwellGT3E = 0x47
	modelBroadwellX    = 0x4F
	modelBroadwellD    = 0x56
	modelSkylakeL      = 0x4E
	modelSkylake       = 0x5E
	modelApolloLake    = 0x5C
	modelKabyLakeL     = 0x8E
	modelKabyLake      = 0x9E

	// Models 0x8E/0x9E are shared by Kaby Lake and Coffee Lake; steppings
	// from 10 onwards are Coffee Lake.
	coffeeLakeMinStepping = 10
)

var modelTable = map[int]MicroArchitecture{
	modelSandyBridge:   SandyBridge,
	modelSandyBridgeEP: SandyBridgeEP,
	modelIvyBridge:     IvyBridge,
	modelHaswell:       Haswell1,
	modelHaswellULT:    Haswell2,
	modelHaswellGT3E:   Haswell3,
	modelHaswellX:      HaswellEP,
	modelBroadwell:     Broadwell,
	modelBroadwellGT3E: Broadwell,
	modelBroadwellX:    Broadwell2,
	modelBroadwellD:    Broadwell2,
	modelSkylakeL:      Skylake1,
	modelSkylake:       Skylake2,
	modelApolloLake:    ApolloLake,
}

// Identify maps CPU identification to a MicroArchitecture. It never fails:
// anything it does not recognise is Undefined.
func Identify(id CPUID) MicroArchitecture {
	if id.Vendor != VendorIntel || id.Family != intelFamily {
		return Undefined
	}

	switch id.Model {
	case modelKabyLake, modelKabyLakeL:
		if id.Stepping >= coffeeLakeMinStepping {
			return CoffeeLake2
		}
		return KabyLake
	}

	if m, ok := modelTable[id.Model]; ok {
		return m
	}
	return Undefined
}
