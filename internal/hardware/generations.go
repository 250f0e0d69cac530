package hardware

import (
	"regexp"
	"strings"
)

// CPUGeneration identifies a microarchitecture family. Values are
// ordered oldest to newest within each vendor.
type CPUGeneration int

const (
	GenUnknown CPUGeneration = iota

	// Intel
	GenCore2
	GenNehalem
	GenSandyBridge
	GenIvyBridge
	GenHaswell
	GenBroadwell
	GenSkylakePlus

	// AMD
	GenK8
	GenK10
	GenBulldozer
	GenZen
)

var generationNames = map[CPUGeneration]string{
	GenUnknown:     "unknown",
	GenCore2:       "core2",
	GenNehalem:     "nehalem",
	GenSandyBridge: "sandybridge",
	GenIvyBridge:   "ivybridge",
	GenHaswell:     "haswell",
	GenBroadwell:   "broadwell",
	GenSkylakePlus: "skylake+",
	GenK8:          "k8",
	GenK10:         "k10",
	GenBulldozer:   "bulldozer",
	GenZen:         "zen",
}

func (g CPUGeneration) String() string {
	if name, ok := generationNames[g]; ok {
		return name
	}

	return "unknown"
}

// MarshalText lets generations appear by name in JSON output
func (g CPUGeneration) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// Skylake and later share the i{3,5,7}-NXXX numbering with a leading
// generation digit of 6 through 19
var skylakePlusPattern = regexp.MustCompile(`i[357]-(?:[6-9]|1[0-9])`)

// DetectGeneration matches a CPU model name against known family
// naming schemes. Matching is substring based and intentionally loose:
// an unrecognized model maps to GenUnknown and conservative defaults.
func DetectGeneration(vendor CPUVendor, model string) CPUGeneration {
	name := strings.ToLower(model)

	switch vendor {
	case VendorIntel:
		return intelGeneration(name)
	case VendorAMD:
		return amdGeneration(name)
	default:
		return GenUnknown
	}
}

func intelGeneration(name string) CPUGeneration {
	switch {
	case containsAny(name, "core(tm)2", "pentium(r) dual"):
		return GenCore2
	case containsAny(name, "i3-2", "i5-2", "i7-2"):
		return GenSandyBridge
	case containsAny(name, "i3-3", "i5-3", "i7-3"):
		return GenIvyBridge
	case containsAny(name, "i3-4", "i5-4", "i7-4"):
		return GenHaswell
	case containsAny(name, "i3-5", "i5-5", "i7-5"):
		return GenBroadwell
	case skylakePlusPattern.MatchString(name):
		return GenSkylakePlus
	case containsAny(name, "i3", "i5", "i7"):
		return GenNehalem
	default:
		return GenUnknown
	}
}

func amdGeneration(name string) CPUGeneration {
	switch {
	case containsAny(name, "ryzen", "epyc"):
		return GenZen
	case containsAny(name, "fx", "bulldozer"):
		return GenBulldozer
	case containsAny(name, "phenom", "athlon ii"):
		return GenK10
	case containsAny(name, "athlon 64", "opteron"):
		return GenK8
	default:
		return GenUnknown
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}

	return false
}

// MaxJunctionTemp returns the maximum safe junction temperature in
// degrees Celsius for a detected family. Unknown hardware gets the
// most conservative value in the table.
func MaxJunctionTemp(vendor CPUVendor, gen CPUGeneration) int {
	switch gen {
	case GenCore2:
		return 85
	case GenNehalem, GenSandyBridge:
		return 95
	case GenIvyBridge, GenHaswell, GenBroadwell, GenSkylakePlus:
		return 100
	case GenK8, GenK10:
		return 70
	case GenBulldozer:
		return 75
	case GenZen:
		return 95
	case GenUnknown:
	}

	if vendor == VendorUnknown {
		return 70
	}

	return 85
}

// LimitsForJunction derives the zone bounds as fixed fractions of the
// maximum junction temperature: 65, 75, 85 and 95 percent.
func LimitsForJunction(junction int) ThermalLimits {
	return ThermalLimits{
		Comfort:   junction * 65 / 100,
		Warning:   junction * 75 / 100,
		Critical:  junction * 85 / 100,
		Emergency: junction * 95 / 100,
	}
}
