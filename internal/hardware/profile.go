package hardware

import (
	"fmt"

	"codeberg.org/mutker/powerctl/internal/errors"
)

// CPUVendor identifies the CPU manufacturer
type CPUVendor string

const (
	VendorIntel   CPUVendor = "intel"
	VendorAMD     CPUVendor = "amd"
	VendorUnknown CPUVendor = "unknown"
)

// GPUVendor identifies the GPU manufacturer, if a GPU was found
type GPUVendor string

const (
	GPUNone   GPUVendor = ""
	GPUNvidia GPUVendor = "nvidia"
	GPUAMD    GPUVendor = "amd"
	GPUIntel  GPUVendor = "intel"
)

// FreqMethod names a CPU frequency control strategy. Methods are tried
// in the order they appear in Profile.FreqMethods.
type FreqMethod string

const (
	FreqMethodPState    FreqMethod = "intel_pstate"
	FreqMethodUserspace FreqMethod = "userspace"
	FreqMethodMSR       FreqMethod = "msr"
	FreqMethodCPUPower  FreqMethod = "cpupower"
	FreqMethodBootParam FreqMethod = "bootparam"
)

// ThermalLimits holds the upper bound of each thermal zone in degrees
// Celsius. Emergency is the absolute ceiling at which the controller
// jumps straight to the emergency zone.
type ThermalLimits struct {
	Comfort   int `json:"comfort"`
	Warning   int `json:"warning"`
	Critical  int `json:"critical"`
	Emergency int `json:"emergency"`
}

// Valid reports whether the bounds increase strictly
func (l ThermalLimits) Valid() bool {
	return l.Comfort > 0 &&
		l.Comfort < l.Warning &&
		l.Warning < l.Critical &&
		l.Critical < l.Emergency
}

func (l ThermalLimits) String() string {
	return fmt.Sprintf("%d/%d/%d/%d°C", l.Comfort, l.Warning, l.Critical, l.Emergency)
}

// Profile describes the capabilities detected on the running machine.
// It is assembled once at startup and treated as read-only afterwards.
type Profile struct {
	Vendor     CPUVendor     `json:"vendor"`
	Model      string        `json:"model"`
	Generation CPUGeneration `json:"generation"`
	Cores      int           `json:"cores"`
	MinFreqKHz int           `json:"min_freq_khz"`
	MaxFreqKHz int           `json:"max_freq_khz"`
	Limits     ThermalLimits `json:"thermal_limits"`

	// FreqMethods is the ranked list of frequency control strategies
	// worth attempting on this machine, most capable first.
	FreqMethods []FreqMethod `json:"freq_methods"`

	HasCPUFreq bool `json:"has_cpufreq"`
	HasMSR     bool `json:"has_msr"`

	GPU             GPUVendor `json:"gpu,omitempty"`
	GPUModel        string    `json:"gpu_model,omitempty"`
	GPUDevice       string    `json:"gpu_device,omitempty"`
	GPUPowerProfile bool      `json:"gpu_power_profile,omitempty"`
	GPUPowerCap     bool      `json:"gpu_power_cap,omitempty"`

	// Machine is the DMI vendor and product string, when readable
	Machine string `json:"machine,omitempty"`
}

// SupportsMethod reports whether the given method appears in the
// ranked method list.
func (p *Profile) SupportsMethod(m FreqMethod) bool {
	for _, have := range p.FreqMethods {
		if have == m {
			return true
		}
	}

	return false
}

// OverrideLimits replaces individual zone bounds with configured
// values. Zero keeps the detected bound. The merged set must still
// increase strictly.
func (p *Profile) OverrideLimits(comfort, warning, critical, emergency int) error {
	errFactory := errors.New()

	merged := p.Limits
	if comfort > 0 {
		merged.Comfort = comfort
	}
	if warning > 0 {
		merged.Warning = warning
	}
	if critical > 0 {
		merged.Critical = critical
	}
	if emergency > 0 {
		merged.Emergency = emergency
	}

	if !merged.Valid() {
		return errFactory.WithData(errors.ErrInvalidLimits, merged)
	}

	p.Limits = merged

	return nil
}

// OverrideFreqRange replaces the detected frequency range with
// configured values. Zero keeps the detected bound.
func (p *Profile) OverrideFreqRange(minKHz, maxKHz int) error {
	errFactory := errors.New()

	mergedMin := p.MinFreqKHz
	mergedMax := p.MaxFreqKHz
	if minKHz > 0 {
		mergedMin = minKHz
	}
	if maxKHz > 0 {
		mergedMax = maxKHz
	}

	if mergedMin <= 0 || mergedMin >= mergedMax {
		return errFactory.WithData(ErrInvalidFreqRange, []int{mergedMin, mergedMax})
	}

	p.MinFreqKHz = mergedMin
	p.MaxFreqKHz = mergedMax

	return nil
}
