package power

import (
	"strings"

	"codeberg.org/mutker/powerctl/internal/errors"
	"codeberg.org/mutker/powerctl/internal/hardware"
)

// Profile names an operating point for the whole machine
type Profile string

const (
	Performance Profile = "performance"
	Balanced    Profile = "balanced"
	PowerSave   Profile = "powersave"
	Emergency   Profile = "emergency"
)

var profiles = []Profile{Performance, Balanced, PowerSave, Emergency}

// ParseProfile normalizes and validates a profile name
func ParseProfile(s string) (Profile, error) {
	errFactory := errors.New()

	p := Profile(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range profiles {
		if p == known {
			return p, nil
		}
	}

	return "", errFactory.WithData(errors.ErrInvalidProfile, s)
}

func (p Profile) IsValid() bool {
	for _, known := range profiles {
		if p == known {
			return true
		}
	}

	return false
}

func (p Profile) String() string {
	return string(p)
}

// GPUPower is the coarse GPU power hint a profile requests
type GPUPower string

const (
	GPUPowerHigh GPUPower = "high"
	GPUPowerAuto GPUPower = "auto"
	GPUPowerLow  GPUPower = "low"
)

// Plan is the concrete set of targets a profile resolves to on the
// detected hardware
type Plan struct {
	Profile      Profile
	FrequencyKHz int
	GPUPower     GPUPower
	FanPercent   int
	FanAuto      bool
}

const (
	balancedFraction  = 0.7
	powersaveFraction = 0.5

	balancedFanPercent  = 50
	powersaveFanPercent = 75
	emergencyFanPercent = 100
)

// Plan resolves the profile against detected hardware. Frequencies
// interpolate across the supported range; fans get more aggressive as
// profiles throttle down.
func (p Profile) Plan(hw *hardware.Profile) Plan {
	span := hw.MaxFreqKHz - hw.MinFreqKHz

	plan := Plan{Profile: p}
	switch p {
	case Performance:
		plan.FrequencyKHz = hw.MaxFreqKHz
		plan.GPUPower = GPUPowerHigh
		plan.FanAuto = true
	case Balanced:
		plan.FrequencyKHz = hw.MinFreqKHz + int(float64(span)*balancedFraction)
		plan.GPUPower = GPUPowerAuto
		plan.FanPercent = balancedFanPercent
	case PowerSave:
		plan.FrequencyKHz = hw.MinFreqKHz + int(float64(span)*powersaveFraction)
		plan.GPUPower = GPUPowerLow
		plan.FanPercent = powersaveFanPercent
	case Emergency:
		plan.FrequencyKHz = hw.MinFreqKHz
		plan.GPUPower = GPUPowerLow
		plan.FanPercent = emergencyFanPercent
	}

	return plan
}
