package sensors

import (
	"strings"
	"time"
)

// Type classifies a sensor reading
type Type string

const (
	TypeTemperature Type = "temperature"
	TypeFanRPM      Type = "fan_rpm"
	TypeVoltage     Type = "voltage"
	TypePower       Type = "power"
	TypeCurrent     Type = "current"
)

// Reading is a single sensor observation. Value is nil when the sensor
// exists but could not be read; a missing value is never reported as
// zero.
type Reading struct {
	Chip   string   `json:"chip"`
	Label  string   `json:"label"`
	Type   Type     `json:"type"`
	Value  *float64 `json:"value"`
	Source string   `json:"source"`
}

// Float returns a pointer to v, for building readings
func Float(v float64) *float64 {
	return &v
}

// Snapshot is the merged view of all sensors at one poll cycle. It is
// assembled once and treated as read-only afterwards.
type Snapshot struct {
	At       time.Time `json:"at"`
	Readings []Reading `json:"readings"`
}

// ByType returns all readings of the given type, in snapshot order
func (s Snapshot) ByType(t Type) []Reading {
	var out []Reading
	for _, r := range s.Readings {
		if r.Type == t {
			out = append(out, r)
		}
	}

	return out
}

// CPUTemperature returns the CPU package temperature. It prefers
// package or Tctl readings from CPU sensor chips and falls back to the
// first readable non-GPU temperature, then to any temperature at all.
func (s Snapshot) CPUTemperature() (float64, bool) {
	for _, r := range s.Readings {
		if r.Type != TypeTemperature || r.Value == nil {
			continue
		}
		if isCPUChip(r.Chip) && isPackageLabel(r.Label) {
			return *r.Value, true
		}
	}

	for _, r := range s.Readings {
		if r.Type == TypeTemperature && r.Value != nil && !isGPUChip(r.Chip) {
			return *r.Value, true
		}
	}

	for _, r := range s.Readings {
		if r.Type == TypeTemperature && r.Value != nil {
			return *r.Value, true
		}
	}

	return 0, false
}

// GPUTemperature returns the GPU core temperature, preferring edge or
// junction readings
func (s Snapshot) GPUTemperature() (float64, bool) {
	for _, r := range s.Readings {
		if r.Type != TypeTemperature || r.Value == nil || !isGPUChip(r.Chip) {
			continue
		}
		if containsAny(strings.ToLower(r.Label), "core", "edge", "junction") {
			return *r.Value, true
		}
	}

	for _, r := range s.Readings {
		if r.Type == TypeTemperature && r.Value != nil && isGPUChip(r.Chip) {
			return *r.Value, true
		}
	}

	return 0, false
}

// CPUFanRPM returns the CPU fan speed, matching by label first and
// falling back to the first readable non-GPU fan
func (s Snapshot) CPUFanRPM() (float64, bool) {
	for _, r := range s.Readings {
		if r.Type != TypeFanRPM || r.Value == nil || isGPUChip(r.Chip) {
			continue
		}
		if containsAny(strings.ToLower(r.Label), "cpu", "fan1") {
			return *r.Value, true
		}
	}

	for _, r := range s.Readings {
		if r.Type == TypeFanRPM && r.Value != nil && !isGPUChip(r.Chip) {
			return *r.Value, true
		}
	}

	return 0, false
}

// GPUFanRPM returns the GPU fan reading. NVIDIA reports duty cycle
// percent rather than RPM and the value is passed through as is.
func (s Snapshot) GPUFanRPM() (float64, bool) {
	for _, r := range s.Readings {
		if r.Type == TypeFanRPM && r.Value != nil && isGPUChip(r.Chip) {
			return *r.Value, true
		}
	}

	return 0, false
}

// CPUPower returns the CPU package power draw in watts
func (s Snapshot) CPUPower() (float64, bool) {
	for _, r := range s.Readings {
		if r.Type != TypePower || r.Value == nil || isGPUChip(r.Chip) {
			continue
		}
		if containsAny(strings.ToLower(r.Label), "package", "cpu") {
			return *r.Value, true
		}
	}

	return 0, false
}

// GPUPower returns the GPU board power draw in watts
func (s Snapshot) GPUPower() (float64, bool) {
	for _, r := range s.Readings {
		if r.Type == TypePower && r.Value != nil && isGPUChip(r.Chip) {
			return *r.Value, true
		}
	}

	return 0, false
}

const maxReportedVoltages = 5

// Voltages returns up to five readable voltage rails by label
func (s Snapshot) Voltages() map[string]float64 {
	out := make(map[string]float64)
	for _, r := range s.Readings {
		if r.Type != TypeVoltage || r.Value == nil {
			continue
		}
		out[r.Label] = *r.Value
		if len(out) >= maxReportedVoltages {
			break
		}
	}

	return out
}

func isCPUChip(chip string) bool {
	return containsAny(strings.ToLower(chip), "coretemp", "k10temp", "cpu")
}

func isGPUChip(chip string) bool {
	return containsAny(strings.ToLower(chip), "gpu", "nvidia", "nouveau", "radeon")
}

func isPackageLabel(label string) bool {
	return containsAny(strings.ToLower(label), "package", "tctl")
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}

	return false
}
