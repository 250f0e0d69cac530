package telemetry

import (
	"context"
	"time"
)

// Collector defines the core domain interface
type Collector interface {
	Record(ctx context.Context, cycle *Cycle) error
	Close() error
}

// Repository persists cycles and serves history queries
type Repository interface {
	Store(ctx context.Context, cycle *Cycle) error
	History(ctx context.Context, since time.Time, limit int) ([]Cycle, error)
	Close() error
}

// Cycle is one monitoring cycle's worth of telemetry. Pointer fields
// are nil when the underlying sensor was unreadable that cycle.
type Cycle struct {
	Timestamp time.Time          `json:"timestamp"`
	Zone      string             `json:"zone"`
	Profile   string             `json:"profile"`
	CPUTemp   *float64           `json:"cpu_temp,omitempty"`
	GPUTemp   *float64           `json:"gpu_temp,omitempty"`
	CPUFanRPM *float64           `json:"cpu_fan_rpm,omitempty"`
	GPUFanRPM *float64           `json:"gpu_fan_rpm,omitempty"`
	CPUPower  *float64           `json:"cpu_power,omitempty"`
	GPUPower  *float64           `json:"gpu_power,omitempty"`
	Voltages  map[string]float64 `json:"voltages,omitempty"`
	Alerts    []string           `json:"alerts,omitempty"`
}
