// Package monitor runs the daemon's control loop: poll sensors,
// evaluate the thermal state machine, plan targets for the active
// profile, push them through the control chains, and record telemetry.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codeberg.org/mutker/powerctl/internal/control"
	"codeberg.org/mutker/powerctl/internal/errors"
	"codeberg.org/mutker/powerctl/internal/hardware"
	"codeberg.org/mutker/powerctl/internal/logger"
	"codeberg.org/mutker/powerctl/internal/power"
	"codeberg.org/mutker/powerctl/internal/sensors"
	"codeberg.org/mutker/powerctl/internal/telemetry"
	"codeberg.org/mutker/powerctl/internal/thermal"
)

const (
	defaultApplyTimeout = 5 * time.Second

	updateBuffer = 8

	gpuAlertWarning   = 75
	gpuAlertCritical  = 85
	gpuAlertEmergency = 95
)

// Poller produces one sensor snapshot per cycle
type Poller interface {
	Snapshot(ctx context.Context) sensors.Snapshot
}

// Applier pushes targets at the hardware
type Applier interface {
	SetFrequency(ctx context.Context, target control.Target) error
	SetFan(ctx context.Context, target control.Target) error
	SetGPUPower(ctx context.Context, target control.Target) error
	GPUPowerEnabled() bool
}

// StateUpdate is published to subscribers after every cycle
type StateUpdate struct {
	At      time.Time
	State   thermal.State
	Profile power.Profile
	Nice    int
	CPUTemp *float64
	GPUTemp *float64
	Alerts  []string
}

type Config struct {
	Interval     time.Duration
	ApplyTimeout time.Duration
	MonitorOnly  bool
	Debug        bool
	Verbose      bool
}

// Engine owns the control loop state between cycles
type Engine struct {
	cfg       Config
	hw        *hardware.Profile
	poller    Poller
	applier   Applier
	thermal   *thermal.Controller
	collector telemetry.Collector

	lastProfile power.Profile
	applyFailed bool

	mu   sync.Mutex
	last StateUpdate
	subs []chan StateUpdate
}

func New(cfg Config, hw *hardware.Profile, poller Poller, applier Applier,
	therm *thermal.Controller, collector telemetry.Collector,
) *Engine {
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = defaultApplyTimeout
	}

	return &Engine{
		cfg:       cfg,
		hw:        hw,
		poller:    poller,
		applier:   applier,
		thermal:   therm,
		collector: collector,
	}
}

// Subscribe returns a buffered channel of state updates. Slow
// consumers lose updates rather than stalling the loop.
func (e *Engine) Subscribe() <-chan StateUpdate {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan StateUpdate, updateBuffer)
	e.subs = append(e.subs, ch)

	return ch
}

// Current returns the most recent state update. The bool is false until
// the first cycle has run.
func (e *Engine) Current() (StateUpdate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.last, !e.last.At.IsZero()
}

// Run drives the loop until the context ends. The first cycle runs
// immediately so state exists before the first tick.
func (e *Engine) Run(ctx context.Context) error {
	errFactory := errors.New()

	if e.cfg.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, e.cfg.Interval)
	}

	if e.cfg.MonitorOnly {
		logger.Info().Msg("Monitor mode activated. Logging sensor status...")
	}

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	if !e.cfg.MonitorOnly {
		defer e.restore()
	}

	e.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.cycle(ctx)
		}
	}
}

func (e *Engine) cycle(ctx context.Context) {
	snap := e.poller.Snapshot(ctx)

	var cpuTemp *float64
	if v, ok := snap.CPUTemperature(); ok {
		cpuTemp = &v
	}

	decision := e.thermal.Evaluate(cpuTemp, snap.At)
	if decision.Notice != "" {
		logger.Warn().Msg(decision.Notice)
	}

	alerts := append([]string(nil), decision.Alerts...)
	alerts = append(alerts, e.gpuAlerts(snap)...)
	for _, alert := range alerts {
		logger.Warn().Msg(alert)
	}

	target := e.target(decision.Profile)
	if !e.cfg.MonitorOnly && e.shouldApply(decision.Profile) {
		e.apply(ctx, decision.Profile, target)
	}

	e.record(ctx, snap, decision, alerts)
	e.publish(snap, decision, alerts)
	e.logCycle(snap, decision, target)
}

func (e *Engine) target(profile power.Profile) control.Target {
	plan := profile.Plan(e.hw)

	return control.Target{
		FrequencyKHz: plan.FrequencyKHz,
		FanPercent:   plan.FanPercent,
		FanAuto:      plan.FanAuto,
		GPUPower:     plan.GPUPower,
	}
}

// shouldApply limits hardware writes to profile changes and retries
// after a failed apply
func (e *Engine) shouldApply(profile power.Profile) bool {
	return profile != e.lastProfile || e.applyFailed
}

func (e *Engine) apply(parent context.Context, profile power.Profile, target control.Target) {
	ctx, cancel := context.WithTimeout(parent, e.cfg.ApplyTimeout)
	defer cancel()

	failed := false
	if err := e.applier.SetFrequency(ctx, target); err != nil {
		logger.Warn().Msgf("Frequency control exhausted: %v", err)
		failed = true
	}
	if err := e.applier.SetFan(ctx, target); err != nil {
		logger.Warn().Msgf("Fan control exhausted: %v", err)
		failed = true
	}
	if e.applier.GPUPowerEnabled() {
		if err := e.applier.SetGPUPower(ctx, target); err != nil {
			logger.Warn().Msgf("GPU power control exhausted: %v", err)
			failed = true
		}
	}

	e.lastProfile = profile
	e.applyFailed = failed
	if !failed {
		logger.Debug().Msgf("Applied %s profile: %d kHz, fan %s", profile, target.FrequencyKHz, fanLabel(target))
	}
}

// restore hands fan and GPU power control back to the firmware on
// shutdown. The parent context is already done by the time this runs.
func (e *Engine) restore() {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ApplyTimeout)
	defer cancel()

	if err := e.applier.SetFan(ctx, control.Target{FanAuto: true}); err != nil {
		logger.Error().Err(err).Msg("failed to restore automatic fan control")
	}
	if e.applier.GPUPowerEnabled() {
		if err := e.applier.SetGPUPower(ctx, control.Target{GPUPower: power.GPUPowerAuto}); err != nil {
			logger.Error().Err(err).Msg("failed to restore GPU power limit")
		}
	}
	logger.Info().Msg("Exiting...")
}

func (e *Engine) gpuAlerts(snap sensors.Snapshot) []string {
	v, ok := snap.GPUTemperature()
	if !ok {
		return nil
	}

	switch {
	case v >= gpuAlertEmergency:
		return []string{fmt.Sprintf("gpu temperature %.1f°C at emergency level", v)}
	case v >= gpuAlertCritical:
		return []string{fmt.Sprintf("gpu temperature %.1f°C at critical level", v)}
	case v >= gpuAlertWarning:
		return []string{fmt.Sprintf("gpu temperature %.1f°C at warning level", v)}
	default:
		return nil
	}
}

func (e *Engine) record(ctx context.Context, snap sensors.Snapshot, decision thermal.Decision, alerts []string) {
	if e.collector == nil {
		return
	}

	cycle := &telemetry.Cycle{
		Timestamp: snap.At,
		Zone:      decision.State.Zone.String(),
		Profile:   string(decision.Profile),
		CPUTemp:   optional(snap.CPUTemperature()),
		GPUTemp:   optional(snap.GPUTemperature()),
		CPUFanRPM: optional(snap.CPUFanRPM()),
		GPUFanRPM: optional(snap.GPUFanRPM()),
		CPUPower:  optional(snap.CPUPower()),
		GPUPower:  optional(snap.GPUPower()),
		Voltages:  snap.Voltages(),
		Alerts:    alerts,
	}

	if err := e.collector.Record(ctx, cycle); err != nil {
		logger.Warn().Msgf("Failed to record telemetry: %v", err)
	}
}

func (e *Engine) publish(snap sensors.Snapshot, decision thermal.Decision, alerts []string) {
	update := StateUpdate{
		At:      snap.At,
		State:   decision.State,
		Profile: decision.Profile,
		Nice:    decision.NicePriority,
		CPUTemp: optional(snap.CPUTemperature()),
		GPUTemp: optional(snap.GPUTemperature()),
		Alerts:  alerts,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = update
	for _, ch := range e.subs {
		select {
		case ch <- update:
		default:
		}
	}
}

func (e *Engine) logCycle(snap sensors.Snapshot, decision thermal.Decision, target control.Target) {
	if e.cfg.Debug {
		logger.Debug().
			Str("zone", decision.State.Zone.String()).
			Str("profile", string(decision.Profile)).
			Int("escalation_count", decision.State.EscalationCount).
			Interface("cpu_temp", optional(snap.CPUTemperature())).
			Interface("gpu_temp", optional(snap.GPUTemperature())).
			Interface("cpu_fan_rpm", optional(snap.CPUFanRPM())).
			Interface("gpu_fan_rpm", optional(snap.GPUFanRPM())).
			Interface("cpu_power", optional(snap.CPUPower())).
			Int("target_freq_khz", target.FrequencyKHz).
			Str("target_fan", fanLabel(target)).
			Int("nice", decision.NicePriority).
			Bool("monitor", e.cfg.MonitorOnly).
			Msg("")
	} else if e.cfg.Verbose || e.cfg.MonitorOnly {
		logger.Info().
			Str("zone", decision.State.Zone.String()).
			Str("profile", string(decision.Profile)).
			Interface("cpu_temp", optional(snap.CPUTemperature())).
			Interface("gpu_temp", optional(snap.GPUTemperature())).
			Interface("cpu_fan_rpm", optional(snap.CPUFanRPM())).
			Msg("")
	}
}

func fanLabel(target control.Target) string {
	if target.FanAuto {
		return "auto"
	}

	return fmt.Sprintf("%d%%", target.FanPercent)
}

func optional(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}

	return &v
}
