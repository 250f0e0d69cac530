package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/powerctl/internal/config"
	"codeberg.org/mutker/powerctl/internal/control"
	"codeberg.org/mutker/powerctl/internal/gpu"
	"codeberg.org/mutker/powerctl/internal/hardware"
	"codeberg.org/mutker/powerctl/internal/logger"
	"codeberg.org/mutker/powerctl/internal/monitor"
	"codeberg.org/mutker/powerctl/internal/pid"
	"codeberg.org/mutker/powerctl/internal/power"
	"codeberg.org/mutker/powerctl/internal/priority"
	"codeberg.org/mutker/powerctl/internal/sensors"
	"codeberg.org/mutker/powerctl/internal/telemetry"
	"codeberg.org/mutker/powerctl/internal/thermal"
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	if err := pid.Write(); err != nil {
		logger.Fatal().Err(err).Msg("failed to acquire PID file")
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := run(ctx); err != nil {
		logger.Error().Err(err).Msg("error in main loop")
	}
}

func run(ctx context.Context) error {
	hw, err := detectHardware(ctx)
	if err != nil {
		return err
	}

	dev := openGPU(hw)
	if dev != nil {
		defer dev.Shutdown()
	}

	applier := control.NewController(hw, dev, control.Config{FanFloor: cfg.FanFloor})
	poller := buildPoller(hw, dev)

	collector, err := buildCollector()
	if err != nil {
		return err
	}
	defer func() {
		if err := collector.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close telemetry")
		}
	}()

	base, err := power.ParseProfile(cfg.Profile)
	if err != nil {
		return err
	}

	therm := thermal.NewController(thermal.Config{
		Limits:           hw.Limits,
		HysteresisMargin: cfg.Hysteresis,
		EscalationLimit:  cfg.EscalationLimit,
		BaseProfile:      base,
	})

	engine := monitor.New(monitor.Config{
		Interval:     time.Duration(cfg.Interval) * time.Second,
		ApplyTimeout: time.Duration(cfg.ApplyTimeout) * time.Second,
		MonitorOnly:  cfg.Monitor,
		Debug:        cfg.Debug,
		Verbose:      cfg.Verbose,
	}, hw, poller, applier, therm, collector)

	startPriority(ctx, engine)

	return engine.Run(ctx)
}

func detectHardware(ctx context.Context) (*hardware.Profile, error) {
	hw := hardware.NewDetector().Detect(ctx)

	if err := hw.OverrideLimits(cfg.ComfortTemp, cfg.WarningTemp, cfg.CriticalTemp, cfg.EmergencyTemp); err != nil {
		return nil, err
	}
	if err := hw.OverrideFreqRange(cfg.FreqMinKHz, cfg.FreqMaxKHz); err != nil {
		return nil, err
	}

	logger.Info().
		Str("vendor", string(hw.Vendor)).
		Str("model", hw.Model).
		Int("cores", hw.Cores).
		Int("min_freq_khz", hw.MinFreqKHz).
		Int("max_freq_khz", hw.MaxFreqKHz).
		Str("thermal_limits", hw.Limits.String()).
		Interface("freq_methods", hw.FreqMethods).
		Str("gpu", string(hw.GPU)).
		Msg("Hardware profile detected")

	return hw, nil
}

// openGPU initializes NVML when an NVIDIA GPU was detected. Failure is
// not fatal; the command line fallbacks take over.
func openGPU(hw *hardware.Profile) *gpu.Device {
	if hw.GPU != hardware.GPUNvidia {
		return nil
	}

	dev, err := gpu.New()
	if err != nil {
		logger.Warn().Err(err).Msg("NVML unavailable, falling back to command line tools")

		return nil
	}
	logger.Debug().Str("name", dev.Name()).Msg("NVML initialized")

	return dev
}

func buildPoller(hw *hardware.Profile, dev *gpu.Device) *sensors.Aggregator {
	backends := []sensors.Backend{
		sensors.NewHwmon(""),
		sensors.NewThermalZone(""),
		sensors.NewACPI(""),
	}
	if _, err := exec.LookPath("sensors"); err == nil {
		backends = append(backends, sensors.NewLMSensors())
	}
	if dev != nil {
		backends = append(backends, sensors.NewNVML(dev))
	} else if hw.GPU == hardware.GPUNvidia {
		backends = append(backends, sensors.NewNVIDIASMI())
	}

	agg := sensors.NewAggregator(time.Duration(cfg.BackendTimeout)*time.Second, backends...)
	logger.Debug().Strs("backends", agg.Backends()).Msg("Sensor backends initialized")

	return agg
}

func buildCollector() (telemetry.Collector, error) {
	tcfg := telemetry.Config{JournalPath: cfg.SnapshotLog}
	if cfg.Telemetry {
		tcfg.DBPath = cfg.TelemetryDB
	}

	return telemetry.Open(tcfg)
}

// startPriority feeds thermal state changes to the workload renicer.
// Without configured patterns nothing is started.
func startPriority(ctx context.Context, engine *monitor.Engine) {
	if !cfg.Priority || len(cfg.PriorityPatterns) == 0 {
		return
	}

	manager := priority.NewManager(priority.Config{Patterns: cfg.PriorityPatterns})
	updates := engine.Subscribe()
	nice := make(chan int, 8)

	go func() {
		defer close(nice)
		for {
			select {
			case <-ctx.Done():
				return
			case update := <-updates:
				select {
				case nice <- update.Nice:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	go manager.Run(ctx, nice)

	logger.Debug().Strs("patterns", cfg.PriorityPatterns).Msg("Workload priority manager started")
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
