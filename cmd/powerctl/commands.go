package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"codeberg.org/mutker/powerctl/internal/config"
	"codeberg.org/mutker/powerctl/internal/control"
	"codeberg.org/mutker/powerctl/internal/gpu"
	"codeberg.org/mutker/powerctl/internal/hardware"
	"codeberg.org/mutker/powerctl/internal/pid"
	"codeberg.org/mutker/powerctl/internal/power"
	"codeberg.org/mutker/powerctl/internal/sensors"
	"codeberg.org/mutker/powerctl/internal/telemetry"
	"codeberg.org/mutker/powerctl/internal/thermal"
)

func cmdStatus() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show daemon liveness and a live sensor snapshot",
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadPath(c.String("config"))
			if err != nil {
				return err
			}

			if daemon, ok := pid.Running(); ok {
				fmt.Printf("powerd running (pid %d)\n", daemon)
			} else {
				fmt.Println("powerd not running")
			}

			hw := hardware.NewDetector().Detect(c.Context)
			dev := openGPU(hw)
			if dev != nil {
				defer dev.Shutdown()
			}

			snap := buildPoller(cfg, hw, dev).Snapshot(c.Context)
			printSnapshot(hw, snap)

			if cycle, err := lastSnapshot(cfg.SnapshotLog); err == nil {
				fmt.Printf("\nlast recorded cycle (%s): zone %s, profile %s\n",
					cycle.Timestamp.Format(time.RFC3339), cycle.Zone, cycle.Profile)
			}

			return nil
		},
	}
}

func cmdDetect() *cli.Command {
	return &cli.Command{
		Name:  "detect",
		Usage: "Probe hardware capabilities and print the detected profile",
		Action: func(c *cli.Context) error {
			return printJSON(hardware.NewDetector().Detect(c.Context))
		},
	}
}

func cmdSetProfile() *cli.Command {
	return &cli.Command{
		Name:      "set-profile",
		Usage:     "Apply a power profile once and exit",
		ArgsUsage: "<performance|balanced|powersave|emergency>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one profile name")
			}
			profile, err := power.ParseProfile(c.Args().First())
			if err != nil {
				return err
			}

			cfg, err := config.LoadPath(c.String("config"))
			if err != nil {
				return err
			}

			hw := hardware.NewDetector().Detect(c.Context)
			if err := hw.OverrideFreqRange(cfg.FreqMinKHz, cfg.FreqMaxKHz); err != nil {
				return err
			}

			dev := openGPU(hw)
			if dev != nil {
				defer dev.Shutdown()
			}

			ctrl := control.NewController(hw, dev, control.Config{FanFloor: cfg.FanFloor})
			plan := profile.Plan(hw)
			target := control.Target{
				FrequencyKHz: plan.FrequencyKHz,
				FanPercent:   plan.FanPercent,
				FanAuto:      plan.FanAuto,
				GPUPower:     plan.GPUPower,
			}

			failed := false
			if err := ctrl.SetFrequency(c.Context, target); err != nil {
				fmt.Fprintf(os.Stderr, "frequency: %v\n", err)
				failed = true
			} else {
				fmt.Printf("frequency: %d kHz via %s\n", plan.FrequencyKHz, ctrl.Frequency.LastMethod())
			}

			if err := ctrl.SetFan(c.Context, target); err != nil {
				fmt.Fprintf(os.Stderr, "fan: %v\n", err)
				failed = true
			} else if plan.FanAuto {
				fmt.Printf("fan: automatic via %s\n", ctrl.Fan.LastMethod())
			} else {
				fmt.Printf("fan: %d%% via %s\n", plan.FanPercent, ctrl.Fan.LastMethod())
			}

			if ctrl.GPUPowerEnabled() {
				if err := ctrl.SetGPUPower(c.Context, target); err != nil {
					fmt.Fprintf(os.Stderr, "gpu power: %v\n", err)
					failed = true
				} else {
					fmt.Printf("gpu power: %s via %s\n", plan.GPUPower, ctrl.GPUPower.LastMethod())
				}
			}

			if failed {
				return fmt.Errorf("some settings could not be applied")
			}

			return nil
		},
	}
}

func cmdThermal() *cli.Command {
	return &cli.Command{
		Name:      "thermal",
		Usage:     "Show the zone mapping, or classify a zone name or temperature",
		ArgsUsage: "[zone|temperature]",
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadPath(c.String("config"))
			if err != nil {
				return err
			}

			hw := hardware.NewDetector().Detect(c.Context)
			if err := hw.OverrideLimits(cfg.ComfortTemp, cfg.WarningTemp, cfg.CriticalTemp, cfg.EmergencyTemp); err != nil {
				return err
			}

			base, err := power.ParseProfile(cfg.Profile)
			if err != nil {
				return err
			}

			if c.NArg() == 0 {
				fmt.Printf("thermal limits: %s\n", hw.Limits)
				for _, zone := range []thermal.Zone{
					thermal.ZoneComfort, thermal.ZoneWarning, thermal.ZoneCritical, thermal.ZoneEmergency,
				} {
					printZone(hw.Limits, zone, base)
				}

				return nil
			}

			arg := c.Args().First()
			if zone, ok := thermal.ParseZone(arg); ok {
				printZone(hw.Limits, zone, base)

				return nil
			}

			t, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				return fmt.Errorf("expected a zone name or temperature, got %q", arg)
			}
			zone := thermal.Classify(hw.Limits, t)
			fmt.Printf("%.1f°C falls in the %s zone\n", t, zone)
			printZone(hw.Limits, zone, base)

			return nil
		},
	}
}

func cmdFans() *cli.Command {
	return &cli.Command{
		Name:  "fans",
		Usage: "List discovered fan control devices",
		Action: func(c *cli.Context) error {
			hw := hardware.NewDetector().Detect(c.Context)
			dev := openGPU(hw)
			if dev != nil {
				defer dev.Shutdown()
			}

			fans := control.DiscoverFans("", dev)
			if len(fans) == 0 {
				fmt.Println("no controllable fans found")

				return nil
			}

			return printJSON(fans)
		},
	}
}

func cmdHistory() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Query recorded cycle history from the telemetry database",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "since",
				Value: 24 * time.Hour,
				Usage: "how far back to query",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Value:   20,
				Usage:   "maximum rows returned",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print rows as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadPath(c.String("config"))
			if err != nil {
				return err
			}

			repo, err := telemetry.NewRepository(telemetry.Config{DBPath: cfg.TelemetryDB})
			if err != nil {
				return err
			}
			defer repo.Close()

			since := time.Now().Add(-c.Duration("since"))
			cycles, err := repo.History(c.Context, since, c.Int("limit"))
			if err != nil {
				return err
			}
			if len(cycles) == 0 {
				fmt.Println("no cycles recorded")

				return nil
			}
			if c.Bool("json") {
				return printJSON(cycles)
			}

			for _, cycle := range cycles {
				line := fmt.Sprintf("%s  %-9s %-11s", cycle.Timestamp.Format(time.RFC3339), cycle.Zone, cycle.Profile)
				if cycle.CPUTemp != nil {
					line += fmt.Sprintf("  cpu %.1f°C", *cycle.CPUTemp)
				}
				if cycle.GPUTemp != nil {
					line += fmt.Sprintf("  gpu %.1f°C", *cycle.GPUTemp)
				}
				fmt.Println(line)
				for _, alert := range cycle.Alerts {
					fmt.Printf("  ! %s\n", alert)
				}
			}

			return nil
		},
	}
}

func openGPU(hw *hardware.Profile) *gpu.Device {
	if hw.GPU != hardware.GPUNvidia {
		return nil
	}

	dev, err := gpu.New()
	if err != nil {
		return nil
	}

	return dev
}

func buildPoller(cfg *config.Config, hw *hardware.Profile, dev *gpu.Device) *sensors.Aggregator {
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

	return sensors.NewAggregator(time.Duration(cfg.BackendTimeout)*time.Second, backends...)
}

func printSnapshot(hw *hardware.Profile, snap sensors.Snapshot) {
	if v, ok := snap.CPUTemperature(); ok {
		fmt.Printf("cpu temperature: %.1f°C (%s zone)\n", v, thermal.Classify(hw.Limits, v))
	} else {
		fmt.Println("cpu temperature: unavailable")
	}
	if v, ok := snap.GPUTemperature(); ok {
		fmt.Printf("gpu temperature: %.1f°C\n", v)
	}
	if v, ok := snap.CPUFanRPM(); ok {
		fmt.Printf("cpu fan: %.0f rpm\n", v)
	}
	if v, ok := snap.GPUFanRPM(); ok {
		fmt.Printf("gpu fan: %.0f\n", v)
	}
	if v, ok := snap.CPUPower(); ok {
		fmt.Printf("cpu power: %.1f W\n", v)
	}
	if v, ok := snap.GPUPower(); ok {
		fmt.Printf("gpu power: %.1f W\n", v)
	}
}

func printZone(limits hardware.ThermalLimits, zone thermal.Zone, base power.Profile) {
	fmt.Printf("%-9s  %-12s  profile %-11s  nice %d\n",
		zone, zoneBand(limits, zone), thermal.ZoneProfile(zone, base), thermal.ZoneNice(zone, 0))
}

func zoneBand(limits hardware.ThermalLimits, zone thermal.Zone) string {
	switch zone {
	case thermal.ZoneWarning:
		return fmt.Sprintf("%d-%d°C", limits.Comfort, limits.Warning-1)
	case thermal.ZoneCritical:
		return fmt.Sprintf("%d-%d°C", limits.Warning, limits.Critical-1)
	case thermal.ZoneEmergency:
		return fmt.Sprintf(">= %d°C", limits.Critical)
	default:
		return fmt.Sprintf("< %d°C", limits.Comfort)
	}
}

// lastSnapshot reads the newest entry from the snapshot journal
func lastSnapshot(path string) (*telemetry.Cycle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var last string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			last = line
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if last == "" {
		return nil, fmt.Errorf("journal is empty")
	}

	cycle := &telemetry.Cycle{}
	if err := json.Unmarshal([]byte(last), cycle); err != nil {
		return nil, err
	}

	return cycle, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))

	return nil
}
