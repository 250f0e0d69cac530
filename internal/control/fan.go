package control

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"codeberg.org/mutker/powerctl/internal/errors"
	"codeberg.org/mutker/powerctl/internal/gpu"
)

const (
	fanPriorityPWM      = 10
	fanPriorityNVML     = 20
	fanPrioritySettings = 30

	pwmGlob = "sys/class/hwmon/hwmon*/pwm*"

	pwmRawMax = 255
	pwmManual = "1"
	pwmAuto   = "2"
)

type FanMode string

const (
	FanModeAuto   FanMode = "auto"
	FanModeManual FanMode = "manual"
)

type FanKind string

const (
	FanKindPWM FanKind = "pwm"
	FanKindGPU FanKind = "gpu"
)

// FanDevice describes one controllable fan for status reporting
type FanDevice struct {
	Index   int     `json:"index"`
	Kind    FanKind `json:"kind"`
	Path    string  `json:"path"`
	Percent int     `json:"percent"`
	Mode    FanMode `json:"mode"`
}

// pwmMethod drives hwmon pwm interfaces. Manual duty cycles are floored
// so a low target cannot stall a fan; auto hands control back to the
// firmware and bypasses the floor.
type pwmMethod struct {
	root     string
	floor    int
	priority int
}

func (m *pwmMethod) Name() string  { return "pwm" }
func (m *pwmMethod) Kind() Kind    { return KindGovernor }
func (m *pwmMethod) Priority() int { return m.priority }

func (m *pwmMethod) Probe() bool {
	return len(pwmFiles(m.root)) > 0
}

func (m *pwmMethod) Apply(_ context.Context, target Target) error {
	errFactory := errors.New()

	files := pwmFiles(m.root)
	if len(files) == 0 {
		return errFactory.WithMessage(ErrApplyFailed, "no pwm controls found")
	}

	if target.FanAuto {
		enabled := false
		for _, file := range files {
			if err := writeSysfs(file+"_enable", pwmAuto); err == nil {
				enabled = true
			}
		}
		if !enabled {
			return errFactory.WithMessage(ErrApplyFailed, "no pwm enable controls found")
		}

		return nil
	}

	percent := clampFanPercent(target.FanPercent, m.floor)
	raw := strconv.Itoa(percent * pwmRawMax / 100)
	for _, file := range files {
		// missing enable files mean the fan is always manual
		if _, err := os.Stat(file + "_enable"); err == nil {
			if err := writeSysfs(file+"_enable", pwmManual); err != nil {
				return errFactory.Wrap(ErrApplyFailed, err)
			}
		}
		if err := writeSysfs(file, raw); err != nil {
			return errFactory.Wrap(ErrApplyFailed, err)
		}
	}

	return nil
}

// nvmlFanMethod drives GPU fans through the NVML wrapper
type nvmlFanMethod struct {
	dev      *gpu.Device
	floor    int
	priority int
}

func (m *nvmlFanMethod) Name() string  { return "nvmlfan" }
func (m *nvmlFanMethod) Kind() Kind    { return KindVendorTool }
func (m *nvmlFanMethod) Priority() int { return m.priority }

func (m *nvmlFanMethod) Probe() bool {
	return m.dev != nil && m.dev.FanCount() > 0
}

func (m *nvmlFanMethod) Apply(_ context.Context, target Target) error {
	errFactory := errors.New()

	if target.FanAuto {
		if err := m.dev.EnableAutoFan(); err != nil {
			return errFactory.Wrap(ErrApplyFailed, err)
		}

		return nil
	}

	if err := m.dev.SetFanSpeed(clampFanPercent(target.FanPercent, m.floor)); err != nil {
		return errFactory.Wrap(ErrApplyFailed, err)
	}

	return nil
}

// nvidiaSettingsMethod shells out to nvidia-settings for driver setups
// where NVML fan control is unavailable
type nvidiaSettingsMethod struct {
	floor    int
	priority int
	run      runCommandFunc
	look     lookPathFunc
}

func (m *nvidiaSettingsMethod) Name() string  { return "nvidia-settings" }
func (m *nvidiaSettingsMethod) Kind() Kind    { return KindVendorTool }
func (m *nvidiaSettingsMethod) Priority() int { return m.priority }

func (m *nvidiaSettingsMethod) Probe() bool {
	_, err := m.look("nvidia-settings")

	return err == nil
}

func (m *nvidiaSettingsMethod) Apply(ctx context.Context, target Target) error {
	errFactory := errors.New()

	if target.FanAuto {
		if err := m.run(ctx, "nvidia-settings", "-a", "GPUFanControlState=0"); err != nil {
			return errFactory.Wrap(ErrApplyFailed, err)
		}

		return nil
	}

	percent := clampFanPercent(target.FanPercent, m.floor)
	err := m.run(ctx, "nvidia-settings",
		"-a", "GPUFanControlState=1",
		"-a", fmt.Sprintf("GPUTargetFanSpeed=%d", percent))
	if err != nil {
		return errFactory.Wrap(ErrApplyFailed, err)
	}

	return nil
}

// DiscoverFans lists every fan the control layer could reach, for
// status reporting. dev may be nil.
func DiscoverFans(sysRoot string, dev *gpu.Device) []FanDevice {
	if sysRoot == "" {
		sysRoot = "/"
	}

	fans := make([]FanDevice, 0, 4)

	for _, file := range pwmFiles(sysRoot) {
		fan := FanDevice{
			Index: len(fans) + 1,
			Kind:  FanKindPWM,
			Path:  file,
			Mode:  FanModeManual,
		}
		if raw, err := readSysfsInt(file); err == nil {
			fan.Percent = raw * 100 / pwmRawMax
		}
		if data, err := os.ReadFile(file + "_enable"); err == nil {
			if strings.TrimSpace(string(data)) != pwmManual {
				fan.Mode = FanModeAuto
			}
		}
		fans = append(fans, fan)
	}

	if dev != nil {
		for i := 0; i < dev.FanCount(); i++ {
			fan := FanDevice{
				Index: len(fans) + 1,
				Kind:  FanKindGPU,
				Path:  fmt.Sprintf("nvml:fan%d", i),
				Mode:  FanModeAuto,
			}
			if speed, err := dev.FanSpeed(i); err == nil {
				fan.Percent = speed
			}
			fans = append(fans, fan)
		}
	}

	return fans
}

// pwmFiles returns the bare pwmN control files, skipping the _enable and
// _mode companions
func pwmFiles(root string) []string {
	matches, _ := filepath.Glob(filepath.Join(root, pwmGlob))

	files := make([]string, 0, len(matches))
	for _, match := range matches {
		suffix := strings.TrimPrefix(filepath.Base(match), "pwm")
		if suffix == "" {
			continue
		}
		if _, err := strconv.Atoi(suffix); err != nil {
			continue
		}
		files = append(files, match)
	}
	sort.Strings(files)

	return files
}

func clampFanPercent(percent, floor int) int {
	if percent > 100 {
		return 100
	}
	if percent < floor {
		return floor
	}

	return percent
}

func readSysfsInt(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	return strconv.Atoi(strings.TrimSpace(string(data)))
}
