package control

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"codeberg.org/mutker/powerctl/internal/errors"
	"codeberg.org/mutker/powerctl/internal/gpu"
	"codeberg.org/mutker/powerctl/internal/power"
)

const (
	gpuPriorityNVML = 10
	gpuPriorityAMD  = 20
	gpuPrioritySMI  = 30
)

// tokenWatts resolves a GPU power token against the board's limits
func tokenWatts(limits gpu.Limits, token power.GPUPower) (int, bool) {
	switch token {
	case power.GPUPowerHigh:
		return limits.Max, true
	case power.GPUPowerAuto:
		return limits.Default, true
	case power.GPUPowerLow:
		return limits.Min, true
	default:
		return 0, false
	}
}

// nvmlPowerMethod maps tokens onto the NVML power management limit
type nvmlPowerMethod struct {
	dev      *gpu.Device
	priority int
}

func (m *nvmlPowerMethod) Name() string  { return "nvmlpower" }
func (m *nvmlPowerMethod) Kind() Kind    { return KindVendorTool }
func (m *nvmlPowerMethod) Priority() int { return m.priority }

func (m *nvmlPowerMethod) Probe() bool {
	return m.dev != nil && m.dev.PowerLimits().Max > 0
}

func (m *nvmlPowerMethod) Apply(_ context.Context, target Target) error {
	errFactory := errors.New()

	watts, ok := tokenWatts(m.dev.PowerLimits(), target.GPUPower)
	if !ok {
		return errFactory.WithData(ErrUnsupportedTarget, string(target.GPUPower))
	}

	if err := m.dev.SetPowerLimit(watts); err != nil {
		return errFactory.Wrap(ErrApplyFailed, err)
	}

	return nil
}

// amdProfileMethod writes the token to the radeon power_profile sysfs
// attribute, which accepts the same low/auto/high vocabulary
type amdProfileMethod struct {
	device   string
	priority int
}

func (m *amdProfileMethod) Name() string  { return "amdprofile" }
func (m *amdProfileMethod) Kind() Kind    { return KindGovernor }
func (m *amdProfileMethod) Priority() int { return m.priority }

func (m *amdProfileMethod) profilePath() string {
	return filepath.Join(m.device, "device", "power_profile")
}

func (m *amdProfileMethod) Probe() bool {
	if m.device == "" {
		return false
	}
	_, err := os.Stat(m.profilePath())

	return err == nil
}

func (m *amdProfileMethod) Apply(_ context.Context, target Target) error {
	errFactory := errors.New()

	switch target.GPUPower {
	case power.GPUPowerHigh, power.GPUPowerAuto, power.GPUPowerLow:
	default:
		return errFactory.WithData(ErrUnsupportedTarget, string(target.GPUPower))
	}

	if err := writeSysfs(m.profilePath(), string(target.GPUPower)); err != nil {
		return errFactory.Wrap(ErrApplyFailed, err)
	}

	return nil
}

// nvidiaSMIPowerMethod sets the power limit through nvidia-smi when NVML
// is unavailable. Board limits are queried once and cached.
type nvidiaSMIPowerMethod struct {
	priority int
	run      runCommandFunc
	output   commandOutputFunc
	look     lookPathFunc

	mu     sync.Mutex
	limits *gpu.Limits
}

func (m *nvidiaSMIPowerMethod) Name() string  { return "nvidiasmipower" }
func (m *nvidiaSMIPowerMethod) Kind() Kind    { return KindVendorTool }
func (m *nvidiaSMIPowerMethod) Priority() int { return m.priority }

func (m *nvidiaSMIPowerMethod) Probe() bool {
	_, err := m.look("nvidia-smi")

	return err == nil
}

func (m *nvidiaSMIPowerMethod) Apply(ctx context.Context, target Target) error {
	errFactory := errors.New()

	limits, err := m.queryLimits(ctx)
	if err != nil {
		return errFactory.Wrap(ErrApplyFailed, err)
	}

	watts, ok := tokenWatts(limits, target.GPUPower)
	if !ok {
		return errFactory.WithData(ErrUnsupportedTarget, string(target.GPUPower))
	}

	if err := m.run(ctx, "nvidia-smi", "-pl", strconv.Itoa(watts)); err != nil {
		return errFactory.Wrap(ErrApplyFailed, err)
	}

	return nil
}

func (m *nvidiaSMIPowerMethod) queryLimits(ctx context.Context) (gpu.Limits, error) {
	errFactory := errors.New()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.limits != nil {
		return *m.limits, nil
	}

	out, err := m.output(ctx, "nvidia-smi",
		"--query-gpu=power.default_limit,power.min_limit,power.max_limit",
		"--format=csv,noheader,nounits")
	if err != nil {
		return gpu.Limits{}, err
	}

	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	fields := strings.Split(line, ",")
	if len(fields) != 3 {
		return gpu.Limits{}, errFactory.WithData(ErrUnsupportedTarget, line).
			WithMessage("unexpected nvidia-smi power limit output")
	}

	values := make([]int, 3)
	for i, field := range fields {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return gpu.Limits{}, errFactory.Wrap(ErrUnsupportedTarget, err)
		}
		values[i] = int(parsed)
	}

	m.limits = &gpu.Limits{Default: values[0], Min: values[1], Max: values[2]}

	return *m.limits, nil
}
