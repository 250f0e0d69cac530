package control

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"codeberg.org/mutker/powerctl/internal/errors"
	"codeberg.org/mutker/powerctl/internal/hardware"
	"codeberg.org/mutker/powerctl/internal/logger"
)

const (
	pstateControlDir = "sys/devices/system/cpu/intel_pstate"
	policyGlob       = "sys/devices/system/cpu/cpufreq/policy*"

	governorUserspace = "userspace"
)

// pstateMethod caps the intel_pstate driver with a percent pair. The
// ceiling follows the target frequency; the floor stays at the hardware
// minimum so idle states keep working.
type pstateMethod struct {
	root       string
	priority   int
	minFreqKHz int
	maxFreqKHz int
}

func (m *pstateMethod) Name() string  { return "pstate" }
func (m *pstateMethod) Kind() Kind    { return KindGovernor }
func (m *pstateMethod) Priority() int { return m.priority }

func (m *pstateMethod) Probe() bool {
	if m.maxFreqKHz <= 0 {
		return false
	}
	_, err := os.Stat(filepath.Join(m.root, pstateControlDir, "max_perf_pct"))

	return err == nil
}

func (m *pstateMethod) Apply(_ context.Context, target Target) error {
	errFactory := errors.New()

	maxPct := clampPercent(target.FrequencyKHz * 100 / m.maxFreqKHz)
	minPct := clampPercent(m.minFreqKHz * 100 / m.maxFreqKHz)
	if minPct > maxPct {
		minPct = maxPct
	}

	dir := filepath.Join(m.root, pstateControlDir)
	if err := writeSysfs(filepath.Join(dir, "min_perf_pct"), strconv.Itoa(minPct)); err != nil {
		return errFactory.Wrap(ErrApplyFailed, err)
	}
	if err := writeSysfs(filepath.Join(dir, "max_perf_pct"), strconv.Itoa(maxPct)); err != nil {
		return errFactory.Wrap(ErrApplyFailed, err)
	}

	return nil
}

// userspaceMethod pins every cpufreq policy to the target via the
// userspace governor
type userspaceMethod struct {
	root     string
	priority int
}

func (m *userspaceMethod) Name() string  { return "userspace" }
func (m *userspaceMethod) Kind() Kind    { return KindGovernor }
func (m *userspaceMethod) Priority() int { return m.priority }

func (m *userspaceMethod) Probe() bool {
	policies := m.policies()
	if len(policies) == 0 {
		return false
	}

	data, err := os.ReadFile(filepath.Join(policies[0], "scaling_available_governors"))
	if err != nil {
		return false
	}

	for _, gov := range strings.Fields(string(data)) {
		if gov == governorUserspace {
			return true
		}
	}

	return false
}

func (m *userspaceMethod) Apply(_ context.Context, target Target) error {
	errFactory := errors.New()

	speed := strconv.Itoa(target.FrequencyKHz)
	for _, policy := range m.policies() {
		if err := writeSysfs(filepath.Join(policy, "scaling_governor"), governorUserspace); err != nil {
			return errFactory.Wrap(ErrApplyFailed, err)
		}
		if err := writeSysfs(filepath.Join(policy, "scaling_setspeed"), speed); err != nil {
			return errFactory.Wrap(ErrApplyFailed, err)
		}
	}

	return nil
}

func (m *userspaceMethod) policies() []string {
	policies, _ := filepath.Glob(filepath.Join(m.root, policyGlob))

	return policies
}

// cpupowerMethod shells out to the cpupower frequency-set tool
type cpupowerMethod struct {
	priority int
	run      runCommandFunc
	look     lookPathFunc
}

func (m *cpupowerMethod) Name() string  { return "cpupower" }
func (m *cpupowerMethod) Kind() Kind    { return KindVendorTool }
func (m *cpupowerMethod) Priority() int { return m.priority }

func (m *cpupowerMethod) Probe() bool {
	_, err := m.look("cpupower")

	return err == nil
}

func (m *cpupowerMethod) Apply(ctx context.Context, target Target) error {
	errFactory := errors.New()

	// cpupower reads bare values as kHz
	if err := m.run(ctx, "cpupower", "frequency-set", "-f", strconv.Itoa(target.FrequencyKHz)); err != nil {
		return errFactory.Wrap(ErrApplyFailed, err)
	}

	return nil
}

// bootParamMethod is the terminal fallback. It cannot change anything at
// runtime; it logs kernel parameter guidance once and always fails so
// callers know the axis is out of reach.
type bootParamMethod struct {
	vendor   hardware.CPUVendor
	priority int
	once     sync.Once
}

func newBootParamMethod(vendor hardware.CPUVendor, priority int) *bootParamMethod {
	return &bootParamMethod{vendor: vendor, priority: priority}
}

func (m *bootParamMethod) Name() string  { return "bootparam" }
func (m *bootParamMethod) Kind() Kind    { return KindBootParam }
func (m *bootParamMethod) Priority() int { return m.priority }
func (m *bootParamMethod) Probe() bool   { return true }

func (m *bootParamMethod) Apply(_ context.Context, _ Target) error {
	errFactory := errors.New()

	m.once.Do(func() {
		logger.Warn().Msgf("no runtime frequency control available; consider booting with %q", m.guidance())
	})

	return errFactory.New(ErrBootParamOnly)
}

func (m *bootParamMethod) guidance() string {
	switch m.vendor {
	case hardware.VendorIntel:
		return "intel_pstate=passive"
	case hardware.VendorAMD:
		return "amd_pstate=passive"
	default:
		return "cpufreq.default_governor=powersave"
	}
}

func clampPercent(pct int) int {
	if pct < 1 {
		return 1
	}
	if pct > 100 {
		return 100
	}

	return pct
}

func writeSysfs(path, value string) error {
	return os.WriteFile(path, []byte(value), 0o644)
}
