// Package control applies frequency, fan, and GPU power targets through
// ranked method chains. Each axis holds an ordered list of methods; Set
// walks them in priority order, re-probing on every call so that
// methods which appear or disappear at runtime (modules loaded, tools
// installed, devices unbound) are picked up without a restart.
package control

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"sync"

	"codeberg.org/mutker/powerctl/internal/errors"
	"codeberg.org/mutker/powerctl/internal/gpu"
	"codeberg.org/mutker/powerctl/internal/hardware"
	"codeberg.org/mutker/powerctl/internal/logger"
	"codeberg.org/mutker/powerctl/internal/power"
)

type Axis string

const (
	AxisFrequency Axis = "frequency"
	AxisFan       Axis = "fan"
	AxisGPUPower  Axis = "gpu_power"
)

// Kind classifies how a method reaches the hardware
type Kind string

const (
	KindGovernor   Kind = "governor"    // kernel sysfs interfaces
	KindRegister   Kind = "register"    // direct MSR writes
	KindVendorTool Kind = "vendor_tool" // vendor libraries and CLIs
	KindBootParam  Kind = "boot_param"  // advisory only, cannot act at runtime
)

// Target is the full set of per-cycle goals. Each method reads only the
// fields that belong to its axis.
type Target struct {
	FrequencyKHz int
	FanPercent   int
	FanAuto      bool
	GPUPower     power.GPUPower
}

// Method is a single way of applying a target on one axis. Probe must be
// cheap; it runs on every Set call. Methods are stateless besides what
// the chain caches for them.
type Method interface {
	Name() string
	Kind() Kind
	Priority() int
	Probe() bool
	Apply(ctx context.Context, target Target) error
}

// Chain is the ranked method list for one axis
type Chain struct {
	axis    Axis
	methods []Method

	mu   sync.Mutex
	last string
}

func NewChain(axis Axis, methods ...Method) *Chain {
	sorted := make([]Method, len(methods))
	copy(sorted, methods)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})

	return &Chain{axis: axis, methods: sorted}
}

func (c *Chain) Axis() Axis {
	return c.axis
}

func (c *Chain) Enabled() bool {
	return len(c.methods) > 0
}

// Methods returns the method names in priority order
func (c *Chain) Methods() []string {
	names := make([]string, 0, len(c.methods))
	for _, m := range c.methods {
		names = append(names, m.Name())
	}

	return names
}

// LastMethod reports the name of the method that most recently applied a
// target on this axis, or "" if none has succeeded yet
func (c *Chain) LastMethod() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.last
}

// Set walks the chain in priority order and applies the target through
// the first method that probes and succeeds. Every call re-probes every
// method up to the winner; a method that succeeded last cycle gets no
// credit if its probe fails now.
func (c *Chain) Set(ctx context.Context, target Target) error {
	errFactory := errors.New()

	if len(c.methods) == 0 {
		return errFactory.WithData(ErrNoMethods, string(c.axis))
	}

	attempts := make([]string, 0, len(c.methods))
	for _, m := range c.methods {
		if !m.Probe() {
			logger.Debug().Msgf("%s: %s probe failed, trying next method", c.axis, m.Name())
			attempts = append(attempts, m.Name()+": probe failed")

			continue
		}

		if err := m.Apply(ctx, target); err != nil {
			logger.Debug().Msgf("%s: %s failed: %v", c.axis, m.Name(), err)
			attempts = append(attempts, m.Name()+": "+err.Error())

			continue
		}

		c.mu.Lock()
		c.last = m.Name()
		c.mu.Unlock()

		return nil
	}

	return errFactory.WithData(ErrAxisExhausted, attempts).
		WithMessage(fmt.Sprintf("no %s method succeeded", c.axis))
}

// Controller bundles the per-axis chains built for the detected hardware
type Controller struct {
	Frequency *Chain
	Fan       *Chain
	GPUPower  *Chain
}

func (c *Controller) SetFrequency(ctx context.Context, target Target) error {
	return c.Frequency.Set(ctx, target)
}

func (c *Controller) SetFan(ctx context.Context, target Target) error {
	return c.Fan.Set(ctx, target)
}

func (c *Controller) SetGPUPower(ctx context.Context, target Target) error {
	return c.GPUPower.Set(ctx, target)
}

func (c *Controller) GPUPowerEnabled() bool {
	return c.GPUPower.Enabled()
}

// Config carries the knobs chain construction needs. The command hooks
// default to os/exec and exist for tests.
type Config struct {
	SysRoot  string
	FanFloor int

	runCmd    runCommandFunc
	cmdOutput commandOutputFunc
	lookPath  lookPathFunc
}

type (
	runCommandFunc    func(ctx context.Context, name string, args ...string) error
	commandOutputFunc func(ctx context.Context, name string, args ...string) ([]byte, error)
	lookPathFunc      func(file string) (string, error)
)

// NewController assembles the chains the detected hardware supports.
// The frequency chain follows the ranking in hw.FreqMethods; fan and
// GPU power chains include every method whose device is present. dev
// may be nil when NVML is unavailable.
func NewController(hw *hardware.Profile, dev *gpu.Device, cfg Config) *Controller {
	if cfg.SysRoot == "" {
		cfg.SysRoot = "/"
	}
	if cfg.runCmd == nil {
		cfg.runCmd = func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		}
	}
	if cfg.cmdOutput == nil {
		cfg.cmdOutput = func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		}
	}
	if cfg.lookPath == nil {
		cfg.lookPath = exec.LookPath
	}

	freq := make([]Method, 0, len(hw.FreqMethods))
	for rank, fm := range hw.FreqMethods {
		priority := (rank + 1) * 10
		switch fm {
		case hardware.FreqMethodPState:
			freq = append(freq, &pstateMethod{
				root:       cfg.SysRoot,
				priority:   priority,
				minFreqKHz: hw.MinFreqKHz,
				maxFreqKHz: hw.MaxFreqKHz,
			})
		case hardware.FreqMethodUserspace:
			freq = append(freq, &userspaceMethod{root: cfg.SysRoot, priority: priority})
		case hardware.FreqMethodMSR:
			freq = append(freq, &msrMethod{
				root:       cfg.SysRoot,
				priority:   priority,
				generation: hw.Generation,
			})
		case hardware.FreqMethodCPUPower:
			freq = append(freq, &cpupowerMethod{
				priority: priority,
				run:      cfg.runCmd,
				look:     cfg.lookPath,
			})
		case hardware.FreqMethodBootParam:
			freq = append(freq, newBootParamMethod(hw.Vendor, priority))
		}
	}

	fan := []Method{
		&pwmMethod{root: cfg.SysRoot, floor: cfg.FanFloor, priority: fanPriorityPWM},
	}
	if dev != nil {
		fan = append(fan, &nvmlFanMethod{dev: dev, floor: cfg.FanFloor, priority: fanPriorityNVML})
	}
	if hw.GPU == hardware.GPUNvidia {
		fan = append(fan, &nvidiaSettingsMethod{
			floor:    cfg.FanFloor,
			priority: fanPrioritySettings,
			run:      cfg.runCmd,
			look:     cfg.lookPath,
		})
	}

	gpuPower := make([]Method, 0, 3)
	if dev != nil {
		gpuPower = append(gpuPower, &nvmlPowerMethod{dev: dev, priority: gpuPriorityNVML})
	}
	if hw.GPU == hardware.GPUAMD && hw.GPUPowerProfile {
		gpuPower = append(gpuPower, &amdProfileMethod{device: hw.GPUDevice, priority: gpuPriorityAMD})
	}
	if hw.GPU == hardware.GPUNvidia && dev == nil {
		gpuPower = append(gpuPower, &nvidiaSMIPowerMethod{
			priority: gpuPrioritySMI,
			run:      cfg.runCmd,
			output:   cfg.cmdOutput,
			look:     cfg.lookPath,
		})
	}

	return &Controller{
		Frequency: NewChain(AxisFrequency, freq...),
		Fan:       NewChain(AxisFan, fan...),
		GPUPower:  NewChain(AxisGPUPower, gpuPower...),
	}
}
