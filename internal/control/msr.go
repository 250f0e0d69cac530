package control

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"

	"codeberg.org/mutker/powerctl/internal/errors"
	"codeberg.org/mutker/powerctl/internal/hardware"
)

const (
	msrGlob = "dev/cpu/*/msr"

	// IA32_PERF_CTL. The msr device interface addresses registers by
	// file offset, so the value is written at offset 0x199.
	perfCtlRegister = 0x199

	khzPerMHz = 1000
)

// core2PerfCtl maps Core 2 operating points (MHz) to IA32_PERF_CTL
// values, high byte FID, low byte VID. Only frequencies on this table
// can be requested; anything else is rejected so the chain moves on
// instead of guessing a multiplier.
var core2PerfCtl = map[int]uint64{
	2833: 0x0615,
	2666: 0x0514,
	2500: 0x0513,
	2333: 0x0512,
	2166: 0x0411,
	2000: 0x0610,
	1833: 0x050F,
	1666: 0x050E,
	1500: 0x050D,
	1333: 0x040C,
	1200: 0x040B,
}

// msrMethod writes IA32_PERF_CTL through /dev/cpu/*/msr on generations
// with a known multiplier table
type msrMethod struct {
	root       string
	priority   int
	generation hardware.CPUGeneration
}

func (m *msrMethod) Name() string  { return "msr" }
func (m *msrMethod) Kind() Kind    { return KindRegister }
func (m *msrMethod) Priority() int { return m.priority }

func (m *msrMethod) Probe() bool {
	if m.generation != hardware.GenCore2 {
		return false
	}

	return len(m.devices()) > 0
}

func (m *msrMethod) Apply(_ context.Context, target Target) error {
	errFactory := errors.New()

	value, ok := core2PerfCtl[target.FrequencyKHz/khzPerMHz]
	if !ok {
		return errFactory.WithData(ErrUnsupportedFrequency, target.FrequencyKHz)
	}

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)

	for _, device := range m.devices() {
		if err := writeMSR(device, buf); err != nil {
			return errFactory.Wrap(ErrApplyFailed, err)
		}
	}

	return nil
}

func (m *msrMethod) devices() []string {
	devices, _ := filepath.Glob(filepath.Join(m.root, msrGlob))

	return devices
}

func writeMSR(device string, buf []byte) error {
	f, err := os.OpenFile(device, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteAt(buf, perfCtlRegister); err != nil {
		return err
	}

	return nil
}
