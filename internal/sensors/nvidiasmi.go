package sensors

import (
	"context"
	"os/exec"
	"strconv"
	"strings"

	"codeberg.org/mutker/powerctl/internal/errors"
)

// NVIDIASMIBackend queries the driver CLI. It covers NVIDIA GPUs on
// systems where the management library cannot be loaded.
type NVIDIASMIBackend struct {
	run func(ctx context.Context) ([]byte, error)
}

func NewNVIDIASMI() *NVIDIASMIBackend {
	return &NVIDIASMIBackend{
		run: func(ctx context.Context) ([]byte, error) {
			return exec.CommandContext(ctx, "nvidia-smi",
				"--query-gpu=temperature.gpu,fan.speed,power.draw",
				"--format=csv,noheader,nounits").Output()
		},
	}
}

// NVIDIASMIAvailable reports whether the nvidia-smi binary is installed
func NVIDIASMIAvailable() bool {
	_, err := exec.LookPath("nvidia-smi")

	return err == nil
}

func (b *NVIDIASMIBackend) Name() string {
	return "nvidiasmi"
}

func (b *NVIDIASMIBackend) Priority() int {
	return 25
}

func (b *NVIDIASMIBackend) Poll(ctx context.Context) ([]Reading, error) {
	errFactory := errors.New()

	out, err := b.run(ctx)
	if err != nil {
		return nil, errFactory.Wrap(ErrCommandFailed, err)
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, errFactory.New(ErrNoSensors)
	}

	// First GPU only; fan.speed is a duty cycle percent
	fields := strings.Split(lines[0], ",")
	labels := []struct {
		label string
		typ   Type
	}{
		{"core", TypeTemperature},
		{"fan", TypeFanRPM},
		{"board", TypePower},
	}

	readings := make([]Reading, 0, len(labels))
	for i, l := range labels {
		r := Reading{
			Chip:   "nvidia",
			Label:  l.label,
			Type:   l.typ,
			Source: b.Name(),
		}
		if i < len(fields) {
			if v, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64); err == nil {
				r.Value = Float(v)
			}
		}
		readings = append(readings, r)
	}

	return readings, nil
}
