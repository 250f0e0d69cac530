package sensors

import (
	"context"
	"fmt"

	"codeberg.org/mutker/powerctl/internal/gpu"
)

// NVMLBackend reads the primary NVIDIA GPU through the management
// library. Readings that fail stay present with a nil value so the
// snapshot still shows the sensor exists.
type NVMLBackend struct {
	dev *gpu.Device
}

func NewNVML(dev *gpu.Device) *NVMLBackend {
	return &NVMLBackend{dev: dev}
}

func (b *NVMLBackend) Name() string {
	return "nvml"
}

func (b *NVMLBackend) Priority() int {
	return 15
}

func (b *NVMLBackend) Poll(ctx context.Context) ([]Reading, error) {
	var readings []Reading

	temp := Reading{Chip: "nvidia", Label: "core", Type: TypeTemperature, Source: b.Name()}
	if v, err := b.dev.Temperature(); err == nil {
		temp.Value = Float(float64(v))
	}
	readings = append(readings, temp)

	// Duty cycle percent, reported in the fan slot like the driver
	// CLI does
	for i := 0; i < b.dev.FanCount(); i++ {
		if err := ctx.Err(); err != nil {
			return readings, err
		}
		fan := Reading{
			Chip:   "nvidia",
			Label:  fmt.Sprintf("fan%d", i+1),
			Type:   TypeFanRPM,
			Source: b.Name(),
		}
		if v, err := b.dev.FanSpeed(i); err == nil {
			fan.Value = Float(float64(v))
		}
		readings = append(readings, fan)
	}

	power := Reading{Chip: "nvidia", Label: "board", Type: TypePower, Source: b.Name()}
	if v, err := b.dev.PowerUsage(); err == nil {
		power.Value = Float(v)
	}
	readings = append(readings, power)

	return readings, nil
}
