package sensors

import (
	"context"
	"path/filepath"
	"sort"
	"strconv"

	"codeberg.org/mutker/powerctl/internal/errors"
)

// ThermalZoneBackend reads the kernel thermal zone class. Zones often
// duplicate hwmon sensors, so this backend merges at a lower priority.
type ThermalZoneBackend struct {
	Root string
}

func NewThermalZone(root string) *ThermalZoneBackend {
	return &ThermalZoneBackend{Root: root}
}

func (b *ThermalZoneBackend) Name() string {
	return "thermalzone"
}

func (b *ThermalZoneBackend) Priority() int {
	return 30
}

func (b *ThermalZoneBackend) Poll(ctx context.Context) ([]Reading, error) {
	errFactory := errors.New()

	root := b.Root
	if root == "" {
		root = "/"
	}
	zones, err := filepath.Glob(filepath.Join(root, "sys/class/thermal/thermal_zone*"))
	if err != nil {
		return nil, errFactory.Wrap(ErrBackendFailed, err)
	}
	if len(zones) == 0 {
		return nil, errFactory.New(ErrNoSensors)
	}
	sort.Strings(zones)

	var readings []Reading
	for _, zone := range zones {
		if err := ctx.Err(); err != nil {
			return readings, err
		}
		label := readTrimmed(filepath.Join(zone, "type"))
		if label == "" {
			label = filepath.Base(zone)
		}

		r := Reading{
			Chip:   "thermal_zone",
			Label:  label,
			Type:   TypeTemperature,
			Source: b.Name(),
		}
		if raw, err := strconv.ParseFloat(readTrimmed(filepath.Join(zone, "temp")), 64); err == nil {
			r.Value = Float(raw / milliPerUnit)
		}
		readings = append(readings, r)
	}

	return readings, nil
}
