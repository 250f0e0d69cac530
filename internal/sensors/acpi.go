package sensors

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"codeberg.org/mutker/powerctl/internal/errors"
)

// ACPIBackend reads battery and AC adapter sensors from the power
// supply class
type ACPIBackend struct {
	Root string
}

func NewACPI(root string) *ACPIBackend {
	return &ACPIBackend{Root: root}
}

func (b *ACPIBackend) Name() string {
	return "acpi"
}

func (b *ACPIBackend) Priority() int {
	return 40
}

var acpiFiles = []struct {
	file  string
	label string
	typ   Type
}{
	{"voltage_now", "voltage", TypeVoltage},
	{"current_now", "current", TypeCurrent},
	{"power_now", "power", TypePower},
}

func (b *ACPIBackend) Poll(ctx context.Context) ([]Reading, error) {
	errFactory := errors.New()

	root := b.Root
	if root == "" {
		root = "/"
	}
	base := filepath.Join(root, "sys/class/power_supply")
	supplies, err := os.ReadDir(base)
	if err != nil {
		return nil, errFactory.Wrap(ErrBackendFailed, err)
	}

	var names []string
	for _, supply := range supplies {
		names = append(names, supply.Name())
	}
	sort.Strings(names)

	var readings []Reading
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return readings, err
		}
		for _, f := range acpiFiles {
			path := filepath.Join(base, name, f.file)
			if _, err := os.Stat(path); err != nil {
				continue
			}

			r := Reading{
				Chip:   "acpi",
				Label:  name + " " + f.label,
				Type:   f.typ,
				Source: b.Name(),
			}
			// Values are in micro units
			if raw, err := strconv.ParseFloat(readTrimmed(path), 64); err == nil {
				r.Value = Float(raw / microPerUnit)
			}
			readings = append(readings, r)
		}
	}

	return readings, nil
}
