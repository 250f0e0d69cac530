package sensors

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"codeberg.org/mutker/powerctl/internal/errors"
)

const (
	milliPerUnit = 1000.0
	microPerUnit = 1000000.0
)

// HwmonBackend reads the kernel hwmon class directly. It is the
// workhorse backend: always present, no external tools.
type HwmonBackend struct {
	// Root prefixes the sysfs path, empty means "/"
	Root string
}

func NewHwmon(root string) *HwmonBackend {
	return &HwmonBackend{Root: root}
}

func (b *HwmonBackend) Name() string {
	return "hwmon"
}

func (b *HwmonBackend) Priority() int {
	return 20
}

// hwmon value files per sensor type with their scale divisor
var hwmonClasses = []struct {
	prefix  string
	suffix  string
	typ     Type
	divisor float64
}{
	{"temp", "_input", TypeTemperature, milliPerUnit},
	{"fan", "_input", TypeFanRPM, 1},
	{"in", "_input", TypeVoltage, milliPerUnit},
	{"power", "_average", TypePower, microPerUnit},
	// Newer kernels expose power1_input instead of power1_average
	{"power", "_input", TypePower, microPerUnit},
	{"curr", "_input", TypeCurrent, milliPerUnit},
}

func (b *HwmonBackend) Poll(ctx context.Context) ([]Reading, error) {
	errFactory := errors.New()

	base := filepath.Join(b.root(), "sys/class/hwmon")
	chips, err := os.ReadDir(base)
	if err != nil {
		return nil, errFactory.Wrap(ErrBackendFailed, err)
	}

	var readings []Reading
	for _, chip := range chips {
		if err := ctx.Err(); err != nil {
			return readings, err
		}
		if !strings.HasPrefix(chip.Name(), "hwmon") {
			continue
		}
		dir := filepath.Join(base, chip.Name())
		chipName := readTrimmed(filepath.Join(dir, "name"))
		if chipName == "" {
			chipName = chip.Name()
		}
		readings = append(readings, b.pollChip(dir, chipName)...)
	}

	return readings, nil
}

func (b *HwmonBackend) pollChip(dir, chipName string) []Reading {
	var readings []Reading
	for _, class := range hwmonClasses {
		files, _ := filepath.Glob(filepath.Join(dir, class.prefix+"*"+class.suffix))
		sort.Strings(files)
		for _, file := range files {
			stem := strings.TrimSuffix(filepath.Base(file), class.suffix)
			label := readTrimmed(filepath.Join(dir, stem+"_label"))
			if label == "" {
				label = stem
			}

			r := Reading{
				Chip:   chipName,
				Label:  label,
				Type:   class.typ,
				Source: b.Name(),
			}
			// An unreadable value stays nil rather than zero
			if raw, err := strconv.ParseFloat(readTrimmed(file), 64); err == nil {
				r.Value = Float(raw / class.divisor)
			}
			readings = append(readings, r)
		}
	}

	return readings
}

func (b *HwmonBackend) root() string {
	if b.Root == "" {
		return "/"
	}

	return b.Root
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}
