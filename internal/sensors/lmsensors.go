package sensors

import (
	"context"
	"encoding/json"
	"os/exec"
	"sort"
	"strings"

	"codeberg.org/mutker/powerctl/internal/errors"
)

// LMSensorsBackend shells out to the lm-sensors CLI, which can label
// chips the raw hwmon walk cannot. The JSON output mode keeps parsing
// honest.
type LMSensorsBackend struct {
	run func(ctx context.Context) ([]byte, error)
}

func NewLMSensors() *LMSensorsBackend {
	return &LMSensorsBackend{
		run: func(ctx context.Context) ([]byte, error) {
			return exec.CommandContext(ctx, "sensors", "-j").Output()
		},
	}
}

// LMSensorsAvailable reports whether the sensors binary is installed
func LMSensorsAvailable() bool {
	_, err := exec.LookPath("sensors")

	return err == nil
}

func (b *LMSensorsBackend) Name() string {
	return "lmsensors"
}

func (b *LMSensorsBackend) Priority() int {
	return 10
}

func (b *LMSensorsBackend) Poll(ctx context.Context) ([]Reading, error) {
	errFactory := errors.New()

	out, err := b.run(ctx)
	if err != nil {
		return nil, errFactory.Wrap(ErrCommandFailed, err)
	}

	return parseLMSensors(out, b.Name())
}

// parseLMSensors flattens the two-level chip/feature JSON into
// readings. Each feature block carries its value under a key like
// temp1_input; the first recognized key decides the reading.
func parseLMSensors(data []byte, source string) ([]Reading, error) {
	errFactory := errors.New()

	var chips map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &chips); err != nil {
		return nil, errFactory.Wrap(ErrParseFailed, err)
	}

	chipNames := make([]string, 0, len(chips))
	for name := range chips {
		chipNames = append(chipNames, name)
	}
	sort.Strings(chipNames)

	var readings []Reading
	for _, chip := range chipNames {
		features := chips[chip]
		featureNames := make([]string, 0, len(features))
		for name := range features {
			featureNames = append(featureNames, name)
		}
		sort.Strings(featureNames)

		for _, feature := range featureNames {
			if feature == "Adapter" {
				continue
			}
			var fields map[string]float64
			if err := json.Unmarshal(features[feature], &fields); err != nil {
				continue
			}
			if r, ok := featureReading(chip, feature, fields, source); ok {
				readings = append(readings, r)
			}
		}
	}

	return readings, nil
}

func featureReading(chip, label string, fields map[string]float64, source string) (Reading, bool) {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		var typ Type
		switch {
		case strings.HasPrefix(key, "temp") && strings.HasSuffix(key, "_input"):
			typ = TypeTemperature
		case strings.HasPrefix(key, "fan") && strings.HasSuffix(key, "_input"):
			typ = TypeFanRPM
		case strings.HasPrefix(key, "in") && strings.HasSuffix(key, "_input"):
			typ = TypeVoltage
		case strings.HasPrefix(key, "power") &&
			(strings.HasSuffix(key, "_input") || strings.HasSuffix(key, "_average")):
			typ = TypePower
		case strings.HasPrefix(key, "curr") && strings.HasSuffix(key, "_input"):
			typ = TypeCurrent
		default:
			continue
		}

		return Reading{
			Chip:   chip,
			Label:  label,
			Type:   typ,
			Value:  Float(fields[key]),
			Source: source,
		}, true
	}

	return Reading{}, false
}
