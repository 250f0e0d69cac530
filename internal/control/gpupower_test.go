package control

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/powerctl/internal/errors"
	"codeberg.org/mutker/powerctl/internal/gpu"
	"codeberg.org/mutker/powerctl/internal/power"
)

func TestTokenWatts(t *testing.T) {
	limits := gpu.Limits{Min: 100, Max: 320, Default: 220}

	watts, ok := tokenWatts(limits, power.GPUPowerHigh)
	require.True(t, ok)
	assert.Equal(t, 320, watts)

	watts, ok = tokenWatts(limits, power.GPUPowerAuto)
	require.True(t, ok)
	assert.Equal(t, 220, watts)

	watts, ok = tokenWatts(limits, power.GPUPowerLow)
	require.True(t, ok)
	assert.Equal(t, 100, watts)

	_, ok = tokenWatts(limits, "")
	assert.False(t, ok)
}

func TestAMDProfileApply(t *testing.T) {
	device := t.TempDir()
	writeFixture(t, device, "device/power_profile", "auto")

	m := &amdProfileMethod{device: device, priority: 20}
	require.True(t, m.Probe())

	require.NoError(t, m.Apply(context.Background(), Target{GPUPower: power.GPUPowerLow}))
	assert.Equal(t, "low", readFixture(t, device, "device/power_profile"))

	err := m.Apply(context.Background(), Target{GPUPower: "overdrive"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, ErrUnsupportedTarget))
}

func TestAMDProfileProbe(t *testing.T) {
	missing := &amdProfileMethod{device: t.TempDir(), priority: 20}
	assert.False(t, missing.Probe())

	unset := &amdProfileMethod{priority: 20}
	assert.False(t, unset.Probe())
}

func TestNVIDIASMIPowerApply(t *testing.T) {
	queries := 0
	var calls [][]string
	m := &nvidiaSMIPowerMethod{
		priority: 30,
		run: func(_ context.Context, name string, args ...string) error {
			calls = append(calls, append([]string{name}, args...))

			return nil
		},
		output: func(context.Context, string, ...string) ([]byte, error) {
			queries++

			return []byte("220.00, 100.00, 320.00\n"), nil
		},
		look: func(string) (string, error) { return "/usr/bin/nvidia-smi", nil },
	}

	require.True(t, m.Probe())

	require.NoError(t, m.Apply(context.Background(), Target{GPUPower: power.GPUPowerHigh}))
	require.NoError(t, m.Apply(context.Background(), Target{GPUPower: power.GPUPowerLow}))
	require.NoError(t, m.Apply(context.Background(), Target{GPUPower: power.GPUPowerAuto}))

	// board limits are queried once and cached
	assert.Equal(t, 1, queries)
	require.Len(t, calls, 3)
	assert.Equal(t, []string{"nvidia-smi", "-pl", "320"}, calls[0])
	assert.Equal(t, []string{"nvidia-smi", "-pl", "100"}, calls[1])
	assert.Equal(t, []string{"nvidia-smi", "-pl", "220"}, calls[2])
}

func TestNVIDIASMIPowerBadOutput(t *testing.T) {
	m := &nvidiaSMIPowerMethod{
		priority: 30,
		run:      func(context.Context, string, ...string) error { return nil },
		output: func(context.Context, string, ...string) ([]byte, error) {
			return []byte("[N/A]\n"), nil
		},
		look: func(string) (string, error) { return "/usr/bin/nvidia-smi", nil },
	}

	err := m.Apply(context.Background(), Target{GPUPower: power.GPUPowerAuto})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, ErrApplyFailed))
}
