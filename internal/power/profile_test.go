package power_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/powerctl/internal/errors"
	"codeberg.org/mutker/powerctl/internal/hardware"
	"codeberg.org/mutker/powerctl/internal/power"
)

func TestParseProfile(t *testing.T) {
	p, err := power.ParseProfile("performance")
	require.NoError(t, err)
	assert.Equal(t, power.Performance, p)

	p, err = power.ParseProfile("  Balanced ")
	require.NoError(t, err)
	assert.Equal(t, power.Balanced, p)

	_, err = power.ParseProfile("turbo")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrInvalidProfile))
}

func TestProfileValidity(t *testing.T) {
	assert.True(t, power.Performance.IsValid())
	assert.True(t, power.Emergency.IsValid())
	assert.False(t, power.Profile("turbo").IsValid())
	assert.False(t, power.Profile("").IsValid())
}

func TestPlanFrequencies(t *testing.T) {
	hw := &hardware.Profile{
		MinFreqKHz: 800000,
		MaxFreqKHz: 3000000,
	}

	assert.Equal(t, 3000000, power.Performance.Plan(hw).FrequencyKHz)
	assert.Equal(t, 2340000, power.Balanced.Plan(hw).FrequencyKHz)
	assert.Equal(t, 1900000, power.PowerSave.Plan(hw).FrequencyKHz)
	assert.Equal(t, 800000, power.Emergency.Plan(hw).FrequencyKHz)
}

func TestPlanFans(t *testing.T) {
	hw := &hardware.Profile{MinFreqKHz: 800000, MaxFreqKHz: 3000000}

	plan := power.Performance.Plan(hw)
	assert.True(t, plan.FanAuto)
	assert.Equal(t, 0, plan.FanPercent)
	assert.Equal(t, power.GPUPowerHigh, plan.GPUPower)

	plan = power.Balanced.Plan(hw)
	assert.False(t, plan.FanAuto)
	assert.Equal(t, 50, plan.FanPercent)
	assert.Equal(t, power.GPUPowerAuto, plan.GPUPower)

	plan = power.PowerSave.Plan(hw)
	assert.Equal(t, 75, plan.FanPercent)
	assert.Equal(t, power.GPUPowerLow, plan.GPUPower)

	plan = power.Emergency.Plan(hw)
	assert.Equal(t, 100, plan.FanPercent)
	assert.Equal(t, power.GPUPowerLow, plan.GPUPower)
}

func TestPlanOrdering(t *testing.T) {
	hw := &hardware.Profile{MinFreqKHz: 1200000, MaxFreqKHz: 4200000}

	perf := power.Performance.Plan(hw)
	balanced := power.Balanced.Plan(hw)
	powersave := power.PowerSave.Plan(hw)
	emergency := power.Emergency.Plan(hw)

	assert.GreaterOrEqual(t, perf.FrequencyKHz, balanced.FrequencyKHz)
	assert.GreaterOrEqual(t, balanced.FrequencyKHz, powersave.FrequencyKHz)
	assert.GreaterOrEqual(t, powersave.FrequencyKHz, emergency.FrequencyKHz)
	assert.Equal(t, hw.MinFreqKHz, emergency.FrequencyKHz)
}
