package hardware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/powerctl/internal/errors"
)

func TestDetectGeneration(t *testing.T) {
	tests := []struct {
		vendor CPUVendor
		model  string
		want   CPUGeneration
	}{
		{VendorIntel, "Intel(R) Core(TM)2 Duo CPU E8400 @ 3.00GHz", GenCore2},
		{VendorIntel, "Intel(R) Pentium(R) Dual CPU E2180 @ 2.00GHz", GenCore2},
		{VendorIntel, "Intel(R) Core(TM) i7 CPU 920 @ 2.67GHz", GenNehalem},
		{VendorIntel, "Intel(R) Core(TM) i5-2500K CPU @ 3.30GHz", GenSandyBridge},
		{VendorIntel, "Intel(R) Core(TM) i7-3770 CPU @ 3.40GHz", GenIvyBridge},
		{VendorIntel, "Intel(R) Core(TM) i5-4590 CPU @ 3.30GHz", GenHaswell},
		{VendorIntel, "Intel(R) Core(TM) i7-5820K CPU @ 3.30GHz", GenBroadwell},
		{VendorIntel, "Intel(R) Core(TM) i7-6700K CPU @ 4.00GHz", GenSkylakePlus},
		{VendorIntel, "Intel(R) Core(TM) i5-7600 CPU @ 3.50GHz", GenSkylakePlus},
		{VendorIntel, "Intel(R) Core(TM) i5-10400F CPU @ 2.90GHz", GenSkylakePlus},
		{VendorIntel, "Intel(R) Xeon(R) CPU E5-2680 v4 @ 2.40GHz", GenUnknown},
		{VendorIntel, "Intel(R) Celeron(R) CPU G1840 @ 2.80GHz", GenUnknown},
		{VendorAMD, "AMD Ryzen 7 5800X 8-Core Processor", GenZen},
		{VendorAMD, "AMD EPYC 7302 16-Core Processor", GenZen},
		{VendorAMD, "AMD FX-8350 Eight-Core Processor", GenBulldozer},
		{VendorAMD, "AMD Phenom(tm) II X4 955 Processor", GenK10},
		{VendorAMD, "AMD Athlon II X2 250 Processor", GenK10},
		{VendorAMD, "AMD Opteron(tm) Processor 246", GenK8},
		{VendorAMD, "AMD Athlon 64 X2 Dual Core Processor 4400+", GenK8},
		{VendorUnknown, "Mystery CPU 9000", GenUnknown},
	}

	for _, tt := range tests {
		got := DetectGeneration(tt.vendor, tt.model)
		assert.Equal(t, tt.want, got, "model %q", tt.model)
	}
}

func TestMaxJunctionTemp(t *testing.T) {
	tests := []struct {
		vendor CPUVendor
		gen    CPUGeneration
		want   int
	}{
		{VendorIntel, GenCore2, 85},
		{VendorIntel, GenNehalem, 95},
		{VendorIntel, GenSandyBridge, 95},
		{VendorIntel, GenHaswell, 100},
		{VendorIntel, GenSkylakePlus, 100},
		{VendorAMD, GenK8, 70},
		{VendorAMD, GenK10, 70},
		{VendorAMD, GenBulldozer, 75},
		{VendorAMD, GenZen, 95},
		{VendorIntel, GenUnknown, 85},
		{VendorAMD, GenUnknown, 85},
		{VendorUnknown, GenUnknown, 70},
	}

	for _, tt := range tests {
		got := MaxJunctionTemp(tt.vendor, tt.gen)
		assert.Equal(t, tt.want, got, "%s/%s", tt.vendor, tt.gen)
	}
}

func TestLimitsForJunction(t *testing.T) {
	limits := LimitsForJunction(100)
	assert.Equal(t, ThermalLimits{Comfort: 65, Warning: 75, Critical: 85, Emergency: 95}, limits)
	assert.True(t, limits.Valid())

	limits = LimitsForJunction(85)
	assert.Equal(t, ThermalLimits{Comfort: 55, Warning: 63, Critical: 72, Emergency: 80}, limits)
	assert.True(t, limits.Valid())

	limits = LimitsForJunction(70)
	assert.Equal(t, ThermalLimits{Comfort: 45, Warning: 52, Critical: 59, Emergency: 66}, limits)
	assert.True(t, limits.Valid())
}

func TestThermalLimitsValid(t *testing.T) {
	assert.True(t, ThermalLimits{Comfort: 65, Warning: 75, Critical: 85, Emergency: 95}.Valid())
	assert.False(t, ThermalLimits{Comfort: 0, Warning: 75, Critical: 85, Emergency: 95}.Valid())
	assert.False(t, ThermalLimits{Comfort: 75, Warning: 75, Critical: 85, Emergency: 95}.Valid())
	assert.False(t, ThermalLimits{Comfort: 65, Warning: 60, Critical: 85, Emergency: 95}.Valid())
}

func TestOverrideLimits(t *testing.T) {
	p := &Profile{Limits: LimitsForJunction(100)}

	require.NoError(t, p.OverrideLimits(0, 70, 0, 0))
	assert.Equal(t, ThermalLimits{Comfort: 65, Warning: 70, Critical: 85, Emergency: 95}, p.Limits)

	err := p.OverrideLimits(90, 0, 0, 0)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrInvalidLimits))
	// Failed overrides leave the limits untouched
	assert.Equal(t, ThermalLimits{Comfort: 65, Warning: 70, Critical: 85, Emergency: 95}, p.Limits)
}

func TestOverrideFreqRange(t *testing.T) {
	p := &Profile{MinFreqKHz: 800000, MaxFreqKHz: 3000000}

	require.NoError(t, p.OverrideFreqRange(1000000, 0))
	assert.Equal(t, 1000000, p.MinFreqKHz)
	assert.Equal(t, 3000000, p.MaxFreqKHz)

	err := p.OverrideFreqRange(0, 500000)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, ErrInvalidFreqRange))
}

func TestSupportsMethod(t *testing.T) {
	p := &Profile{FreqMethods: []FreqMethod{FreqMethodPState, FreqMethodBootParam}}
	assert.True(t, p.SupportsMethod(FreqMethodPState))
	assert.False(t, p.SupportsMethod(FreqMethodMSR))
}
