package sensors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lmSensorsFixture = `{
   "coretemp-isa-0000":{
      "Adapter": "ISA adapter",
      "Package id 0":{
         "temp1_input": 45.000,
         "temp1_max": 100.000,
         "temp1_crit": 100.000
      },
      "Core 0":{
         "temp2_input": 43.000
      }
   },
   "nct6775-isa-0290":{
      "Adapter": "ISA adapter",
      "fan1":{
         "fan1_input": 1234.000
      },
      "in0":{
         "in0_input": 1.020
      },
      "power1":{
         "power1_average": 65.500
      }
   },
   "amdgpu-pci-0300":{
      "Adapter": "PCI adapter",
      "edge":{
         "temp1_input": 62.000
      }
   }
}`

func TestParseLMSensors(t *testing.T) {
	readings, err := parseLMSensors([]byte(lmSensorsFixture), "lmsensors")
	require.NoError(t, err)
	require.Len(t, readings, 6)

	snap := Snapshot{Readings: readings}

	v, ok := snap.CPUTemperature()
	require.True(t, ok)
	assert.InDelta(t, 45.0, v, 0.001, "the package reading wins over per-core ones")

	v, ok = snap.GPUTemperature()
	require.True(t, ok)
	assert.InDelta(t, 62.0, v, 0.001)

	v, ok = snap.CPUFanRPM()
	require.True(t, ok)
	assert.InDelta(t, 1234.0, v, 0.001)

	voltages := snap.Voltages()
	assert.InDelta(t, 1.02, voltages["in0"], 0.001)

	for _, r := range readings {
		assert.NotEqual(t, "Adapter", r.Label)
		assert.Equal(t, "lmsensors", r.Source)
	}
}

func TestParseLMSensorsRejectsGarbage(t *testing.T) {
	_, err := parseLMSensors([]byte("not json"), "lmsensors")
	assert.Error(t, err)
}

func TestLMSensorsPoll(t *testing.T) {
	b := &LMSensorsBackend{
		run: func(context.Context) ([]byte, error) {
			return []byte(lmSensorsFixture), nil
		},
	}

	readings, err := b.Poll(context.Background())
	require.NoError(t, err)
	assert.Len(t, readings, 6)
}

func TestLMSensorsPollCommandError(t *testing.T) {
	b := &LMSensorsBackend{
		run: func(context.Context) ([]byte, error) {
			return nil, errors.New("exec: sensors: not found")
		},
	}

	_, err := b.Poll(context.Background())
	assert.Error(t, err)
}

func TestNVIDIASMIPoll(t *testing.T) {
	b := &NVIDIASMIBackend{
		run: func(context.Context) ([]byte, error) {
			return []byte("45, 30, 120.50\n"), nil
		},
	}

	readings, err := b.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, readings, 3)

	snap := Snapshot{Readings: readings}

	v, ok := snap.GPUTemperature()
	require.True(t, ok)
	assert.InDelta(t, 45.0, v, 0.001)

	v, ok = snap.GPUFanRPM()
	require.True(t, ok)
	assert.InDelta(t, 30.0, v, 0.001)

	v, ok = snap.GPUPower()
	require.True(t, ok)
	assert.InDelta(t, 120.5, v, 0.001)
}

func TestNVIDIASMIPollPartial(t *testing.T) {
	b := &NVIDIASMIBackend{
		run: func(context.Context) ([]byte, error) {
			// Passively cooled boards report no fan
			return []byte("45, [N/A], 120.50\n"), nil
		},
	}

	readings, err := b.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, readings, 3)

	snap := Snapshot{Readings: readings}
	_, ok := snap.GPUFanRPM()
	assert.False(t, ok)

	v, ok := snap.GPUPower()
	require.True(t, ok)
	assert.InDelta(t, 120.5, v, 0.001)
}
