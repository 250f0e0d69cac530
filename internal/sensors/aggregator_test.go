package sensors_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/powerctl/internal/sensors"
)

type fakeBackend struct {
	name     string
	priority int
	readings []sensors.Reading
	err      error
	delay    time.Duration
}

func (f *fakeBackend) Name() string {
	return f.name
}

func (f *fakeBackend) Priority() int {
	return f.priority
}

func (f *fakeBackend) Poll(ctx context.Context) ([]sensors.Reading, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return f.readings, f.err
}

func TestAggregatorMergesByPriority(t *testing.T) {
	preferred := &fakeBackend{
		name:     "lmsensors",
		priority: 10,
		readings: []sensors.Reading{
			reading("coretemp-isa-0000", "Package id 0", sensors.TypeTemperature, sensors.Float(55)),
		},
	}
	secondary := &fakeBackend{
		name:     "hwmon",
		priority: 20,
		readings: []sensors.Reading{
			// Same sensor, slightly different value
			reading("coretemp-isa-0000", "Package id 0", sensors.TypeTemperature, sensors.Float(54)),
			reading("nct6775-isa-0290", "fan1", sensors.TypeFanRPM, sensors.Float(1200)),
		},
	}

	// Registration order must not matter
	agg := sensors.NewAggregator(time.Second, secondary, preferred)
	snap := agg.Snapshot(context.Background())

	require.Len(t, snap.Readings, 2)
	v, ok := snap.CPUTemperature()
	require.True(t, ok)
	assert.InDelta(t, 55.0, v, 0.001, "the higher priority backend wins duplicates")

	_, ok = snap.CPUFanRPM()
	assert.True(t, ok)
}

func TestAggregatorSurvivesBackendFailure(t *testing.T) {
	bad := &fakeBackend{name: "bad", priority: 10, err: errors.New("boom")}
	good := &fakeBackend{
		name:     "good",
		priority: 20,
		readings: []sensors.Reading{
			reading("acpitz", "acpitz", sensors.TypeTemperature, sensors.Float(44)),
		},
	}

	snap := sensors.NewAggregator(time.Second, bad, good).Snapshot(context.Background())

	require.Len(t, snap.Readings, 1)
	v, ok := snap.CPUTemperature()
	require.True(t, ok)
	assert.InDelta(t, 44.0, v, 0.001)
}

func TestAggregatorTimesOutSlowBackend(t *testing.T) {
	slow := &fakeBackend{
		name:     "slow",
		priority: 10,
		delay:    500 * time.Millisecond,
		readings: []sensors.Reading{
			reading("slow", "t", sensors.TypeTemperature, sensors.Float(99)),
		},
	}
	fast := &fakeBackend{
		name:     "fast",
		priority: 20,
		readings: []sensors.Reading{
			reading("fast", "t", sensors.TypeTemperature, sensors.Float(41)),
		},
	}

	start := time.Now()
	snap := sensors.NewAggregator(50*time.Millisecond, slow, fast).Snapshot(context.Background())

	assert.Less(t, time.Since(start), 400*time.Millisecond, "a slow backend must not stall the cycle")
	require.Len(t, snap.Readings, 1)
	assert.Equal(t, "fast", snap.Readings[0].Chip)
}

func TestAggregatorAllBackendsFail(t *testing.T) {
	snap := sensors.NewAggregator(time.Second,
		&fakeBackend{name: "a", priority: 1, err: errors.New("a failed")},
		&fakeBackend{name: "b", priority: 2, err: errors.New("b failed")},
	).Snapshot(context.Background())

	assert.Empty(t, snap.Readings)
	assert.False(t, snap.At.IsZero(), "even an empty snapshot is timestamped")

	_, ok := snap.CPUTemperature()
	assert.False(t, ok)
}

func TestAggregatorBackendOrder(t *testing.T) {
	agg := sensors.NewAggregator(time.Second,
		&fakeBackend{name: "acpi", priority: 40},
		&fakeBackend{name: "lmsensors", priority: 10},
		&fakeBackend{name: "hwmon", priority: 20},
	)

	assert.Equal(t, []string{"lmsensors", "hwmon", "acpi"}, agg.Backends())
}
