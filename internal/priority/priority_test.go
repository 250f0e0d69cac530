package priority

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type renicedCall struct {
	pid  int32
	nice int
}

func testManager(patterns []string, procs []candidate) (*Manager, *[]renicedCall) {
	calls := &[]renicedCall{}
	m := NewManager(Config{Patterns: patterns})
	m.list = func(context.Context) ([]candidate, error) {
		return procs, nil
	}
	m.renice = func(pid int32, nice int) error {
		*calls = append(*calls, renicedCall{pid: pid, nice: nice})

		return nil
	}

	return m, calls
}

func TestMatches(t *testing.T) {
	assert.True(t, matches("ffmpeg", []string{"ffmpeg"}))
	assert.True(t, matches("FFmpeg", []string{"ffmpeg"}))
	assert.True(t, matches("x264_worker", []string{"x264"}))
	assert.False(t, matches("chrome", []string{"ffmpeg", "x264"}))
	assert.False(t, matches("ffmpeg", nil))
	assert.False(t, matches("anything", []string{""}))
}

func TestApplyRenicesMatching(t *testing.T) {
	procs := []candidate{
		{pid: 100, name: "chrome"},
		{pid: 200, name: "ffmpeg"},
		{pid: 300, name: "x264"},
	}
	m, calls := testManager([]string{"ffmpeg", "x264"}, procs)

	require.NoError(t, m.Apply(context.Background(), 10))
	assert.Equal(t, []renicedCall{{200, 10}, {300, 10}}, *calls)
}

func TestApplySkipsUnchanged(t *testing.T) {
	procs := []candidate{{pid: 200, name: "ffmpeg"}}
	m, calls := testManager([]string{"ffmpeg"}, procs)

	require.NoError(t, m.Apply(context.Background(), 10))
	require.NoError(t, m.Apply(context.Background(), 10))
	assert.Len(t, *calls, 1)

	require.NoError(t, m.Apply(context.Background(), 19))
	assert.Len(t, *calls, 2)
	assert.Equal(t, renicedCall{200, 19}, (*calls)[1])
}

func TestApplyRestoresNormalPriority(t *testing.T) {
	procs := []candidate{{pid: 200, name: "ffmpeg"}}
	m, calls := testManager([]string{"ffmpeg"}, procs)

	require.NoError(t, m.Apply(context.Background(), 10))
	require.NoError(t, m.Apply(context.Background(), 0))
	require.Len(t, *calls, 2)
	assert.Equal(t, renicedCall{200, 0}, (*calls)[1])
}

func TestApplyDisabledWithoutPatterns(t *testing.T) {
	listed := false
	m := NewManager(Config{})
	m.list = func(context.Context) ([]candidate, error) {
		listed = true

		return nil, nil
	}

	assert.False(t, m.Enabled())
	require.NoError(t, m.Apply(context.Background(), 10))
	assert.False(t, listed)
}

func TestRunConsumesUpdates(t *testing.T) {
	procs := []candidate{{pid: 200, name: "ffmpeg"}}
	m, calls := testManager([]string{"ffmpeg"}, procs)

	updates := make(chan int, 2)
	updates <- 5
	updates <- 19
	close(updates)

	done := make(chan struct{})
	go func() {
		m.Run(context.Background(), updates)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after channel close")
	}

	assert.Equal(t, []renicedCall{{200, 5}, {200, 19}}, *calls)
}
