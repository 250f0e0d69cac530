package telemetry_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/powerctl/internal/errors"
	"codeberg.org/mutker/powerctl/internal/telemetry"
)

func value(v float64) *float64 {
	return &v
}

func testCycle(ts time.Time) *telemetry.Cycle {
	return &telemetry.Cycle{
		Timestamp: ts,
		Zone:      "warning",
		Profile:   "balanced",
		CPUTemp:   value(68.5),
		CPUFanRPM: value(1200),
		Voltages:  map[string]float64{"Vcore": 1.02},
		Alerts:    []string{"thermal zone comfort -> warning at 68.5°C"},
	}
}

func TestJournalAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.jsonl")
	journal, err := telemetry.NewJournal(path)
	require.NoError(t, err)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, journal.Record(context.Background(), testCycle(base)))
	require.NoError(t, journal.Record(context.Background(), &telemetry.Cycle{
		Timestamp: base.Add(5 * time.Second),
		Zone:      "comfort",
		Profile:   "performance",
	}))
	require.NoError(t, journal.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "warning", first["zone"])
	assert.Equal(t, "balanced", first["profile"])
	assert.Equal(t, 68.5, first["cpu_temp"])
	assert.Contains(t, first, "voltages")
	// unreadable sensors stay out of the line entirely
	assert.NotContains(t, first, "gpu_temp")

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "comfort", second["zone"])
}

func TestJournalAppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.jsonl")
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		journal, err := telemetry.NewJournal(path)
		require.NoError(t, err)
		require.NoError(t, journal.Record(context.Background(), testCycle(base.Add(time.Duration(i)*5*time.Second))))
		require.NoError(t, journal.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 2)
}

func TestJournalRejectsNilCycle(t *testing.T) {
	journal, err := telemetry.NewJournal(filepath.Join(t.TempDir(), "snapshots.jsonl"))
	require.NoError(t, err)
	defer journal.Close()

	err = journal.Record(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, telemetry.ErrInvalidCycle))
}

func TestJournalEmptyPath(t *testing.T) {
	_, err := telemetry.NewJournal("")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, telemetry.ErrInvalidJournalPath))
}

type fakeRepo struct {
	stored   []telemetry.Cycle
	storeErr error
}

func (r *fakeRepo) Store(_ context.Context, cycle *telemetry.Cycle) error {
	if r.storeErr != nil {
		return r.storeErr
	}
	r.stored = append(r.stored, *cycle)

	return nil
}

func (r *fakeRepo) History(context.Context, time.Time, int) ([]telemetry.Cycle, error) {
	return r.stored, nil
}

func (r *fakeRepo) Close() error {
	return nil
}

func TestServiceFansOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.jsonl")
	journal, err := telemetry.NewJournal(path)
	require.NoError(t, err)

	repo := &fakeRepo{}
	svc := telemetry.NewService(journal, repo)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, svc.Record(context.Background(), testCycle(base)))
	require.NoError(t, svc.Close())

	require.Len(t, repo.stored, 1)
	assert.Equal(t, "warning", repo.stored[0].Zone)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestServiceKeepsJournalOnRepoFailure(t *testing.T) {
	errFactory := errors.New()

	path := filepath.Join(t.TempDir(), "snapshots.jsonl")
	journal, err := telemetry.NewJournal(path)
	require.NoError(t, err)

	repo := &fakeRepo{storeErr: errFactory.New(telemetry.ErrStorageAccess)}
	svc := telemetry.NewService(journal, repo)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	err = svc.Record(context.Background(), testCycle(base))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, telemetry.ErrRecordFailed))
	require.NoError(t, svc.Close())

	// the journal line must survive a failing repository
	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.NotEmpty(t, data)
}

func TestServiceRejectsNilCycle(t *testing.T) {
	svc := telemetry.NewService(nil, &fakeRepo{})

	err := svc.Record(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, telemetry.ErrInvalidCycle))
}

func TestOpenRequiresASink(t *testing.T) {
	_, err := telemetry.Open(telemetry.Config{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, telemetry.ErrInvalidConfig))
}

func TestOpenJournalOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.jsonl")
	svc, err := telemetry.Open(telemetry.Config{JournalPath: path})
	require.NoError(t, err)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, svc.Record(context.Background(), testCycle(base)))
	require.NoError(t, svc.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestOpenWiresBothSinks(t *testing.T) {
	dir := t.TempDir()
	journalPath := filepath.Join(dir, "snapshots.jsonl")
	dbPath := filepath.Join(dir, "history.db")

	svc, err := telemetry.Open(telemetry.Config{JournalPath: journalPath, DBPath: dbPath})
	require.NoError(t, err)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, svc.Record(context.Background(), testCycle(base)))
	require.NoError(t, svc.Close())

	data, err := os.ReadFile(journalPath)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	// the cycle written through the pipeline is served back as history
	repo, err := telemetry.NewRepository(telemetry.Config{DBPath: dbPath})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	cycles, err := repo.History(context.Background(), base.Add(-time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, "warning", cycles[0].Zone)
}
