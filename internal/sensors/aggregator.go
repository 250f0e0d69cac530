package sensors

import (
	"context"
	"sort"
	"sync"
	"time"

	"codeberg.org/mutker/powerctl/internal/logger"
)

// Backend reads one family of sensors. Poll returns whatever it could
// read; a failed backend returns an error and contributes nothing.
type Backend interface {
	Name() string
	// Priority orders backends for deduplication, lower wins
	Priority() int
	Poll(ctx context.Context) ([]Reading, error)
}

// Aggregator polls all backends concurrently and merges their
// readings into one snapshot per cycle
type Aggregator struct {
	backends []Backend
	timeout  time.Duration
}

// NewAggregator builds an aggregator over the given backends. Each
// backend gets at most timeout per poll.
func NewAggregator(timeout time.Duration, backends ...Backend) *Aggregator {
	sorted := make([]Backend, len(backends))
	copy(sorted, backends)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})

	return &Aggregator{backends: sorted, timeout: timeout}
}

// Backends returns the backend names in merge priority order
func (a *Aggregator) Backends() []string {
	names := make([]string, len(a.backends))
	for i, b := range a.backends {
		names[i] = b.Name()
	}

	return names
}

type pollResult struct {
	index    int
	readings []Reading
	err      error
}

// Snapshot polls every backend and merges the results. Duplicate
// sensors, keyed by chip, label and type, keep the reading from the
// highest priority backend. A snapshot is always returned, even when
// every backend fails.
func (a *Aggregator) Snapshot(ctx context.Context) Snapshot {
	results := make([]pollResult, len(a.backends))

	var wg sync.WaitGroup
	for i, backend := range a.backends {
		wg.Add(1)
		go func(i int, backend Backend) {
			defer wg.Done()
			results[i] = a.poll(ctx, i, backend)
		}(i, backend)
	}
	wg.Wait()

	snapshot := Snapshot{At: time.Now()}
	type key struct {
		chip  string
		label string
		typ   Type
	}
	seen := make(map[key]bool)

	for _, result := range results {
		if result.err != nil {
			logger.Debug().
				Err(result.err).
				Str("backend", a.backends[result.index].Name()).
				Msg("Sensor backend failed, skipping")

			continue
		}
		for _, r := range result.readings {
			k := key{chip: r.Chip, label: r.Label, typ: r.Type}
			if seen[k] {
				continue
			}
			seen[k] = true
			snapshot.Readings = append(snapshot.Readings, r)
		}
	}

	return snapshot
}

// poll runs one backend under its own deadline. Backends that block
// past the deadline are abandoned; their goroutine drains into a
// buffered channel.
func (a *Aggregator) poll(ctx context.Context, index int, backend Backend) pollResult {
	pctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan pollResult, 1)
	go func() {
		readings, err := backend.Poll(pctx)
		done <- pollResult{index: index, readings: readings, err: err}
	}()

	select {
	case result := <-done:
		return result
	case <-pctx.Done():
		return pollResult{index: index, err: pctx.Err()}
	}
}
