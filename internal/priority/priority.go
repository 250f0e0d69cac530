// Package priority renices configured workloads when the thermal
// controller recommends backing them off. Recommendations arrive as
// nice values; 0 restores normal scheduling.
package priority

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	"codeberg.org/mutker/powerctl/internal/errors"
	"codeberg.org/mutker/powerctl/internal/logger"
)

type Config struct {
	// Patterns are case-insensitive substrings matched against process
	// names. Empty patterns disable the manager.
	Patterns []string
}

type candidate struct {
	pid  int32
	name string
}

// Manager applies nice recommendations to matching processes
type Manager struct {
	cfg Config

	list   func(ctx context.Context) ([]candidate, error)
	renice func(pid int32, nice int) error

	applied map[int32]int
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:  cfg,
		list: listProcesses,
		renice: func(pid int32, nice int) error {
			return unix.Setpriority(unix.PRIO_PROCESS, int(pid), nice)
		},
		applied: make(map[int32]int),
	}
}

func (m *Manager) Enabled() bool {
	return len(m.cfg.Patterns) > 0
}

// Run consumes nice recommendations until the context ends or the
// channel closes
func (m *Manager) Run(ctx context.Context, updates <-chan int) {
	for {
		select {
		case <-ctx.Done():
			return
		case nice, ok := <-updates:
			if !ok {
				return
			}
			if err := m.Apply(ctx, nice); err != nil {
				logger.Warn().Msgf("Failed to renice workloads: %v", err)
			}
		}
	}
}

// Apply renices every matching process to the given value, skipping
// processes already at it
func (m *Manager) Apply(ctx context.Context, nice int) error {
	errFactory := errors.New()

	if !m.Enabled() {
		return nil
	}

	candidates, err := m.list(ctx)
	if err != nil {
		return errFactory.Wrap(ErrScanFailed, err)
	}

	reniced := 0
	seen := make(map[int32]int, len(m.applied))
	for _, c := range candidates {
		if !matches(c.name, m.cfg.Patterns) {
			continue
		}

		if previous, ok := m.applied[c.pid]; ok && previous == nice {
			seen[c.pid] = nice

			continue
		}

		if err := m.renice(c.pid, nice); err != nil {
			logger.Debug().Msgf("Failed to renice %s (pid %d): %v", c.name, c.pid, err)

			continue
		}
		seen[c.pid] = nice
		reniced++
	}
	m.applied = seen

	if reniced > 0 {
		logger.Debug().Msgf("Reniced %d processes to %d", reniced, nice)
	}

	return nil
}

func matches(name string, patterns []string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return true
		}
	}

	return false
}

func listProcesses(ctx context.Context) ([]candidate, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]candidate, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{pid: p.Pid, name: name})
	}

	return candidates, nil
}
