package telemetry

import (
	"context"

	"codeberg.org/mutker/powerctl/internal/errors"
)

type service struct {
	journal *Journal
	repo    Repository
}

// Open builds the telemetry pipeline described by cfg. An empty path
// disables that sink; at least one sink must be configured.
func Open(cfg Config) (Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var journal *Journal
	if cfg.JournalPath != "" {
		j, err := NewJournal(cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		journal = j
	}

	var repo Repository
	if cfg.DBPath != "" {
		r, err := NewRepository(cfg)
		if err != nil {
			if journal != nil {
				_ = journal.Close()
			}

			return nil, err
		}
		repo = r
	}

	return NewService(journal, repo), nil
}

// NewService fans cycles out to the journal and, when history is
// enabled, the repository. Either sink may be nil.
func NewService(journal *Journal, repo Repository) Collector {
	return &service{
		journal: journal,
		repo:    repo,
	}
}

func (s *service) Record(ctx context.Context, cycle *Cycle) error {
	errFactory := errors.New()

	if cycle == nil {
		return errFactory.New(ErrInvalidCycle)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	// one sink failing must not starve the other
	var firstErr error
	if s.journal != nil {
		if err := s.journal.Record(ctx, cycle); err != nil {
			firstErr = err
		}
	}
	if s.repo != nil {
		if err := s.repo.Store(ctx, cycle); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return errFactory.Wrap(ErrRecordFailed, firstErr)
	}

	return nil
}

func (s *service) Close() error {
	errFactory := errors.New()

	var firstErr error
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			firstErr = err
		}
	}
	if s.repo != nil {
		if err := s.repo.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return errFactory.Wrap(ErrServiceShutdown, firstErr)
	}

	return nil
}
