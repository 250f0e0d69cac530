package telemetry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"codeberg.org/mutker/powerctl/internal/errors"
)

// Journal appends one JSON line per cycle to the snapshot log. Lines
// are self-contained so the file can be tailed or replayed with
// standard tools.
type Journal struct {
	mu   sync.Mutex
	file *os.File
}

func NewJournal(path string) (*Journal, error) {
	errFactory := errors.New()

	if path == "" {
		return nil, errFactory.New(ErrInvalidJournalPath)
	}
	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrJournalInit, err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, defaultFilePerm)
	if err != nil {
		return nil, errFactory.Wrap(ErrJournalInit, err)
	}

	return &Journal{file: file}, nil
}

func (j *Journal) Record(_ context.Context, cycle *Cycle) error {
	errFactory := errors.New()

	if cycle == nil {
		return errFactory.New(ErrInvalidCycle)
	}

	line, err := json.Marshal(cycle)
	if err != nil {
		return errFactory.Wrap(ErrJournalWrite, err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.file.Write(line); err != nil {
		return errFactory.Wrap(ErrJournalWrite, err)
	}
	if err := j.file.Sync(); err != nil {
		return errFactory.Wrap(ErrJournalWrite, err)
	}

	return nil
}

func (j *Journal) Close() error {
	errFactory := errors.New()

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.file.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}

	return nil
}
