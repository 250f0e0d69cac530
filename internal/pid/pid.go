package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"codeberg.org/mutker/powerctl/internal/errors"
)

const pidFile = "powerd.pid"

func path() string {
	return filepath.Join(os.TempDir(), pidFile)
}

// Write records the current process ID, refusing when another live
// daemon already owns the file. Stale or unreadable files are
// overwritten.
func Write() error {
	errFactory := errors.New()

	if pid, ok := Running(); ok {
		return errFactory.WithData(errors.ErrAlreadyRunning, pid)
	}

	if err := os.WriteFile(path(), []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Running reports the PID of a live daemon, if any.
func Running() (int, bool) {
	raw, err := os.ReadFile(path())
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, false
	}

	// signal 0 probes liveness without delivering anything
	return pid, unix.Kill(pid, 0) == nil
}

// Remove deletes the PID file.
func Remove() error {
	errFactory := errors.New()

	if _, err := os.Stat(path()); os.IsNotExist(err) {
		return nil
	}

	if err := os.Remove(path()); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}
