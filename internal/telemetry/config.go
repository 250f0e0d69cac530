package telemetry

import "codeberg.org/mutker/powerctl/internal/errors"

const (
	defaultDirPerm  = 0o755
	defaultFilePerm = 0o644

	defaultDBPath      = "/var/lib/powerctl/history.db"
	defaultJournalPath = "/var/lib/powerctl/snapshots.jsonl"
)

type Config struct {
	DBPath      string
	JournalPath string
}

func DefaultConfig() Config {
	return Config{
		DBPath:      defaultDBPath,
		JournalPath: defaultJournalPath,
	}
}

// Validate rejects a configuration with every sink disabled. Individual
// paths are checked by the sink constructors.
func (c Config) Validate() error {
	errFactory := errors.New()
	if c.DBPath == "" && c.JournalPath == "" {
		return errFactory.New(ErrInvalidConfig)
	}
	return nil
}
