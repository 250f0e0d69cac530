package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/mutker/powerctl/internal/errors"
	"codeberg.org/mutker/powerctl/internal/logger"
)

const (
	schemaVersion = 1

	createTablesSQL = `
        CREATE TABLE IF NOT EXISTS schema_versions (
            version     INTEGER PRIMARY KEY,
            applied_at  TEXT NOT NULL
        );
        CREATE TABLE IF NOT EXISTS history (
            timestamp INTEGER PRIMARY KEY,
            zone TEXT NOT NULL,
            profile TEXT NOT NULL,
            cpu_temp REAL,
            gpu_temp REAL,
            cpu_fan_rpm REAL,
            gpu_fan_rpm REAL,
            cpu_power REAL,
            gpu_power REAL,
            voltages TEXT,
            alerts TEXT
        );`
)

// ensureSchema brings the database to the current schema version. A
// version mismatch backs the file up before the schema is recreated.
func ensureSchema(db *sql.DB, dbPath string) error {
	version, err := schemaVersionOf(db)
	if err != nil {
		return err
	}
	if version == schemaVersion {
		return nil
	}

	if version != 0 {
		backupPath, err := backupDatabase(db, dbPath, version)
		if err != nil {
			return err
		}
		logger.Info().
			Str("path", backupPath).
			Int("version", version).
			Msg("Database backup created before schema rebuild")

		if err := dropTables(db); err != nil {
			return err
		}
	}

	return initSchema(db)
}

// initSchema creates the cycle history schema and records its version
func initSchema(db *sql.DB) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrStorageInit, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				logger.Debug().Err(err).Msg("Failed to rollback schema transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.Wrap(ErrStorageInit, err)
	}
	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, schemaVersion); err != nil {
		return errFactory.Wrap(ErrStorageInit, err)
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrStorageInit, err)
	}
	committed = true

	logger.Debug().Int("version", schemaVersion).Msg("Schema initialized")

	return nil
}

// schemaVersionOf returns the recorded schema version, zero for a
// fresh database
func schemaVersionOf(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := tableExists(db, "schema_versions")
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaMigration, err)
	}

	return version, nil
}

func tableExists(db *sql.DB, name string) (bool, error) {
	errFactory := errors.New()

	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, name).Scan(&exists)
	if err != nil {
		return false, errFactory.Wrap(ErrSchemaMigration, err)
	}

	return exists, nil
}

// backupDatabase copies the database aside before a schema rebuild.
// VACUUM INTO requires no active transaction.
func backupDatabase(db *sql.DB, dbPath string, version int) (string, error) {
	errFactory := errors.New()

	dir := filepath.Join(filepath.Dir(dbPath), "backups")
	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return "", errFactory.Wrap(ErrSchemaMigration, err)
	}

	timestamp := time.Now().UTC().Format("20060102T150405Z")
	backupPath := filepath.Join(dir, fmt.Sprintf("history_v%d_%s.db", version, timestamp))

	if _, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", backupPath)); err != nil {
		return "", errFactory.Wrap(ErrSchemaMigration, err)
	}

	return backupPath, nil
}

func dropTables(db *sql.DB) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaMigration, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				logger.Debug().Err(err).Msg("Failed to rollback drop tables")
			}
		}
	}()

	for _, table := range []string{"history", "schema_versions"} {
		if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return errFactory.Wrap(ErrSchemaMigration, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaMigration, err)
	}
	committed = true

	return nil
}
