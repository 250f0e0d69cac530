package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/powerctl/internal/errors"
	"codeberg.org/mutker/powerctl/internal/logger"

	_ "github.com/mattn/go-sqlite3"
)

const defaultHistoryLimit = 100

type sqliteRepository struct {
	db *sql.DB
	mu sync.Mutex
}

func NewRepository(cfg Config) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	logger.Debug().Msgf("Initializing telemetry repository at: %s", cfg.DBPath)

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	if err := ensureSchema(db, cfg.DBPath); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteRepository{
		db: db,
	}, nil
}

func (r *sqliteRepository) Store(ctx context.Context, cycle *Cycle) error {
	errFactory := errors.New()

	if cycle == nil {
		return errFactory.New(ErrInvalidCycle)
	}

	voltages, err := jsonColumn(cycle.Voltages, len(cycle.Voltages) == 0)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	alerts, err := jsonColumn(cycle.Alerts, len(cycle.Alerts) == 0)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err = r.db.ExecContext(ctx, `
        INSERT INTO history (
            timestamp, zone, profile,
            cpu_temp, gpu_temp,
            cpu_fan_rpm, gpu_fan_rpm,
            cpu_power, gpu_power,
            voltages, alerts
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(timestamp) DO UPDATE SET
            zone = excluded.zone,
            profile = excluded.profile,
            cpu_temp = excluded.cpu_temp,
            gpu_temp = excluded.gpu_temp,
            cpu_fan_rpm = excluded.cpu_fan_rpm,
            gpu_fan_rpm = excluded.gpu_fan_rpm,
            cpu_power = excluded.cpu_power,
            gpu_power = excluded.gpu_power,
            voltages = excluded.voltages,
            alerts = excluded.alerts
    `,
		cycle.Timestamp.Unix(),
		cycle.Zone,
		cycle.Profile,
		cycle.CPUTemp,
		cycle.GPUTemp,
		cycle.CPUFanRPM,
		cycle.GPUFanRPM,
		cycle.CPUPower,
		cycle.GPUPower,
		voltages,
		alerts,
	)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *sqliteRepository) History(ctx context.Context, since time.Time, limit int) ([]Cycle, error) {
	errFactory := errors.New()

	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.QueryContext(ctx, `
        SELECT timestamp, zone, profile,
               cpu_temp, gpu_temp,
               cpu_fan_rpm, gpu_fan_rpm,
               cpu_power, gpu_power,
               voltages, alerts
        FROM history
        WHERE timestamp >= ?
        ORDER BY timestamp DESC
        LIMIT ?
    `, since.Unix(), limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrHistoryQuery, err)
	}
	defer rows.Close()

	cycles := make([]Cycle, 0, limit)
	for rows.Next() {
		var (
			ts                 int64
			zone, profile      string
			cpuTemp, gpuTemp   sql.NullFloat64
			cpuFan, gpuFan     sql.NullFloat64
			cpuPower, gpuPower sql.NullFloat64
			voltages, alerts   sql.NullString
		)
		err := rows.Scan(&ts, &zone, &profile,
			&cpuTemp, &gpuTemp, &cpuFan, &gpuFan, &cpuPower, &gpuPower,
			&voltages, &alerts)
		if err != nil {
			return nil, errFactory.Wrap(ErrHistoryQuery, err)
		}

		cycle := Cycle{
			Timestamp: time.Unix(ts, 0).UTC(),
			Zone:      zone,
			Profile:   profile,
			CPUTemp:   nullableFloat(cpuTemp),
			GPUTemp:   nullableFloat(gpuTemp),
			CPUFanRPM: nullableFloat(cpuFan),
			GPUFanRPM: nullableFloat(gpuFan),
			CPUPower:  nullableFloat(cpuPower),
			GPUPower:  nullableFloat(gpuPower),
		}
		if voltages.Valid {
			if err := json.Unmarshal([]byte(voltages.String), &cycle.Voltages); err != nil {
				return nil, errFactory.Wrap(ErrHistoryQuery, err)
			}
		}
		if alerts.Valid {
			if err := json.Unmarshal([]byte(alerts.String), &cycle.Alerts); err != nil {
				return nil, errFactory.Wrap(ErrHistoryQuery, err)
			}
		}
		cycles = append(cycles, cycle)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrHistoryQuery, err)
	}

	return cycles, nil
}

func (r *sqliteRepository) Close() error {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}
	return nil
}

func jsonColumn(v any, empty bool) (any, error) {
	if empty {
		return nil, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return string(data), nil
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}

	return &v.Float64
}
