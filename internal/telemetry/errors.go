package telemetry

import "codeberg.org/mutker/powerctl/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig      = errors.ErrorCode("telemetry_invalid_config")
	ErrInvalidDBPath      = errors.ErrorCode("telemetry_invalid_db_path")
	ErrInvalidJournalPath = errors.ErrorCode("telemetry_invalid_journal_path")

	// Collection Errors
	ErrRecordFailed = errors.ErrorCode("telemetry_record_failed")
	ErrInvalidCycle = errors.ErrorCode("telemetry_invalid_cycle")

	// Storage Errors
	ErrStorageAccess   = errors.ErrorCode("telemetry_storage_access_failed")
	ErrStorageInit     = errors.ErrorCode("telemetry_storage_init_failed")
	ErrStorageClose    = errors.ErrorCode("telemetry_storage_close_failed")
	ErrHistoryQuery    = errors.ErrorCode("telemetry_history_query_failed")
	ErrSchemaMigration = errors.ErrorCode("telemetry_schema_migration_failed")

	// Journal Errors
	ErrJournalInit  = errors.ErrorCode("telemetry_journal_init_failed")
	ErrJournalWrite = errors.ErrorCode("telemetry_journal_write_failed")

	// Operation Errors
	ErrOperationTimeout = errors.ErrorCode("telemetry_operation_timeout")
	ErrServiceShutdown  = errors.ErrorCode("telemetry_service_shutdown_failed")
)
