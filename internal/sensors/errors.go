package sensors

import "codeberg.org/mutker/powerctl/internal/errors"

const (
	ErrBackendFailed = errors.ErrorCode("sensors_backend_failed")
	ErrNoSensors     = errors.ErrorCode("sensors_none_found")
	ErrParseFailed   = errors.ErrorCode("sensors_parse_failed")
	ErrCommandFailed = errors.ErrorCode("sensors_command_failed")
)
