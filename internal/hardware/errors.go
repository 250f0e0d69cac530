package hardware

import "codeberg.org/mutker/powerctl/internal/errors"

const (
	ErrCPUInfoFailed    = errors.ErrorCode("hardware_cpu_info_failed")
	ErrInvalidFreqRange = errors.ErrorCode("hardware_invalid_freq_range")
)
