package control

import "codeberg.org/mutker/powerctl/internal/errors"

const (
	ErrNoMethods            = errors.ErrorCode("control_no_methods")
	ErrAxisExhausted        = errors.ErrorCode("control_axis_exhausted")
	ErrApplyFailed          = errors.ErrorCode("control_apply_failed")
	ErrUnsupportedFrequency = errors.ErrorCode("control_unsupported_frequency")
	ErrUnsupportedTarget    = errors.ErrorCode("control_unsupported_target")
	ErrBootParamOnly        = errors.ErrorCode("control_boot_param_only")
)
