package gpu

import (
	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"codeberg.org/mutker/powerctl/internal/errors"
)

const (
	ErrInitFailed     = errors.ErrorCode("gpu_init_failed")
	ErrDeviceNotFound = errors.ErrorCode("gpu_device_not_found")
	ErrShutdownFailed = errors.ErrorCode("gpu_shutdown_failed")

	ErrTemperatureReadFailed = errors.ErrorCode("gpu_temperature_read_failed")

	ErrFanCountFailed    = errors.ErrorCode("gpu_fan_count_failed")
	ErrGetFanSpeedFailed = errors.ErrorCode("gpu_fan_speed_failed")
	ErrSetFanSpeed       = errors.ErrorCode("gpu_set_fan_speed_failed")
	ErrEnableAutoFan     = errors.ErrorCode("gpu_enable_auto_fan_failed")

	ErrPowerReadFailed  = errors.ErrorCode("gpu_power_read_failed")
	ErrPowerLimitFailed = errors.ErrorCode("gpu_power_limit_failed")
	ErrSetPowerLimit    = errors.ErrorCode("gpu_set_power_limit_failed")
)

// nvmlError represents an NVML-specific error
type nvmlError struct {
	ret nvml.Return
}

func (e nvmlError) Error() string {
	return nvml.ErrorString(e.ret)
}

// newNVMLError creates an error from an NVML return code
func newNVMLError(ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}

	return &nvmlError{ret: ret}
}

// IsNVMLSuccess checks if a Return value indicates success
func IsNVMLSuccess(ret nvml.Return) bool {
	return ret == nvml.SUCCESS
}
