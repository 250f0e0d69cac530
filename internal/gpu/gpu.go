package gpu

import (
	"math"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"codeberg.org/mutker/powerctl/internal/errors"
	"codeberg.org/mutker/powerctl/internal/logger"
)

const milliWattsToWatts = 1000

// Limits describes the allowed range for a controllable value
type Limits struct {
	Min, Max, Default int
}

// Device wraps a single NVML device handle. Fan duty is expressed in
// percent, power in watts.
type Device struct {
	handle      nvml.Device
	name        string
	fanCount    int
	fanLimits   Limits
	powerLimits Limits
	mu          sync.Mutex
}

// New initializes NVML and opens the first GPU
func New() (*Device, error) {
	errFactory := errors.New()

	if ret := nvml.Init(); !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrInitFailed, newNVMLError(ret))
	}

	handle, ret := nvml.DeviceGetHandleByIndex(0)
	if !IsNVMLSuccess(ret) {
		_ = nvml.Shutdown()
		return nil, errFactory.Wrap(ErrDeviceNotFound, newNVMLError(ret))
	}

	d := &Device{handle: handle}
	if err := d.initialize(); err != nil {
		_ = nvml.Shutdown()
		return nil, err
	}

	return d, nil
}

func (d *Device) initialize() error {
	errFactory := errors.New()

	if name, ret := d.handle.GetName(); IsNVMLSuccess(ret) {
		d.name = name
		logger.Info().Msgf("Detected GPU: %v", name)
	} else {
		logger.Warn().Msgf("Failed to get GPU name: %v", nvml.ErrorString(ret))
	}

	count, ret := d.handle.GetNumFans()
	if !IsNVMLSuccess(ret) {
		return errFactory.Wrap(ErrFanCountFailed, newNVMLError(ret))
	}
	d.fanCount = count
	logger.Debug().Msgf("Detected fans: %d", d.fanCount)

	if minSpeed, maxSpeed, ret := d.handle.GetMinMaxFanSpeed(); IsNVMLSuccess(ret) {
		d.fanLimits = Limits{Min: minSpeed, Max: maxSpeed, Default: minSpeed}
	} else {
		logger.Debug().Msgf("Fan speed limits unavailable: %v", nvml.ErrorString(ret))
		d.fanLimits = Limits{Min: 0, Max: 100}
	}

	d.powerLimits = d.readPowerLimits()

	return nil
}

func (d *Device) readPowerLimits() Limits {
	minLimit, maxLimit, ret := d.handle.GetPowerManagementLimitConstraints()
	if !IsNVMLSuccess(ret) {
		return Limits{}
	}

	limits := Limits{
		Min: int(minLimit / milliWattsToWatts),
		Max: int(maxLimit / milliWattsToWatts),
	}
	if def, ret := d.handle.GetPowerManagementDefaultLimit(); IsNVMLSuccess(ret) {
		limits.Default = int(def / milliWattsToWatts)
	}

	return limits
}

func (d *Device) Shutdown() error {
	errFactory := errors.New()
	if ret := nvml.Shutdown(); !IsNVMLSuccess(ret) {
		return errFactory.Wrap(ErrShutdownFailed, newNVMLError(ret))
	}

	return nil
}

func (d *Device) Name() string {
	return d.name
}

func (d *Device) FanCount() int {
	return d.fanCount
}

func (d *Device) FanSpeedLimits() Limits {
	return d.fanLimits
}

func (d *Device) PowerLimits() Limits {
	return d.powerLimits
}

// Temperature returns the core temperature in degrees Celsius
func (d *Device) Temperature() (int, error) {
	errFactory := errors.New()

	temp, ret := d.handle.GetTemperature(nvml.TEMPERATURE_GPU)
	if !IsNVMLSuccess(ret) {
		return 0, errFactory.Wrap(ErrTemperatureReadFailed, newNVMLError(ret))
	}

	return int(temp), nil
}

// FanSpeed returns the duty cycle of the given fan in percent
func (d *Device) FanSpeed(fanIndex int) (int, error) {
	errFactory := errors.New()

	speed, ret := d.handle.GetFanSpeed_v2(fanIndex)
	if !IsNVMLSuccess(ret) {
		return 0, errFactory.Wrap(ErrGetFanSpeedFailed, newNVMLError(ret))
	}

	return int(speed), nil
}

// PowerUsage returns the current board draw in watts
func (d *Device) PowerUsage() (float64, error) {
	errFactory := errors.New()

	usage, ret := d.handle.GetPowerUsage()
	if !IsNVMLSuccess(ret) {
		return 0, errFactory.Wrap(ErrPowerReadFailed, newNVMLError(ret))
	}

	return float64(usage) / milliWattsToWatts, nil
}

// PowerLimit returns the active power management limit in watts
func (d *Device) PowerLimit() (int, error) {
	errFactory := errors.New()

	limit, ret := d.handle.GetPowerManagementLimit()
	if !IsNVMLSuccess(ret) {
		return 0, errFactory.Wrap(ErrPowerLimitFailed, newNVMLError(ret))
	}

	return int(limit / milliWattsToWatts), nil
}

// SetFanSpeed pins every fan to the given duty cycle, leaving
// automatic control
func (d *Device) SetFanSpeed(percent int) error {
	errFactory := errors.New()

	d.mu.Lock()
	defer d.mu.Unlock()

	percent = d.ClampFanSpeed(percent)
	for i := 0; i < d.fanCount; i++ {
		if ret := nvml.DeviceSetFanSpeed_v2(d.handle, i, percent); !IsNVMLSuccess(ret) {
			return errFactory.WithData(ErrSetFanSpeed, i).WithMessage(nvml.ErrorString(ret))
		}
	}
	logger.Debug().Msgf("Set GPU fan speed: %d%%", percent)

	return nil
}

// EnableAutoFan returns every fan to driver-managed speed
func (d *Device) EnableAutoFan() error {
	errFactory := errors.New()

	d.mu.Lock()
	defer d.mu.Unlock()

	for i := 0; i < d.fanCount; i++ {
		if ret := nvml.DeviceSetDefaultFanSpeed_v2(d.handle, i); !IsNVMLSuccess(ret) {
			return errFactory.WithData(ErrEnableAutoFan, i).WithMessage(nvml.ErrorString(ret))
		}
	}
	logger.Debug().Msg("GPU auto fan control: enabled")

	return nil
}

// SetPowerLimit sets the power management limit in watts
func (d *Device) SetPowerLimit(watts int) error {
	errFactory := errors.New()

	d.mu.Lock()
	defer d.mu.Unlock()

	if watts < 0 || watts > math.MaxUint32/milliWattsToWatts {
		return errFactory.WithData(ErrSetPowerLimit, watts)
	}

	limitInMilliWatts := uint32(watts) * milliWattsToWatts
	if ret := d.handle.SetPowerManagementLimit(limitInMilliWatts); !IsNVMLSuccess(ret) {
		return errFactory.Wrap(ErrSetPowerLimit, newNVMLError(ret))
	}
	logger.Debug().Msgf("Set GPU power limit: %dW", watts)

	return nil
}

func (d *Device) ClampFanSpeed(percent int) int {
	return clamp(percent, d.fanLimits.Min, d.fanLimits.Max)
}

func (d *Device) ClampPowerLimit(watts int) int {
	return clamp(watts, d.powerLimits.Min, d.powerLimits.Max)
}

func clamp(value, minValue, maxValue int) int {
	if value < minValue {
		return minValue
	}
	if value > maxValue {
		return maxValue
	}

	return value
}
