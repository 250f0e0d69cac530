package hardware

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func testDetector(root string, info ...cpu.InfoStat) *Detector {
	return &Detector{
		SysRoot: root,
		cpuInfo: func(context.Context) ([]cpu.InfoStat, error) {
			return info, nil
		},
		cpuCount: func(context.Context) (int, error) {
			return 4, nil
		},
		lookPath: func(string) (string, error) {
			return "", exec.ErrNotFound
		},
		runCmd: func(context.Context, string, ...string) error {
			return nil
		},
		gpuProbe: func() (GPUVendor, string) {
			return GPUNone, ""
		},
	}
}

func TestDetectModernIntel(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "sys/devices/system/cpu/cpu0/cpufreq/cpuinfo_min_freq", "800000\n")
	writeFixture(t, root, "sys/devices/system/cpu/cpu0/cpufreq/cpuinfo_max_freq", "3600000\n")
	writeFixture(t, root, "sys/devices/system/cpu/intel_pstate/status", "active\n")

	d := testDetector(root, cpu.InfoStat{
		VendorID:  "GenuineIntel",
		ModelName: "Intel(R) Core(TM) i7-6700K CPU @ 4.00GHz",
	})
	p := d.Detect(context.Background())

	assert.Equal(t, VendorIntel, p.Vendor)
	assert.Equal(t, GenSkylakePlus, p.Generation)
	assert.Equal(t, 4, p.Cores)
	assert.Equal(t, 800000, p.MinFreqKHz)
	assert.Equal(t, 3600000, p.MaxFreqKHz)
	assert.Equal(t, ThermalLimits{Comfort: 65, Warning: 75, Critical: 85, Emergency: 95}, p.Limits)
	assert.True(t, p.HasCPUFreq)
	assert.False(t, p.HasMSR)
	assert.Equal(t, []FreqMethod{FreqMethodPState, FreqMethodUserspace, FreqMethodBootParam}, p.FreqMethods)
}

func TestDetectFreqRangeFromScalingPolicy(t *testing.T) {
	root := t.TempDir()
	// No cpuinfo_* files anywhere, only the scaling pair under policy0
	writeFixture(t, root, "sys/devices/system/cpu/cpufreq/policy0/scaling_min_freq", "1200000\n")
	writeFixture(t, root, "sys/devices/system/cpu/cpufreq/policy0/scaling_max_freq", "2800000\n")

	d := testDetector(root, cpu.InfoStat{
		VendorID:  "AuthenticAMD",
		ModelName: "AMD Ryzen 5 3600",
	})
	p := d.Detect(context.Background())

	assert.Equal(t, 1200000, p.MinFreqKHz)
	assert.Equal(t, 2800000, p.MaxFreqKHz)
}

func TestDetectUnknownVendor(t *testing.T) {
	d := testDetector(t.TempDir(), cpu.InfoStat{
		VendorID:  "SomeVendor",
		ModelName: "Mystery CPU 9000",
	})
	p := d.Detect(context.Background())

	assert.Equal(t, VendorUnknown, p.Vendor)
	assert.Equal(t, GenUnknown, p.Generation)
	// The most conservative junction temperature in the table
	assert.Equal(t, ThermalLimits{Comfort: 45, Warning: 52, Critical: 59, Emergency: 66}, p.Limits)
	assert.Equal(t, []FreqMethod{FreqMethodBootParam}, p.FreqMethods)
	assert.Equal(t, defaultMinFreqKHz, p.MinFreqKHz)
	assert.Equal(t, defaultMaxFreqKHz, p.MaxFreqKHz)
}

func TestDetectCore2WithMSR(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "dev/cpu/0/msr", "")
	writeFixture(t, root, "proc/cpuinfo", "processor\t: 0\ncpu MHz\t\t: 2833.000\n")

	d := testDetector(root, cpu.InfoStat{
		VendorID:  "GenuineIntel",
		ModelName: "Intel(R) Core(TM)2 Duo CPU E8400 @ 3.00GHz",
	})
	p := d.Detect(context.Background())

	assert.Equal(t, GenCore2, p.Generation)
	assert.True(t, p.HasMSR)
	assert.False(t, p.HasCPUFreq)
	assert.Equal(t, []FreqMethod{FreqMethodMSR, FreqMethodBootParam}, p.FreqMethods)
	// Range estimated from the running frequency
	assert.Equal(t, 2833000, p.MaxFreqKHz)
	assert.Equal(t, 2833000/3, p.MinFreqKHz)
	assert.Equal(t, ThermalLimits{Comfort: 55, Warning: 63, Critical: 72, Emergency: 80}, p.Limits)
}

func TestDetectGPUFromDRM(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "sys/class/drm/card0/device/vendor", "0x10de\n")
	writeFixture(t, root, "sys/class/drm/card0/device/uevent", "DRIVER=nouveau\nPCI_ID=10DE:1B80\n")
	// Connector entries must be skipped
	writeFixture(t, root, "sys/class/drm/card0-DP-1/status", "connected\n")

	d := testDetector(root, cpu.InfoStat{VendorID: "GenuineIntel", ModelName: "Intel(R) Core(TM) i7-6700K"})
	p := d.Detect(context.Background())

	assert.Equal(t, GPUNvidia, p.GPU)
	assert.Equal(t, "GPU 10DE:1B80", p.GPUModel)
	assert.Equal(t, filepath.Join(root, "sys/class/drm/card0"), p.GPUDevice)
	assert.False(t, p.GPUPowerProfile)
	assert.False(t, p.GPUPowerCap)
}

func TestDetectGPUPrefersPowerControls(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "sys/class/drm/card0/device/vendor", "0x8086\n")
	writeFixture(t, root, "sys/class/drm/card1/device/vendor", "0x1002\n")
	writeFixture(t, root, "sys/class/drm/card1/device/power_profile", "auto\n")
	writeFixture(t, root, "sys/class/drm/card1/device/hwmon/hwmon3/power1_cap", "180000000\n")

	d := testDetector(root, cpu.InfoStat{VendorID: "AuthenticAMD", ModelName: "AMD Ryzen 7 5800X"})
	p := d.Detect(context.Background())

	assert.Equal(t, GPUAMD, p.GPU)
	assert.Equal(t, filepath.Join(root, "sys/class/drm/card1"), p.GPUDevice)
	assert.True(t, p.GPUPowerProfile)
	assert.True(t, p.GPUPowerCap)
}

func TestDetectReadsDMI(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "sys/class/dmi/id/sys_vendor", "LENOVO\n")
	writeFixture(t, root, "sys/class/dmi/id/product_name", "ThinkPad X230\n")

	d := testDetector(root, cpu.InfoStat{VendorID: "GenuineIntel", ModelName: "Intel(R) Core(TM) i5-3320M"})
	p := d.Detect(context.Background())

	assert.Equal(t, "LENOVO ThinkPad X230", p.Machine)
}
