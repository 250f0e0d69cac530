package hardware

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jaypipes/ghw"
	"github.com/shirou/gopsutil/v3/cpu"

	"codeberg.org/mutker/powerctl/internal/logger"
)

const (
	defaultMinFreqKHz = 800000
	defaultMaxFreqKHz = 3000000

	cpufreqDir  = "sys/devices/system/cpu/cpu0/cpufreq"
	policy0Dir  = "sys/devices/system/cpu/cpufreq/policy0"
	pstateDir   = "sys/devices/system/cpu/intel_pstate"
	msrDevice   = "dev/cpu/0/msr"
	modprobeCmd = "modprobe"
)

// Detector assembles a hardware Profile from sysfs, CPU identification
// and GPU enumeration. Probes that fail degrade to conservative
// defaults instead of failing detection.
type Detector struct {
	// SysRoot prefixes all filesystem probes. Empty means "/".
	SysRoot string

	cpuInfo  func(ctx context.Context) ([]cpu.InfoStat, error)
	cpuCount func(ctx context.Context) (int, error)
	lookPath func(file string) (string, error)
	runCmd   func(ctx context.Context, name string, args ...string) error
	gpuProbe func() (GPUVendor, string)
}

func NewDetector() *Detector {
	return &Detector{
		cpuInfo: cpu.InfoWithContext,
		cpuCount: func(ctx context.Context) (int, error) {
			return cpu.CountsWithContext(ctx, true)
		},
		lookPath: exec.LookPath,
		runCmd: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
		gpuProbe: ghwGPUProbe,
	}
}

// Detect probes the running machine and assembles its capability
// profile
func (d *Detector) Detect(ctx context.Context) *Profile {
	p := &Profile{
		Vendor: VendorUnknown,
		Model:  "unknown",
		Cores:  1,
	}

	d.detectCPU(ctx, p)
	p.Generation = DetectGeneration(p.Vendor, p.Model)

	junction := MaxJunctionTemp(p.Vendor, p.Generation)
	p.Limits = LimitsForJunction(junction)

	p.MinFreqKHz, p.MaxFreqKHz = d.freqRange()
	p.HasCPUFreq = d.exists(cpufreqDir)
	p.HasMSR = d.checkMSR(ctx)
	p.FreqMethods = d.rankFreqMethods(p)

	d.detectGPU(p)
	p.Machine = d.readDMI()

	logger.Debug().
		Str("vendor", string(p.Vendor)).
		Str("model", p.Model).
		Str("generation", p.Generation.String()).
		Int("cores", p.Cores).
		Int("junction", junction).
		Str("limits", p.Limits.String()).
		Int("min_khz", p.MinFreqKHz).
		Int("max_khz", p.MaxFreqKHz).
		Interface("freq_methods", p.FreqMethods).
		Str("gpu", string(p.GPU)).
		Msg("Hardware profile assembled")

	return p
}

func (d *Detector) detectCPU(ctx context.Context, p *Profile) {
	info, err := d.cpuInfo(ctx)
	if err != nil || len(info) == 0 {
		logger.Warn().Err(err).Msg("CPU identification unavailable, assuming unknown vendor")
	} else {
		p.Model = strings.TrimSpace(info[0].ModelName)
		switch info[0].VendorID {
		case "GenuineIntel":
			p.Vendor = VendorIntel
		case "AuthenticAMD":
			p.Vendor = VendorAMD
		default:
			p.Vendor = VendorUnknown
		}
	}

	if count, err := d.cpuCount(ctx); err == nil && count > 0 {
		p.Cores = count
	}
}

// freqRange reads the supported frequency range in kHz from cpufreq.
// The hardware range is preferred over the scaling range, which a user
// may have narrowed; with no cpufreq at all the range is estimated from
// the running frequency.
func (d *Detector) freqRange() (minKHz, maxKHz int) {
	minKHz = defaultMinFreqKHz
	maxKHz = defaultMaxFreqKHz

	dirs := []string{cpufreqDir, policy0Dir}
	for _, dir := range dirs {
		if lo, hi, ok := d.readFreqPair(dir, "cpuinfo_min_freq", "cpuinfo_max_freq"); ok {
			return lo, hi
		}
	}
	for _, dir := range dirs {
		if lo, hi, ok := d.readFreqPair(dir, "scaling_min_freq", "scaling_max_freq"); ok {
			return lo, hi
		}
	}

	if mhz, ok := d.currentFreqMHz(); ok {
		if mhz < 2000 {
			mhz = 2000
		}
		maxKHz = mhz * 1000
		minKHz = maxKHz / 3
	}

	return minKHz, maxKHz
}

func (d *Detector) readFreqPair(dir, loFile, hiFile string) (lo, hi int, ok bool) {
	lo, errLo := d.readInt(filepath.Join(dir, loFile))
	hi, errHi := d.readInt(filepath.Join(dir, hiFile))

	return lo, hi, errLo == nil && errHi == nil && lo > 0 && hi > lo
}

func (d *Detector) currentFreqMHz() (int, bool) {
	data, err := os.ReadFile(d.path("proc/cpuinfo"))
	if err != nil {
		return 0, false
	}

	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "cpu MHz") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		mhz, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			continue
		}

		return int(mhz), true
	}

	return 0, false
}

// checkMSR loads the msr module when possible and reports whether the
// register device files exist
func (d *Detector) checkMSR(ctx context.Context) bool {
	if path, err := d.lookPath(modprobeCmd); err == nil {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_ = d.runCmd(cctx, path, "msr")
		cancel()
	}

	return d.exists(msrDevice)
}

// rankFreqMethods orders the frequency control strategies worth trying
// on this machine, most capable first. Unknown vendors get only the
// advisory boot parameter fallback.
func (d *Detector) rankFreqMethods(p *Profile) []FreqMethod {
	if p.Vendor == VendorUnknown {
		return []FreqMethod{FreqMethodBootParam}
	}

	methods := make([]FreqMethod, 0, 5)
	if p.Vendor == VendorIntel && d.exists(pstateDir) {
		methods = append(methods, FreqMethodPState)
	}
	if p.HasCPUFreq {
		methods = append(methods, FreqMethodUserspace)
	}
	if p.HasMSR && p.Generation == GenCore2 {
		methods = append(methods, FreqMethodMSR)
	}
	if _, err := d.lookPath("cpupower"); err == nil {
		methods = append(methods, FreqMethodCPUPower)
	}
	methods = append(methods, FreqMethodBootParam)

	return methods
}

var drmVendorIDs = map[string]GPUVendor{
	"0x1002": GPUAMD,
	"0x10de": GPUNvidia,
	"0x8086": GPUIntel,
}

var pciIDPattern = regexp.MustCompile(`PCI_ID=([0-9A-Fa-f:]+)`)

// detectGPU walks the DRM tree for display devices and their power
// control files, falling back to PCI enumeration when DRM is empty
func (d *Detector) detectGPU(p *Profile) {
	cards, _ := filepath.Glob(d.path("sys/class/drm/card*"))
	sort.Strings(cards)

	for _, card := range cards {
		// card0-DP-1 style entries are connectors, not devices
		if strings.Contains(filepath.Base(card), "-") {
			continue
		}
		device := filepath.Join(card, "device")
		vendorID, err := os.ReadFile(filepath.Join(device, "vendor"))
		if err != nil {
			continue
		}
		vendor, ok := drmVendorIDs[strings.ToLower(strings.TrimSpace(string(vendorID)))]
		if !ok {
			continue
		}

		hasProfile := fileExists(filepath.Join(device, "power_profile"))
		hasCap := len(globFiles(filepath.Join(device, "hwmon", "hwmon*", "power1_cap"))) > 0

		// Keep the first recognized card but prefer one that exposes
		// power controls
		if p.GPU == GPUNone || hasProfile || hasCap {
			p.GPU = vendor
			p.GPUDevice = card
			p.GPUPowerProfile = hasProfile
			p.GPUPowerCap = hasCap
			if model := readUeventPCIID(device); model != "" {
				p.GPUModel = model
			}
		}
		if hasProfile {
			break
		}
	}

	if p.GPU == GPUNone && d.gpuProbe != nil {
		p.GPU, p.GPUModel = d.gpuProbe()
	}
}

func readUeventPCIID(device string) string {
	data, err := os.ReadFile(filepath.Join(device, "uevent"))
	if err != nil {
		return ""
	}
	if m := pciIDPattern.FindSubmatch(data); m != nil {
		return "GPU " + string(m[1])
	}

	return ""
}

// ghwGPUProbe enumerates PCI display controllers, covering systems
// where no GPU driver has populated the DRM tree
func ghwGPUProbe() (GPUVendor, string) {
	info, err := ghw.GPU()
	if err != nil || info == nil {
		return GPUNone, ""
	}

	for _, card := range info.GraphicsCards {
		if card.DeviceInfo == nil || card.DeviceInfo.Vendor == nil {
			continue
		}
		model := ""
		if card.DeviceInfo.Product != nil {
			model = card.DeviceInfo.Product.Name
		}
		name := strings.ToLower(card.DeviceInfo.Vendor.Name)
		switch {
		case strings.Contains(name, "nvidia"):
			return GPUNvidia, model
		case strings.Contains(name, "advanced micro devices"), strings.Contains(name, "ati"):
			return GPUAMD, model
		case strings.Contains(name, "intel"):
			return GPUIntel, model
		}
	}

	return GPUNone, ""
}

// readDMI returns the DMI vendor and product strings, when readable
func (d *Detector) readDMI() string {
	vendor := d.readString("sys/class/dmi/id/sys_vendor")
	product := d.readString("sys/class/dmi/id/product_name")

	return strings.TrimSpace(vendor + " " + product)
}

func (d *Detector) path(rel string) string {
	if d.SysRoot == "" {
		return "/" + rel
	}

	return filepath.Join(d.SysRoot, rel)
}

func (d *Detector) exists(rel string) bool {
	return fileExists(d.path(rel))
}

func (d *Detector) readInt(rel string) (int, error) {
	data, err := os.ReadFile(d.path(rel))
	if err != nil {
		return 0, err
	}

	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func (d *Detector) readString(rel string) string {
	data, err := os.ReadFile(d.path(rel))
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}

func globFiles(pattern string) []string {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil
	}

	return matches
}
