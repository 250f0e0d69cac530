package config

import (
	"os"
	"strings"

	"codeberg.org/mutker/powerctl/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel = "info"

	defaultInterval        = 5
	defaultHysteresis      = 3
	defaultEscalationLimit = 3
	defaultFanFloor        = 20
	defaultBackendTimeout  = 3
	defaultApplyTimeout    = 5
	defaultProfile         = "performance"
	defaultSnapshotLog     = "/var/lib/powerctl/snapshots.jsonl"
	defaultTelemetryDB     = "/var/lib/powerctl/history.db"

	configName    = "powerctl"
	envPrefix     = "POWERCTL"
	envConfigPath = "POWERCTL_CONFIG"

	maxTemperature = 150
	maxFanPercent  = 100
)

type Config struct {
	Interval         int      `mapstructure:"interval"`
	Hysteresis       int      `mapstructure:"hysteresis"`
	EscalationLimit  int      `mapstructure:"escalation_limit"`
	FanFloor         int      `mapstructure:"fan_floor"`
	BackendTimeout   int      `mapstructure:"backend_timeout"`
	ApplyTimeout     int      `mapstructure:"apply_timeout"`
	Profile          string   `mapstructure:"profile"`
	Monitor          bool     `mapstructure:"monitor"`
	Debug            bool     `mapstructure:"debug"`
	Verbose          bool     `mapstructure:"verbose"`
	LogLevel         string   `mapstructure:"log_level"`
	SnapshotLog      string   `mapstructure:"snapshot_log"`
	Telemetry        bool     `mapstructure:"telemetry"`
	TelemetryDB      string   `mapstructure:"database"`
	Priority         bool     `mapstructure:"priority"`
	PriorityPatterns []string `mapstructure:"priority_patterns"`

	// Optional overrides for detected hardware values. Zero means
	// "use the detected value".
	ComfortTemp   int `mapstructure:"comfort_temp"`
	WarningTemp   int `mapstructure:"warning_temp"`
	CriticalTemp  int `mapstructure:"critical_temp"`
	EmergencyTemp int `mapstructure:"emergency_temp"`
	FreqMinKHz    int `mapstructure:"freq_min_khz"`
	FreqMaxKHz    int `mapstructure:"freq_max_khz"`
}

// Load loads configuration from command line flags, the environment and
// the config file, in that order of precedence.
func Load() (*Config, error) {
	errFactory := errors.New()

	fs := pflag.NewFlagSet(configName, pflag.ContinueOnError)
	fs.String("config", "", "path to configuration file")
	fs.Int("interval", defaultInterval, "seconds between poll cycles")
	fs.Int("hysteresis", defaultHysteresis, "de-escalation margin in degrees Celsius")
	fs.Int("fan-floor", defaultFanFloor, "minimum manual fan speed percentage")
	fs.String("profile", defaultProfile, "base power profile for the comfort zone")
	fs.Bool("monitor", false, "only monitor sensors, never apply changes")
	fs.Bool("telemetry", false, "record cycle history to the telemetry database")
	fs.String("database", defaultTelemetryDB, "path to the telemetry database")
	fs.String("snapshot-log", defaultSnapshotLog, "path to the snapshot journal")
	fs.String("log-level", DefaultLogLevel, "log level (debug, info, warning, error)")
	fs.Bool("debug", false, "enable debugging mode")
	fs.Bool("verbose", false, "enable verbose logging")

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}

		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	configPath, err := fs.GetString("config")
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	if configPath == "" {
		configPath = os.Getenv(envConfigPath)
	}

	return load(configPath, fs)
}

// LoadPath loads configuration from the given file only, skipping flag
// parsing. An empty path falls back to the default search paths.
func LoadPath(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(envConfigPath)
	}

	return load(path, nil)
}

func load(configPath string, fs *pflag.FlagSet) (*Config, error) {
	errFactory := errors.New()

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("toml")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errFactory.Wrap(errors.ErrReadConfig, err)
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit flags override file and environment values
	if fs != nil {
		fs.Visit(func(f *pflag.Flag) {
			if f.Name == "config" {
				return
			}
			v.Set(strings.ReplaceAll(f.Name, "-", "_"), f.Value.String())
		})
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", defaultInterval)
	v.SetDefault("hysteresis", defaultHysteresis)
	v.SetDefault("escalation_limit", defaultEscalationLimit)
	v.SetDefault("fan_floor", defaultFanFloor)
	v.SetDefault("backend_timeout", defaultBackendTimeout)
	v.SetDefault("apply_timeout", defaultApplyTimeout)
	v.SetDefault("profile", defaultProfile)
	v.SetDefault("monitor", false)
	v.SetDefault("debug", false)
	v.SetDefault("verbose", false)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("snapshot_log", defaultSnapshotLog)
	v.SetDefault("telemetry", false)
	v.SetDefault("database", defaultTelemetryDB)
	v.SetDefault("priority", false)
	v.SetDefault("priority_patterns", []string{})
	v.SetDefault("comfort_temp", 0)
	v.SetDefault("warning_temp", 0)
	v.SetDefault("critical_temp", 0)
	v.SetDefault("emergency_temp", 0)
	v.SetDefault("freq_min_khz", 0)
	v.SetDefault("freq_max_khz", 0)
}

// Validate checks the loaded configuration for consistency
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}
	if c.Hysteresis < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "hysteresis must not be negative")
	}
	if c.EscalationLimit < 1 {
		return errFactory.WithData(errors.ErrInvalidConfig, "escalation_limit must be at least 1")
	}
	if c.FanFloor < 0 || c.FanFloor > maxFanPercent {
		return errFactory.WithData(errors.ErrInvalidConfig, "fan_floor must be between 0 and 100")
	}
	if c.BackendTimeout <= 0 || c.ApplyTimeout <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "timeouts must be positive")
	}
	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if !validProfiles[c.Profile] {
		return errFactory.WithData(errors.ErrInvalidProfile, c.Profile)
	}

	if err := c.validateOverrides(); err != nil {
		return err
	}

	return nil
}

var validProfiles = map[string]bool{
	"performance": true,
	"balanced":    true,
	"powersave":   true,
	"emergency":   true,
}

func (c *Config) validateOverrides() error {
	errFactory := errors.New()

	for _, t := range []int{c.ComfortTemp, c.WarningTemp, c.CriticalTemp, c.EmergencyTemp} {
		if t < 0 || t > maxTemperature {
			return errFactory.WithData(errors.ErrInvalidLimits, t)
		}
	}

	// Overrides that are all present must keep their order
	if c.ComfortTemp > 0 && c.WarningTemp > 0 && c.CriticalTemp > 0 && c.EmergencyTemp > 0 {
		if !(c.ComfortTemp < c.WarningTemp && c.WarningTemp < c.CriticalTemp && c.CriticalTemp < c.EmergencyTemp) {
			return errFactory.WithData(errors.ErrInvalidLimits,
				[]int{c.ComfortTemp, c.WarningTemp, c.CriticalTemp, c.EmergencyTemp})
		}
	}

	if c.FreqMinKHz < 0 || c.FreqMaxKHz < 0 {
		return errFactory.New(errors.ErrInvalidConfig)
	}
	if c.FreqMinKHz > 0 && c.FreqMaxKHz > 0 && c.FreqMinKHz >= c.FreqMaxKHz {
		return errFactory.WithData(errors.ErrInvalidConfig, "freq_min_khz must be below freq_max_khz")
	}

	return nil
}
