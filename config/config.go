// Package config loads the glue-level settings: which bus to use, whether to
// simulate it, and how to retry, probe, trace and log. The i2c core never
// reads configuration itself; it receives the values built here.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"robothat-go/i2c"
	"robothat-go/i2c/retry"
	"robothat-go/smbus"
	"robothat-go/smbus/mock"
	"robothat-go/x/mathx"
)

// EnvPrefix applies to every key, e.g. ROBOT_HAT_MOCK_SMBUS=1.
const EnvPrefix = "ROBOT_HAT"

// Config is the root configuration.
type Config struct {
	// Bus is the bus id handed to the opener, e.g. "1" or "/dev/i2c-1".
	Bus string `mapstructure:"bus"`

	// MockSMBus selects the in-memory bus instead of hardware.
	MockSMBus bool `mapstructure:"mock_smbus"`
	// MockDevices are the addresses that acknowledge on the simulated bus.
	MockDevices []int `mapstructure:"mock_devices"`

	// Probe is the probe write: quick or byte.
	Probe string `mapstructure:"probe"`
	// Trace logs every transfer attempt at debug level.
	Trace bool `mapstructure:"trace"`

	Retry RetryConfig `mapstructure:"retry"`
	Log   LogConfig   `mapstructure:"log"`
}

// RetryConfig mirrors retry.Policy in config-friendly units.
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	InitialMS   int `mapstructure:"initial_ms"`
	MaxMS       int `mapstructure:"max_ms"`
	JitterMS    int `mapstructure:"jitter_ms"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	devs := make([]int, len(mock.DefaultDevices))
	for i, a := range mock.DefaultDevices {
		devs[i] = int(a)
	}
	return &Config{
		Bus:         "1",
		MockDevices: devs,
		Probe:       "quick",
		Retry: RetryConfig{
			MaxAttempts: retry.DefaultAttempts,
			InitialMS:   int(retry.DefaultInitial / time.Millisecond),
			MaxMS:       int(retry.DefaultMax / time.Millisecond),
			JitterMS:    int(retry.DefaultJitter / time.Millisecond),
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Filename:   "logs/robothat.log",
				MaxSizeMB:  10,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from path if non-empty, otherwise from
// ROBOT_HAT_CONFIG or a robot_hat.yaml in the usual places. A missing file is
// not an error. Environment variables override file values; `.` in keys
// becomes `_`, e.g. ROBOT_HAT_RETRY_MAX_ATTEMPTS=3.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("bus", cfg.Bus)
	v.SetDefault("mock_smbus", cfg.MockSMBus)
	v.SetDefault("mock_devices", cfg.MockDevices)
	v.SetDefault("probe", cfg.Probe)
	v.SetDefault("trace", cfg.Trace)
	v.SetDefault("retry.max_attempts", cfg.Retry.MaxAttempts)
	v.SetDefault("retry.initial_ms", cfg.Retry.InitialMS)
	v.SetDefault("retry.max_ms", cfg.Retry.MaxMS)
	v.SetDefault("retry.jitter_ms", cfg.Retry.JitterMS)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("robot_hat")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".robot_hat"))
		}
		v.AddConfigPath("/etc/robot_hat")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	c.Bus = strings.TrimSpace(c.Bus)
	if c.Bus == "" {
		return errors.New("bus must not be empty")
	}
	c.Probe = strings.ToLower(strings.TrimSpace(c.Probe))
	switch c.Probe {
	case "", "quick", "byte":
	default:
		return fmt.Errorf("invalid probe: %q (want quick or byte)", c.Probe)
	}
	for _, a := range c.MockDevices {
		if !mathx.Between(a, 0, i2c.MaxAddr) {
			return fmt.Errorf("invalid mock_devices entry %#x", a)
		}
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("invalid retry.max_attempts: %d", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialMS < 0 || c.Retry.MaxMS < 0 || c.Retry.JitterMS < 0 {
		return errors.New("retry durations must not be negative")
	}
	return nil
}

// RetryPolicy converts the retry section. Retryable is left nil so the
// transport installs its transient-error classifier.
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.Default()
	p.MaxAttempts = c.Retry.MaxAttempts
	p.Initial = time.Duration(c.Retry.InitialMS) * time.Millisecond
	p.Max = time.Duration(c.Retry.MaxMS) * time.Millisecond
	p.Jitter = time.Duration(c.Retry.JitterMS) * time.Millisecond
	return p
}

// ProbeMode converts the probe setting.
func (c *Config) ProbeMode() i2c.ProbeMode {
	if c.Probe == "byte" {
		return i2c.ProbeDummyByte
	}
	return i2c.ProbeQuick
}

// Opener returns the bus factory: the simulated bus when MockSMBus is set,
// the Linux SMBus device otherwise.
func (c *Config) Opener() smbus.Opener {
	if !c.MockSMBus {
		return smbus.OpenLinux
	}
	devs := make([]uint16, len(c.MockDevices))
	for i, a := range c.MockDevices {
		devs[i] = uint16(a)
	}
	return mock.NewOpener(devs...).Open
}
