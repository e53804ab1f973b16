package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/izzi01/zk-communist/pkg/schedule"
)

// Config errors.
var (
	ErrNoTerminalAddress = errors.New("terminal address is required")
	ErrPasswordConflict  = errors.New("terminal password and credentials file both set")
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// TerminalConfig configures the terminal link.
type TerminalConfig struct {
	// Address is the terminal's UDP address (host:port).
	Address string `yaml:"address"`

	// Password is the inline comm key password. For development;
	// production deployments use a sealed credentials file.
	Password uint32 `yaml:"password"`

	// CredentialsFile is a sealed credentials file path. When set, the
	// password comes from the file and the inline value must be unset.
	CredentialsFile string `yaml:"credentials_file"`

	ConnectTimeout Duration `yaml:"connect_timeout"`
	CommandTimeout Duration `yaml:"command_timeout"`
}

// HeartbeatConfig configures idle liveness probing.
type HeartbeatConfig struct {
	Interval  Duration `yaml:"interval"`
	Timeout   Duration `yaml:"timeout"`
	MaxMisses int      `yaml:"max_misses"`
}

// ReconnectConfig configures session establishment retries.
type ReconnectConfig struct {
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	MaxAttempts    int      `yaml:"max_attempts"`
}

// ScheduleConfig configures the operational window and target range.
type ScheduleConfig struct {
	// WindowStart and WindowEnd bound the daily window, "HH:MM" or
	// "HH:MM:SS".
	WindowStart string `yaml:"window_start"`
	WindowEnd   string `yaml:"window_end"`

	// Days are three-letter day names; empty means Monday through
	// Saturday.
	Days []string `yaml:"days"`

	// TargetLow and TargetHigh bound the pushed clock values.
	TargetLow  string `yaml:"target_low"`
	TargetHigh string `yaml:"target_high"`

	// IntervalMin and IntervalMax bound the inter-cycle sleep, in
	// seconds.
	IntervalMin int `yaml:"interval_min"`
	IntervalMax int `yaml:"interval_max"`
}

// LoopConfig configures loop behavior beyond the schedule.
type LoopConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	CommandRetries   int      `yaml:"command_retries"`
	WorstRTT         Duration `yaml:"worst_rtt"`
	AttemptHistory   int      `yaml:"attempt_history"`
	TargetHistory    int      `yaml:"target_history"`
}

// AdminConfig configures the administrative HTTP API.
type AdminConfig struct {
	// Listen is the bind address. Empty disables the admin server.
	Listen string `yaml:"listen"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is the slog level: debug, info, warn, error.
	Level string `yaml:"level"`

	// File is the CBOR event log path. Empty disables the file log.
	File string `yaml:"file"`
}

// Config is the full daemon configuration.
type Config struct {
	Terminal  TerminalConfig  `yaml:"terminal"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Loop      LoopConfig      `yaml:"loop"`
	Admin     AdminConfig     `yaml:"admin"`
	Log       LogConfig       `yaml:"log"`
}

// Load reads, overrides, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides fields from ZK_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("ZK_TERMINAL_ADDRESS"); v != "" {
		c.Terminal.Address = v
	}
	if v := os.Getenv("ZK_TERMINAL_PASSWORD"); v != "" {
		if p, err := strconv.ParseUint(v, 10, 32); err == nil {
			c.Terminal.Password = uint32(p)
		}
	}
	if v := os.Getenv("ZK_CREDENTIALS_FILE"); v != "" {
		c.Terminal.CredentialsFile = v
	}
	if v := os.Getenv("ZK_ADMIN_LISTEN"); v != "" {
		c.Admin.Listen = v
	}
	if v := os.Getenv("ZK_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("ZK_LOG_FILE"); v != "" {
		c.Log.File = v
	}
}

// Validate checks the configuration. Any error here is fatal.
func (c *Config) Validate() error {
	if c.Terminal.Address == "" {
		return ErrNoTerminalAddress
	}
	if c.Terminal.CredentialsFile != "" && c.Terminal.Password != 0 {
		return ErrPasswordConflict
	}
	if _, err := c.Schedule.Window(); err != nil {
		return err
	}
	w, _ := c.Schedule.Window()
	if _, err := c.Schedule.TargetRange(w); err != nil {
		return err
	}
	if err := c.Schedule.Intervals().Validate(); err != nil {
		return err
	}
	return nil
}

// Window builds and validates the operational window.
func (s ScheduleConfig) Window() (schedule.OperationWindow, error) {
	start, err := schedule.ParseClock(s.WindowStart)
	if err != nil {
		return schedule.OperationWindow{}, fmt.Errorf("window_start: %w", err)
	}
	end, err := schedule.ParseClock(s.WindowEnd)
	if err != nil {
		return schedule.OperationWindow{}, fmt.Errorf("window_end: %w", err)
	}

	days := schedule.MonSat
	if len(s.Days) > 0 {
		days, err = schedule.ParseDayMask(s.Days)
		if err != nil {
			return schedule.OperationWindow{}, fmt.Errorf("days: %w", err)
		}
	}

	w := schedule.OperationWindow{Start: start, End: end, Days: days}
	if err := w.Validate(); err != nil {
		return schedule.OperationWindow{}, err
	}
	return w, nil
}

// TargetRange builds and validates the target range against the window.
func (s ScheduleConfig) TargetRange(w schedule.OperationWindow) (schedule.TargetRange, error) {
	low, err := schedule.ParseClock(s.TargetLow)
	if err != nil {
		return schedule.TargetRange{}, fmt.Errorf("target_low: %w", err)
	}
	high, err := schedule.ParseClock(s.TargetHigh)
	if err != nil {
		return schedule.TargetRange{}, fmt.Errorf("target_high: %w", err)
	}

	r := schedule.TargetRange{Low: low, High: high}
	if err := r.Validate(w); err != nil {
		return schedule.TargetRange{}, err
	}
	return r, nil
}

// Intervals builds the interval bounds.
func (s ScheduleConfig) Intervals() schedule.IntervalBounds {
	return schedule.IntervalBounds{Min: s.IntervalMin, Max: s.IntervalMax}
}

// SlogLevel maps the configured level name to a slog level string form
// understood by slog.Level.UnmarshalText. Defaults to "info".
func (c *Config) SlogLevel() string {
	if c.Log.Level == "" {
		return "info"
	}
	return strings.ToLower(c.Log.Level)
}

// TerminalPassword resolves the comm key password, opening the sealed
// credentials file when one is configured. The passphrase comes from the
// ZK_CREDENTIALS_KEY environment variable.
func (c *Config) TerminalPassword() (uint32, error) {
	if c.Terminal.CredentialsFile == "" {
		return c.Terminal.Password, nil
	}
	passphrase := os.Getenv("ZK_CREDENTIALS_KEY")
	if passphrase == "" {
		return 0, errors.New("ZK_CREDENTIALS_KEY not set for sealed credentials")
	}
	creds, err := OpenCredentials(c.Terminal.CredentialsFile, passphrase)
	if err != nil {
		return 0, err
	}
	return creds.Password, nil
}
