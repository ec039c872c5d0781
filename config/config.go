// Package config loads the host tool's settings: a JSON file, then a
// .env file and MRF24W_* environment variables. Command line flags are
// applied last by the CLI.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"mrf24w/core"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "MRF24W_"

type Config struct {
	// Device is the bridge's serial port. Ignored with Sim.
	Device string `json:"device"`
	Baud   int    `json:"baud"`
	Sim    bool   `json:"sim"`

	LogLevel string `json:"log_level"`
	LogPort  string `json:"log_port"`
	LogBaud  int    `json:"log_baud"`

	// TraceDB is the sqlite file transactions are recorded to. Empty
	// disables tracing.
	TraceDB string `json:"trace_db"`
	Listen  string `json:"listen"`

	Profile   uint8  `json:"profile"`
	PowerSave string `json:"power_save"`

	Driver DriverConfig `json:"driver"`
}

// DriverConfig overrides core.Config timeouts, in milliseconds.
type DriverConfig struct {
	RawMoveTimeoutMS int  `json:"raw_move_timeout_ms"`
	RawMoveRetries   int  `json:"raw_move_retries"`
	MgmtTimeoutMS    int  `json:"mgmt_timeout_ms"`
	WakeTimeoutMS    int  `json:"wake_timeout_ms"`
	AutoReset        bool `json:"auto_reset"`
}

// Power-save modes accepted by PowerSave.
const (
	PowerSaveOff    = "off"
	PowerSaveDTIM   = "dtim"
	PowerSaveNoDTIM = "nodtim"
)

var ErrInvalid = errors.New("config: invalid")

// LoadConfig parses JSON and fills in defaults.
func LoadConfig(jsonData []byte) (*Config, error) {
	c, err := parse(jsonData)
	if err != nil {
		return nil, err
	}
	return c, c.Validate()
}

func parse(jsonData []byte) (*Config, error) {
	var c Config
	if err := json.Unmarshal(jsonData, &c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	applyDefaults(&c)
	return &c, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	applyDefaults(c)
	return c
}

func applyDefaults(c *Config) {
	if c.Baud == 0 {
		c.Baud = 250000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogBaud == 0 {
		c.LogBaud = 115200
	}
	if c.Listen == "" {
		c.Listen = "localhost:8024"
	}
	if c.Profile == 0 {
		c.Profile = 1
	}
	if c.PowerSave == "" {
		c.PowerSave = PowerSaveOff
	}
	def := core.DefaultConfig()
	if c.Driver.RawMoveTimeoutMS == 0 {
		c.Driver.RawMoveTimeoutMS = int(def.RawMoveTimeout / time.Millisecond)
	}
	if c.Driver.RawMoveRetries == 0 {
		c.Driver.RawMoveRetries = def.RawMoveRetries
	}
	if c.Driver.MgmtTimeoutMS == 0 {
		c.Driver.MgmtTimeoutMS = int(def.MgmtTimeout / time.Millisecond)
	}
	if c.Driver.WakeTimeoutMS == 0 {
		c.Driver.WakeTimeoutMS = int(def.WakeTimeout / time.Millisecond)
	}
}

// Load reads path (if not empty), then the .env files (missing ones are
// skipped), then the process environment, which wins. The result is not
// validated; callers apply their flags first.
func Load(path string, envFiles ...string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if c, err = parse(data); err != nil {
			return nil, err
		}
	}
	env := map[string]string{}
	for _, f := range envFiles {
		vals, err := godotenv.Read(f)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", f, err)
		}
		for k, v := range vals {
			env[k] = v
		}
	}
	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(k, EnvPrefix) {
			env[k] = v
		}
	}
	if err := c.ApplyEnv(env); err != nil {
		return nil, err
	}
	return c, nil
}

// ApplyEnv overlays MRF24W_* keys from env. Other keys are ignored.
func (c *Config) ApplyEnv(env map[string]string) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := env[EnvPrefix+key]; ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		v, ok := env[EnvPrefix+key]
		if !ok {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s%s=%q", ErrInvalid, EnvPrefix, key, v))
			return
		}
		*dst = n
	}
	flag := func(key string, dst *bool) {
		v, ok := env[EnvPrefix+key]
		if !ok {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s%s=%q", ErrInvalid, EnvPrefix, key, v))
			return
		}
		*dst = b
	}

	str("DEVICE", &c.Device)
	num("BAUD", &c.Baud)
	flag("SIM", &c.Sim)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_PORT", &c.LogPort)
	num("LOG_BAUD", &c.LogBaud)
	str("TRACE_DB", &c.TraceDB)
	str("LISTEN", &c.Listen)
	str("POWER_SAVE", &c.PowerSave)
	profile := int(c.Profile)
	num("PROFILE", &profile)
	c.Profile = uint8(profile)
	num("RAW_MOVE_TIMEOUT_MS", &c.Driver.RawMoveTimeoutMS)
	num("RAW_MOVE_RETRIES", &c.Driver.RawMoveRetries)
	num("MGMT_TIMEOUT_MS", &c.Driver.MgmtTimeoutMS)
	num("WAKE_TIMEOUT_MS", &c.Driver.WakeTimeoutMS)
	flag("AUTO_RESET", &c.Driver.AutoReset)
	return errors.Join(errs...)
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	var errs []error
	if !c.Sim && c.Device == "" {
		errs = append(errs, fmt.Errorf("%w: no device and not simulated", ErrInvalid))
	}
	switch c.PowerSave {
	case PowerSaveOff, PowerSaveDTIM, PowerSaveNoDTIM:
	default:
		errs = append(errs, fmt.Errorf("%w: power_save %q", ErrInvalid, c.PowerSave))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if c.Driver.RawMoveTimeoutMS < 0 || c.Driver.MgmtTimeoutMS < 0 || c.Driver.WakeTimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("%w: negative timeout", ErrInvalid))
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}
	return l, nil
}

// Core returns the driver configuration. Pins, logger and callbacks are
// left for the caller.
func (c *Config) Core() core.Config {
	cfg := core.DefaultConfig()
	cfg.RawMoveTimeout = time.Duration(c.Driver.RawMoveTimeoutMS) * time.Millisecond
	cfg.RawMoveRetries = c.Driver.RawMoveRetries
	cfg.MgmtTimeout = time.Duration(c.Driver.MgmtTimeoutMS) * time.Millisecond
	cfg.WakeTimeout = time.Duration(c.Driver.WakeTimeoutMS) * time.Millisecond
	cfg.AutoReset = c.Driver.AutoReset
	return cfg
}
