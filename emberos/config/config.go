// Package config loads emberd's runtime configuration: defaults, an
// optional YAML file, and validation of the bounds the kernel cares about.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"ember/emberos/kernel"
	"ember/emberos/timer"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"gopkg.in/yaml.v3"
)

// Config is emberd's runtime configuration.
type Config struct {
	// TickHz is the timer frequency in ticks per second.
	TickHz int `yaml:"tick_hz"`
	// StackBlocks is the stack pool capacity, which bounds live threads.
	StackBlocks int       `yaml:"stack_blocks"`
	Log         LogConfig `yaml:"log"`
}

// LogConfig controls emberd's structured log output.
type LogConfig struct {
	// Level is a syslog keyword: emerg, alert, crit, err, warning,
	// notice, info, debug, trace, or disabled.
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		TickHz:      timer.DefaultHz,
		StackBlocks: kernel.DefaultStackBlocks,
		Log:         LogConfig{Level: "info"},
	}
}

// Load reads the file at path over the defaults. An empty path just
// returns Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration against the ranges the kernel and
// timer accept.
func (c Config) Validate() error {
	if c.TickHz < timer.MinHz || c.TickHz > timer.MaxHz {
		return fmt.Errorf("config: tick_hz %d outside [%d, %d]", c.TickHz, timer.MinHz, timer.MaxHz)
	}
	if c.StackBlocks < 2 {
		return fmt.Errorf("config: stack_blocks %d, need at least 2 (idle plus one)", c.StackBlocks)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a syslog keyword to a logiface level. The empty string
// means info.
func ParseLevel(s string) (logiface.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "emerg":
		return logiface.LevelEmergency, nil
	case "alert":
		return logiface.LevelAlert, nil
	case "crit":
		return logiface.LevelCritical, nil
	case "err", "error":
		return logiface.LevelError, nil
	case "warning", "warn":
		return logiface.LevelWarning, nil
	case "notice":
		return logiface.LevelNotice, nil
	case "info", "":
		return logiface.LevelInformational, nil
	case "debug":
		return logiface.LevelDebug, nil
	case "trace":
		return logiface.LevelTrace, nil
	case "disabled", "off":
		return logiface.LevelDisabled, nil
	default:
		return logiface.LevelDisabled, fmt.Errorf("config: unknown log level %q", s)
	}
}

// NewLogger builds the stumpy-backed structured logger emberd runs with,
// writing JSON lines to w at the configured level.
func (c Config) NewLogger(w io.Writer) *logiface.Logger[logiface.Event] {
	lvl, err := ParseLevel(c.Log.Level)
	if err != nil {
		lvl = logiface.LevelInformational
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(lvl),
	).Logger()
}
