// Package config loads runcrate's configuration: TOML primary, YAML
// as an alternate extension, RUNCRATE_* environment overrides layered
// on top, and an fsnotify watcher for live reload.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Default values.
const (
	DefaultRunAtATime = 1
	DefaultGraceSecs  = 3
	DefaultLogLevel   = "info"
)

// ErrInvalid is wrapped by validation failures.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full configuration tree.
type Config struct {
	Logging       Logging       `toml:"logging" yaml:"logging"`
	Run           Run           `toml:"run" yaml:"run"`
	Scan          Scan          `toml:"scan" yaml:"scan"`
	Plugins       Plugins       `toml:"plugins" yaml:"plugins"`
	Reports       Reports       `toml:"reports" yaml:"reports"`
	Version       Version       `toml:"version" yaml:"version"`
	Collaborators Collaborators `toml:"collaborators" yaml:"collaborators"`
}

// Logging controls the slog handler.
type Logging struct {
	// Level is debug, info, warn, or error.
	Level string `toml:"level" yaml:"level"`
}

// Run tunes the orchestrator defaults; flags override these.
type Run struct {
	// AtATime is the worker pool size.
	AtATime int `toml:"at_a_time" yaml:"at_a_time"`

	// TimeoutSecs bounds each target's runtime; 0 runs forever.
	TimeoutSecs int `toml:"timeout_secs" yaml:"timeout_secs"`

	// GraceSecs is the window between graceful signal and force kill.
	GraceSecs int `toml:"grace_secs" yaml:"grace_secs"`
}

// Scan tunes target discovery.
type Scan struct {
	// Dirs are extra roots scanned in addition to the project root.
	Dirs []string `toml:"dirs" yaml:"dirs"`

	// Workspace expands workspace members by default.
	Workspace bool `toml:"workspace" yaml:"workspace"`
}

// Plugins tunes the plugin host.
type Plugins struct {
	// Dirs are extra plugin directories searched after the standard
	// tiers.
	Dirs []string `toml:"dirs" yaml:"dirs"`

	// Disabled names providers to skip even when discovered.
	Disabled []string `toml:"disabled" yaml:"disabled"`
}

// Reports tunes run report persistence.
type Reports struct {
	// Dir receives run report files; empty disables reports.
	Dir string `toml:"dir" yaml:"dir"`

	// History enables the per-target run history file.
	History bool `toml:"history" yaml:"history"`
}

// Version tunes the advisory release check.
type Version struct {
	// Check enables the non-blocking crates.io lookup at startup.
	Check bool `toml:"check" yaml:"check"`
}

// Collaborators name external commands fed by the event bus.
type Collaborators struct {
	// ViewerCmd receives panic report JSON on stdin.
	ViewerCmd string `toml:"viewer_cmd" yaml:"viewer_cmd"`

	// TTSCmd receives spoken summaries on stdin.
	TTSCmd string `toml:"tts_cmd" yaml:"tts_cmd"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging: Logging{Level: DefaultLogLevel},
		Run: Run{
			AtATime:   DefaultRunAtATime,
			GraceSecs: DefaultGraceSecs,
		},
		Version: Version{Check: true},
		Reports: Reports{History: true},
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Run.AtATime < 1 {
		return fmt.Errorf("%w: run.at_a_time must be >= 1, got %d", ErrInvalid, c.Run.AtATime)
	}
	if c.Run.TimeoutSecs < 0 {
		return fmt.Errorf("%w: run.timeout_secs must be >= 0", ErrInvalid)
	}
	if c.Run.GraceSecs < 0 {
		return fmt.Errorf("%w: run.grace_secs must be >= 0", ErrInvalid)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown logging.level %q", ErrInvalid, c.Logging.Level)
	}
	return nil
}

// SlogLevel maps the configured level onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch c.Logging.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Timeout returns the run timeout as a duration; zero means forever.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Run.TimeoutSecs) * time.Second
}

// Grace returns the kill grace window.
func (c *Config) Grace() time.Duration {
	if c.Run.GraceSecs <= 0 {
		return time.Duration(DefaultGraceSecs) * time.Second
	}
	return time.Duration(c.Run.GraceSecs) * time.Second
}
