package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the environment override namespace.
const EnvPrefix = "RUNCRATE_"

// Load reads the configuration file at path, layers environment
// overrides on top of the defaults, and validates the result. An
// empty path loads the first default location that exists; a missing
// file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = firstExisting(DefaultPaths())
	}
	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPaths returns the config search locations in order:
// project-local .runcrate.toml, then ~/.runcrate/config.{toml,yaml,yml}.
func DefaultPaths() []string {
	var paths []string
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".runcrate.toml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		base := filepath.Join(home, ".runcrate")
		paths = append(paths,
			filepath.Join(base, "config.toml"),
			filepath.Join(base, "config.yaml"),
			filepath.Join(base, "config.yml"),
		)
	}
	return paths
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	return nil
}

// applyEnv layers RUNCRATE_* variables over the file values. Empty
// string values count as set.
func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv(EnvPrefix + "LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
	if v, ok := lookupInt(EnvPrefix + "RUN_AT_A_TIME"); ok {
		cfg.Run.AtATime = v
	}
	if v, ok := lookupInt(EnvPrefix + "TIMEOUT_SECS"); ok {
		cfg.Run.TimeoutSecs = v
	}
	if v, ok := lookupInt(EnvPrefix + "GRACE_SECS"); ok {
		cfg.Run.GraceSecs = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "REPORT_DIR"); ok {
		cfg.Reports.Dir = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "PLUGIN_DIRS"); ok {
		cfg.Plugins.Dirs = filepath.SplitList(v)
	}
	if v, ok := lookupBool(EnvPrefix + "VERSION_CHECK"); ok {
		cfg.Version.Check = v
	}
	if v, ok := lookupBool(EnvPrefix + "WORKSPACE"); ok {
		cfg.Scan.Workspace = v
	}
}

func lookupInt(key string) (int, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

func lookupBool(key string) (bool, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, false
	}
	return b, true
}
