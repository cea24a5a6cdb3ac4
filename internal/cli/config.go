package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tailscale/hujson"
)

// ConfigDirName is the directory holding the global config file.
const ConfigDirName = "bucache"

// ConfigFileName is the name of the global config file.
const ConfigFileName = "config.json"

var (
	errConfigFileRead = errors.New("cannot read config file")
	errConfigInvalid  = errors.New("invalid config")
	errLogLevel       = errors.New("unknown log level")
)

// Config holds CLI settings. Fields left empty keep the library
// defaults.
type Config struct {
	Root        string `json:"root,omitempty"`
	MaxSize     uint64 `json:"max_size,omitempty"`
	Verify      *bool  `json:"verify,omitempty"`
	LogLevel    string `json:"log_level,omitempty"`
	ReadTimeout string `json:"read_timeout,omitempty"`
	ReadOnly    bool   `json:"read_only,omitempty"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	verify := true
	return Config{Verify: &verify, LogLevel: "warn"}
}

// globalConfigPath returns $XDG_CONFIG_HOME/bucache/config.json or
// ~/.config/bucache/config.json, or "" if neither can be determined.
func globalConfigPath(env map[string]string) string {
	if dir := env["XDG_CONFIG_HOME"]; dir != "" {
		return filepath.Join(dir, ConfigDirName, ConfigFileName)
	}
	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", ConfigDirName, ConfigFileName)
	}
	return ""
}

// LoadConfig merges, lowest first: built-in defaults, the global
// config file, the explicit config file. Flags are applied by the
// caller. It returns the config and the files that contributed.
func LoadConfig(explicitPath string, env map[string]string) (Config, []string, error) {
	cfg := DefaultConfig()
	var sources []string

	if path := globalConfigPath(env); path != "" {
		fileCfg, loaded, err := loadConfigFile(path, false)
		if err != nil {
			return Config{}, nil, err
		}
		if loaded {
			cfg = mergeConfig(cfg, fileCfg)
			sources = append(sources, path)
		}
	}

	if explicitPath != "" {
		fileCfg, _, err := loadConfigFile(explicitPath, true)
		if err != nil {
			return Config{}, nil, err
		}
		cfg = mergeConfig(cfg, fileCfg)
		sources = append(sources, explicitPath)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, nil, fmt.Errorf("%w: %w", errConfigInvalid, err)
	}
	return cfg, sources, nil
}

// loadConfigFile loads a config file. If mustExist is false, a missing
// file returns a zero config.
func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}
		return Config{}, false, fmt.Errorf("%w: %s", errConfigFileRead, path)
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}
	return cfg, true, nil
}

func parseConfig(data []byte) (Config, error) {
	// Standardize JSONC to JSON
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.Root != "" {
		base.Root = overlay.Root
	}
	if overlay.MaxSize != 0 {
		base.MaxSize = overlay.MaxSize
	}
	if overlay.Verify != nil {
		base.Verify = overlay.Verify
	}
	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}
	if overlay.ReadTimeout != "" {
		base.ReadTimeout = overlay.ReadTimeout
	}
	if overlay.ReadOnly {
		base.ReadOnly = true
	}
	return base
}

func validateConfig(cfg Config) error {
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return err
	}
	if cfg.ReadTimeout != "" {
		d, err := time.ParseDuration(cfg.ReadTimeout)
		if err != nil {
			return fmt.Errorf("read_timeout: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("read_timeout must be positive, got %s", cfg.ReadTimeout)
		}
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "warn", "warning":
		return slog.LevelWarn, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("%w: %q", errLogLevel, s)
}

// FormatConfig returns the config as formatted JSON.
func FormatConfig(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format config: %w", err)
	}
	return string(data), nil
}
