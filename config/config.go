// Package config loads htmlstage settings from YAML.
//
// The file lives at $XDG_CONFIG_HOME/htmlstage/config.yaml (falling back to
// ~/.config/htmlstage/config.yaml). A missing file yields DefaultConfig.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dannyswat/htmlstage"
)

// CodeConfig controls how code-text edits are debounced.
type CodeConfig struct {
	SyncDelay   time.Duration `yaml:"sync_delay"`
	TypingDelay time.Duration `yaml:"typing_delay"`
}

// WorkspaceConfig controls the file watcher.
type WorkspaceConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	ForcePoll    bool          `yaml:"force_poll,omitempty"` // skip fsnotify
}

// StageConfig controls the preview server.
type StageConfig struct {
	Addr         string `yaml:"addr"`
	UIDAttribute string `yaml:"uid_attribute"`
}

// HistoryConfig bounds the undo log. Zero means unbounded.
type HistoryConfig struct {
	Limit int `yaml:"limit"`
}

// Config is the top-level configuration.
type Config struct {
	Code      CodeConfig      `yaml:"code"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Stage     StageConfig     `yaml:"stage"`
	History   HistoryConfig   `yaml:"history"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		Code: CodeConfig{
			SyncDelay:   htmlstage.DefaultSyncDelay,
			TypingDelay: htmlstage.DefaultTypingDelay,
		},
		Workspace: WorkspaceConfig{
			PollInterval: time.Second,
		},
		Stage: StageConfig{
			Addr:         "127.0.0.1:7357",
			UIDAttribute: "data-stage-uid",
		},
		History: HistoryConfig{
			Limit: 100,
		},
	}
}

// Dir returns the XDG config directory for htmlstage.
func Dir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "htmlstage")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "htmlstage")
}

// Path returns the full path to config.yaml.
func Path() string {
	dir := Dir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// Load reads the config file from the XDG config directory.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return DefaultConfig(), nil
	}
	return LoadFrom(path)
}

// LoadFrom reads config from path. Keys absent from the file keep their
// defaults. A missing file is not an error.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveTo writes cfg to path, creating its directory.
func SaveTo(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	durations := []struct {
		key string
		d   time.Duration
	}{
		{"code.sync_delay", c.Code.SyncDelay},
		{"code.typing_delay", c.Code.TypingDelay},
		{"workspace.poll_interval", c.Workspace.PollInterval},
	}
	for _, d := range durations {
		if d.d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %v", d.key, d.d))
		}
	}
	if strings.TrimSpace(c.Stage.UIDAttribute) == "" {
		errs = append(errs, errors.New("stage.uid_attribute must not be empty"))
	}
	if c.History.Limit < 0 {
		errs = append(errs, fmt.Errorf("history.limit must not be negative, got %d", c.History.Limit))
	}
	return errors.Join(errs...)
}

// CoordinatorOptions translates the code and history settings.
func (c Config) CoordinatorOptions() []htmlstage.Option {
	return []htmlstage.Option{
		htmlstage.WithDelays(c.Code.SyncDelay, c.Code.TypingDelay),
		htmlstage.WithHistoryLimit(c.History.Limit),
	}
}
