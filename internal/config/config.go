// Package config loads zflow settings. Values are layered, later layers
// winning: defaults, the global ~/.config/zflow/config.json, the workspace
// .zflow/config.json, ZFLOW_* environment variables, then command flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultTarget        = "espressif"
	DefaultBaudRate      = 115200
	DefaultDockerContext = "docker"
	DefaultStateDir      = ".zflow"
	DefaultLogLevel      = "info"

	fileName  = "config.json"
	envPrefix = "ZFLOW"
)

// Config holds all zflow configuration.
type Config struct {
	Target        string `json:"target,omitempty" mapstructure:"target"`
	Workspace     string `json:"workspace,omitempty" mapstructure:"workspace"`
	Board         string `json:"board,omitempty" mapstructure:"board"`
	BaudRate      int    `json:"baud_rate,omitempty" mapstructure:"baud_rate"`
	FlashBaudRate int    `json:"flash_baud_rate,omitempty" mapstructure:"flash_baud_rate"`
	DockerContext string `json:"docker_context,omitempty" mapstructure:"docker_context"`
	TargetsFile   string `json:"targets_file,omitempty" mapstructure:"targets_file"`
	StateDir      string `json:"state_dir,omitempty" mapstructure:"state_dir"`
	LockDir       string `json:"lock_dir,omitempty" mapstructure:"lock_dir"`
	VenvPath      string `json:"venv_path,omitempty" mapstructure:"venv_path"`
	LogLevel      string `json:"log_level,omitempty" mapstructure:"log_level"`
	MetricsFile   string `json:"metrics_file,omitempty" mapstructure:"metrics_file"`
}

// Keys lists every configuration key; flags with these names override the
// file and environment layers.
var Keys = []string{
	"target", "workspace", "board", "baud_rate", "flash_baud_rate",
	"docker_context", "targets_file", "state_dir", "lock_dir",
	"venv_path", "log_level", "metrics_file",
}

// Defaults returns a Config with default values.
func Defaults() Config {
	return Config{
		Target:        DefaultTarget,
		BaudRate:      DefaultBaudRate,
		DockerContext: DefaultDockerContext,
		StateDir:      DefaultStateDir,
		LogLevel:      DefaultLogLevel,
	}
}

// GlobalPath returns ~/.config/zflow/config.json.
func GlobalPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "zflow", fileName), nil
}

// WorkspacePath returns <workspaceRoot>/.zflow/config.json.
func WorkspacePath(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, DefaultStateDir, fileName)
}

// Load merges every configuration layer for workspaceRoot. flags may be nil;
// only flags the user actually set take effect.
func Load(workspaceRoot string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetConfigType("json")

	d := Defaults()
	v.SetDefault("target", d.Target)
	v.SetDefault("baud_rate", d.BaudRate)
	v.SetDefault("docker_context", d.DockerContext)
	v.SetDefault("state_dir", d.StateDir)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("flash_baud_rate", 0)
	// Every key needs a default for AutomaticEnv to reach it in Unmarshal.
	for _, k := range Keys {
		if v.Get(k) == nil {
			v.SetDefault(k, "")
		}
	}

	if global, err := GlobalPath(); err == nil {
		if err := mergeFile(v, global); err != nil {
			return Config{}, err
		}
	}
	if workspaceRoot != "" {
		if err := mergeFile(v, WorkspacePath(workspaceRoot)); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for _, k := range Keys {
			if f := flags.Lookup(flagName(k)); f != nil {
				if err := v.BindPFlag(k, f); err != nil {
					return Config{}, err
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// flagName maps a key to its command-line spelling: baud_rate → baud-rate.
func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

func mergeFile(v *viper.Viper, path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	if err := v.MergeConfig(f); err != nil {
		return &FileError{Path: path, Err: err}
	}
	return nil
}

// FileError reports a configuration file that could not be parsed.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string { return "config " + e.Path + ": " + e.Err.Error() }
func (e *FileError) Unwrap() error { return e.Err }

// Save writes the config to the workspace .zflow/config.json by default,
// or to the global config if global is true.
func Save(cfg Config, workspaceRoot string, global bool) error {
	path, err := filePath(workspaceRoot, global)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// Set changes one key in a single config file. Other layers are not folded
// into the file. key may use either the key or the flag spelling.
func Set(workspaceRoot string, global bool, key, value string) error {
	key = strings.ReplaceAll(key, "-", "_")
	if !isKey(key) {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	path, err := filePath(workspaceRoot, global)
	if err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigType("json")
	if err := mergeFile(v, path); err != nil {
		return err
	}
	v.Set(key, value)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return Save(cfg, workspaceRoot, global)
}

// ErrUnknownKey is returned by Set for keys outside Keys.
var ErrUnknownKey = errors.New("unknown config key")

func isKey(key string) bool {
	for _, k := range Keys {
		if k == key {
			return true
		}
	}
	return false
}

func filePath(workspaceRoot string, global bool) (string, error) {
	if global {
		return GlobalPath()
	}
	return WorkspacePath(workspaceRoot), nil
}
