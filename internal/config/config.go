// Package config holds the batch configuration: YAML loading, defaults,
// and validation of the enumerated option values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/notstpa/smartremux/internal/model"
)

const (
	appDirName     = "smartremux"
	configFileName = "config.yaml"
	historyDBName  = "history.db"

	// DefaultMoveSubdir is where originals land under post-action "move".
	DefaultMoveSubdir = "Remuxed"
)

// DefaultExtensions are the input file extensions considered video files.
var DefaultExtensions = []string{
	".mkv", ".mp4", ".mov", ".avi", ".wmv", ".flv", ".webm", ".m4v", ".ts", ".mts",
}

// Config holds all batch settings. Populated by Default and then mutated
// by flag binding before being passed (by pointer) to the packages that
// need it.
type Config struct {
	// Paths.
	InputDir  string `yaml:"input_dir"`
	OutputDir string `yaml:"output_dir"` // Empty: next to each source file

	// Output options.
	Container model.Container   `yaml:"container"`
	Audio     model.AudioPolicy `yaml:"audio"`
	CFR       model.CFRPolicy   `yaml:"cfr_fix"`

	// Post-conversion handling.
	PostAction         model.PostAction `yaml:"post_action"`
	MoveSubdir         string           `yaml:"move_subdir"`
	PreserveTimestamps bool             `yaml:"preserve_timestamps"`
	Overwrite          bool             `yaml:"overwrite"`

	// Scan behavior.
	ValidateInputs bool     `yaml:"validate"`
	Extensions     []string `yaml:"extensions"`
	MinFileSize    int64    `yaml:"min_file_size"`

	// Scheduling.
	Workers    int              `yaml:"workers"` // 0: number of CPUs
	Retries    int              `yaml:"retries"`
	CancelMode model.CancelMode `yaml:"cancel_mode"`

	// External tools. Empty: resolved from the executable dir, then PATH.
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`

	// Probe behavior.
	ProbeTimeoutSec int `yaml:"probe_timeout_sec"`

	// Logging and history.
	LogFile     string `yaml:"log_file"`
	HistoryPath string `yaml:"history_path"`
	Verbose     bool   `yaml:"verbose"`
}

// Default returns a Config with all defaults applied.
func Default() *Config {
	return &Config{
		Container:       model.ContainerMP4,
		Audio:           model.AudioAll,
		CFR:             model.CFRAuto,
		PostAction:      model.PostKeep,
		MoveSubdir:      DefaultMoveSubdir,
		ValidateInputs:  true,
		Extensions:      DefaultExtensions,
		MinFileSize:     1000,
		Workers:         runtime.NumCPU(),
		CancelMode:      model.CancelKill,
		ProbeTimeoutSec: 30,
	}
}

// ProbeTimeout returns the per-file ffprobe timeout.
func (c *Config) ProbeTimeout() time.Duration {
	if c.ProbeTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ProbeTimeoutSec) * time.Second
}

// WorkerCount returns the effective worker-pool size.
func (c *Config) WorkerCount() int {
	if c.Workers <= 0 {
		return runtime.NumCPU()
	}
	return c.Workers
}

// OutputFor returns the final output path for an input file.
func (c *Config) OutputFor(inputPath string) string {
	dir := c.OutputDir
	if dir == "" {
		dir = filepath.Dir(inputPath)
	}
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, stem+"."+string(c.Container))
}

// DefaultHistoryPath returns the history database location, preferring
// XDG_DATA_HOME.
func DefaultHistoryPath() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appDirName, historyDBName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", appDirName, historyDBName)
}

// Validate checks enumerated fields and path requirements.
func (c *Config) Validate() error {
	switch c.Container {
	case model.ContainerMP4, model.ContainerMOV:
	default:
		return fmt.Errorf("invalid container %q (want mp4 or mov)", c.Container)
	}
	switch c.Audio {
	case model.AudioAll, model.AudioNone:
	default:
		return fmt.Errorf("invalid audio policy %q (want all or none)", c.Audio)
	}
	switch c.CFR {
	case model.CFRAuto, model.CFROn, model.CFROff:
	default:
		return fmt.Errorf("invalid cfr_fix %q (want auto, on, or off)", c.CFR)
	}
	switch c.PostAction {
	case model.PostKeep, model.PostMove, model.PostDelete:
	default:
		return fmt.Errorf("invalid post_action %q (want keep, move, or delete)", c.PostAction)
	}
	switch c.CancelMode {
	case model.CancelDrain, model.CancelKill:
	default:
		return fmt.Errorf("invalid cancel_mode %q (want drain or kill)", c.CancelMode)
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must be >= 0, got %d", c.Retries)
	}
	if c.PostAction == model.PostMove && c.MoveSubdir == "" {
		return fmt.Errorf("move_subdir is required for post_action move")
	}
	return nil
}

// Load reads configuration from a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// LoadDefault loads config from the default location, falling back to
// built-in defaults when no file exists.
func LoadDefault() (*Config, error) {
	path, err := defaultConfigPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

func defaultConfigPath() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appDirName, configFileName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home dir: %w", err)
	}
	return filepath.Join(home, ".config", appDirName, configFileName), nil
}
