// Package config holds the engine configuration.
//
// Values are layered: DefaultConfig, then an optional kenning.yaml, then
// KENNING_* environment variables (a .env file in the working directory is
// loaded first when present).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the working directory when no
// explicit path is given.
const FileName = "kenning.yaml"

// Storage backends for the knowledge graph.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Signal extractors.
const (
	ExtractorToken = "token"
	ExtractorProse = "prose"
)

// Config holds the engine configuration.
type Config struct {
	DataDir string `yaml:"data_dir"`
	Project string `yaml:"project"`
	Backend string `yaml:"backend"`

	IOTimeout     time.Duration `yaml:"io_timeout"`
	RetryAttempts uint          `yaml:"retry_attempts"`

	MaxWorkingMemory int `yaml:"max_working_memory"`
	MaxQuickRefs     int `yaml:"max_quick_refs"`
	MaxWaiting       int `yaml:"max_waiting"`

	DefaultComplexity string `yaml:"default_complexity"`
	DecayWindow       int    `yaml:"decay_window"`
	Extractor         string `yaml:"extractor"` // token or prose

	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsAddr string `yaml:"metrics_addr"`

	InboxDir    string `yaml:"inbox_dir"`
	CompleteDir string `yaml:"complete_dir"`
	TaskQueue   string `yaml:"task_queue"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
// Everything lives under .kenning in the working directory.
func DefaultConfig() Config {
	dir := ".kenning"
	return Config{
		DataDir:           dir,
		Project:           defaultProject(),
		Backend:           BackendJSON,
		IOTimeout:         5 * time.Second,
		RetryAttempts:     3,
		MaxWorkingMemory:  20,
		MaxQuickRefs:      10,
		MaxWaiting:        10,
		DefaultComplexity: "normal",
		DecayWindow:       10,
		Extractor:         ExtractorToken,
		LogLevel:          "info",
		LogFormat:         "json",
		InboxDir:          filepath.Join(dir, "inbox"),
		CompleteDir:       filepath.Join(dir, "complete"),
		TaskQueue:         filepath.Join(dir, "task_queue.md"),
	}
}

func defaultProject() string {
	wd, err := os.Getwd()
	if err != nil {
		return "default"
	}
	return filepath.Base(wd)
}

// Load builds a Config from defaults, the YAML file at path and the
// environment. An empty path means FileName in the working directory, which
// may be absent.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("config: loading .env: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = FileName
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("KENNING_DATA_DIR"); v != "" {
		c.SetDataDir(v)
	}
	if v := os.Getenv("KENNING_BACKEND"); v != "" {
		c.Backend = v
	}
	if v := os.Getenv("KENNING_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("KENNING_PROJECT"); v != "" {
		c.Project = v
	}
	if v := os.Getenv("KENNING_IO_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			// Bare numbers are seconds.
			secs, nerr := strconv.Atoi(v)
			if nerr != nil {
				return fmt.Errorf("config: KENNING_IO_TIMEOUT %q: %w", v, err)
			}
			d = time.Duration(secs) * time.Second
		}
		c.IOTimeout = d
	}
	return nil
}

// SetDataDir changes the data directory. Inbox, completion markers and the
// task queue follow it unless they were configured outside the old one.
func (c *Config) SetDataDir(dir string) {
	old := c.DataDir
	c.DataDir = dir
	c.rebaseUnder(old)
}

// rebaseUnder moves derived paths that still point inside the old data dir.
func (c *Config) rebaseUnder(old string) {
	for _, p := range []*string{&c.InboxDir, &c.CompleteDir, &c.TaskQueue} {
		rel, err := filepath.Rel(old, *p)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		*p = filepath.Join(c.DataDir, rel)
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	switch c.Backend {
	case BackendJSON, BackendSQLite:
	default:
		return fmt.Errorf("config: backend %q: must be %s or %s", c.Backend, BackendJSON, BackendSQLite)
	}
	switch c.DefaultComplexity {
	case "easy", "normal", "complex":
	default:
		return fmt.Errorf("config: default_complexity %q: must be easy, normal or complex", c.DefaultComplexity)
	}
	switch c.Extractor {
	case ExtractorToken, ExtractorProse:
	default:
		return fmt.Errorf("config: extractor %q: must be %s or %s", c.Extractor, ExtractorToken, ExtractorProse)
	}
	if c.IOTimeout <= 0 {
		return fmt.Errorf("config: io_timeout must be positive")
	}
	if c.MaxWorkingMemory <= 0 || c.MaxQuickRefs <= 0 || c.MaxWaiting <= 0 {
		return fmt.Errorf("config: hot-state caps must be positive")
	}
	return nil
}

// Path joins name onto the data directory.
func (c Config) Path(name string) string {
	return filepath.Join(c.DataDir, name)
}
