package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const defaultConfigPath = "~/.config/leaffliction/config.json"

// Config holds user-editable settings.
type Config struct {
	Logging      Logging      `json:"logging"`
	Paths        Paths        `json:"paths"`
	Augmentation Augmentation `json:"augmentation"`
	Analysis     Analysis     `json:"analysis"`
	Server       Server       `json:"server"`
	Watch        Watch        `json:"watch"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // traditional, text, json
	FileOutput bool   `json:"file_output"` // also write to log_dir
	LogDir     string `json:"log_dir"`
}

// Paths configures default input/output locations.
type Paths struct {
	DefaultInput  string `json:"default_input"`
	DefaultOutput string `json:"default_output"`
	DatabasePath  string `json:"database_path"`
}

// Augmentation tunes dataset balancing.
type Augmentation struct {
	// Seed fixes the sampling order; 0 draws one per run.
	Seed int64 `json:"seed"`
	// Target is the per-class size; 0 balances to the largest class.
	Target int `json:"target"`
	// Transforms restricts the augmentations sampled; empty means all.
	Transforms []string `json:"transforms"`
}

// Analysis tunes the transformation views.
type Analysis struct {
	Views     []string `json:"views"`
	Histogram bool     `json:"histogram"`
}

// Server configures the HTTP API.
type Server struct {
	Addr string `json:"addr"`
}

// Watch configures watch mode.
type Watch struct {
	Paths    []string `json:"paths"`
	Output   string   `json:"output"`
	Debounce Duration `json:"debounce"`
}

// Duration is a time.Duration that reads and writes as "500ms" in JSON.
type Duration struct{ time.Duration }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"500ms\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Load reads configuration from $LEAFFLICTION_CONFIG or the default path,
// falling back to defaults when no file exists.
func Load() (*Config, error) {
	configPath := os.Getenv("LEAFFLICTION_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	return LoadFile(configPath)
}

// LoadFile reads one config file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := defaultConfig()

	expanded, err := expandUser(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", expanded, err)
	}
	for _, p := range []*string{&cfg.Paths.DefaultInput, &cfg.Paths.DefaultOutput, &cfg.Paths.DatabasePath} {
		if *p, err = expandUser(*p); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	var problems []string
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "traditional", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not one of traditional, text, json", c.Logging.Format))
	}
	if c.Augmentation.Target < 0 {
		problems = append(problems, "augmentation.target must not be negative")
	}
	if c.Watch.Debounce.Duration < 0 {
		problems = append(problems, "watch.debounce must not be negative")
	}
	if c.Server.Addr == "" {
		problems = append(problems, "server.addr is empty")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Logging: Logging{
			Level:      "info",
			Format:     "traditional",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DefaultInput:  "",
			DefaultOutput: "",
			DatabasePath:  filepath.Join(os.TempDir(), "leaffliction.db"),
		},
		Analysis: Analysis{Histogram: true},
		Server:   Server{Addr: ":8080"},
		Watch: Watch{
			Output:   "./output/watch",
			Debounce: Duration{500 * time.Millisecond},
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
