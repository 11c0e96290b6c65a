// Package config loads the deckd CLI configuration.
//
// Configuration lives in a single YAML file under os.UserConfigDir()/deckd/:
//
//	~/Library/Application Support/deckd/config.yaml   (macOS)
//	~/.config/deckd/config.yaml                       (Linux)
//	%AppData%/deckd/config.yaml                       (Windows)
//
// Every field has a working default for an all-local setup, so a missing
// file is not an error.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"
)

const (
	// appDir is the directory name under os.UserConfigDir().
	appDir = "deckd"

	configFile = "config.yaml"
)

// Config is the deckd configuration file.
type Config struct {
	// Endpoints of the perception and presentation servers.
	AudioURL     string `yaml:"audio_url"`
	GestureURL   string `yaml:"gesture_url"`
	VLMBaseURL   string `yaml:"vlm_base_url"`
	VLMModel     string `yaml:"vlm_model"`
	PresenterURL string `yaml:"presenter_url"`

	// UIAddr is the browser sync listen address.
	UIAddr string `yaml:"ui_addr"`

	// DataDir holds the command journal. Empty keeps the journal in
	// memory only.
	DataDir string `yaml:"data_dir"`

	// Deck is the default deck reference (path, s3:// or https:// URL).
	Deck string `yaml:"deck"`

	// Servers lists external processes to spawn before the session
	// starts. Empty means the servers are managed elsewhere.
	Servers []Server `yaml:"servers"`

	Fusion   Fusion   `yaml:"fusion"`
	Dispatch Dispatch `yaml:"dispatch"`
}

// Server is one external process to spawn at startup.
type Server struct {
	Name    string   `yaml:"name"`
	Command []string `yaml:"command"`
	Dir     string   `yaml:"dir"`
}

// Fusion tunes the arbitration engine. Durations are Go duration strings.
type Fusion struct {
	Window         string  `yaml:"window"`
	Cooldown       string  `yaml:"cooldown"`
	BaseConfidence float64 `yaml:"base_confidence"`
}

// Dispatch tunes the command dispatcher.
type Dispatch struct {
	AckTimeout   string `yaml:"ack_timeout"`
	QueryTimeout string `yaml:"query_timeout"`
}

// Default returns the all-local default configuration.
func Default() *Config {
	return &Config{
		AudioURL:     "ws://127.0.0.1:2700",
		GestureURL:   "ws://127.0.0.1:9003",
		VLMBaseURL:   "http://127.0.0.1:8080/v1",
		VLMModel:     "local",
		PresenterURL: "ws://127.0.0.1:9002/control",
		UIAddr:       ":9001",
	}
}

// Path returns the configuration file location.
func Path() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	return filepath.Join(base, appDir, configFile), nil
}

// Load reads the configuration from the default location. A missing file
// yields the defaults.
func Load() (*Config, error) {
	p, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFrom(p)
}

// LoadFrom reads the configuration from path. A missing file yields the
// defaults; a malformed one is an error.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ParseDuration parses a duration field, returning zero for an empty string
// so the component default applies.
func ParseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
