// Package config reads the optional czcage YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the top-level configuration. Command-line flags override it.
type File struct {
	Server ServerConfig `yaml:"server"`
	Live   LiveConfig   `yaml:"live"`
}

// ServerConfig controls the rewriting proxy.
type ServerConfig struct {
	Addr      string        `yaml:"addr"`
	PublicURL string        `yaml:"public_url"`
	Sites     string        `yaml:"sites"`
	Assets    string        `yaml:"assets"`
	DB        string        `yaml:"db"` // empty keeps settings in memory
	CacheTTL  time.Duration `yaml:"cache_ttl"` // negative disables the page cache
	Timeout   time.Duration `yaml:"fetch_timeout"`
	Verbose   bool          `yaml:"verbose"`
}

// LiveConfig opens a browser tab at startup.
type LiveConfig struct {
	URL         string        `yaml:"url"`
	Headful     bool          `yaml:"headful"`
	Root        string        `yaml:"root"`
	LoadTimeout time.Duration `yaml:"load_timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *File {
	var f File
	f.applyDefaults()
	return &f
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	f.applyDefaults()
	return &f, nil
}

// applyDefaults fills only what nothing else provides. Empty server paths
// and durations are left for the environment defaults of the proxy.
func (f *File) applyDefaults() {
	if f.Server.Addr == "" {
		f.Server.Addr = ":8081"
	}
	if f.Live.Root == "" {
		f.Live.Root = "body"
	}
	if f.Live.LoadTimeout <= 0 {
		f.Live.LoadTimeout = 30 * time.Second
	}
}
