// Package config loads the ciphersweep YAML configuration.
//
// The config file carries the TLD seeds and tuning knobs; everything in it
// can be overridden by command-line flags. Default location: ./ciphersweep.yaml.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is tried when no --config flag is given.
const DefaultPath = "ciphersweep.yaml"

// Duration unmarshals YAML duration strings like "90s" or "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the full file shape.
type Config struct {
	DB          string   `yaml:"db"`
	Port        int      `yaml:"port"`
	Concurrency int      `yaml:"concurrency"`
	ScanTimeout Duration `yaml:"scan_timeout"`
	Resolver    string   `yaml:"resolver"`   // "doh" or "direct"
	DoHURL      string   `yaml:"doh_url"`    // DoH endpoint
	DNSServer   string   `yaml:"dns_server"` // direct resolver nameserver
	Seeds       []Seed   `yaml:"seeds"`
}

// Seed is one parent domain to enumerate and its skip policy.
type Seed struct {
	TLD             string   `yaml:"tld"`
	KnownSubdomains []string `yaml:"known_subdomains"`
	// SkipExisting defaults to true when omitted.
	SkipExisting *bool `yaml:"skip_existing"`
}

// Skip reports the effective skip_existing flag.
func (s Seed) Skip() bool {
	return s.SkipExisting == nil || *s.SkipExisting
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the config file at path. An empty path tries DefaultPath and
// falls back to defaults when the file does not exist; an explicit path must
// exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DB == "" {
		c.DB = "domains.db"
	}
	if c.Port == 0 {
		c.Port = 443
	}
	if c.Concurrency == 0 {
		c.Concurrency = 32
	}
	if c.ScanTimeout == 0 {
		c.ScanTimeout = Duration(2 * time.Minute)
	}
	if c.Resolver == "" {
		c.Resolver = "doh"
	}
	if c.DoHURL == "" {
		c.DoHURL = "https://dns.google/resolve"
	}
	if c.DNSServer == "" {
		c.DNSServer = "1.1.1.1:53"
	}
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range (1-65535)", c.Port)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	if c.Resolver != "doh" && c.Resolver != "direct" {
		return fmt.Errorf("resolver must be %q or %q, got %q", "doh", "direct", c.Resolver)
	}
	return nil
}
