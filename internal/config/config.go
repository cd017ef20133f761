// Package config provides configuration loading and defaults for labvm.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SubscriptionConfig holds the credentials used to register a freshly
// provisioned guest with the subscription service.
type SubscriptionConfig struct {
	OrgID         string `yaml:"org_id"`
	ActivationKey string `yaml:"activation_key"`
}

// PathsConfig holds filesystem paths used by the tool.
type PathsConfig struct {
	BasePath      string `yaml:"base_path"`
	ImageDir      string `yaml:"image_dir"`
	LibvirtSocket string `yaml:"libvirt_socket"`
	KnownHosts    string `yaml:"known_hosts"`
}

// UserConfig describes the interactive account created inside the guest.
// Password is optional; when empty the account is created key-only and
// password login is locked.
type UserConfig struct {
	Name          string `yaml:"name"`
	Password      string `yaml:"password"`
	PublicKeyPath string `yaml:"public_key_path"`
}

// GuestConfig holds the shape of the guest that gets defined.
type GuestConfig struct {
	MemoryMiB int    `yaml:"memory_mib"`
	VCPUs     int    `yaml:"vcpus"`
	Network   string `yaml:"network"`
}

// AuditConfig controls audit logging behaviour.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	LogPath string `yaml:"log_path"`
}

// SafetyConfig holds allowlist and denylist patterns for guest names the
// tool is permitted to create or destroy.
type SafetyConfig struct {
	Allowlist []string `yaml:"allowlist"`
	Denylist  []string `yaml:"denylist"`
}

// Config is the top-level configuration structure for labvm.
type Config struct {
	Subscription SubscriptionConfig `yaml:"subscription"`
	Paths        PathsConfig        `yaml:"paths"`
	User         UserConfig         `yaml:"user"`
	Guest        GuestConfig        `yaml:"guest"`
	Audit        AuditConfig        `yaml:"audit"`
	Safety       SafetyConfig       `yaml:"safety"`
}

// LoadConfig reads and parses a YAML configuration file from the given path.
// It returns a pointer to the populated Config and any error encountered.
// On error, nil is returned for the config pointer.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Normalize()
	return &cfg, nil
}

// DefaultConfig returns a new Config populated with sensible default values.
// Each call returns a distinct instance.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills every empty field that has a documented default, so a
// partial config file behaves as the defaults plus its own overrides.
// ImageDir is derived from BasePath after BasePath itself is settled.
func (c *Config) Normalize() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	if c.Paths.BasePath == "" {
		c.Paths.BasePath = filepath.Join(home, ".local", "share", "labvm")
	}
	if c.Paths.ImageDir == "" {
		c.Paths.ImageDir = filepath.Join(c.Paths.BasePath, "images")
	}
	if c.Paths.LibvirtSocket == "" {
		c.Paths.LibvirtSocket = "/var/run/libvirt/libvirt-sock"
	}
	if c.Paths.KnownHosts == "" {
		c.Paths.KnownHosts = filepath.Join(home, ".ssh", "known_hosts.labvm")
	}

	if c.User.Name == "" {
		c.User.Name = "lab"
	}
	if c.User.PublicKeyPath == "" {
		c.User.PublicKeyPath = filepath.Join(home, ".ssh", "id_ed25519.pub")
	}

	if c.Guest.MemoryMiB <= 0 {
		c.Guest.MemoryMiB = 2048
	}
	if c.Guest.VCPUs <= 0 {
		c.Guest.VCPUs = 2
	}
	if c.Guest.Network == "" {
		c.Guest.Network = "default"
	}
}

// ApplyEnvOverrides updates cfg in place with values from environment variables.
// Recognized variables:
//   - LABVM_ORG_ID overrides cfg.Subscription.OrgID
//   - LABVM_ACTIVATION_KEY overrides cfg.Subscription.ActivationKey
//   - LABVM_LIBVIRT_SOCKET overrides cfg.Paths.LibvirtSocket
func ApplyEnvOverrides(cfg *Config) {
	if org := os.Getenv("LABVM_ORG_ID"); org != "" {
		cfg.Subscription.OrgID = org
	}
	if key := os.Getenv("LABVM_ACTIVATION_KEY"); key != "" {
		cfg.Subscription.ActivationKey = key
	}
	if sock := os.Getenv("LABVM_LIBVIRT_SOCKET"); sock != "" {
		cfg.Paths.LibvirtSocket = sock
	}
}
