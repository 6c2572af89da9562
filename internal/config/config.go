// Package config loads and validates the YAML job description consumed by
// the provisioning tools: the tap URL, the SDM file/key selection, the key
// material locations, and runtime switches.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidationMode selects how much of the config a tool requires.
type ValidationMode int

const (
	// ValidationFull requires everything a full provisioning run needs.
	ValidationFull ValidationMode = iota
	// ValidationAuthOnly requires only the master key slot and key file, for
	// diagnostics and key rotation tools.
	ValidationAuthOnly
)

type Config struct {
	URL     string        `yaml:"url"`
	SDM     SDMConfig     `yaml:"sdm"`
	Auth    AuthConfig    `yaml:"auth"`
	Runtime RuntimeConfig `yaml:"runtime"`
}

type SDMConfig struct {
	FileNo   *int `yaml:"file_no"`
	SDMKeyNo *int `yaml:"sdm_key_no"`
}

type AuthConfig struct {
	MasterKeyNo      *int   `yaml:"master_key_no"`
	MasterKeyHexFile string `yaml:"master_key_hex_file"`
	WriteKeyNo       *int   `yaml:"write_key_no"`
	WriteKeyHexFile  string `yaml:"write_key_hex_file"`
}

type RuntimeConfig struct {
	// Reader selects the PC/SC reader by 0-based index or name substring;
	// empty means the first reader.
	Reader       string `yaml:"reader"`
	SettingsOnly *bool  `yaml:"settings_only"`
	ForcePlain   *bool  `yaml:"force_plain"`
}

func Load(path string) (*Config, error) {
	return LoadWithMode(path, ValidationFull)
}

func LoadWithMode(path string, mode ValidationMode) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.ValidateWithMode(mode); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	return c.ValidateWithMode(ValidationFull)
}

func (c *Config) ValidateWithMode(mode ValidationMode) error {
	switch mode {
	case ValidationAuthOnly:
		return c.validateAuthOnlyMode()
	case ValidationFull:
		return c.validateFullMode()
	default:
		return fmt.Errorf("unsupported validation mode: %d", mode)
	}
}

func (c *Config) validateAuthOnlyMode() error {
	if c.Auth.MasterKeyNo == nil {
		return fmt.Errorf("config.auth.master_key_no is required")
	}
	if *c.Auth.MasterKeyNo < 0 || *c.Auth.MasterKeyNo > 4 {
		return fmt.Errorf("config.auth.master_key_no must be 0..4")
	}
	if strings.TrimSpace(c.Auth.MasterKeyHexFile) == "" {
		return fmt.Errorf("config.auth.master_key_hex_file is required")
	}
	return validateReadableFile(c.Auth.MasterKeyHexFile, "config.auth.master_key_hex_file")
}

func (c *Config) validateFullMode() error {
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("config.url is required")
	}
	parsedURL, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("config.url is invalid: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("config.url must be absolute (include scheme and host)")
	}

	if c.SDM.FileNo == nil {
		return fmt.Errorf("config.sdm.file_no is required")
	}
	if *c.SDM.FileNo < 0 || *c.SDM.FileNo > 0x1F {
		return fmt.Errorf("config.sdm.file_no must be 0..31")
	}
	if c.SDM.SDMKeyNo == nil {
		return fmt.Errorf("config.sdm.sdm_key_no is required")
	}
	if *c.SDM.SDMKeyNo < 0 || *c.SDM.SDMKeyNo > 4 {
		return fmt.Errorf("config.sdm.sdm_key_no must be 0..4")
	}

	if err := c.validateAuthOnlyMode(); err != nil {
		return err
	}

	if c.Auth.WriteKeyNo == nil {
		return fmt.Errorf("config.auth.write_key_no is required")
	}
	if *c.Auth.WriteKeyNo < 0 || *c.Auth.WriteKeyNo > 4 {
		return fmt.Errorf("config.auth.write_key_no must be 0..4")
	}
	if strings.TrimSpace(c.Auth.WriteKeyHexFile) == "" {
		return fmt.Errorf("config.auth.write_key_hex_file is required")
	}
	if err := validateReadableFile(c.Auth.WriteKeyHexFile, "config.auth.write_key_hex_file"); err != nil {
		return err
	}

	if c.Runtime.SettingsOnly == nil {
		return fmt.Errorf("config.runtime.settings_only is required")
	}
	if c.Runtime.ForcePlain == nil {
		return fmt.Errorf("config.runtime.force_plain is required")
	}

	return nil
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Auth.MasterKeyHexFile = resolvePath(configDir, c.Auth.MasterKeyHexFile)
	c.Auth.WriteKeyHexFile = resolvePath(configDir, c.Auth.WriteKeyHexFile)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateReadableFile(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}
