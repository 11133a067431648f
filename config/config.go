// Package config loads and validates node configuration from YAML files.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Participant seeds a user homed on this node at startup.
type Participant struct {
	Addr string `yaml:"addr"`
	Sign string `yaml:"sign"`
	Dir  string `yaml:"dir"` // participant chain directory
}

// Config holds all storage-node configuration.
type Config struct {
	NodeID       string        `yaml:"node_id"`
	Mode         string        `yaml:"mode"`     // classic | modified
	DataDir      string        `yaml:"data_dir"` // block directory of the node
	Store        string        `yaml:"store"`    // file | leveldb
	RPCPort      int           `yaml:"rpc_port"`
	RPCAuthToken string        `yaml:"rpc_auth_token,omitempty"` // empty → no auth
	Participants []Participant `yaml:"participants,omitempty"`
}

// DefaultConfig returns a single-node classic configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:  "stg0",
		Mode:    "classic",
		DataDir: "./data",
		Store:   "file",
		RPCPort: 8545,
	}
}

// Load reads a YAML config file from path and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must not be empty")
	}
	if c.Mode != "classic" && c.Mode != "modified" {
		return fmt.Errorf("mode must be classic or modified, got %q", c.Mode)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Store != "file" && c.Store != "leveldb" {
		return fmt.Errorf("store must be file or leveldb, got %q", c.Store)
	}
	if c.RPCPort <= 0 || c.RPCPort > 65535 {
		return fmt.Errorf("rpc_port must be 1-65535, got %d", c.RPCPort)
	}
	for i, p := range c.Participants {
		if p.Addr == "" || p.Dir == "" {
			return fmt.Errorf("participants[%d]: addr and dir are required", i)
		}
	}
	return nil
}

// Save writes the config to path as YAML.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
