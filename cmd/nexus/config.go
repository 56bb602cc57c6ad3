package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk shape of nexus.yaml. A missing file is not an
// error — every field has a workable zero-value default.
type Config struct {
	Agent struct {
		Name          string  `yaml:"name"`
		Model         string  `yaml:"model"`
		ModelClass    string  `yaml:"model_class"`
		Instructions  string  `yaml:"instructions"`
		Temperature   float64 `yaml:"temperature"`
		MaxToolCalls  int     `yaml:"max_tool_calls"`
		MaxToolRounds int     `yaml:"max_tool_rounds"`
	} `yaml:"agent"`

	Tools struct {
		Profile string   `yaml:"profile"`
		Allow   []string `yaml:"allow"`
		Deny    []string `yaml:"deny"`
	} `yaml:"tools"`
}

// loadConfig reads path as YAML, returning a zero-value Config (not an
// error) when the file doesn't exist — nexus runs with sane defaults
// against no config at all.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{}
	cfg.Agent.Name = "nexus"
	cfg.Agent.Model = "claude-sonnet-4-20250514"
	cfg.Agent.MaxToolCalls = 25
	cfg.Agent.MaxToolRounds = 10
	cfg.Tools.Profile = "default"

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
