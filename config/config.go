// Package config handles veldt.toml host configuration.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/veldt-lang/veldt/vm"
)

// Config is the host-side veldt.toml configuration.
type Config struct {
	Engine Engine `toml:"engine"`
	Cache  Cache  `toml:"cache"`
	Run    Run    `toml:"run"`
}

// Engine bounds a single execution.
type Engine struct {
	MaxCallDepth int `toml:"max-call-depth"`
	InitialStack int `toml:"initial-stack"`
}

// Cache configures the content-addressed unit store.
type Cache struct {
	Path    string `toml:"path"`
	Enabled bool   `toml:"enabled"`
}

// Run selects what to execute.
type Run struct {
	Entry string `toml:"entry"`
	Trace bool   `toml:"trace"`
}

// Default returns the configuration used when no veldt.toml exists.
func Default() *Config {
	return &Config{
		Engine: Engine{
			MaxCallDepth: vm.DefaultLimits.MaxCallDepth,
			InitialStack: vm.DefaultLimits.InitialStack,
		},
		Run: Run{Entry: "main"},
	}
}

// Load parses a veldt.toml file. A missing file yields Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	return c, nil
}

// Limits converts the engine section to vm limits.
func (c *Config) Limits() vm.Limits {
	return vm.Limits{
		MaxCallDepth: c.Engine.MaxCallDepth,
		InitialStack: c.Engine.InitialStack,
	}
}
