package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config mirrors the run command's agent flags, one table per agent.
type Config struct {
	NPE struct {
		Enabled bool `toml:"enabled"`
	} `toml:"npe"`
	Trace struct {
		Enabled bool   `toml:"enabled"`
		Output  string `toml:"output"`
	} `toml:"trace"`
	Faketime struct {
		OffsetMillis int64 `toml:"offset_ms"`
	} `toml:"faketime"`
	HeapSampler struct {
		Enabled  bool   `toml:"enabled"`
		Interval int64  `toml:"interval"`
		Dump     string `toml:"dump"`
	} `toml:"heapsampler"`
}

// LoadConfig reads a TOML agent configuration file.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return &cfg, nil
}
