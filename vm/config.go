package vm

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"
)

// ---------------------------------------------------------------------------
// Runtime configuration
// ---------------------------------------------------------------------------

// ConfigFileName is looked up in the working directory by LoadConfig
// when no explicit path is given.
const ConfigFileName = "skim.toml"

// Config sets the VM's resource limits and tool paths.
type Config struct {
	// StackSize is the number of value slots in the stack.
	StackSize int `toml:"stack_size"`
	// EnvFrames and ContFrames size the frame arenas. Deeper live
	// chains spill to the heap, so these bound residency, not depth.
	EnvFrames  int `toml:"env_frames"`
	ContFrames int `toml:"cont_frames"`
	// StorePath is the image store database used by the CLI.
	StorePath string `toml:"store_path"`
}

// DefaultConfig returns the built-in limits.
func DefaultConfig() *Config {
	return &Config{
		StackSize:  10000,
		EnvFrames:  1024,
		ContFrames: 1024,
		StorePath:  "skim.db",
	}
}

// LoadConfig reads a TOML config file, layering it over the defaults.
// An empty path means ConfigFileName, and a missing default file is not
// an error.
func LoadConfig(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = ConfigFileName
	}
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.StackSize < 64 {
		return fmt.Errorf("stack_size %d too small (minimum 64)", c.StackSize)
	}
	if c.EnvFrames < 8 || c.ContFrames < 8 {
		return fmt.Errorf("frame arenas too small (env_frames %d, cont_frames %d, minimum 8)",
			c.EnvFrames, c.ContFrames)
	}
	return nil
}
