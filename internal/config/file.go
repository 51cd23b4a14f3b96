package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
)

// mergeFile decodes a TOML file over the current values. Keys missing from
// the file keep whatever the receiver already holds.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	md, err := toml.Decode(string(data), c)
	if err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys in config file: %v", undecoded)
	}

	if md.IsDefined("log_level") {
		level, err := zerolog.ParseLevel(c.LogLevelName)
		if err != nil {
			return fmt.Errorf("invalid log_level %q: %w", c.LogLevelName, err)
		}
		c.LogLevel = level
	}
	return nil
}
