package cache

import (
	"fmt"

	"github.com/objectfs/streamcache/pkg/errors"
)

const (
	// DefaultSpoolThreshold is the body size at which caches spill to disk.
	DefaultSpoolThreshold int64 = 128 * 1024

	// DefaultBufferSize is the chunk size used while streaming a body.
	DefaultBufferSize = 4096

	// SpoolDisabled as a threshold keeps every cache in memory.
	SpoolDisabled int64 = -1
)

// Config holds the stream caching settings. It is read once when the
// strategy starts; later changes to a Config value have no effect.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// SpoolDirectory may contain the #uuid# placeholder. Empty selects a fresh
	// directory under the system temp dir.
	SpoolDirectory string `yaml:"spool_directory"`

	// SpoolThreshold in bytes; a body of exactly this size is spooled.
	// SpoolDisabled (-1) turns spooling off.
	SpoolThreshold int64 `yaml:"spool_threshold"`

	BufferSize int `yaml:"buffer_size"`

	// SpoolCipher names the cipher used to encrypt spool files; empty means plain files.
	SpoolCipher string `yaml:"spool_cipher"`

	RemoveSpoolDirectoryWhenStopping bool `yaml:"remove_spool_directory_when_stopping"`
	StatisticsEnabled                bool `yaml:"statistics_enabled"`
}

// DefaultConfig returns the default settings.
func DefaultConfig() *Config {
	return &Config{
		Enabled:                          true,
		SpoolThreshold:                   DefaultSpoolThreshold,
		BufferSize:                       DefaultBufferSize,
		RemoveSpoolDirectoryWhenStopping: true,
	}
}

// Validate checks value ranges. Cipher names are checked by the strategy on start.
func (c *Config) Validate() error {
	if c.BufferSize <= 0 {
		return errors.NewError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("buffer_size must be greater than 0, got %d", c.BufferSize)).
			WithComponent("strategy")
	}
	if c.SpoolThreshold < SpoolDisabled {
		return errors.NewError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("spool_threshold must be -1 or greater, got %d", c.SpoolThreshold)).
			WithComponent("strategy")
	}
	return nil
}

// SpoolEnabled reports whether bodies may be spooled to disk.
func (c *Config) SpoolEnabled() bool {
	return c.Enabled && c.SpoolThreshold >= 0
}
