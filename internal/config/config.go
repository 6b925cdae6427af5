package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/objectfs/streamcache/internal/cache"
	"github.com/objectfs/streamcache/internal/metrics"
	"github.com/objectfs/streamcache/internal/source"
	"github.com/objectfs/streamcache/internal/spool"
	"github.com/objectfs/streamcache/pkg/errors"
	"github.com/objectfs/streamcache/pkg/retry"
	"github.com/objectfs/streamcache/pkg/utils"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "STREAMCACHE_"

// Configuration represents the complete application configuration
type Configuration struct {
	Global        GlobalConfig        `yaml:"global"`
	StreamCaching StreamCachingConfig `yaml:"stream_caching"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Source        SourceConfig        `yaml:"source"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFile   string `yaml:"log_file"`
	LogFormat string `yaml:"log_format"`

	// ComponentLevels overrides LogLevel per logger component, e.g.
	// {"stream-caching": "DEBUG", "source": "WARN"}.
	ComponentLevels map[string]string `yaml:"component_levels,omitempty"`
}

// StreamCachingConfig represents the stream caching settings. Sizes are
// human-readable ("128KB", "4KiB"); spool_threshold "-1" disables spooling.
type StreamCachingConfig struct {
	Enabled                          bool   `yaml:"enabled"`
	SpoolDirectory                   string `yaml:"spool_directory"`
	SpoolThreshold                   string `yaml:"spool_threshold"`
	BufferSize                       string `yaml:"buffer_size"`
	SpoolCipher                      string `yaml:"spool_cipher"`
	RemoveSpoolDirectoryWhenStopping bool   `yaml:"remove_spool_directory_when_stopping"`
	StatisticsEnabled                bool   `yaml:"statistics_enabled"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled   bool              `yaml:"enabled"`
	Address   string            `yaml:"address"`
	Path      string            `yaml:"path"`
	Namespace string            `yaml:"namespace"`
	Labels    map[string]string `yaml:"labels"`
}

// SourceConfig represents settings for opening input bodies
type SourceConfig struct {
	MaxConcurrency int          `yaml:"max_concurrency"`
	Retry          retry.Config `yaml:"retry"`
	S3             S3Config     `yaml:"s3"`
}

// S3Config represents S3 source settings. Empty credentials use the default
// AWS credential chain.
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Profile         string `yaml:"profile"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFile:   "",
			LogFormat: "text",
		},
		StreamCaching: StreamCachingConfig{
			Enabled:                          true,
			SpoolDirectory:                   "",
			SpoolThreshold:                   "128KB",
			BufferSize:                       "4KB",
			SpoolCipher:                      "",
			RemoveSpoolDirectoryWhenStopping: true,
			StatisticsEnabled:                false,
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Address:   ":9090",
			Path:      "/metrics",
			Namespace: "streamcache",
			Labels: map[string]string{
				"service": "streamcache",
			},
		},
		Source: SourceConfig{
			MaxConcurrency: 8,
			Retry:          retry.DefaultConfig(),
			S3: S3Config{
				Region: "us-east-1",
			},
		},
	}
}

// Load builds the effective configuration: defaults, then the file (if
// filename is not empty), then the environment. The result is validated.
func Load(filename string) (*Configuration, error) {
	cfg := NewDefault()
	if filename != "" {
		if err := cfg.LoadFromFile(filename); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, "failed to read config file", err).
			WithComponent("config").
			WithContext("path", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, "failed to parse config file", err).
			WithComponent("config").
			WithContext("path", filename)
	}

	return nil
}

// LoadFromEnv loads configuration from STREAMCACHE_* environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv(EnvPrefix + "LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv(EnvPrefix + "LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv(EnvPrefix + "LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}

	// Stream caching settings
	sc := &c.StreamCaching
	if err := envBool("ENABLED", &sc.Enabled); err != nil {
		return err
	}
	if val := os.Getenv(EnvPrefix + "SPOOL_DIRECTORY"); val != "" {
		sc.SpoolDirectory = val
	}
	if val := os.Getenv(EnvPrefix + "SPOOL_THRESHOLD"); val != "" {
		sc.SpoolThreshold = val
	}
	if val := os.Getenv(EnvPrefix + "BUFFER_SIZE"); val != "" {
		sc.BufferSize = val
	}
	if val, ok := os.LookupEnv(EnvPrefix + "SPOOL_CIPHER"); ok {
		sc.SpoolCipher = val
	}
	if err := envBool("REMOVE_SPOOL_DIRECTORY_WHEN_STOPPING", &sc.RemoveSpoolDirectoryWhenStopping); err != nil {
		return err
	}
	if err := envBool("STATISTICS_ENABLED", &sc.StatisticsEnabled); err != nil {
		return err
	}

	// Metrics settings
	if err := envBool("METRICS_ENABLED", &c.Metrics.Enabled); err != nil {
		return err
	}
	if val := os.Getenv(EnvPrefix + "METRICS_ADDRESS"); val != "" {
		c.Metrics.Address = val
	}

	// Source settings
	if val := os.Getenv(EnvPrefix + "MAX_CONCURRENCY"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return envError("MAX_CONCURRENCY", val, err)
		}
		c.Source.MaxConcurrency = n
	}
	if val := os.Getenv(EnvPrefix + "RETRY_MAX_ATTEMPTS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return envError("RETRY_MAX_ATTEMPTS", val, err)
		}
		c.Source.Retry.MaxAttempts = n
	}
	if val := os.Getenv(EnvPrefix + "S3_REGION"); val != "" {
		c.Source.S3.Region = val
	}
	if val := os.Getenv(EnvPrefix + "S3_ENDPOINT"); val != "" {
		c.Source.S3.Endpoint = val
	}
	if err := envBool("S3_USE_PATH_STYLE", &c.Source.S3.UsePathStyle); err != nil {
		return err
	}

	return nil
}

func envBool(name string, dst *bool) error {
	val := os.Getenv(EnvPrefix + name)
	if val == "" {
		return nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return envError(name, val, err)
	}
	*dst = b
	return nil
}

func envError(name, val string, cause error) error {
	return errors.Wrap(errors.ErrCodeInvalidConfig,
		fmt.Sprintf("invalid value %q for %s%s", val, EnvPrefix, name), cause).
		WithComponent("config")
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigSave, "failed to marshal config", err).
			WithComponent("config")
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return errors.Wrap(errors.ErrCodeConfigSave, "failed to create config directory", err).
			WithComponent("config")
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return errors.Wrap(errors.ErrCodeConfigSave, "failed to write config file", err).
			WithComponent("config").
			WithContext("path", filename)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return invalid("invalid log_level: %s (must be one of: TRACE, DEBUG, INFO, WARN, ERROR, FATAL)",
			c.Global.LogLevel)
	}
	if _, err := utils.ParseLogFormat(c.Global.LogFormat); err != nil {
		return invalid("invalid log_format: %s (must be text or json)", c.Global.LogFormat)
	}
	for component, level := range c.Global.ComponentLevels {
		if _, err := utils.ParseLogLevel(level); err != nil {
			return invalid("invalid component_levels.%s: %s", component, level)
		}
	}

	cacheCfg, err := c.StreamCaching.ToCacheConfig()
	if err != nil {
		return err
	}
	if err := cacheCfg.Validate(); err != nil {
		return err
	}
	if _, err := spool.LookupCipher(cacheCfg.SpoolCipher); err != nil {
		return err
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return invalid("metrics address must not be empty")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return invalid("metrics path must start with /: %s", c.Metrics.Path)
		}
	}

	if c.Source.MaxConcurrency <= 0 {
		return invalid("max_concurrency must be greater than 0")
	}
	if c.Source.Retry.MaxAttempts <= 0 {
		return invalid("retry max_attempts must be greater than 0")
	}

	return nil
}

func invalid(format string, args ...interface{}) error {
	return errors.NewError(errors.ErrCodeInvalidConfig, fmt.Sprintf(format, args...)).
		WithComponent("config")
}

// ToCacheConfig converts the section into a cache.Config.
func (s StreamCachingConfig) ToCacheConfig() (*cache.Config, error) {
	threshold, err := utils.ParseBytes(s.SpoolThreshold)
	if err != nil {
		return nil, invalid("invalid spool_threshold %q: %v", s.SpoolThreshold, err)
	}
	bufferSize, err := utils.ParseBytes(s.BufferSize)
	if err != nil {
		return nil, invalid("invalid buffer_size %q: %v", s.BufferSize, err)
	}

	return &cache.Config{
		Enabled:                          s.Enabled,
		SpoolDirectory:                   s.SpoolDirectory,
		SpoolThreshold:                   threshold,
		BufferSize:                       int(bufferSize),
		SpoolCipher:                      s.SpoolCipher,
		RemoveSpoolDirectoryWhenStopping: s.RemoveSpoolDirectoryWhenStopping,
		StatisticsEnabled:                s.StatisticsEnabled,
	}, nil
}

// ToMetricsConfig converts the section into a metrics.Config.
func (m MetricsConfig) ToMetricsConfig() *metrics.Config {
	labels := make(map[string]string, len(m.Labels))
	for k, v := range m.Labels {
		labels[k] = v
	}
	return &metrics.Config{
		Enabled:   m.Enabled,
		Address:   m.Address,
		Path:      m.Path,
		Namespace: m.Namespace,
		Labels:    labels,
	}
}

// ToS3Options converts the section into source.S3Options.
func (s S3Config) ToS3Options() source.S3Options {
	return source.S3Options{
		Region:          s.Region,
		Endpoint:        s.Endpoint,
		Profile:         s.Profile,
		UsePathStyle:    s.UsePathStyle,
		AccessKeyID:     s.AccessKeyID,
		SecretAccessKey: s.SecretAccessKey,
	}
}

// NewLogger creates the structured logger described by the global section.
// The returned close function releases the log file, if any.
func (g GlobalConfig) NewLogger() (*utils.StructuredLogger, func() error, error) {
	level, err := utils.ParseLogLevel(g.LogLevel)
	if err != nil {
		return nil, nil, invalid("invalid log_level: %s", g.LogLevel)
	}
	format, err := utils.ParseLogFormat(g.LogFormat)
	if err != nil {
		return nil, nil, invalid("invalid log_format: %s", g.LogFormat)
	}

	cfg := utils.DefaultStructuredLoggerConfig()
	cfg.Level = level
	cfg.Format = format
	closeFn := func() error { return nil }

	if g.LogFile != "" {
		f, err := os.OpenFile(g.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, nil, errors.Wrap(errors.ErrCodeConfigLoad, "failed to open log file", err).
				WithComponent("config").
				WithContext("path", g.LogFile)
		}
		cfg.Output = f
		closeFn = f.Close
	}

	logger, err := utils.NewStructuredLogger(cfg)
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}
	for component, name := range g.ComponentLevels {
		componentLevel, err := utils.ParseLogLevel(name)
		if err != nil {
			_ = closeFn()
			return nil, nil, invalid("invalid component_levels.%s: %s", component, name)
		}
		logger.SetComponentLevel(component, componentLevel)
	}
	return logger, closeFn, nil
}
