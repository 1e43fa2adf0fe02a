package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ligustah/fetchkit/internal/database"
	"github.com/ligustah/fetchkit/internal/progress"
)

// EnvPrefix is the prefix of every environment variable read by LoadFromEnv.
const EnvPrefix = "FETCHKIT_"

// Config defines the settings of one download namespace.
type Config struct {
	Namespace          string               `yaml:"namespace"`
	ConcurrentLimit    int                  `yaml:"concurrent_limit"`
	ProgressInterval   time.Duration        `yaml:"progress_interval"`
	RetryOnNetworkGain bool                 `yaml:"retry_on_network_gain"`
	HashChecking       bool                 `yaml:"hash_checking"`
	AutoStart          bool                 `yaml:"auto_start"`
	FileExistChecks    bool                 `yaml:"file_exist_checks"`
	DatabaseDir        string               `yaml:"database_dir"`
	TempBucket         string               `yaml:"temp_bucket"`
	OutputDir          string               `yaml:"output_dir"`
	SegmentSize        int64                `yaml:"segment_size"`
	GroupCacheSize     int                  `yaml:"group_cache_size"`
	NetworkType        database.NetworkType `yaml:"network_type"`
	Retry              RetryConfig          `yaml:"retry"`
	Timeout            time.Duration        `yaml:"timeout"`
}

// RetryConfig defines retry behavior of HTTP requests.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Namespace:          "default",
		ConcurrentLimit:    1,
		ProgressInterval:   2 * time.Second,
		RetryOnNetworkGain: true,
		AutoStart:          true,
		FileExistChecks:    true,
		TempBucket:         "mem://",
		OutputDir:          ".",
		SegmentSize:        8 * 1024 * 1024, // 8MiB
		GroupCacheSize:     128,
		NetworkType:        database.NetworkAll,
		Retry: RetryConfig{
			Attempts:   3,
			Backoff:    500 * time.Millisecond,
			MaxBackoff: 10 * time.Second,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	Namespace          string          `yaml:"namespace"`
	ConcurrentLimit    int             `yaml:"concurrent_limit"`
	ProgressInterval   string          `yaml:"progress_interval"`
	RetryOnNetworkGain *bool           `yaml:"retry_on_network_gain"`
	HashChecking       *bool           `yaml:"hash_checking"`
	AutoStart          *bool           `yaml:"auto_start"`
	FileExistChecks    *bool           `yaml:"file_exist_checks"`
	DatabaseDir        string          `yaml:"database_dir"`
	TempBucket         string          `yaml:"temp_bucket"`
	OutputDir          string          `yaml:"output_dir"`
	SegmentSize        string          `yaml:"segment_size"`
	GroupCacheSize     int             `yaml:"group_cache_size"`
	NetworkType        string          `yaml:"network_type"`
	Retry              yamlRetryConfig `yaml:"retry"`
	Timeout            string          `yaml:"timeout"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file on top of Default.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration on top of Default.
func Parse(data []byte) (Config, error) {
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}

	cfg := Default()

	if yc.Namespace != "" {
		cfg.Namespace = yc.Namespace
	}
	if yc.ConcurrentLimit != 0 {
		cfg.ConcurrentLimit = yc.ConcurrentLimit
	}
	if err := setDuration(&cfg.ProgressInterval, yc.ProgressInterval, "progress_interval"); err != nil {
		return Config{}, err
	}
	setBool(&cfg.RetryOnNetworkGain, yc.RetryOnNetworkGain)
	setBool(&cfg.HashChecking, yc.HashChecking)
	setBool(&cfg.AutoStart, yc.AutoStart)
	setBool(&cfg.FileExistChecks, yc.FileExistChecks)
	if yc.DatabaseDir != "" {
		cfg.DatabaseDir = yc.DatabaseDir
	}
	if yc.TempBucket != "" {
		cfg.TempBucket = yc.TempBucket
	}
	if yc.OutputDir != "" {
		cfg.OutputDir = yc.OutputDir
	}
	if yc.SegmentSize != "" {
		size, err := progress.ParseBytes(yc.SegmentSize)
		if err != nil {
			return Config{}, fmt.Errorf("config: parse segment_size: %w", err)
		}
		cfg.SegmentSize = size
	}
	if yc.GroupCacheSize != 0 {
		cfg.GroupCacheSize = yc.GroupCacheSize
	}
	if yc.NetworkType != "" {
		nt, err := database.ParseNetworkType(yc.NetworkType)
		if err != nil {
			return Config{}, fmt.Errorf("config: parse network_type: %w", err)
		}
		cfg.NetworkType = nt
	}
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if err := setDuration(&cfg.Retry.Backoff, yc.Retry.Backoff, "retry.backoff"); err != nil {
		return Config{}, err
	}
	if err := setDuration(&cfg.Retry.MaxBackoff, yc.Retry.MaxBackoff, "retry.max_backoff"); err != nil {
		return Config{}, err
	}
	if err := setDuration(&cfg.Timeout, yc.Timeout, "timeout"); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v, name string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", name, err)
	}
	*dst = d
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the FETCHKIT_ prefix.
func (c *Config) LoadFromEnv() error {
	env := func(name string) string { return os.Getenv(EnvPrefix + name) }

	if v := env("NAMESPACE"); v != "" {
		c.Namespace = v
	}
	if v := env("CONCURRENT_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: parse %sCONCURRENT_LIMIT: %w", EnvPrefix, err)
		}
		c.ConcurrentLimit = n
	}
	if err := setDuration(&c.ProgressInterval, env("PROGRESS_INTERVAL"), EnvPrefix+"PROGRESS_INTERVAL"); err != nil {
		return err
	}
	for name, dst := range map[string]*bool{
		"RETRY_ON_NETWORK_GAIN": &c.RetryOnNetworkGain,
		"HASH_CHECKING":         &c.HashChecking,
		"AUTO_START":            &c.AutoStart,
		"FILE_EXIST_CHECKS":     &c.FileExistChecks,
	} {
		if v := env(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("config: parse %s%s: %w", EnvPrefix, name, err)
			}
			*dst = b
		}
	}
	if v := env("DATABASE_DIR"); v != "" {
		c.DatabaseDir = v
	}
	if v := env("TEMP_BUCKET"); v != "" {
		c.TempBucket = v
	}
	if v := env("OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := env("SEGMENT_SIZE"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("config: parse %sSEGMENT_SIZE: %w", EnvPrefix, err)
		}
		c.SegmentSize = size
	}
	if v := env("NETWORK_TYPE"); v != "" {
		nt, err := database.ParseNetworkType(v)
		if err != nil {
			return fmt.Errorf("config: parse %sNETWORK_TYPE: %w", EnvPrefix, err)
		}
		c.NetworkType = nt
	}
	if v := env("RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: parse %sRETRY_ATTEMPTS: %w", EnvPrefix, err)
		}
		c.Retry.Attempts = n
	}
	if err := setDuration(&c.Retry.Backoff, env("RETRY_BACKOFF"), EnvPrefix+"RETRY_BACKOFF"); err != nil {
		return err
	}
	if err := setDuration(&c.Retry.MaxBackoff, env("RETRY_MAX_BACKOFF"), EnvPrefix+"RETRY_MAX_BACKOFF"); err != nil {
		return err
	}
	return setDuration(&c.Timeout, env("TIMEOUT"), EnvPrefix+"TIMEOUT")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Namespace == "" {
		return errors.New("config: namespace is required")
	}
	if c.ConcurrentLimit <= 0 {
		return errors.New("config: concurrent_limit must be positive")
	}
	if c.ProgressInterval <= 0 {
		return errors.New("config: progress_interval must be positive")
	}
	if c.SegmentSize <= 0 {
		return errors.New("config: segment_size must be positive")
	}
	if c.TempBucket == "" {
		return errors.New("config: temp_bucket is required")
	}
	if c.Retry.Attempts < 0 {
		return errors.New("config: retry.attempts must not be negative")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored, so booleans can only be switched on.
func (c Config) Merge(override Config) Config {
	if override.Namespace != "" {
		c.Namespace = override.Namespace
	}
	if override.ConcurrentLimit != 0 {
		c.ConcurrentLimit = override.ConcurrentLimit
	}
	if override.ProgressInterval != 0 {
		c.ProgressInterval = override.ProgressInterval
	}
	if override.RetryOnNetworkGain {
		c.RetryOnNetworkGain = true
	}
	if override.HashChecking {
		c.HashChecking = true
	}
	if override.AutoStart {
		c.AutoStart = true
	}
	if override.FileExistChecks {
		c.FileExistChecks = true
	}
	if override.DatabaseDir != "" {
		c.DatabaseDir = override.DatabaseDir
	}
	if override.TempBucket != "" {
		c.TempBucket = override.TempBucket
	}
	if override.OutputDir != "" {
		c.OutputDir = override.OutputDir
	}
	if override.SegmentSize != 0 {
		c.SegmentSize = override.SegmentSize
	}
	if override.GroupCacheSize != 0 {
		c.GroupCacheSize = override.GroupCacheSize
	}
	if override.NetworkType != database.NetworkAll {
		c.NetworkType = override.NetworkType
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	if override.Timeout != 0 {
		c.Timeout = override.Timeout
	}
	return c
}
