// Package config loads the durability core's configuration from a YAML
// file, STREAMWAL_-prefixed environment variables, and defaults. CLI
// flags are not bound into it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/coldforge/streamwal/internal/bytesize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the complete configuration surface for the durability core,
// covering the WAL, log cache, upload pipeline, object store, metrics,
// and logging.
type Config struct {
	// BlockDevicePath is the raw block device or preallocated file the
	// WAL lives on.
	BlockDevicePath string `mapstructure:"block_device_path" yaml:"block_device_path"`

	// Capacity is the device's usable byte capacity, rounded down to a
	// block boundary at first start; immutable thereafter.
	Capacity bytesize.ByteSize `mapstructure:"capacity" yaml:"capacity"`

	HeaderFlushIntervalS int `mapstructure:"header_flush_interval_s" yaml:"header_flush_interval_s"`
	IOThreads            int `mapstructure:"io_threads" yaml:"io_threads"`

	WindowInitial    bytesize.ByteSize `mapstructure:"window_initial" yaml:"window_initial"`
	WindowUpperLimit bytesize.ByteSize `mapstructure:"window_upper_limit" yaml:"window_upper_limit"`
	WindowScaleUnit  bytesize.ByteSize `mapstructure:"window_scale_unit" yaml:"window_scale_unit"`
	BlockSoftLimit   bytesize.ByteSize `mapstructure:"block_soft_limit" yaml:"block_soft_limit"`
	CommitInterval   time.Duration     `mapstructure:"commit_interval" yaml:"commit_interval"`

	WalCacheSize           bytesize.ByteSize `mapstructure:"wal_cache_size" yaml:"wal_cache_size"`
	WalObjectSize          bytesize.ByteSize `mapstructure:"wal_object_size" yaml:"wal_object_size"`
	MaxStreamsPerWalObject int               `mapstructure:"max_streams_per_wal_object" yaml:"max_streams_per_wal_object"`

	NetworkBaselineBandwidth bytesize.ByteSize `mapstructure:"network_baseline_bandwidth" yaml:"network_baseline_bandwidth"`

	ShutdownDrainTimeout time.Duration `mapstructure:"shutdown_drain_timeout" yaml:"shutdown_drain_timeout"`

	S3 S3Config `mapstructure:"s3" yaml:"s3"`

	MetricsListenAddr string `mapstructure:"metrics_listen_addr" yaml:"metrics_listen_addr"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
}

// S3Config configures the object-store client.
type S3Config struct {
	Bucket       string `mapstructure:"bucket" yaml:"bucket"`
	KeyPrefix    string `mapstructure:"key_prefix" yaml:"key_prefix"`
	Endpoint     string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Region       string `mapstructure:"region" yaml:"region"`
	UsePathStyle bool   `mapstructure:"use_path_style" yaml:"use_path_style"`
}

// ApplyDefaults fills zero-valued fields with the spec's documented
// defaults, following the teacher's PostgresMetadataStoreConfig.
// ApplyDefaults convention.
func (c *Config) ApplyDefaults() {
	if c.Capacity == 0 {
		c.Capacity = 64 << 20 // 64 MiB, matching the seed scenarios' fresh-device size
	}
	if c.HeaderFlushIntervalS <= 0 {
		c.HeaderFlushIntervalS = 10
	}
	if c.IOThreads <= 0 {
		c.IOThreads = 8
	}
	if c.WindowInitial == 0 {
		c.WindowInitial = 1 << 20
	}
	if c.WindowUpperLimit == 0 {
		c.WindowUpperLimit = 512 << 20
	}
	if c.WindowScaleUnit == 0 {
		c.WindowScaleUnit = 4 << 20
	}
	if c.BlockSoftLimit == 0 {
		c.BlockSoftLimit = 128 << 10
	}
	if c.CommitInterval <= 0 {
		c.CommitInterval = 50 * time.Millisecond
	}
	if c.WalCacheSize == 0 {
		c.WalCacheSize = 512 << 20
	}
	if c.WalObjectSize == 0 {
		c.WalObjectSize = 8 << 20
	}
	if c.MaxStreamsPerWalObject <= 0 {
		c.MaxStreamsPerWalObject = 4096
	}
	if c.ShutdownDrainTimeout <= 0 {
		c.ShutdownDrainTimeout = 24 * time.Hour
	}
	if c.S3.Region == "" {
		c.S3.Region = "us-east-1"
	}
	if c.MetricsListenAddr == "" {
		c.MetricsListenAddr = ":9090"
	}
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Load reads configuration from the given YAML file (if present). An
// environment variable prefixed STREAMWAL_ overrides a key only when that
// key is set in the file; when no file is found, the environment is not
// consulted. Defaults then fill every field that is still zero. No CLI
// flag is layered on top.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if found {
		if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHooks())); err != nil {
			return nil, fmt.Errorf("config: unmarshal: %w", err)
		}
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("STREAMWAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("streamwal")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("config: read config file: %w", err)
	}
	return true, nil
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// Save writes cfg to path as YAML, respecting the struct's yaml tags, for
// the CLI's "status" command to emit an effective-config snapshot
// alongside the superblock report.
func Save(cfg *Config, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create directory: %w", err)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write file: %w", err)
	}
	return nil
}

// DefaultConfigPath returns "./streamwal.yaml", the file Load looks for
// when no explicit path is given.
func DefaultConfigPath() string {
	wd, err := os.Getwd()
	if err != nil {
		return "streamwal.yaml"
	}
	return filepath.Join(wd, "streamwal.yaml")
}
