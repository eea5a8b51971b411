package lattice

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jacentio/lattice/client"
	"github.com/jacentio/lattice/store"
	"github.com/jacentio/lattice/txn"
)

// EnvPrefix prefixes the environment variables that override Config.
const EnvPrefix = "LATTICE_"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("lattice: invalid config")

// Config holds everything Open needs.
type Config struct {
	// Region is the AWS region. Empty falls back to the default AWS
	// configuration chain.
	Region string `yaml:"aws_region"`

	// AccessKey and SecretKey are static credentials. When either is empty
	// the default AWS credential chain is used.
	AccessKey string `yaml:"aws_access_key"`
	SecretKey string `yaml:"aws_secret_key"`

	// Endpoint overrides the regional endpoint (e.g. DynamoDB Local).
	Endpoint string `yaml:"endpoint"`

	// RequestTimeout bounds one backend attempt.
	// Default: 700ms
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// OperationTimeout bounds all attempts of one operation.
	// Default: 0 (unbounded)
	OperationTimeout time.Duration `yaml:"operation_timeout"`

	// BackoffMultiplier is the base retry delay.
	// Default: 100ms
	BackoffMultiplier time.Duration `yaml:"backoff_multiplier"`

	// TablePrefix names the tables <prefix>objects and <prefix>indexes.
	// Default: "lattice_"
	TablePrefix string `yaml:"table_prefix"`

	// BatchConcurrency is how many chunks of one batch run at once.
	// Default: 1
	BatchConcurrency int `yaml:"batch_concurrency"`

	// ScanLimit is the default page size.
	// Default: 10
	ScanLimit int `yaml:"scan_limit"`

	// CacheAddr is the Redis address of the ephemeral cache. Empty disables it.
	CacheAddr string `yaml:"cache_addr"`

	// CacheTTL is the lifetime of cached records.
	// Default: 5m
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// LogLevel is one of debug, info, warn or error. Only used by
	// ConfigureLogging.
	// Default: info
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	cc := client.DefaultConfig()
	sc := store.DefaultConfig()
	return Config{
		RequestTimeout:    cc.RequestTimeout,
		BackoffMultiplier: cc.BackoffMultiplier,
		TablePrefix:       sc.TablePrefix,
		BatchConcurrency:  sc.BatchConcurrency,
		ScanLimit:         sc.ScanLimit,
		CacheTTL:          txn.DefaultCacheTTL,
		LogLevel:          "info",
	}
}

// LoadConfig reads a YAML file over the defaults, then applies LATTICE_*
// environment overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"AWS_REGION":     &c.Region,
		"AWS_ACCESS_KEY": &c.AccessKey,
		"AWS_SECRET_KEY": &c.SecretKey,
		"ENDPOINT":       &c.Endpoint,
		"TABLE_PREFIX":   &c.TablePrefix,
		"CACHE_ADDR":     &c.CacheAddr,
		"LOG_LEVEL":      &c.LogLevel,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"REQUEST_TIMEOUT":    &c.RequestTimeout,
		"OPERATION_TIMEOUT":  &c.OperationTimeout,
		"BACKOFF_MULTIPLIER": &c.BackoffMultiplier,
		"CACHE_TTL":          &c.CacheTTL,
	}
	for name, dst := range durations {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s: %w", ErrInvalidConfig, EnvPrefix, name, err)
		}
		*dst = d
	}

	ints := map[string]*int{
		"BATCH_CONCURRENCY": &c.BatchConcurrency,
		"SCAN_LIMIT":        &c.ScanLimit,
	}
	for name, dst := range ints {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s: %w", ErrInvalidConfig, EnvPrefix, name, err)
		}
		*dst = n
	}
	return nil
}

// Validate reports the first problem with c.
func (c Config) Validate() error {
	if err := store.ValidateTablePrefix(c.TablePrefix); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return fmt.Errorf("%w: aws_access_key and aws_secret_key must be set together", ErrInvalidConfig)
	}
	for name, d := range map[string]time.Duration{
		"request_timeout":    c.RequestTimeout,
		"operation_timeout":  c.OperationTimeout,
		"backoff_multiplier": c.BackoffMultiplier,
		"cache_ttl":          c.CacheTTL,
	} {
		if d < 0 {
			return fmt.Errorf("%w: %s is negative", ErrInvalidConfig, name)
		}
	}
	if c.BatchConcurrency < 0 {
		return fmt.Errorf("%w: batch_concurrency is negative", ErrInvalidConfig)
	}
	if c.ScanLimit < 0 {
		return fmt.Errorf("%w: scan_limit is negative", ErrInvalidConfig)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %w", ErrInvalidConfig, err)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	err := l.UnmarshalText([]byte(s))
	return l, err
}
