package lattice_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jacentio/lattice"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lattice.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := lattice.DefaultConfig()

	if cfg.RequestTimeout != 700*time.Millisecond {
		t.Errorf("RequestTimeout = %v, want 700ms", cfg.RequestTimeout)
	}
	if cfg.OperationTimeout != 0 {
		t.Errorf("OperationTimeout = %v, want 0", cfg.OperationTimeout)
	}
	if cfg.BackoffMultiplier != 100*time.Millisecond {
		t.Errorf("BackoffMultiplier = %v, want 100ms", cfg.BackoffMultiplier)
	}
	if cfg.TablePrefix != "lattice_" {
		t.Errorf("TablePrefix = %q, want lattice_", cfg.TablePrefix)
	}
	if cfg.BatchConcurrency != 1 {
		t.Errorf("BatchConcurrency = %d, want 1", cfg.BatchConcurrency)
	}
	if cfg.ScanLimit != 10 {
		t.Errorf("ScanLimit = %d, want 10", cfg.ScanLimit)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("CacheTTL = %v, want 5m", cfg.CacheTTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := writeFile(t, `
aws_region: eu-west-1
aws_access_key: AKID
aws_secret_key: secret
endpoint: http://localhost:8000
request_timeout: 2s
operation_timeout: 30s
table_prefix: app_
batch_concurrency: 4
cache_addr: localhost:6379
log_level: debug
`)

	got, err := lattice.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	want := lattice.DefaultConfig()
	want.Region = "eu-west-1"
	want.AccessKey = "AKID"
	want.SecretKey = "secret"
	want.Endpoint = "http://localhost:8000"
	want.RequestTimeout = 2 * time.Second
	want.OperationTimeout = 30 * time.Second
	want.TablePrefix = "app_"
	want.BatchConcurrency = 4
	want.CacheAddr = "localhost:6379"
	want.LogLevel = "debug"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeFile(t, "table_prefix: from_file_\nscan_limit: 20\n")
	t.Setenv("LATTICE_TABLE_PREFIX", "from_env_")
	t.Setenv("LATTICE_CACHE_TTL", "90s")
	t.Setenv("LATTICE_BATCH_CONCURRENCY", "3")

	got, err := lattice.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.TablePrefix != "from_env_" {
		t.Errorf("TablePrefix = %q, want from_env_", got.TablePrefix)
	}
	if got.ScanLimit != 20 {
		t.Errorf("ScanLimit = %d, want 20 from file", got.ScanLimit)
	}
	if got.CacheTTL != 90*time.Second {
		t.Errorf("CacheTTL = %v, want 90s", got.CacheTTL)
	}
	if got.BatchConcurrency != 3 {
		t.Errorf("BatchConcurrency = %d, want 3", got.BatchConcurrency)
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	t.Setenv("LATTICE_AWS_REGION", "ap-south-1")
	got, err := lattice.LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.Region != "ap-south-1" {
		t.Errorf("Region = %q, want ap-south-1", got.Region)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		env     map[string]string
		invalid bool
	}{
		{name: "bad yaml", file: "table_prefix: [unterminated"},
		{name: "bad prefix", file: "table_prefix: Upper", invalid: true},
		{name: "half credentials", file: "aws_access_key: AKID", invalid: true},
		{name: "negative timeout", file: "request_timeout: -1s", invalid: true},
		{name: "bad level", file: "log_level: loud", invalid: true},
		{name: "bad env duration", env: map[string]string{"LATTICE_CACHE_TTL": "soon"}, invalid: true},
		{name: "bad env int", env: map[string]string{"LATTICE_SCAN_LIMIT": "ten"}, invalid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := lattice.LoadConfig(writeFile(t, tt.file))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, lattice.ErrInvalidConfig); got != tt.invalid {
				t.Errorf("errors.Is(err, ErrInvalidConfig) = %v, want %v (err: %v)", got, tt.invalid, err)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := lattice.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want ErrNotExist", err)
	}
}

func TestConfigureLogging(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	tests := []struct {
		level   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"WARN", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"", slog.LevelInfo, false},
		{"chatty", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		err := lattice.ConfigureLogging(tt.level)
		if (err != nil) != tt.wantErr {
			t.Errorf("ConfigureLogging(%q) err = %v, wantErr %v", tt.level, err, tt.wantErr)
		}
		if got := lattice.LogLevel(); got != tt.want {
			t.Errorf("ConfigureLogging(%q) level = %v, want %v", tt.level, got, tt.want)
		}
	}

	lattice.SetLogLevel(slog.LevelWarn)
	if slog.Default().Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info enabled after SetLogLevel(warn)")
	}
}
