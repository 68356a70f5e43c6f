package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Connections != 10 {
		t.Errorf("expected default connections 10, got %d", cfg.Connections)
	}
	if cfg.ChunkSize != 1024*1024 {
		t.Errorf("expected default chunk size 1MiB, got %d", cfg.ChunkSize)
	}
	if cfg.BufferSize != 4096 {
		t.Errorf("expected default buffer size 4096, got %d", cfg.BufferSize)
	}
	if cfg.Progress != ProgressBar {
		t.Errorf("expected default progress %q, got %q", ProgressBar, cfg.Progress)
	}
	if cfg.Retry.Attempts != 5 {
		t.Errorf("expected default retry attempts 5, got %d", cfg.Retry.Attempts)
	}
	if cfg.Retry.Backoff != time.Second {
		t.Errorf("expected default retry backoff 1s, got %v", cfg.Retry.Backoff)
	}
	if cfg.Retry.MaxBackoff != 30*time.Second {
		t.Errorf("expected default retry max backoff 30s, got %v", cfg.Retry.MaxBackoff)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
url: https://example.com/image.iso
connections: 32
chunk_size: 4MiB
buffer_size: 32KiB
insecure: true
timeout: 10s
progress: text
publish:
  bucket: file:///tmp/out
  key: images/image.iso
retry:
  attempts: 10
  backoff: 2s
  max_backoff: 60s
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.URL != "https://example.com/image.iso" {
		t.Errorf("unexpected url %q", cfg.URL)
	}
	if cfg.Connections != 32 {
		t.Errorf("expected connections 32, got %d", cfg.Connections)
	}
	if cfg.ChunkSize != 4*1024*1024 {
		t.Errorf("expected chunk size 4MiB, got %d", cfg.ChunkSize)
	}
	if cfg.BufferSize != 32*1024 {
		t.Errorf("expected buffer size 32KiB, got %d", cfg.BufferSize)
	}
	if !cfg.Insecure {
		t.Error("expected insecure true")
	}
	if cfg.Timeout != 10*time.Second {
		t.Errorf("expected timeout 10s, got %v", cfg.Timeout)
	}
	if cfg.Progress != ProgressText {
		t.Errorf("expected progress text, got %q", cfg.Progress)
	}
	if cfg.Publish.Bucket != "file:///tmp/out" || cfg.Publish.Key != "images/image.iso" {
		t.Errorf("unexpected publish config %+v", cfg.Publish)
	}
	if cfg.Retry.Attempts != 10 {
		t.Errorf("expected retry attempts 10, got %d", cfg.Retry.Attempts)
	}
	if cfg.Retry.Backoff != 2*time.Second {
		t.Errorf("expected retry backoff 2s, got %v", cfg.Retry.Backoff)
	}
	if cfg.Retry.MaxBackoff != 60*time.Second {
		t.Errorf("expected retry max backoff 60s, got %v", cfg.Retry.MaxBackoff)
	}

	// Unset keys keep their defaults.
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level, got %q", cfg.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected loaded config to validate: %v", err)
	}
}

func TestLoadFromYAMLBadSize(t *testing.T) {
	path := writeConfig(t, "chunk_size: lots\n")

	_, err := LoadFromFile(path)
	if err == nil || !strings.Contains(err.Error(), "chunk_size") {
		t.Errorf("expected chunk_size parse error, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PARFETCH_URL", "http://mirror.local/file")
	t.Setenv("PARFETCH_CONNECTIONS", "64")
	t.Setenv("PARFETCH_CHUNK_SIZE", "1GiB")
	t.Setenv("PARFETCH_INSECURE", "true")
	t.Setenv("PARFETCH_USERNAME", "alice")
	t.Setenv("PARFETCH_PASSWORD", "s3cret")
	t.Setenv("PARFETCH_PROGRESS", "none")
	t.Setenv("PARFETCH_RETRY_ATTEMPTS", "3")
	t.Setenv("PARFETCH_RETRY_BACKOFF", "500ms")
	t.Setenv("PARFETCH_RETRY_MAX_BACKOFF", "10s")

	cfg := Default()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.URL != "http://mirror.local/file" {
		t.Errorf("unexpected url %q", cfg.URL)
	}
	if cfg.Connections != 64 {
		t.Errorf("expected connections 64, got %d", cfg.Connections)
	}
	if cfg.ChunkSize != 1024*1024*1024 {
		t.Errorf("expected chunk size 1GiB, got %d", cfg.ChunkSize)
	}
	if !cfg.Insecure {
		t.Error("expected insecure true")
	}
	if cfg.Username != "alice" || cfg.Password != "s3cret" {
		t.Errorf("unexpected credentials %q/%q", cfg.Username, cfg.Password)
	}
	if cfg.Progress != ProgressNone {
		t.Errorf("expected progress none, got %q", cfg.Progress)
	}
	if cfg.Retry.Attempts != 3 {
		t.Errorf("expected retry attempts 3, got %d", cfg.Retry.Attempts)
	}
	if cfg.Retry.Backoff != 500*time.Millisecond {
		t.Errorf("expected retry backoff 500ms, got %v", cfg.Retry.Backoff)
	}
	if cfg.Retry.MaxBackoff != 10*time.Second {
		t.Errorf("expected retry max backoff 10s, got %v", cfg.Retry.MaxBackoff)
	}
}

func TestLoadFromYAMLZeroValues(t *testing.T) {
	path := writeConfig(t, `
url: https://example.com/image.iso
connections: 0
retry:
  attempts: 0
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Connections != 1 {
		t.Errorf("expected connections 0 clamped to 1, got %d", cfg.Connections)
	}
	if cfg.Retry.Attempts != 0 {
		t.Errorf("expected retry attempts 0, got %d", cfg.Retry.Attempts)
	}
}

func TestLoadFromYAMLOmittedConnections(t *testing.T) {
	path := writeConfig(t, "url: https://example.com/image.iso\n")

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Connections != 10 {
		t.Errorf("expected default connections 10, got %d", cfg.Connections)
	}
	if cfg.Retry.Attempts != 5 {
		t.Errorf("expected default retry attempts 5, got %d", cfg.Retry.Attempts)
	}
}

func TestLoadFromEnvClampsConnections(t *testing.T) {
	for _, v := range []string{"0", "-4"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("PARFETCH_CONNECTIONS", v)

			cfg := Default()
			if err := cfg.LoadFromEnv(); err != nil {
				t.Fatalf("LoadFromEnv: %v", err)
			}
			if cfg.Connections != 1 {
				t.Errorf("expected connections clamped to 1, got %d", cfg.Connections)
			}
		})
	}
}

func TestLoadFromEnvInvalid(t *testing.T) {
	t.Setenv("PARFETCH_CONNECTIONS", "many")

	cfg := Default()
	err := cfg.LoadFromEnv()
	if err == nil || !strings.Contains(err.Error(), "PARFETCH_CONNECTIONS") {
		t.Errorf("expected error naming PARFETCH_CONNECTIONS, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.URL = "https://example.com/file.tar.gz"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "zero connections are clamped later", mutate: func(c *Config) { c.Connections = 0 }},
		{name: "control address", mutate: func(c *Config) { c.ControlAddr = "127.0.0.1:7070" }},
		{name: "publish bucket", mutate: func(c *Config) { c.Publish.Bucket = "s3://bucket?region=us-east-1" }},
		{name: "missing URL", mutate: func(c *Config) { c.URL = "" }, wantErr: "url: is required"},
		{name: "non-http URL", mutate: func(c *Config) { c.URL = "ftp://example.com/f" }, wantErr: "url: must be an http or https URL"},
		{name: "invalid chunk size", mutate: func(c *Config) { c.ChunkSize = 0 }, wantErr: "chunk_size"},
		{name: "invalid buffer size", mutate: func(c *Config) { c.BufferSize = -1 }, wantErr: "buffer_size"},
		{name: "unknown progress", mutate: func(c *Config) { c.Progress = "fancy" }, wantErr: "progress: must be one of"},
		{name: "unknown log level", mutate: func(c *Config) { c.LogLevel = "trace" }, wantErr: "log_level"},
		{name: "bad control address", mutate: func(c *Config) { c.ControlAddr = "localhost" }, wantErr: "control_addr"},
		{name: "key without bucket", mutate: func(c *Config) { c.Publish.Key = "a/b" }, wantErr: "publish.key"},
		{name: "max backoff below backoff", mutate: func(c *Config) { c.Retry.MaxBackoff = time.Millisecond }, wantErr: "retry.max_backoff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	base := Default()
	base.URL = "https://example.com/file.tar.gz"
	base.Output = "file.tar.gz"

	override := Config{
		Connections: 32,
		Insecure:    true,
	}

	merged := base.Merge(override)

	if merged.URL != "https://example.com/file.tar.gz" {
		t.Errorf("expected URL preserved, got %s", merged.URL)
	}
	if merged.Output != "file.tar.gz" {
		t.Errorf("expected Output preserved, got %s", merged.Output)
	}
	if merged.ChunkSize != 1024*1024 {
		t.Errorf("expected ChunkSize preserved, got %d", merged.ChunkSize)
	}
	if merged.Connections != 32 {
		t.Errorf("expected Connections overridden to 32, got %d", merged.Connections)
	}
	if !merged.Insecure {
		t.Error("expected Insecure overridden to true")
	}
}

func TestLoadYAMLFileNotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := LoadFromFile(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}
