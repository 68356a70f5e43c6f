package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ligustah/parfetch/internal/downloader"
	"github.com/ligustah/parfetch/internal/progress"
)

// EnvPrefix is the prefix of every environment variable read by LoadFromEnv.
const EnvPrefix = "PARFETCH_"

// Progress display modes.
const (
	ProgressBar  = "bar"
	ProgressText = "text"
	ProgressNone = "none"
)

// Config defines configuration for the parfetch CLI.
type Config struct {
	URL         string `yaml:"url" validate:"required,http_url"`
	Output      string `yaml:"output"`
	Connections int    `yaml:"connections"`
	ChunkSize   int64  `yaml:"chunk_size" validate:"gt=0"`
	BufferSize  int    `yaml:"buffer_size" validate:"gt=0"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Insecure bool   `yaml:"insecure"`

	UserAgent         string        `yaml:"user_agent"`
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
	RequestsPerSecond int           `yaml:"requests_per_second" validate:"gte=0"`

	Progress    string `yaml:"progress" validate:"oneof=bar text none"`
	LogLevel    string `yaml:"log_level" validate:"oneof=debug info warn error"`
	ControlAddr string `yaml:"control_addr" validate:"omitempty,hostname_port"`

	Publish PublishConfig `yaml:"publish"`
	Retry   RetryConfig   `yaml:"retry"`
}

// PublishConfig names an object store destination for the finished file.
type PublishConfig struct {
	// Bucket is a gocloud bucket URL, e.g. s3://bucket?region=us-east-1.
	Bucket string `yaml:"bucket" validate:"omitempty,url"`
	// Key is the object key. Defaults to the output file's base name.
	Key string `yaml:"key" validate:"excluded_without=Bucket"`
}

// RetryConfig defines probe retry behavior.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts" validate:"gte=0"`
	Backoff    time.Duration `yaml:"backoff" validate:"gte=0"`
	MaxBackoff time.Duration `yaml:"max_backoff" validate:"gtefield=Backoff"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Connections: downloader.DefaultConnections,
		ChunkSize:   1024 * 1024, // 1 MiB
		BufferSize:  4096,
		Timeout:     30 * time.Second,
		Progress:    ProgressBar,
		LogLevel:    "info",
		Retry: RetryConfig{
			Attempts:   5,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with human-readable sizes and
// durations.
type yamlConfig struct {
	URL               string `yaml:"url"`
	Output            string `yaml:"output"`
	Connections       *int   `yaml:"connections"`
	ChunkSize         string `yaml:"chunk_size"`
	BufferSize        string `yaml:"buffer_size"`
	Username          string `yaml:"username"`
	Password          string `yaml:"password"`
	Insecure          bool   `yaml:"insecure"`
	UserAgent         string `yaml:"user_agent"`
	Timeout           string `yaml:"timeout"`
	RequestsPerSecond int    `yaml:"requests_per_second"`
	Progress          string `yaml:"progress"`
	LogLevel          string `yaml:"log_level"`
	ControlAddr       string `yaml:"control_addr"`
	Publish           struct {
		Bucket string `yaml:"bucket"`
		Key    string `yaml:"key"`
	} `yaml:"publish"`
	Retry struct {
		Attempts   *int   `yaml:"attempts"`
		Backoff    string `yaml:"backoff"`
		MaxBackoff string `yaml:"max_backoff"`
	} `yaml:"retry"`
}

// LoadFromFile loads configuration from a YAML file on top of Default.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	override := Config{
		URL:               yc.URL,
		Output:            yc.Output,
		Username:          yc.Username,
		Password:          yc.Password,
		Insecure:          yc.Insecure,
		UserAgent:         yc.UserAgent,
		RequestsPerSecond: yc.RequestsPerSecond,
		Progress:          yc.Progress,
		LogLevel:          yc.LogLevel,
		ControlAddr:       yc.ControlAddr,
		Publish:           PublishConfig{Bucket: yc.Publish.Bucket, Key: yc.Publish.Key},
	}

	sizes := []struct {
		key string
		raw string
		set func(int64)
	}{
		{"chunk_size", yc.ChunkSize, func(n int64) { override.ChunkSize = n }},
		{"buffer_size", yc.BufferSize, func(n int64) { override.BufferSize = int(n) }},
	}
	for _, s := range sizes {
		if s.raw == "" {
			continue
		}
		n, err := progress.ParseBytes(s.raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", s.key, err)
		}
		s.set(n)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"timeout", yc.Timeout, &override.Timeout},
		{"retry.backoff", yc.Retry.Backoff, &override.Retry.Backoff},
		{"retry.max_backoff", yc.Retry.MaxBackoff, &override.Retry.MaxBackoff},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	cfg := Default().Merge(override)
	// Zero is meaningful for these, so they bypass Merge.
	if yc.Connections != nil {
		cfg.Connections = max(*yc.Connections, 1)
	}
	if yc.Retry.Attempts != nil {
		cfg.Retry.Attempts = *yc.Retry.Attempts
	}
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the PARFETCH_ prefix, e.g. PARFETCH_CHUNK_SIZE.
func (c *Config) LoadFromEnv() error {
	str := func(dst *string) func(string) error {
		return func(v string) error { *dst = v; return nil }
	}
	integer := func(dst *int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(v)
			*dst = n
			return err
		}
	}
	duration := func(dst *time.Duration) func(string) error {
		return func(v string) error {
			d, err := time.ParseDuration(v)
			*dst = d
			return err
		}
	}
	boolean := func(dst *bool) func(string) error {
		return func(v string) error {
			b, err := strconv.ParseBool(v)
			*dst = b
			return err
		}
	}

	vars := []struct {
		name string
		set  func(string) error
	}{
		{"URL", str(&c.URL)},
		{"OUTPUT", str(&c.Output)},
		{"CONNECTIONS", func(v string) error {
			n, err := strconv.Atoi(v)
			c.Connections = max(n, 1)
			return err
		}},
		{"CHUNK_SIZE", func(v string) error {
			n, err := progress.ParseBytes(v)
			c.ChunkSize = n
			return err
		}},
		{"BUFFER_SIZE", func(v string) error {
			n, err := progress.ParseBytes(v)
			c.BufferSize = int(n)
			return err
		}},
		{"USERNAME", str(&c.Username)},
		{"PASSWORD", str(&c.Password)},
		{"INSECURE", boolean(&c.Insecure)},
		{"USER_AGENT", str(&c.UserAgent)},
		{"TIMEOUT", duration(&c.Timeout)},
		{"REQUESTS_PER_SECOND", integer(&c.RequestsPerSecond)},
		{"PROGRESS", str(&c.Progress)},
		{"LOG_LEVEL", str(&c.LogLevel)},
		{"CONTROL_ADDR", str(&c.ControlAddr)},
		{"PUBLISH_BUCKET", str(&c.Publish.Bucket)},
		{"PUBLISH_KEY", str(&c.Publish.Key)},
		{"RETRY_ATTEMPTS", integer(&c.Retry.Attempts)},
		{"RETRY_BACKOFF", duration(&c.Retry.Backoff)},
		{"RETRY_MAX_BACKOFF", duration(&c.Retry.MaxBackoff)},
	}

	for _, v := range vars {
		raw, ok := os.LookupEnv(EnvPrefix + v.name)
		if !ok || raw == "" {
			continue
		}
		if err := v.set(raw); err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, v.name, err)
		}
	}

	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate validates the configuration. Connections is not checked: the
// downloader clamps it to at least one.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}

	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fmt.Errorf("config: %s: %s", fieldPath(fe), describe(fe)))
	}
	return errors.Join(errs...)
}

// fieldPath strips the root struct name from a validator namespace.
func fieldPath(fe validator.FieldError) string {
	_, path, ok := strings.Cut(fe.Namespace(), ".")
	if !ok {
		return fe.Field()
	}
	return path
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "http_url":
		return "must be an http or https URL"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gt", "gte":
		return fmt.Sprintf("must be %s %s", map[string]string{"gt": ">", "gte": ">="}[fe.Tag()], fe.Param())
	case "excluded_without":
		return "requires " + strings.ToLower(fe.Param())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	setString(&c.URL, override.URL)
	setString(&c.Output, override.Output)
	setString(&c.Username, override.Username)
	setString(&c.Password, override.Password)
	setString(&c.UserAgent, override.UserAgent)
	setString(&c.Progress, override.Progress)
	setString(&c.LogLevel, override.LogLevel)
	setString(&c.ControlAddr, override.ControlAddr)
	setString(&c.Publish.Bucket, override.Publish.Bucket)
	setString(&c.Publish.Key, override.Publish.Key)

	if override.Connections != 0 {
		c.Connections = override.Connections
	}
	if override.ChunkSize != 0 {
		c.ChunkSize = override.ChunkSize
	}
	if override.BufferSize != 0 {
		c.BufferSize = override.BufferSize
	}
	if override.Insecure {
		c.Insecure = true
	}
	if override.Timeout != 0 {
		c.Timeout = override.Timeout
	}
	if override.RequestsPerSecond != 0 {
		c.RequestsPerSecond = override.RequestsPerSecond
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
	return c
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
