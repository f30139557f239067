// Package config loads rawdiag settings. Precedence is defaults, then the
// YAML file, then RAWDIAG_* environment variables; the CLI applies flags
// last.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"rawdiag/diag"
)

const envPrefix = "RAWDIAG_"

// Config holds user-configurable defaults and integrations.
type Config struct {
	ChunkSize        string        `yaml:"chunk_size"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
	ReadRetries      int           `yaml:"read_retries"`
	MaxFaults        int           `yaml:"max_faults"`
	ReportDir        string        `yaml:"report_dir"`
	Samples          []diag.Sample `yaml:"speed_samples,omitempty"`

	SMART   SMARTConfig   `yaml:"smart"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	History HistoryConfig `yaml:"history"`
	S3      S3Config      `yaml:"s3"`
}

type SMARTConfig struct {
	Path string `yaml:"path"`
	Sudo bool   `yaml:"sudo"`
}

type LogConfig struct {
	Verbosity int    `yaml:"verbosity"`
	Format    string `yaml:"format"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type HistoryConfig struct {
	DSN   string `yaml:"dsn"`
	Limit int    `yaml:"limit"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Enabled reports whether uploads are configured.
func (s S3Config) Enabled() bool { return s.Endpoint != "" && s.Bucket != "" }

// Default returns a config with sensible defaults.
func Default() Config {
	return Config{
		ChunkSize:        "64MiB",
		ProgressInterval: 500 * time.Millisecond,
		ReadRetries:      2,
		MaxFaults:        50,
		ReportDir:        ".",
		Log:              LogConfig{Format: "text"},
		History:          HistoryConfig{Limit: 20},
		S3:               S3Config{UseSSL: true},
	}
}

// ChunkBytes parses ChunkSize. Both "64MiB" and "67108864" are accepted.
func (c Config) ChunkBytes() (int, error) {
	if strings.TrimSpace(c.ChunkSize) == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.ChunkSize)
	if err != nil {
		return 0, fmt.Errorf("chunk_size %q: %w", c.ChunkSize, err)
	}
	if n > 1<<30 {
		return 0, fmt.Errorf("chunk_size %q is larger than 1GiB", c.ChunkSize)
	}
	return int(n), nil
}

// Diag returns the diagnostic options the config selects.
func (c Config) Diag() (diag.Options, error) {
	chunk, err := c.ChunkBytes()
	if err != nil {
		return diag.Options{}, err
	}
	return diag.Options{ChunkSize: chunk, ReadRetries: c.ReadRetries, Samples: c.Samples}, nil
}

// Path returns ~/.config/rawdiag/config.yaml (or under XDG_CONFIG_HOME).
// It is empty when no home directory can be determined.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "rawdiag", "config.yaml")
}

// Load reads path over the defaults and then applies the environment. A
// missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, err
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	ApplyEnv(&cfg)
	return cfg, nil
}

// Save writes cfg to path, creating its directory.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("cannot determine config directory")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadDotEnv loads .env files into the environment. Missing files are
// skipped; variables already set win.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env.local", ".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// ApplyEnv overrides cfg from RAWDIAG_* variables.
func ApplyEnv(cfg *Config) {
	cfg.ChunkSize = getEnv("CHUNK_SIZE", cfg.ChunkSize)
	cfg.ProgressInterval = getEnvAsDuration("PROGRESS_INTERVAL", cfg.ProgressInterval)
	cfg.ReadRetries = getEnvAsInt("READ_RETRIES", cfg.ReadRetries)
	cfg.MaxFaults = getEnvAsInt("MAX_FAULTS", cfg.MaxFaults)
	cfg.ReportDir = getEnv("REPORT_DIR", cfg.ReportDir)

	cfg.SMART.Path = getEnv("SMARTCTL", cfg.SMART.Path)
	cfg.SMART.Sudo = getEnvAsBool("SUDO", cfg.SMART.Sudo)

	cfg.Log.Verbosity = getEnvAsInt("LOG_VERBOSITY", cfg.Log.Verbosity)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	cfg.Metrics.Addr = getEnv("METRICS_ADDR", cfg.Metrics.Addr)
	cfg.History.DSN = getEnv("HISTORY_DSN", cfg.History.DSN)
	cfg.History.Limit = getEnvAsInt("HISTORY_LIMIT", cfg.History.Limit)

	cfg.S3.Endpoint = getEnv("S3_ENDPOINT", cfg.S3.Endpoint)
	cfg.S3.Bucket = getEnv("S3_BUCKET", cfg.S3.Bucket)
	cfg.S3.Region = getEnv("S3_REGION", cfg.S3.Region)
	cfg.S3.AccessKey = getEnv("S3_ACCESS_KEY", cfg.S3.AccessKey)
	cfg.S3.SecretKey = getEnv("S3_SECRET_KEY", cfg.S3.SecretKey)
	cfg.S3.UseSSL = getEnvAsBool("S3_USE_SSL", cfg.S3.UseSSL)
}

func getEnv(key, defaultValue string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" {
		return v
	}
	return defaultValue
}

// getEnvAsInt reads an environment variable as an integer, or returns the
// default when it is unset or invalid.
func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}
