package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	PathEnv     = "IMGPRESS_CONFIG"
	DefaultPath = "./configs/local.yaml"
	envPrefix   = "IMGPRESS_"
)

// Env names are IMGPRESS_ plus the env tag, joined with any envPrefix.
type Config struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	Log       Log       `yaml:"log" envPrefix:"LOG_"`
	Codec     Codec     `yaml:"codec" envPrefix:"CODEC_"`
	Limits    Limits    `yaml:"limits"`
	Cache     Cache     `yaml:"cache" envPrefix:"CACHE_"`
	Sessions  Sessions  `yaml:"sessions" envPrefix:"SESSION_"`
	Jobs      Jobs      `yaml:"jobs" envPrefix:"JOB_"`
	RateLimit RateLimit `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
}

type Log struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

type Codec struct {
	// Backend is "magick" for a local binary or "remote" for the gRPC worker.
	Backend      string `yaml:"backend" env:"BACKEND"`
	Binary       string `yaml:"binary" env:"BINARY"`
	RemoteAddr   string `yaml:"remote_addr" env:"REMOTE_ADDR"`
	OutputFormat string `yaml:"output_format" env:"OUTPUT_FORMAT"`
	ListenAddr   string `yaml:"listen_addr" env:"LISTEN_ADDR"`
	MaxMessage   int    `yaml:"max_message_bytes" env:"MAX_MESSAGE_BYTES"`
}

type Limits struct {
	MaxFileBytes   int64 `yaml:"max_file_bytes" env:"MAX_FILE_BYTES"`
	MaxBatchFiles  int   `yaml:"max_batch_files" env:"MAX_BATCH_FILES"`
	MaxBatchBytes  int64 `yaml:"max_batch_bytes" env:"MAX_BATCH_BYTES"`
	HardPixels     int64 `yaml:"hard_pixels" env:"HARD_PIXELS"`
	SoftPixels     int64 `yaml:"soft_pixels" env:"SOFT_PIXELS"`
	MaxChunkBytes  int64 `yaml:"max_chunk_bytes" env:"MAX_CHUNK_BYTES"`
	DefaultQuality int   `yaml:"default_quality" env:"DEFAULT_QUALITY"`
}

type Cache struct {
	MaxBytes      int64         `yaml:"max_bytes" env:"MAX_BYTES"`
	MaxItems      int           `yaml:"max_items" env:"MAX_ITEMS"`
	TTL           time.Duration `yaml:"ttl" env:"TTL"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

type Sessions struct {
	Budget        int64         `yaml:"budget_bytes" env:"BUDGET_BYTES"`
	TTL           time.Duration `yaml:"ttl" env:"TTL"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

type Jobs struct {
	EncodeTimeout time.Duration `yaml:"encode_timeout" env:"ENCODE_TIMEOUT"`
	Grace         time.Duration `yaml:"grace" env:"GRACE"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	// Concurrency 0 picks the limiter default.
	Concurrency int `yaml:"concurrency" env:"CONCURRENCY"`
}

type RateLimit struct {
	RPS   float64 `yaml:"rps" env:"RPS"`
	Burst int     `yaml:"burst" env:"BURST"`
}

func Default() Config {
	return Config{
		Addr:            ":8080",
		ShutdownTimeout: 10 * time.Second,
		Log:             Log{Level: "info", Format: "text"},
		Codec: Codec{
			Backend:    "magick",
			Binary:     "magick",
			RemoteAddr: "localhost:50051",
			ListenAddr: ":50051",
			MaxMessage: 96 << 20,
		},
		Limits: Limits{
			MaxFileBytes:   50 << 20,
			MaxBatchFiles:  20,
			MaxBatchBytes:  200 << 20,
			HardPixels:     268402689,
			SoftPixels:     50_000_000,
			MaxChunkBytes:  8 << 20,
			DefaultQuality: 80,
		},
		Cache: Cache{
			MaxBytes:      512 << 20,
			MaxItems:      500,
			TTL:           30 * time.Minute,
			SweepInterval: time.Minute,
		},
		Sessions: Sessions{
			Budget:        1 << 30,
			TTL:           15 * time.Minute,
			SweepInterval: time.Minute,
		},
		Jobs: Jobs{
			EncodeTimeout: 30 * time.Second,
			Grace:         2 * time.Minute,
			SweepInterval: time.Minute,
		},
		RateLimit: RateLimit{Burst: 10},
	}
}

// Load reads the file named by IMGPRESS_CONFIG (or the default path), applies
// IMGPRESS_* overrides and validates the result. A missing default file is not
// an error.
func Load() (*Config, error) {
	path, explicit := os.LookupEnv(PathEnv)
	if !explicit {
		path = DefaultPath
	}
	return load(path, explicit, nil)
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// load overlays environ on the file; a nil environ reads the process env.
func load(path string, required bool, environ map[string]string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("cannot unmarshal yaml %q: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !required:
	default:
		return nil, fmt.Errorf("cannot read file %q: %w", path, err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      envPrefix,
		Environment: environ,
	}); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return errors.New("addr is empty")
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}

	switch c.Codec.Backend {
	case "magick":
		if c.Codec.Binary == "" {
			return errors.New("codec.binary is empty")
		}
	case "remote":
		if c.Codec.RemoteAddr == "" {
			return errors.New("codec.remote_addr is empty")
		}
	default:
		return fmt.Errorf("codec.backend must be magick or remote, got %q", c.Codec.Backend)
	}
	switch c.Codec.OutputFormat {
	case "", "jpeg", "png", "webp", "gif", "avif":
	default:
		return fmt.Errorf("codec.output_format %q is not supported", c.Codec.OutputFormat)
	}

	l := c.Limits
	if l.MaxFileBytes <= 0 || l.MaxBatchBytes <= 0 || l.MaxChunkBytes <= 0 {
		return errors.New("limits: byte ceilings must be positive")
	}
	if l.MaxBatchFiles <= 0 {
		return fmt.Errorf("limits.max_batch_files must be positive, got %d", l.MaxBatchFiles)
	}
	if l.HardPixels <= 0 || l.SoftPixels <= 0 {
		return errors.New("limits: pixel ceilings must be positive")
	}
	if l.SoftPixels > l.HardPixels {
		return fmt.Errorf("limits.soft_pixels %d exceeds hard_pixels %d", l.SoftPixels, l.HardPixels)
	}
	if l.DefaultQuality < 1 || l.DefaultQuality > 100 {
		return fmt.Errorf("limits.default_quality must be within [1, 100], got %d", l.DefaultQuality)
	}

	if c.Cache.MaxBytes <= 0 || c.Cache.MaxItems <= 0 {
		return errors.New("cache: max_bytes and max_items must be positive")
	}
	if c.Cache.MaxBytes < l.MaxFileBytes {
		return fmt.Errorf("cache.max_bytes %d is below limits.max_file_bytes %d", c.Cache.MaxBytes, l.MaxFileBytes)
	}
	if c.Sessions.Budget < l.MaxFileBytes {
		return fmt.Errorf("sessions.budget_bytes %d is below limits.max_file_bytes %d", c.Sessions.Budget, l.MaxFileBytes)
	}
	if c.Sessions.TTL <= 0 {
		return fmt.Errorf("sessions.ttl must be positive, got %s", c.Sessions.TTL)
	}
	if c.Jobs.EncodeTimeout <= 0 {
		return fmt.Errorf("jobs.encode_timeout must be positive, got %s", c.Jobs.EncodeTimeout)
	}
	if c.Jobs.Concurrency < 0 {
		return fmt.Errorf("jobs.concurrency must not be negative, got %d", c.Jobs.Concurrency)
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps must not be negative, got %v", c.RateLimit.RPS)
	}
	return nil
}
