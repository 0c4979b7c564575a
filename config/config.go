package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Collaborators CollaboratorsConfig `yaml:"collaborators"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Session       SessionConfig       `yaml:"session"`
	Log           LogConfig           `yaml:"log"`
}

type ServerConfig struct {
	Port      int    `yaml:"port" validate:"min=1,max=65535"`
	StaticDir string `yaml:"static_dir"`
	// Requests per minute per client, 0 disables limiting.
	RateLimit int `yaml:"rate_limit" validate:"min=0"`
}

type CollaboratorsConfig struct {
	Extract     EndpointConfig `yaml:"extract"`
	Standardize EndpointConfig `yaml:"standardize"`
}

// EndpointConfig describes one external collaborator. An empty URL is
// allowed at load time; the pipeline reports it when a run is attempted.
type EndpointConfig struct {
	URL    string `yaml:"url" validate:"omitempty,url"`
	APIKey string `yaml:"api_key"`
}

type PipelineConfig struct {
	CallTimeout   time.Duration `yaml:"call_timeout" validate:"gt=0"`
	MaxUploadSize int64         `yaml:"max_upload_size" validate:"gt=0"`
}

type SessionConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TTL         time.Duration `yaml:"ttl" validate:"gt=0"`
	// Live sessions kept before the oldest is evicted, 0 means unlimited.
	MaxSessions int `yaml:"max_sessions" validate:"min=0"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
	File   string `yaml:"file"`
}

// DefaultMaxUploadSize is the per-file intake limit (10 MiB).
const DefaultMaxUploadSize int64 = 10485760

// DefaultCallTimeout bounds one collaborator call.
const DefaultCallTimeout = 30 * time.Second

var validate = validator.New()

// Load reads the YAML file at path (a missing file is not an error), applies
// .env and environment overrides, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using process environment")
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
		slog.Info("config file not found, using environment only", "path", path)
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("EXTRACT_ENDPOINT_URL"); v != "" {
		cfg.Collaborators.Extract.URL = v
	}
	if v := os.Getenv("EXTRACT_API_KEY"); v != "" {
		cfg.Collaborators.Extract.APIKey = v
	}
	if v := os.Getenv("STANDARDIZE_ENDPOINT_URL"); v != "" {
		cfg.Collaborators.Standardize.URL = v
	}
	if v := os.Getenv("STANDARDIZE_API_KEY"); v != "" {
		cfg.Collaborators.Standardize.APIKey = v
	}
	if v := os.Getenv("SESSION_JWT_SECRET"); v != "" {
		cfg.Session.JWTSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Pipeline.CallTimeout == 0 {
		cfg.Pipeline.CallTimeout = DefaultCallTimeout
	}
	if cfg.Pipeline.MaxUploadSize == 0 {
		cfg.Pipeline.MaxUploadSize = DefaultMaxUploadSize
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = 30 * time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate checks field formats. Missing collaborator URLs pass; they are
// surfaced per run, not at startup.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// MissingEndpoints lists the collaborator settings that are still empty.
func (c *Config) MissingEndpoints() []string {
	var missing []string
	if c.Collaborators.Extract.URL == "" {
		missing = append(missing, "EXTRACT_ENDPOINT_URL")
	}
	if c.Collaborators.Standardize.URL == "" {
		missing = append(missing, "STANDARDIZE_ENDPOINT_URL")
	}
	return missing
}
