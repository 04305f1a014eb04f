// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Config holds all application configuration.
type Config struct {
	Port           string           `koanf:"port" validate:"required,numeric"`
	FrontendURL    string           `koanf:"frontend_url"`
	GRPCHealthPort string           `koanf:"grpc_health_port" validate:"omitempty,numeric"`
	LogLevel       string           `koanf:"log_level" validate:"oneof=debug info warn error"`
	Database       DatabaseConfig   `koanf:"database"`
	OpenAI         OpenAIConfig     `koanf:"openai"`
	Study          StudyConfig      `koanf:"study"`
	Generation     GenerationConfig `koanf:"generation"`
	Upload         UploadConfig     `koanf:"upload"`
}

// DatabaseConfig selects the storage backend. URL takes precedence over Path.
type DatabaseConfig struct {
	Path string `koanf:"path"`
	URL  string `koanf:"url"`
}

// OpenAIConfig controls flashcard generation. An empty APIKey disables AI features.
type OpenAIConfig struct {
	APIKey  string        `koanf:"api_key"`
	Model   string        `koanf:"model" validate:"required"`
	BaseURL string        `koanf:"base_url" validate:"omitempty,url"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// StudyConfig controls live study sessions.
type StudyConfig struct {
	IdleTTL       time.Duration `koanf:"idle_ttl" validate:"gt=0"`
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"gt=0"`
	DefaultLimit  int           `koanf:"default_limit" validate:"min=1"`
	StrictGrading bool          `koanf:"strict_grading"`
}

// GenerationConfig bounds generation requests.
type GenerationConfig struct {
	RatePerMinute float64 `koanf:"rate_per_minute" validate:"gt=0"`
	Burst         int     `koanf:"burst" validate:"min=1"`
	MaxTextBytes  int     `koanf:"max_text_bytes" validate:"min=1"`
}

// UploadConfig bounds multipart uploads.
type UploadConfig struct {
	MaxBytes int64 `koanf:"max_bytes" validate:"min=1"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Port:     "8080",
		LogLevel: "info",
		Database: DatabaseConfig{
			Path: "./data/autoflash.db",
		},
		OpenAI: OpenAIConfig{
			Model:   "gpt-4o-mini",
			Timeout: 60 * time.Second,
		},
		Study: StudyConfig{
			IdleTTL:       60 * time.Minute,
			SweepInterval: 5 * time.Minute,
			DefaultLimit:  10,
		},
		Generation: GenerationConfig{
			RatePerMinute: 6,
			Burst:         3,
			MaxTextBytes:  100_000,
		},
		Upload: UploadConfig{
			MaxBytes: 10 << 20,
		},
	}
}

// envKeys maps supported environment variables to configuration keys.
var envKeys = map[string]string{
	"PORT":                       "port",
	"FRONTEND_URL":               "frontend_url",
	"GRPC_HEALTH_PORT":           "grpc_health_port",
	"LOG_LEVEL":                  "log_level",
	"DB_PATH":                    "database.path",
	"DATABASE_URL":               "database.url",
	"OPENAI_API_KEY":             "openai.api_key",
	"OPENAI_MODEL":               "openai.model",
	"OPENAI_BASE_URL":            "openai.base_url",
	"OPENAI_TIMEOUT":             "openai.timeout",
	"STUDY_IDLE_TTL":             "study.idle_ttl",
	"STUDY_SWEEP_INTERVAL":       "study.sweep_interval",
	"STUDY_DEFAULT_LIMIT":        "study.default_limit",
	"STUDY_STRICT_GRADING":       "study.strict_grading",
	"GENERATION_RATE_PER_MINUTE": "generation.rate_per_minute",
	"GENERATION_BURST":           "generation.burst",
	"GENERATION_MAX_TEXT_BYTES":  "generation.max_text_bytes",
	"UPLOAD_MAX_BYTES":           "upload.max_bytes",
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"port":      "port",
	"db-path":   "database.path",
	"log-level": "log_level",
	"grpc-port": "grpc_health_port",
}

// RegisterFlags adds the flags Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML configuration file")
	fs.String("port", "", "HTTP listen port")
	fs.String("db-path", "", "SQLite database path")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("grpc-port", "", "gRPC health service port (disabled when empty)")
}

// Load builds the configuration from defaults, an optional YAML file,
// environment variables and changed flags, in increasing precedence.
// fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	path := os.Getenv("AUTOFLASH_CONFIG")
	if fs != nil {
		if f := fs.Lookup("config"); f != nil && f.Changed {
			path = f.Value.String()
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		mapped, ok := envKeys[key]
		if !ok || value == "" {
			return "", nil
		}
		return mapped, value
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if fs != nil {
		if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			mapped, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return mapped, f.Value.String()
		}), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if c.Database.URL == "" && c.Database.Path == "" {
		return errors.New("one of database.url or database.path is required")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AIEnabled reports whether flashcard generation is configured.
func (c *Config) AIEnabled() bool {
	return c.OpenAI.APIKey != ""
}
