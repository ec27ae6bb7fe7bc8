// Package config loads aap-watch settings from defaults, an optional YAML
// file, AAPWATCH_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/david/aap-watch/internal/ingest"
	"github.com/david/aap-watch/internal/push"
)

const (
	EnvPrefix       = "AAPWATCH"
	DefaultFileName = "aapwatch"
)

type Config struct {
	DataDir     string       `mapstructure:"data_dir"`
	DatabaseURL string       `mapstructure:"database_url"`
	Log         LogConfig    `mapstructure:"log"`
	Ollama      OllamaConfig `mapstructure:"ollama"`
	Sheets      SheetsConfig `mapstructure:"sheets"`
	Mongo       MongoConfig  `mapstructure:"mongo"`
	Fetch       FetchConfig  `mapstructure:"fetch"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type OllamaConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	EmbedModel string `mapstructure:"embed_model"`
	GenModel   string `mapstructure:"gen_model"`
}

type SheetsConfig struct {
	ServiceAccountPath string `mapstructure:"service_account_path"`
	ClientID           string `mapstructure:"client_id"`
	ClientSecret       string `mapstructure:"client_secret"`
	RefreshToken       string `mapstructure:"refresh_token"`
	SpreadsheetID      string `mapstructure:"spreadsheet_id"`
	SheetName          string `mapstructure:"sheet_name"`
	BatchSize          int    `mapstructure:"batch_size"`
	RetryAttempts      int    `mapstructure:"retry_attempts"`
}

type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type FetchConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxRetries     int     `mapstructure:"max_retries"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	AcceptLanguage string  `mapstructure:"accept_language"`
}

// flagKeys maps command-line flags to configuration keys. Flags missing
// from the flag set are ignored.
var flagKeys = map[string]string{
	"data-dir":     "data_dir",
	"database-url": "database_url",
	"log-level":    "log.level",
	"log-format":   "log.format",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")
	v.SetDefault("database_url", "sqlite://data/aapwatch.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("ollama.embed_model", "nomic-embed-text")
	v.SetDefault("ollama.gen_model", "llama3.2:latest")

	sheets := push.DefaultSheetsConfig()
	v.SetDefault("sheets.service_account_path", "")
	v.SetDefault("sheets.client_id", "")
	v.SetDefault("sheets.client_secret", "")
	v.SetDefault("sheets.refresh_token", "")
	v.SetDefault("sheets.spreadsheet_id", "")
	v.SetDefault("sheets.sheet_name", sheets.SheetName)
	v.SetDefault("sheets.batch_size", sheets.BatchSize)
	v.SetDefault("sheets.retry_attempts", sheets.RetryAttempts)

	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "aapwatch")
	v.SetDefault("mongo.collection", "records")

	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.rate_limit_rps", 1.0)
	v.SetDefault("fetch.accept_language", "fr-FR,fr;q=0.9,en;q=0.5")
}

// Load reads the configuration. An empty path searches for aapwatch.yaml in
// the working directory and is not an error when none exists; an explicit
// path must exist. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(DefaultFileName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if flags != nil {
		for flag, key := range flagKeys {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.DatabaseURL == "" {
		return errors.New("database_url is required")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format %q (console, json)", c.Log.Format)
	}
	if c.Fetch.TimeoutSeconds < 0 || c.Fetch.MaxRetries < 0 || c.Fetch.RateLimitRPS < 0 {
		return errors.New("fetch settings cannot be negative")
	}
	if c.Sheets.BatchSize <= 0 {
		return errors.New("sheets.batch_size must be positive")
	}
	return nil
}

// StagingDir is where fetched raw records are staged.
func (c Config) StagingDir() string {
	return filepath.Join(c.DataDir, "staging")
}

// ExportPath is the default file for an export of the given format.
func (c Config) ExportPath(format string) string {
	return filepath.Join(c.DataDir, "exports", "aap."+format)
}

func (c Config) FetchDefaults() ingest.FetchConfig {
	return ingest.FetchConfig{
		TimeoutSeconds: c.Fetch.TimeoutSeconds,
		MaxRetries:     c.Fetch.MaxRetries,
		RateLimitRPS:   c.Fetch.RateLimitRPS,
		AcceptLanguage: c.Fetch.AcceptLanguage,
	}
}

func (c Config) SheetsPush() push.SheetsConfig {
	return push.SheetsConfig{
		ServiceAccountPath: c.Sheets.ServiceAccountPath,
		ClientID:           c.Sheets.ClientID,
		ClientSecret:       c.Sheets.ClientSecret,
		RefreshToken:       c.Sheets.RefreshToken,
		SpreadsheetID:      c.Sheets.SpreadsheetID,
		SheetName:          c.Sheets.SheetName,
		BatchSize:          c.Sheets.BatchSize,
		RetryAttempts:      c.Sheets.RetryAttempts,
		RetryDelay:         time.Second,
	}
}

func (c Config) MongoPush(clear bool) push.MongoConfig {
	return push.MongoConfig{
		URI:        c.Mongo.URI,
		Database:   c.Mongo.Database,
		Collection: c.Mongo.Collection,
		Clear:      clear,
	}
}
