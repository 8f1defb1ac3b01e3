// Package config loads pipeline configuration from file and environment and
// initializes the global logger.
package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Elexon ElexonConfig `yaml:"elexon" mapstructure:"elexon"`
	Import ImportConfig `yaml:"import" mapstructure:"import"`
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// ElexonConfig configures the Elexon Insights API client.
type ElexonConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	MaxAttempts       int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs  int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs      int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	JitterFraction    float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// ImportConfig configures how import runs are planned and executed.
type ImportConfig struct {
	MaxWindowDays int `yaml:"max_window_days" mapstructure:"max_window_days"`
	Concurrency   int `yaml:"concurrency" mapstructure:"concurrency"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`                 // sqlite file
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"` // postgres
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ELEXON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("elexon.base_url", "https://data.elexon.co.uk/bmrs/api/v1")
	v.SetDefault("elexon.user_agent", "elexon-pipeline/1.0")
	v.SetDefault("elexon.timeout_secs", 30)
	v.SetDefault("elexon.requests_per_second", 5)
	v.SetDefault("elexon.burst", 5)
	v.SetDefault("elexon.max_attempts", 3)
	v.SetDefault("elexon.initial_backoff_ms", 500)
	v.SetDefault("elexon.max_backoff_ms", 30000)
	v.SetDefault("elexon.backoff_multiplier", 2.0)
	v.SetDefault("elexon.jitter_fraction", 0.25)
	v.SetDefault("import.max_window_days", 7)
	v.SetDefault("import.concurrency", 1)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "elexon_generation.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the loaded configuration for values no command can run with.
func (c *Config) Validate() error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}

	if c.Elexon.BaseURL == "" {
		problems = append(problems, "elexon.base_url is required")
	}
	if c.Import.MaxWindowDays <= 0 {
		problems = append(problems, "import.max_window_days must be positive")
	}
	if c.Import.Concurrency <= 0 {
		problems = append(problems, "import.concurrency must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, "server.port must be a valid port")
	}

	if len(problems) > 0 {
		return eris.New(strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
