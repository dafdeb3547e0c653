package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/mcdev12/minority/go/internal/dbconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the server configuration read from the environment.
type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	RoomID    string `env:"ROOM_ID" envDefault:"main"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	DurableDriver string `env:"DURABLE_DRIVER" envDefault:"sqlite"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"minority.db"`
	Postgres      dbconfig.Config

	// NATSURL enables the JetStream event feed when set.
	NATSURL string `env:"NATS_URL"`

	GameConfigPath string   `env:"GAME_CONFIG"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Load reads .env if present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}
	return FromEnv(env.ToMap(os.Environ()))
}

// FromEnv parses configuration from the given environment.
func FromEnv(environ map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.DurableDriver = strings.ToLower(strings.TrimSpace(c.DurableDriver))
	switch c.DurableDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unknown DURABLE_DRIVER %q", c.DurableDriver)
	}
	if strings.TrimSpace(c.RoomID) == "" {
		return fmt.Errorf("ROOM_ID must not be blank")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return nil
}

// Level returns the configured log level.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
