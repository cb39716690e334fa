package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/kiliankoe/dropone/internal/game"
)

type Config struct {
	Port          string        `env:"PORT" envDefault:"8080"`
	Store         string        `env:"DROPONE_STORE" envDefault:"memory"`
	SQLitePath    string        `env:"DROPONE_SQLITE_PATH" envDefault:"./dropone.db"`
	DatabaseURL   string        `env:"DROPONE_DATABASE_URL"`
	JWTSecret     string        `env:"DROPONE_JWT_SECRET"`
	AdminUser     string        `env:"DROPONE_ADMIN_USER"`
	AdminPass     string        `env:"DROPONE_ADMIN_PASS"`
	CORSOrigins   []string      `env:"DROPONE_CORS_ORIGINS" envSeparator:","`
	TickInterval  time.Duration `env:"DROPONE_TICK_INTERVAL" envDefault:"1s"`
	ReapInterval  time.Duration `env:"DROPONE_REAP_INTERVAL" envDefault:"15s"`
	IdleThreshold time.Duration `env:"DROPONE_IDLE_THRESHOLD" envDefault:"3m"`
	ExportEnabled bool          `env:"DROPONE_EXPORT_ENABLED" envDefault:"false"`
	ExportFile    string        `env:"DROPONE_EXPORT_FILE" envDefault:"./dropone-results.txt"`
	OTelEndpoint  string        `env:"DROPONE_OTEL_ENDPOINT"`
	LogFormat     string        `env:"DROPONE_LOG_FORMAT" envDefault:"console"`
	LogLevel      string        `env:"DROPONE_LOG_LEVEL" envDefault:"info"`

	Game GameDefaults
}

// GameDefaults fill the fields a new session leaves zero.
type GameDefaults struct {
	InitialLives    int           `env:"DROPONE_INITIAL_LIVES" envDefault:"3"`
	WaitingSeconds  int           `env:"DROPONE_WAITING_SECONDS" envDefault:"3"`
	SelectSeconds   int           `env:"DROPONE_SELECT_SECONDS" envDefault:"10"`
	ExcludeSeconds  int           `env:"DROPONE_EXCLUDE_SECONDS" envDefault:"10"`
	RevealSeconds   int           `env:"DROPONE_REVEAL_SECONDS" envDefault:"5"`
	FinalsThreshold int           `env:"DROPONE_FINALS_THRESHOLD" envDefault:"4"`
	RosterLock      time.Duration `env:"DROPONE_ROSTER_LOCK" envDefault:"1m"`
	ThreeWay        string        `env:"DROPONE_THREE_WAY" envDefault:"replay"`
}

// SessionConfig converts the defaults for the engine.
func (g GameDefaults) SessionConfig() game.SessionConfig {
	return game.SessionConfig{
		InitialLives:      g.InitialLives,
		WaitingSeconds:    g.WaitingSeconds,
		SelectSeconds:     g.SelectSeconds,
		ExcludeSeconds:    g.ExcludeSeconds,
		RevealSeconds:     g.RevealSeconds,
		FinalsThreshold:   g.FinalsThreshold,
		RosterLockSeconds: int(g.RosterLock / time.Second),
		ThreeWay:          game.ThreeWayPolicy(g.ThreeWay),
	}
}

// Load reads an optional .env file and then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	switch c.Store {
	case "memory":
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("config: DROPONE_SQLITE_PATH is required for the sqlite store")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("config: DROPONE_DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	if c.TickInterval <= 0 || c.ReapInterval <= 0 || c.IdleThreshold <= 0 {
		return errors.New("config: intervals must be positive")
	}
	switch game.ThreeWayPolicy(c.Game.ThreeWay) {
	case game.ThreeWayReplay, game.ThreeWayMinority:
	default:
		return fmt.Errorf("config: unknown three-way policy %q", c.Game.ThreeWay)
	}
	return nil
}

// AdminEnabled reports whether admin routes are mounted.
func (c Config) AdminEnabled() bool {
	return c.AdminUser != "" && c.AdminPass != ""
}
