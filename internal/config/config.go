package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Backend modes select the transport used for the relational resources.
const (
	BackendPostgres  = "postgres"
	BackendPostgREST = "postgrest"
)

// Config captures all runtime configuration derived from environment variables.
type Config struct {
	Port             string `env:"PORT" envDefault:"8080"`
	ReadTimeoutSecs  int    `env:"SERVER_READ_TIMEOUT" envDefault:"15"`
	WriteTimeoutSecs int    `env:"SERVER_WRITE_TIMEOUT" envDefault:"15"`
	IdleTimeoutSecs  int    `env:"SERVER_IDLE_TIMEOUT" envDefault:"60"`
	LoginPath        string `env:"LOGIN_PATH" envDefault:"/auth/login"`

	BackendMode        string `env:"BACKEND_MODE" envDefault:"postgres"`
	BackendTimeoutSecs int    `env:"BACKEND_TIMEOUT_SECS" envDefault:"0"`

	DBURL             string `env:"DB_URL"`
	DBMaxConns        int    `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns        int    `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxIdleSecs     int    `env:"DB_MAX_CONN_IDLE_SECS" envDefault:"300"`
	DBMaxLifeSecs     int    `env:"DB_MAX_CONN_LIFETIME_SECS" envDefault:"3600"`
	DBConnTimeoutSecs int    `env:"DB_CONN_TIMEOUT_SECS" envDefault:"10"`
	DBStatementCache  int    `env:"DB_STATEMENT_CACHE_CAPACITY" envDefault:"256"`

	PostgRESTURL    string `env:"POSTGREST_URL"`
	PostgRESTAPIKey string `env:"POSTGREST_API_KEY"`

	AuthURL       string `env:"AUTH_URL"`
	AuthAPIKey    string `env:"AUTH_API_KEY"`
	AuthJWTSecret string `env:"AUTH_JWT_SECRET"`
	SessionFile   string `env:"SESSION_FILE" envDefault:".cinelist/session.json"`

	TMDBBaseURL     string  `env:"TMDB_BASE_URL" envDefault:"https://api.themoviedb.org/3"`
	TMDBAPIKey      string  `env:"TMDB_API_KEY"`
	TMDBTimeoutSecs int     `env:"TMDB_TIMEOUT_SECS" envDefault:"0"`
	TMDBRateLimit   float64 `env:"TMDB_RATE_LIMIT" envDefault:"40"`

	CachePolicyFile       string `env:"CACHE_POLICY_FILE"`
	CacheFetchTimeoutSecs int    `env:"CACHE_FETCH_TIMEOUT_SECS" envDefault:"0"`
	CacheGCSecs           int    `env:"CACHE_GC_SECS" envDefault:"300"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	LogFile   string `env:"LOG_FILE"`
}

// Load reads configuration from environment variables, applying defaults and validation.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.BackendMode = strings.ToLower(strings.TrimSpace(cfg.BackendMode))
	if cfg.PostgRESTAPIKey == "" {
		cfg.PostgRESTAPIKey = cfg.AuthAPIKey
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that env tags cannot express.
func (cfg Config) Validate() error {
	switch cfg.BackendMode {
	case BackendPostgres:
		if cfg.DBURL == "" {
			return fmt.Errorf("DB_URL is required")
		}
	case BackendPostgREST:
		if cfg.PostgRESTURL == "" {
			return fmt.Errorf("POSTGREST_URL is required")
		}
		if cfg.PostgRESTAPIKey == "" {
			return fmt.Errorf("POSTGREST_API_KEY is required")
		}
	default:
		return fmt.Errorf("BACKEND_MODE must be %q or %q", BackendPostgres, BackendPostgREST)
	}
	if cfg.AuthURL == "" {
		return fmt.Errorf("AUTH_URL is required")
	}
	if cfg.AuthAPIKey == "" {
		return fmt.Errorf("AUTH_API_KEY is required")
	}
	if cfg.TMDBAPIKey == "" {
		return fmt.Errorf("TMDB_API_KEY is required")
	}
	if cfg.TMDBTimeoutSecs < 0 {
		return fmt.Errorf("TMDB_TIMEOUT_SECS must be non-negative")
	}
	if cfg.TMDBRateLimit <= 0 {
		return fmt.Errorf("TMDB_RATE_LIMIT must be positive")
	}
	if cfg.BackendTimeoutSecs < 0 {
		return fmt.Errorf("BACKEND_TIMEOUT_SECS must be non-negative")
	}
	if cfg.CacheFetchTimeoutSecs < 0 {
		return fmt.Errorf("CACHE_FETCH_TIMEOUT_SECS must be non-negative")
	}
	if cfg.CacheGCSecs <= 0 {
		return fmt.Errorf("CACHE_GC_SECS must be positive")
	}
	if cfg.DBMaxConns <= 0 {
		return fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	if cfg.DBMinConns < 0 {
		return fmt.Errorf("DB_MIN_CONNS must be non-negative")
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS cannot exceed DB_MAX_CONNS")
	}
	if cfg.DBStatementCache < 0 {
		return fmt.Errorf("DB_STATEMENT_CACHE_CAPACITY must be non-negative")
	}
	if !strings.HasPrefix(cfg.LoginPath, "/") {
		return fmt.Errorf("LOGIN_PATH must start with /")
	}
	return nil
}
