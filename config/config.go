/*
config.go - Server configuration

PURPOSE:
  Loads the server settings from (highest precedence first) command-line
  flags, environment variables, a .env file and built-in defaults.

KEYS:
  PORT              HTTP port (8080)
  STORE             sqlite | postgres | memory (sqlite)
  SQLITE_PATH       SQLite database file (leave.db)
  PGSQL_URL         PostgreSQL connection URL
  LOG_LEVEL         debug | info | warn | error (info)
  LOG_FORMAT        json | console (json)
  CORS_ORIGINS      Comma-separated allowed origins
  RETRY_ATTEMPTS    Attempts for conflicting writes at the API (3)
  SHUTDOWN_TIMEOUT  Graceful shutdown budget (30s)

INVALID VALUES:
  An unparsable or out-of-range value falls back to its default and is
  reported in Config.Warnings; the caller logs them once a logger exists.

SEE ALSO:
  - cmd/server/main.go: Consumer
*/
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds application configuration.
type Config struct {
	Port            int
	Store           string
	SQLitePath      string
	PostgresURL     string
	LogLevel        string
	LogFormat       string
	CORSOrigins     []string
	RetryAttempts   int
	ShutdownTimeout time.Duration

	// Warnings lists the values that were replaced by their defaults.
	Warnings []string
}

var defaults = map[string]any{
	"PORT":             8080,
	"STORE":            StoreSQLite,
	"SQLITE_PATH":      "leave.db",
	"PGSQL_URL":        "",
	"LOG_LEVEL":        "info",
	"LOG_FORMAT":       "json",
	"CORS_ORIGINS":     "",
	"RETRY_ATTEMPTS":   3,
	"SHUTDOWN_TIMEOUT": "30s",
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"port":             "PORT",
	"store":            "STORE",
	"sqlite-path":      "SQLITE_PATH",
	"pgsql-url":        "PGSQL_URL",
	"log-level":        "LOG_LEVEL",
	"log-format":       "LOG_FORMAT",
	"cors-origins":     "CORS_ORIGINS",
	"retry-attempts":   "RETRY_ATTEMPTS",
	"shutdown-timeout": "SHUTDOWN_TIMEOUT",
}

// Load parses args (without the program name). envFile, when non-empty, is
// read with godotenv; a missing file is not an error.
func Load(args []string, envFile string) (*Config, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}

	fs := pflag.NewFlagSet("leave-server", pflag.ContinueOnError)
	fs.String("port", "", "HTTP server port")
	fs.String("store", "", "storage backend: sqlite, postgres or memory")
	fs.String("sqlite-path", "", "SQLite database path (\":memory:\" for in-memory)")
	fs.String("pgsql-url", "", "PostgreSQL connection URL")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.String("log-format", "", "log format: json or console")
	fs.String("cors-origins", "", "comma-separated allowed CORS origins")
	fs.String("retry-attempts", "", "attempts for conflicting writes")
	fs.String("shutdown-timeout", "", "graceful shutdown timeout, e.g. 30s")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()
	for name, key := range flagKeys {
		// Only flags given on the command line override the environment.
		if f := fs.Lookup(name); f != nil && f.Changed {
			v.Set(key, f.Value.String())
		}
	}

	cfg := &Config{
		SQLitePath:  v.GetString("SQLITE_PATH"),
		PostgresURL: v.GetString("PGSQL_URL"),
	}

	cfg.Port = cfg.intInRange(v, "PORT", 1, 65535)
	cfg.RetryAttempts = cfg.intInRange(v, "RETRY_ATTEMPTS", 1, 10)
	cfg.Store = cfg.oneOf(v, "STORE", StoreSQLite, StorePostgres, StoreMemory)
	cfg.LogLevel = cfg.oneOf(v, "LOG_LEVEL", "debug", "info", "warn", "error")
	cfg.LogFormat = cfg.oneOf(v, "LOG_FORMAT", "json", "console")

	raw := v.GetString("SHUTDOWN_TIMEOUT")
	timeout, err := time.ParseDuration(raw)
	if err != nil || timeout <= 0 {
		timeout, _ = time.ParseDuration(defaults["SHUTDOWN_TIMEOUT"].(string))
		cfg.warn("SHUTDOWN_TIMEOUT", raw, timeout.String())
	}
	cfg.ShutdownTimeout = timeout

	for _, origin := range strings.Split(v.GetString("CORS_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
		}
	}

	if cfg.Store == StorePostgres && cfg.PostgresURL == "" {
		return nil, fmt.Errorf("STORE=postgres requires PGSQL_URL")
	}
	return cfg, nil
}

func (c *Config) warn(key, got, fallback string) {
	c.Warnings = append(c.Warnings, fmt.Sprintf("invalid %s %q, using %s", key, got, fallback))
}

func (c *Config) intInRange(v *viper.Viper, key string, lo, hi int) int {
	raw := v.GetString(key)
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < lo || n > hi {
		n = defaults[key].(int)
		c.warn(key, raw, strconv.Itoa(n))
	}
	return n
}

func (c *Config) oneOf(v *viper.Viper, key string, allowed ...string) string {
	raw := strings.ToLower(strings.TrimSpace(v.GetString(key)))
	for _, a := range allowed {
		if raw == a {
			return raw
		}
	}
	fallback := defaults[key].(string)
	c.warn(key, raw, fallback)
	return fallback
}
