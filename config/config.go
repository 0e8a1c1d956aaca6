// Package config loads the tracker settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/wricardo/schoolbus-tracker/tracker/router"
	"github.com/wricardo/schoolbus-tracker/tracker/store"
	"go.uber.org/multierr"
)

// Config holds every setting of the serve command.
type Config struct {
	Host string
	Port int

	StoreDriver string
	DatabaseURL string
	SQLiteDSN   string
	RosterFile  string

	RedisAddr     string
	RedisPassword string
	PresenceTTL   time.Duration

	JWTSecret string
	JWTIssuer string

	Fanout         string
	IdleTimeout    time.Duration
	SweepInterval  time.Duration
	AllowedOrigins []string

	NgrokEnabled   bool
	NgrokAuthToken string
	NgrokDomain    string

	LogEnv   string
	LogLevel string
}

// Load reads the configuration from environment variables.
func Load() Config {
	return Config{
		Host:           getenv("TRACKER_HOST", "localhost"),
		Port:           getenvInt("TRACKER_PORT", 8080),
		StoreDriver:    getenv("TRACKER_STORE", store.DriverMemory),
		DatabaseURL:    getenv("DATABASE_URL", ""),
		SQLiteDSN:      getenv("SQLITE_DSN", "tracker.db"),
		RosterFile:     getenv("TRACKER_ROSTER", ""),
		RedisAddr:      getenv("REDIS_ADDR", ""),
		RedisPassword:  getenv("REDIS_PASSWORD", ""),
		PresenceTTL:    getenvDuration("PRESENCE_TTL", 90*time.Second),
		JWTSecret:      getenv("TRACKER_JWT_SECRET", ""),
		JWTIssuer:      getenv("TRACKER_JWT_ISSUER", ""),
		Fanout:         getenv("TRACKER_FANOUT", string(router.FanoutScoped)),
		IdleTimeout:    getenvDuration("TRACKER_IDLE_TIMEOUT", 2*time.Minute),
		SweepInterval:  getenvDuration("TRACKER_SWEEP_INTERVAL", 30*time.Second),
		AllowedOrigins: getenvList("TRACKER_ALLOWED_ORIGINS"),
		NgrokEnabled:   getenvBool("NGROK_ENABLED"),
		NgrokAuthToken: getenv("NGROK_AUTHTOKEN", os.Getenv("NGROK_AUTH_TOKEN")),
		NgrokDomain:    getenv("NGROK_DOMAIN", ""),
		LogEnv:         getenv("LOG_ENV", ""),
		LogLevel:       getenv("LOG_LEVEL", ""),
	}
}

// LoadFiles loads .env style files into the environment and then calls
// Load. Missing files are skipped; variables already set win.
func LoadFiles(paths ...string) (Config, error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", p, err)
		}
	}
	return Load(), nil
}

// Addr is the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DSN returns the data source for the configured store driver.
func (c Config) DSN() string {
	switch c.StoreDriver {
	case store.DriverPostgres:
		return c.DatabaseURL
	case store.DriverSQLite:
		return c.SQLiteDSN
	}
	return ""
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var err error
	if c.Port < 0 || c.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.StoreDriver {
	case store.DriverMemory, store.DriverSQLite:
	case store.DriverPostgres:
		if c.DatabaseURL == "" {
			err = multierr.Append(err, errors.New("TRACKER_STORE=postgres requires DATABASE_URL"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("unknown store driver %q", c.StoreDriver))
	}
	if _, ferr := router.ParseFanout(c.Fanout); ferr != nil {
		err = multierr.Append(err, ferr)
	}
	if c.IdleTimeout > 0 && c.SweepInterval <= 0 {
		err = multierr.Append(err, errors.New("sweep interval must be positive when idle eviction is enabled"))
	}
	if c.RedisAddr != "" && c.PresenceTTL <= 0 {
		err = multierr.Append(err, errors.New("presence ttl must be positive"))
	}
	return err
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getenvBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func getenvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
