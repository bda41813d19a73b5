package app

import (
	"errors"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the gateway.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	// IdPBaseURL is the identity provider serving the credential and
	// permission endpoints.
	IdPBaseURL string `envconfig:"IDP_BASE_URL" default:"http://127.0.0.1:9096"`
	// UpstreamBaseURL is the origin the /view proxy fetches route payloads
	// from; defaults to the identity provider host when empty.
	UpstreamBaseURL string `envconfig:"UPSTREAM_BASE_URL" default:""`

	// PGDSN selects the durable session backend. Empty means the in-memory
	// fallback, acceptable only in development.
	PGDSN string `envconfig:"PG_DSN" default:""`

	RedisAddr string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	// SessionTTL bounds the lifetime of a non-remembered session.
	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"12h"`

	RouteCacheCapacity int    `envconfig:"ROUTE_CACHE_CAPACITY" default:"10"`
	CacheableRoutes    string `envconfig:"CACHEABLE_ROUTES" default:"/inventory,/reports,/audit"`

	// RevalidateCron schedules the background session revalidation job.
	RevalidateCron string `envconfig:"REVALIDATE_CRON" default:"@every 15m"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.IdPBaseURL == "" {
		return nil, errors.New("identity provider base URL must be provided")
	}
	if cfg.UpstreamBaseURL == "" {
		cfg.UpstreamBaseURL = cfg.IdPBaseURL
	}
	return &cfg, nil
}

// IsProduction returns true when the gateway runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// CacheableRouteList splits the configured allow-list into paths.
func (c *Config) CacheableRouteList() []string {
	parts := strings.Split(c.CacheableRoutes, ",")
	routes := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			routes = append(routes, trimmed)
		}
	}
	return routes
}
