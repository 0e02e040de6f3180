package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything cmd/api needs to wire the service. Values
// come from the environment; a .env file is honored for local runs.
type Config struct {
	Addr string

	PostgresDSN string

	// Token secrets. Access and step-up tokens share AccessSecret;
	// refresh tokens use their own secret so a refresh-secret leak
	// cannot forge access tokens.
	AccessSecret  string
	RefreshSecret string
	Issuer        string

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	StepUpTTL  time.Duration

	PolicyCacheTTL   time.Duration
	PolicyCacheGrace time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AMQPURL string
}

// Load reads configuration from the environment. Missing token
// secrets are a fatal misconfiguration surfaced by the token codec at
// startup, not here, so partial configs remain loadable for tooling.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:             getString("DOCVAULT_ADDR", ":8080"),
		PostgresDSN:      os.Getenv("DOCVAULT_PG_DSN"),
		AccessSecret:     os.Getenv("DOCVAULT_JWT_SECRET"),
		RefreshSecret:    os.Getenv("DOCVAULT_JWT_REFRESH_SECRET"),
		Issuer:           getString("DOCVAULT_ISSUER", "docvault"),
		AccessTTL:        getDuration("DOCVAULT_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:       getDuration("DOCVAULT_REFRESH_TTL", 7*24*time.Hour),
		StepUpTTL:        getDuration("DOCVAULT_STEPUP_TTL", 5*time.Minute),
		PolicyCacheTTL:   getDuration("DOCVAULT_POLICY_CACHE_TTL", 5*time.Second),
		PolicyCacheGrace: getDuration("DOCVAULT_POLICY_CACHE_GRACE", 30*time.Second),
		RedisAddr:        redisAddr(),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          getInt("REDIS_DB", 0),
		AMQPURL:          getString("AMQP_URL", os.Getenv("RABBITMQ_URL")),
	}
}

func redisAddr() string {
	host := os.Getenv("REDIS_HOST")
	port := os.Getenv("REDIS_PORT")
	if host != "" && port != "" {
		return host + ":" + port
	}
	return os.Getenv("REDIS_ADDR")
}

func getString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// String renders the config with secrets elided, for startup logging.
func (c Config) String() string {
	return fmt.Sprintf("addr=%s pg=%t redis=%t amqp=%t access_ttl=%s refresh_ttl=%s cache_ttl=%s",
		c.Addr, c.PostgresDSN != "", c.RedisAddr != "", c.AMQPURL != "",
		c.AccessTTL, c.RefreshTTL, c.PolicyCacheTTL)
}
