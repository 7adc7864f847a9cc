package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every process-wide setting. It is built once at startup and
// handed to constructors explicitly; nothing reads the environment after Load.
type Config struct {
	HTTPAddr string
	PGDSN    string

	// SigningSecret signs access tokens (HS256). Startup fails without it.
	SigningSecret string
	Issuer        string

	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	AuthCodeTTL     time.Duration
	VerificationTTL time.Duration

	TOTPIssuer string

	RateLimitPerSecond int
	RateLimitBurst     int
}

// Load reads IDENTRA_* environment variables and validates the result.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:           getenv("IDENTRA_HTTP_ADDR", ":8080"),
		PGDSN:              getenv("IDENTRA_PG_DSN", ""),
		SigningSecret:      strings.TrimSpace(os.Getenv("IDENTRA_AUTH_SECRET")),
		Issuer:             getenv("IDENTRA_ISSUER", "identra"),
		AccessTTL:          getDuration("IDENTRA_ACCESS_TTL", time.Hour),
		RefreshTTL:         getDuration("IDENTRA_REFRESH_TTL", 24*time.Hour),
		AuthCodeTTL:        getDuration("IDENTRA_AUTH_CODE_TTL", 10*time.Minute),
		VerificationTTL:    getDuration("IDENTRA_VERIFICATION_TTL", time.Hour),
		TOTPIssuer:         getenv("IDENTRA_TOTP_ISSUER", "Identra"),
		RateLimitPerSecond: getInt("IDENTRA_RATE_LIMIT_RPS", 50),
		RateLimitBurst:     getInt("IDENTRA_RATE_LIMIT_BURST", 100),
	}
	if cfg.SigningSecret == "" {
		return Config{}, errors.New("IDENTRA_AUTH_SECRET is required")
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return def
	}
	return i
}

func getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
