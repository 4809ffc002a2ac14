// Package config loads application settings from the environment.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// Session store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config holds runtime settings for the HTTP service.
// Durations are configured in seconds to match the legacy deployment.
type Config struct {
	HTTPAddr string

	SessionTimeout      time.Duration
	SessionStore        string
	SessionCookieName   string
	SessionCookieSecure bool
	RedisURL            string

	LoginThrottleEnabled bool
	MaxLoginAttempts     int
	LockoutWindow        time.Duration
	LoginRatePerMinute   int
	LoginRateBurst       int

	MaxUploadSize      int64
	AllowedUploadTypes []string

	BcryptCost int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", "0.0.0.0:8431")
	v.SetDefault("SESSION_TIMEOUT", 1800)
	v.SetDefault("SESSION_STORE", StoreMemory)
	v.SetDefault("SESSION_COOKIE_NAME", "ems_session")
	v.SetDefault("SESSION_COOKIE_SECURE", false)
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("LOGIN_THROTTLE_ENABLED", true)
	v.SetDefault("MAX_LOGIN_ATTEMPTS", 5)
	v.SetDefault("LOCKOUT_TIME", 900)
	v.SetDefault("LOGIN_RATE_PER_MINUTE", 30)
	v.SetDefault("LOGIN_RATE_BURST", 10)
	v.SetDefault("MAX_FILE_SIZE", 5*1024*1024)
	v.SetDefault("ALLOWED_TYPES", "image/jpeg,image/png,image/gif")
	v.SetDefault("BCRYPT_COST", 12)
}

// Load reads settings from the process environment on top of defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		HTTPAddr:             v.GetString("HTTP_ADDR"),
		SessionTimeout:       time.Duration(v.GetInt("SESSION_TIMEOUT")) * time.Second,
		SessionStore:         strings.ToLower(strings.TrimSpace(v.GetString("SESSION_STORE"))),
		SessionCookieName:    v.GetString("SESSION_COOKIE_NAME"),
		SessionCookieSecure:  v.GetBool("SESSION_COOKIE_SECURE"),
		RedisURL:             v.GetString("REDIS_URL"),
		LoginThrottleEnabled: v.GetBool("LOGIN_THROTTLE_ENABLED"),
		MaxLoginAttempts:     v.GetInt("MAX_LOGIN_ATTEMPTS"),
		LockoutWindow:        time.Duration(v.GetInt("LOCKOUT_TIME")) * time.Second,
		LoginRatePerMinute:   v.GetInt("LOGIN_RATE_PER_MINUTE"),
		LoginRateBurst:       v.GetInt("LOGIN_RATE_BURST"),
		MaxUploadSize:        v.GetInt64("MAX_FILE_SIZE"),
		AllowedUploadTypes:   splitList(v.GetString("ALLOWED_TYPES")),
		BcryptCost:           v.GetInt("BCRYPT_COST"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.SessionTimeout <= 0 {
		return errors.New("SESSION_TIMEOUT must be positive")
	}
	if c.LockoutWindow <= 0 {
		return errors.New("LOCKOUT_TIME must be positive")
	}
	if c.MaxLoginAttempts <= 0 {
		return errors.New("MAX_LOGIN_ATTEMPTS must be positive")
	}
	switch c.SessionStore {
	case StoreMemory, StoreRedis, StorePostgres:
	default:
		return errors.Newf("unknown SESSION_STORE %q", c.SessionStore)
	}
	if c.SessionCookieName == "" {
		return errors.New("SESSION_COOKIE_NAME must not be empty")
	}
	if c.MaxUploadSize <= 0 {
		return errors.New("MAX_FILE_SIZE must be positive")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
