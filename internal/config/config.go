// Package config loads service settings from the environment.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything main needs to wire the service.
type Config struct {
	HTTPAddr            string
	DatabaseDSN         string
	RedisAddr           string
	FaceServiceAddr     string
	JWTSecret           string
	JWTAudience         string
	SessionTTL          time.Duration
	CancelDelay         time.Duration
	RollbackOnRecapture bool
	BcryptCost          int
	ShutdownTimeout     time.Duration
}

var defaults = map[string]interface{}{
	"http_addr":             ":8080",
	"database_dsn":          "host=postgres user=postgres password=postgres dbname=facesignup port=5432 sslmode=disable",
	"redis_addr":            "redis:6379",
	"face_service_addr":     "face-service:50051",
	"jwt_secret":            "dev-secret",
	"jwt_audience":          "",
	"session_ttl":           "30m",
	"cancel_delay":          "1s",
	"rollback_on_recapture": false,
	"bcrypt_cost":           10,
	"shutdown_timeout":      "15s",
}

// Load reads the configuration from environment variables named after the
// upper-cased keys (HTTP_ADDR, SESSION_TTL, ...), falling back to defaults.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	cfg := &Config{
		HTTPAddr:            v.GetString("http_addr"),
		DatabaseDSN:         v.GetString("database_dsn"),
		RedisAddr:           v.GetString("redis_addr"),
		FaceServiceAddr:     v.GetString("face_service_addr"),
		JWTSecret:           v.GetString("jwt_secret"),
		JWTAudience:         v.GetString("jwt_audience"),
		SessionTTL:          v.GetDuration("session_ttl"),
		CancelDelay:         v.GetDuration("cancel_delay"),
		RollbackOnRecapture: v.GetBool("rollback_on_recapture"),
		BcryptCost:          v.GetInt("bcrypt_cost"),
		ShutdownTimeout:     v.GetDuration("shutdown_timeout"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must not be empty")
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	if c.CancelDelay < 0 {
		return errors.New("CANCEL_DELAY must not be negative")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("BCRYPT_COST must be between 4 and 31")
	}
	return nil
}
