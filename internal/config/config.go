package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	DBPath    string
	BaseURL   string
	LogLevel  string
	LogFormat string
	Env       string

	PostmarkToken string
	FromEmail     string
	ResetLinkURL  string

	BcryptCost int

	OTPTTL            time.Duration
	OTPMaxAttempts    int
	OTPResendCooldown time.Duration
	ResetTokenTTL     time.Duration

	SessionMaxAge   time.Duration
	CleanupInterval time.Duration
}

// Production reports whether debug aids (OTP reveal) must stay off.
func (c *Config) Production() bool {
	return c.Env == "production"
}

// Load reads an optional .env file, then the environment. Values from the
// real environment win over .env.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not load .env file", "error", err)
	}

	cfg := &Config{
		Port:          getEnvOrDefault("SWAPMEET_PORT", "8080"),
		DBPath:        getEnvOrDefault("SWAPMEET_DB_PATH", "swapmeet.db"),
		LogLevel:      os.Getenv("SWAPMEET_LOG_LEVEL"),
		LogFormat:     getEnvOrDefault("SWAPMEET_LOG_FORMAT", "text"),
		Env:           getEnvOrDefault("APP_ENV", "development"),
		PostmarkToken: os.Getenv("POSTMARK_TOKEN"),
		FromEmail:     os.Getenv("FROM_EMAIL"),
	}
	cfg.BaseURL = getEnvOrDefault("SWAPMEET_BASE_URL", "http://localhost:"+cfg.Port)
	cfg.ResetLinkURL = getEnvOrDefault("RESET_LINK_URL", cfg.BaseURL+"/reset-password")

	var err error
	if cfg.BcryptCost, err = getInt("BCRYPT_COST", 10); err != nil {
		return nil, err
	}
	if cfg.OTPMaxAttempts, err = getInt("OTP_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.OTPTTL, err = getDuration("OTP_EXP_MINUTES", 5, time.Minute); err != nil {
		return nil, err
	}
	if cfg.OTPResendCooldown, err = getDuration("OTP_RESEND_COOLDOWN", 60, time.Second); err != nil {
		return nil, err
	}
	if cfg.ResetTokenTTL, err = getDuration("RESET_TOKEN_TTL_MINUTES", 60, time.Minute); err != nil {
		return nil, err
	}
	if cfg.SessionMaxAge, err = getDuration("SESSION_MAX_AGE", 86400, time.Second); err != nil {
		return nil, err
	}
	if cfg.CleanupInterval, err = getDuration("CLEANUP_INTERVAL", 60, time.Minute); err != nil {
		return nil, err
	}

	if cfg.OTPMaxAttempts < 1 {
		return nil, fmt.Errorf("OTP_MAX_ATTEMPTS must be at least 1")
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

// getDuration reads an integer count of unit from key.
func getDuration(key string, defaultCount int, unit time.Duration) (time.Duration, error) {
	n, err := getInt(key, defaultCount)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return time.Duration(n) * unit, nil
}
