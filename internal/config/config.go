package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	// CronSecret gates the job trigger endpoints. Required outside development.
	CronSecret string `mapstructure:"CRON_SECRET"`

	// Reminder offsets as comma-separated minutes before the appointment
	// start, e.g. "1440,60".
	ReminderOffsetMinutes []int `mapstructure:"REMINDER_OFFSET_MINUTES"`
	ReminderMaxAttempts   int   `mapstructure:"REMINDER_MAX_ATTEMPTS"`
	ReminderRetryMinutes  int   `mapstructure:"REMINDER_RETRY_MINUTES"`

	// SlotGridMinutes aligns offered slot start times, e.g. 15 means slots
	// start on :00, :15, :30, :45.
	SlotGridMinutes int `mapstructure:"SLOT_GRID_MINUTES"`

	// Job trigger rate limiting: at most JobMaxPerWindow triggers per job key
	// per JobWindowSeconds.
	JobMaxPerWindow  int `mapstructure:"JOB_MAX_PER_WINDOW"`
	JobWindowSeconds int `mapstructure:"JOB_WINDOW_SECONDS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REMINDER_OFFSET_MINUTES", "1440,60")
	v.SetDefault("REMINDER_MAX_ATTEMPTS", 3)
	v.SetDefault("REMINDER_RETRY_MINUTES", 5)
	v.SetDefault("SLOT_GRID_MINUTES", 15)
	v.SetDefault("JOB_MAX_PER_WINDOW", 4)
	v.SetDefault("JOB_WINDOW_SECONDS", 60)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_URL")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("CRON_SECRET")
	v.BindEnv("REMINDER_OFFSET_MINUTES")
	v.BindEnv("REMINDER_MAX_ATTEMPTS")
	v.BindEnv("REMINDER_RETRY_MINUTES")
	v.BindEnv("SLOT_GRID_MINUTES")
	v.BindEnv("JOB_MAX_PER_WINDOW")
	v.BindEnv("JOB_WINDOW_SECONDS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.ReminderOffsetMinutes == nil {
		offsets, err := parseMinuteList(v.GetString("REMINDER_OFFSET_MINUTES"))
		if err != nil {
			return nil, fmt.Errorf("REMINDER_OFFSET_MINUTES: %w", err)
		}
		cfg.ReminderOffsetMinutes = offsets
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func parseMinuteList(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var m int
		if _, err := fmt.Sscanf(part, "%d", &m); err != nil {
			return nil, fmt.Errorf("invalid minute value %q", part)
		}
		if m <= 0 {
			return nil, fmt.Errorf("minute value must be positive, got %d", m)
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one offset is required")
	}
	return out, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ReminderRetryDelay is the wait between delivery attempts for a failed
// reminder.
func (c *Config) ReminderRetryDelay() time.Duration {
	return time.Duration(c.ReminderRetryMinutes) * time.Minute
}

// JobWindow is the rate-limit window applied to job trigger endpoints.
func (c *Config) JobWindow() time.Duration {
	return time.Duration(c.JobWindowSeconds) * time.Second
}

// Validate checks that the configuration is safe to run. Outside development
// CRON_SECRET must be set so that the job trigger endpoints cannot be invoked
// by unauthenticated callers.
func (c *Config) Validate() error {
	if !c.IsDev() && c.CronSecret == "" {
		return fmt.Errorf(
			"CRON_SECRET is required when ENV=%q. "+
				"Refusing to expose job trigger endpoints without a shared secret", c.Env)
	}
	if c.ReminderMaxAttempts < 1 {
		return fmt.Errorf("REMINDER_MAX_ATTEMPTS must be >= 1, got %d", c.ReminderMaxAttempts)
	}
	if c.SlotGridMinutes < 1 {
		return fmt.Errorf("SLOT_GRID_MINUTES must be >= 1, got %d", c.SlotGridMinutes)
	}
	if c.JobMaxPerWindow < 1 || c.JobWindowSeconds < 1 {
		return fmt.Errorf("job rate limit settings must be positive (max=%d window=%ds)",
			c.JobMaxPerWindow, c.JobWindowSeconds)
	}
	return nil
}
