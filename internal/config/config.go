package config

import (
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/okoshkin/checkin-bot/internal/model"
)

// Defaults is the static configuration bundle seeded into the database
// on first start: activity limits, fine tiers, shift fine tiers and
// push toggles. It can be overridden with a JSON file.
type Defaults struct {
	Activities map[string]model.ActivityLimit `json:"activities"`
	Fines      map[string]map[string]int64    `json:"fines"`
	WorkFines  map[string]map[string]int64    `json:"work_fines"`
	Push       map[string]bool                `json:"push"`
}

// Config holds runtime configuration loaded from the environment.
type Config struct {
	DatabaseURL     string
	PoolMinConns    int32
	PoolMaxConns    int32
	PoolMaxIdleTime time.Duration
	ConnectTimeout  time.Duration

	ResetHour   int
	ResetMinute int
	WorkStart   string
	WorkEnd     string

	RetentionDays          int
	MonthlyRetentionMonths int
	InactiveUserDays       int

	ActivityFile string
	Defaults     Defaults
}

// FromEnv loads configuration from environment variables. DATABASE_URL
// is required. ACTIVITY_FILE optionally points at a JSON file replacing
// the built-in defaults bundle.
func FromEnv() (*Config, error) {
	c := &Config{
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		PoolMinConns:           int32(envInt("DB_MIN_CONNECTIONS", 1)),
		PoolMaxConns:           int32(envInt("DB_MAX_CONNECTIONS", 10)),
		PoolMaxIdleTime:        time.Duration(envInt("DB_POOL_RECYCLE_SECONDS", 300)) * time.Second,
		ConnectTimeout:         time.Duration(envInt("DB_CONNECTION_TIMEOUT_SECONDS", 30)) * time.Second,
		ResetHour:              envInt("DAILY_RESET_HOUR", 0),
		ResetMinute:            envInt("DAILY_RESET_MINUTE", 0),
		WorkStart:              envString("DEFAULT_WORK_START", "09:00"),
		WorkEnd:                envString("DEFAULT_WORK_END", "18:00"),
		RetentionDays:          envInt("DATA_RETENTION_DAYS", 30),
		MonthlyRetentionMonths: envInt("MONTHLY_RETENTION_MONTHS", 3),
		InactiveUserDays:       envInt("INACTIVE_USER_DAYS", 30),
		ActivityFile:           os.Getenv("ACTIVITY_FILE"),
		Defaults:               DefaultBundle(),
	}
	if c.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	if c.ResetHour < 0 || c.ResetHour > 23 || c.ResetMinute < 0 || c.ResetMinute > 59 {
		return nil, errors.New("DAILY_RESET_HOUR/DAILY_RESET_MINUTE out of range")
	}
	if c.ActivityFile != "" {
		if err := c.loadActivityFile(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Config) loadActivityFile() error {
	file, err := os.Open(c.ActivityFile)
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewDecoder(file).Decode(&c.Defaults)
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// DefaultBundle returns the built-in activity and fine configuration
// used when no activity file is supplied.
func DefaultBundle() Defaults {
	return Defaults{
		Activities: map[string]model.ActivityLimit{
			"meal":        {MaxTimes: 2, TimeLimit: 30},
			"toilet":      {MaxTimes: 5, TimeLimit: 5},
			"toilet_long": {MaxTimes: 2, TimeLimit: 15},
			"smoke":       {MaxTimes: 5, TimeLimit: 10},
		},
		Fines: map[string]map[string]int64{
			"meal":        {"10": 100, "30": 300},
			"toilet":      {"5": 50, "10": 100},
			"toilet_long": {"15": 80, "30": 200},
			"smoke":       {"10": 200, "30": 500},
		},
		WorkFines: map[string]map[string]int64{
			model.CheckinWorkStart: {"60": 50, "120": 100, "180": 200, "240": 300, "max": 500},
			model.CheckinWorkEnd:   {"60": 50, "120": 100, "180": 200, "240": 300, "max": 500},
		},
		Push: map[string]bool{
			"enable_channel_push": true,
			"enable_group_push":   true,
			"enable_admin_push":   true,
		},
	}
}

// DefaultActivityFines is the tier set seeded for activities added at
// runtime, so a new activity is immediately chargeable.
func DefaultActivityFines() map[string]int64 {
	return map[string]int64{"30": 5, "60": 10, "120": 20}
}
