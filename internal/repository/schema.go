package repository

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okoshkin/checkin-bot/internal/config"
)

var tables = []string{
	`CREATE TABLE IF NOT EXISTS groups (
		chat_id BIGINT PRIMARY KEY,
		channel_id BIGINT,
		notification_group_id BIGINT,
		reset_hour INTEGER DEFAULT 0,
		reset_minute INTEGER DEFAULT 0,
		work_start_time TEXT DEFAULT '09:00',
		work_end_time TEXT DEFAULT '18:00',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		chat_id BIGINT,
		user_id BIGINT,
		nickname TEXT,
		current_activity TEXT,
		activity_start_time TEXT,
		total_accumulated_time BIGINT DEFAULT 0,
		total_activity_count INTEGER DEFAULT 0,
		total_fines BIGINT DEFAULT 0,
		overtime_count INTEGER DEFAULT 0,
		total_overtime_time BIGINT DEFAULT 0,
		checkin_message_id BIGINT,
		last_updated DATE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(chat_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS user_activities (
		id SERIAL PRIMARY KEY,
		chat_id BIGINT,
		user_id BIGINT,
		activity_date DATE,
		activity_name TEXT,
		activity_count INTEGER DEFAULT 0,
		accumulated_time BIGINT DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(chat_id, user_id, activity_date, activity_name)
	)`,
	`CREATE TABLE IF NOT EXISTS work_records (
		id SERIAL PRIMARY KEY,
		chat_id BIGINT,
		user_id BIGINT,
		record_date DATE,
		checkin_type TEXT,
		checkin_time TEXT,
		status TEXT,
		time_diff_minutes REAL,
		fine_amount BIGINT DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(chat_id, user_id, record_date, checkin_type)
	)`,
	`CREATE TABLE IF NOT EXISTS activity_configs (
		activity_name TEXT PRIMARY KEY,
		max_times INTEGER,
		time_limit INTEGER,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS fine_configs (
		id SERIAL PRIMARY KEY,
		activity_name TEXT,
		time_segment TEXT,
		fine_amount BIGINT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(activity_name, time_segment)
	)`,
	`CREATE TABLE IF NOT EXISTS work_fine_configs (
		id SERIAL PRIMARY KEY,
		checkin_type TEXT,
		time_segment TEXT,
		fine_amount BIGINT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(checkin_type, time_segment)
	)`,
	`CREATE TABLE IF NOT EXISTS push_settings (
		setting_key TEXT PRIMARY KEY,
		setting_value INTEGER,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS monthly_statistics (
		id SERIAL PRIMARY KEY,
		chat_id BIGINT,
		user_id BIGINT,
		statistic_date DATE,
		activity_name TEXT,
		activity_count INTEGER DEFAULT 0,
		accumulated_time BIGINT DEFAULT 0,
		work_days INTEGER DEFAULT 0,
		work_hours BIGINT DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(chat_id, user_id, statistic_date, activity_name)
	)`,
	`CREATE TABLE IF NOT EXISTS daily_statistics (
		id SERIAL PRIMARY KEY,
		chat_id BIGINT,
		user_id BIGINT,
		statistic_date DATE,
		activity_name TEXT,
		activity_count INTEGER DEFAULT 0,
		accumulated_time BIGINT DEFAULT 0,
		is_soft_reset BOOLEAN DEFAULT FALSE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(chat_id, user_id, statistic_date, activity_name, is_soft_reset)
	)`,
	`CREATE TABLE IF NOT EXISTS activity_user_limits (
		activity_name TEXT PRIMARY KEY,
		max_users INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
}

var indexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_user_activities_main ON user_activities (chat_id, user_id, activity_date)",
	"CREATE INDEX IF NOT EXISTS idx_user_activities_activity ON user_activities (activity_name)",
	"CREATE INDEX IF NOT EXISTS idx_user_activities_date ON user_activities (activity_date)",
	"CREATE INDEX IF NOT EXISTS idx_work_records_main ON work_records (chat_id, user_id, record_date)",
	"CREATE INDEX IF NOT EXISTS idx_work_records_date ON work_records (record_date)",
	"CREATE INDEX IF NOT EXISTS idx_users_main ON users (chat_id, user_id)",
	"CREATE INDEX IF NOT EXISTS idx_users_updated ON users (last_updated)",
	"CREATE INDEX IF NOT EXISTS idx_monthly_stats_main ON monthly_statistics (chat_id, user_id, statistic_date)",
	"CREATE INDEX IF NOT EXISTS idx_monthly_stats_activity ON monthly_statistics (activity_name)",
	"CREATE INDEX IF NOT EXISTS idx_monthly_stats_date ON monthly_statistics (statistic_date)",
	"CREATE INDEX IF NOT EXISTS idx_daily_stats_main ON daily_statistics (chat_id, user_id, statistic_date)",
	"CREATE INDEX IF NOT EXISTS idx_daily_stats_activity ON daily_statistics (activity_name)",
	"CREATE INDEX IF NOT EXISTS idx_daily_stats_date ON daily_statistics (statistic_date)",
	"CREATE INDEX IF NOT EXISTS idx_daily_stats_soft_reset ON daily_statistics (is_soft_reset)",
}

func createSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range tables {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

func createIndexes(ctx context.Context, pool *pgxpool.Pool) {
	for _, stmt := range indexes {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			log.Printf("create index: %v", err)
		}
	}
}

// seedDefaults inserts the static configuration bundle, keeping any
// values admins have already changed (insert-on-conflict-do-nothing).
func seedDefaults(ctx context.Context, pool *pgxpool.Pool, d config.Defaults) error {
	for name, limit := range d.Activities {
		_, err := pool.Exec(ctx,
			"INSERT INTO activity_configs (activity_name, max_times, time_limit) VALUES ($1, $2, $3) ON CONFLICT (activity_name) DO NOTHING",
			name, limit.MaxTimes, limit.TimeLimit)
		if err != nil {
			return fmt.Errorf("seed activity %q: %w", name, err)
		}
	}
	for activity, tiers := range d.Fines {
		for segment, amount := range tiers {
			_, err := pool.Exec(ctx,
				"INSERT INTO fine_configs (activity_name, time_segment, fine_amount) VALUES ($1, $2, $3) ON CONFLICT (activity_name, time_segment) DO NOTHING",
				activity, segment, amount)
			if err != nil {
				return fmt.Errorf("seed fines for %q: %w", activity, err)
			}
		}
	}
	for checkinType, tiers := range d.WorkFines {
		for segment, amount := range tiers {
			_, err := pool.Exec(ctx,
				"INSERT INTO work_fine_configs (checkin_type, time_segment, fine_amount) VALUES ($1, $2, $3) ON CONFLICT (checkin_type, time_segment) DO NOTHING",
				checkinType, segment, amount)
			if err != nil {
				return fmt.Errorf("seed work fines for %q: %w", checkinType, err)
			}
		}
	}
	for key, value := range d.Push {
		v := 0
		if value {
			v = 1
		}
		_, err := pool.Exec(ctx,
			"INSERT INTO push_settings (setting_key, setting_value) VALUES ($1, $2) ON CONFLICT (setting_key) DO NOTHING",
			key, v)
		if err != nil {
			return fmt.Errorf("seed push setting %q: %w", key, err)
		}
	}
	return nil
}
