package repository

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/okoshkin/checkin-bot/internal/clock"
)

// CleanupOldData prunes rows older than the retention window: daily
// buckets, work records and stale user rows by day, monthly history by
// the separately configured month horizon. Everything happens in one
// transaction.
func (r *Repository) CleanupOldData(ctx context.Context, days int) error {
	if days <= 0 {
		days = r.cfg.RetentionDays
	}
	cutoff := clock.Today().AddDate(0, 0, -days)
	monthlyCutoff := clock.MonthStart(clock.Today().AddDate(0, -r.cfg.MonthlyRetentionMonths, 0))

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		for _, q := range []struct {
			table  string
			sql    string
			cutoff time.Time
		}{
			{"user_activities", "DELETE FROM user_activities WHERE activity_date < $1", cutoff},
			{"work_records", "DELETE FROM work_records WHERE record_date < $1", cutoff},
			{"daily_statistics", "DELETE FROM daily_statistics WHERE statistic_date < $1", cutoff},
			{"users", "DELETE FROM users WHERE last_updated < $1", cutoff},
			{"monthly_statistics", "DELETE FROM monthly_statistics WHERE statistic_date < $1", monthlyCutoff},
		} {
			tag, err := tx.Exec(ctx, q.sql, q.cutoff)
			if err != nil {
				return fmt.Errorf("%s: %w", q.table, err)
			}
			if n := tag.RowsAffected(); n > 0 {
				log.Printf("retention: removed %d rows from %s", n, q.table)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cleanup old data: %w", err)
	}
	r.cache.Clear()
	return nil
}

// SafeCleanupOldData wraps CleanupOldData for scheduled use, reporting
// success rather than failing the caller.
func (r *Repository) SafeCleanupOldData(ctx context.Context, days int) bool {
	if err := r.CleanupOldData(ctx, days); err != nil {
		log.Printf("scheduled cleanup: %v", err)
		return false
	}
	return true
}

// CleanupMonthlyData deletes monthly history strictly before the given
// month and returns how many rows went away.
func (r *Repository) CleanupMonthlyData(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db().Exec(ctx,
		"DELETE FROM monthly_statistics WHERE statistic_date < $1", clock.MonthStart(before))
	if err != nil {
		return 0, fmt.Errorf("cleanup monthly data: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CleanupSpecificMonth deletes exactly one month of monthly history.
func (r *Repository) CleanupSpecificMonth(ctx context.Context, year int, month time.Month) (int64, error) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, clock.Location)
	tag, err := r.db().Exec(ctx,
		"DELETE FROM monthly_statistics WHERE statistic_date = $1", start)
	if err != nil {
		return 0, fmt.Errorf("cleanup month %d-%02d: %w", year, month, err)
	}
	return tag.RowsAffected(), nil
}
