package repository

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/okoshkin/checkin-bot/internal/clock"
	"github.com/okoshkin/checkin-bot/internal/fines"
	"github.com/okoshkin/checkin-bot/internal/model"
)

// ResetMode selects whether a group reset keeps daily statistics rows
// around (flagged) or deletes them.
type ResetMode string

const (
	ResetSoft ResetMode = "soft"
	ResetHard ResetMode = "hard"
)

const resetUserCounters = `
	total_activity_count = 0,
	total_accumulated_time = 0,
	total_fines = 0,
	total_overtime_time = 0,
	overtime_count = 0,
	current_activity = NULL,
	activity_start_time = NULL,
	checkin_message_id = NULL,
	updated_at = CURRENT_TIMESTAMP`

// ResetUserDailyData hard-resets one user's day (userID != 0) or a
// whole group's (userID == 0): daily statistics, the activity buckets
// and work records for the target date are physically deleted and the
// running counters zeroed. A single user's in-progress activity is
// settled into monthly history first so a run crossing the reset
// boundary is not lost. The target date defaults to the group's current
// business date when zero. Errors never propagate; the return value
// reports success.
func (r *Repository) ResetUserDailyData(ctx context.Context, chatID, userID int64, targetDate time.Time) bool {
	currentBizDate := r.BusinessDate(ctx, chatID)
	if targetDate.IsZero() {
		targetDate = currentBizDate
	} else {
		targetDate = clock.DateOnly(targetDate)
	}
	// A reset never moves the staleness stamp backward.
	newLastUpdated := targetDate
	if currentBizDate.After(newLastUpdated) {
		newLastUpdated = currentBizDate
	}

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if userID != 0 {
			return r.resetSingleUser(ctx, tx, chatID, userID, targetDate, newLastUpdated)
		}
		return r.resetWholeGroup(ctx, tx, chatID, targetDate, newLastUpdated)
	})
	if err != nil {
		log.Printf("hard reset %d/%d for %s failed: %v", chatID, userID, targetDate.Format("2006-01-02"), err)
		return false
	}

	if userID != 0 {
		r.cache.Invalidate(userKey(chatID, userID), groupKey(chatID), keyActivityLimits)
	} else {
		r.cache.InvalidatePrefix(groupUserPrefix(chatID), groupKey(chatID))
		r.cache.Invalidate(keyActivityLimits)
	}
	log.Printf("hard reset done: chat=%d user=%d date=%s", chatID, userID, targetDate.Format("2006-01-02"))
	return true
}

func (r *Repository) resetSingleUser(ctx context.Context, tx pgx.Tx, chatID, userID int64, targetDate, newLastUpdated time.Time) error {
	// Settle a run that is still open before its day's rows disappear.
	// Best effort: a failure here is logged and the reset continues.
	if user, err := r.User(ctx, chatID, userID); err == nil && user.HasActiveActivity() {
		if err := r.settleCrossDayActivity(ctx, tx, user); err != nil {
			log.Printf("cross-day settlement for %d/%d failed: %v", chatID, userID, err)
		}
	} else if err != nil {
		log.Printf("cross-day settlement lookup for %d/%d failed: %v", chatID, userID, err)
	}

	if _, err := tx.Exec(ctx,
		"DELETE FROM daily_statistics WHERE chat_id = $1 AND user_id = $2 AND statistic_date = $3",
		chatID, userID, targetDate); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		"DELETE FROM user_activities WHERE chat_id = $1 AND user_id = $2 AND activity_date = $3",
		chatID, userID, targetDate); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		"DELETE FROM work_records WHERE chat_id = $1 AND user_id = $2 AND record_date = $3",
		chatID, userID, targetDate); err != nil {
		return err
	}

	// The guard keeps untouched rows untouched so updated_at stays
	// honest for users who had nothing to reset.
	_, err := tx.Exec(ctx, `
		UPDATE users SET `+resetUserCounters+`, last_updated = $3
		WHERE chat_id = $1 AND user_id = $2
		AND (
			total_activity_count > 0 OR total_accumulated_time > 0 OR
			total_fines > 0 OR current_activity IS NOT NULL OR
			checkin_message_id IS NOT NULL
		)`, chatID, userID, newLastUpdated)
	return err
}

func (r *Repository) resetWholeGroup(ctx context.Context, tx pgx.Tx, chatID int64, targetDate, newLastUpdated time.Time) error {
	if _, err := tx.Exec(ctx,
		"DELETE FROM daily_statistics WHERE chat_id = $1 AND statistic_date = $2",
		chatID, targetDate); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		"DELETE FROM user_activities WHERE chat_id = $1 AND activity_date = $2",
		chatID, targetDate); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		"DELETE FROM work_records WHERE chat_id = $1 AND record_date = $2",
		chatID, targetDate); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		UPDATE users SET `+resetUserCounters+`, last_updated = $2
		WHERE chat_id = $1`, chatID, newLastUpdated)
	return err
}

// settleCrossDayActivity folds an in-progress activity into monthly
// history: elapsed time so far, plus the overtime counters and the
// matching fine tier. The monthly row keys on the month the activity
// STARTED in, not the month the reset runs in.
func (r *Repository) settleCrossDayActivity(ctx context.Context, tx pgx.Tx, user *model.User) error {
	activity := *user.CurrentActivity
	start := *user.ActivityStartTime
	elapsed := int64(clock.Now().Sub(start).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}

	limitMinutes, err := r.ActivityTimeLimit(ctx, activity)
	if err != nil {
		return err
	}
	overtimeSeconds := elapsed - int64(limitMinutes)*60
	if overtimeSeconds < 0 {
		overtimeSeconds = 0
	}

	var fine int64
	if overtimeSeconds > 0 {
		rates, err := r.FineRatesForActivity(ctx, activity)
		if err != nil {
			return err
		}
		fine = fines.Parse(rates).Lookup(float64(overtimeSeconds) / 60)
	}

	activityMonth := clock.MonthStart(start)
	if _, err := tx.Exec(ctx, upsertMonthlyStat,
		user.ChatID, user.UserID, activityMonth, activity, 1, elapsed); err != nil {
		return err
	}
	if fine > 0 || overtimeSeconds > 0 {
		if _, err := tx.Exec(ctx, `
			UPDATE users SET
				total_fines = total_fines + $1,
				overtime_count = overtime_count + CASE WHEN $2 > 0 THEN 1 ELSE 0 END,
				total_overtime_time = total_overtime_time + $2
			WHERE chat_id = $3 AND user_id = $4`,
			fine, overtimeSeconds, user.ChatID, user.UserID); err != nil {
			return err
		}
	}
	log.Printf("settled cross-day activity %q for %d/%d: %ds, fine %d",
		activity, user.ChatID, user.UserID, elapsed, fine)
	return nil
}

// SoftResetGroup resets a whole group for its current business date. In
// soft mode the daily statistics rows survive with the reset flag set
// so exports can still see them; in hard mode they are deleted. Either
// way the activity buckets and work records for the date go away and
// every user's counters are zeroed, so the group can check in again the
// same day. Reports success via the return value, never an error.
func (r *Repository) SoftResetGroup(ctx context.Context, chatID int64, mode ResetMode) bool {
	today := r.BusinessDate(ctx, chatID)

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if mode == ResetSoft {
			if _, err := tx.Exec(ctx, `
				UPDATE daily_statistics
				SET is_soft_reset = TRUE, updated_at = CURRENT_TIMESTAMP
				WHERE chat_id = $1 AND statistic_date = $2`, chatID, today); err != nil {
				return err
			}
		} else {
			if _, err := tx.Exec(ctx,
				"DELETE FROM daily_statistics WHERE chat_id = $1 AND statistic_date = $2",
				chatID, today); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx,
			"DELETE FROM user_activities WHERE chat_id = $1 AND activity_date = $2",
			chatID, today); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			"DELETE FROM work_records WHERE chat_id = $1 AND record_date = $2",
			chatID, today); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE users SET `+resetUserCounters+`, last_updated = $2
			WHERE chat_id = $1`, chatID, today)
		return err
	})
	if err != nil {
		log.Printf("group %s reset for %d failed: %v", mode, chatID, err)
		return false
	}

	r.cache.InvalidatePrefix(groupUserPrefix(chatID), groupKey(chatID))
	r.cache.Invalidate(keyActivityLimits)
	log.Printf("group %d %s reset done for %s", chatID, mode, today.Format("2006-01-02"))
	return true
}

// ClearDailyStatistics purges a group's daily statistics for a date,
// typically right after an export. Zero date means the current business
// date. Best effort.
func (r *Repository) ClearDailyStatistics(ctx context.Context, chatID int64, day time.Time) bool {
	if day.IsZero() {
		day = r.BusinessDate(ctx, chatID)
	} else {
		day = clock.DateOnly(day)
	}
	tag, err := r.db().Exec(ctx,
		"DELETE FROM daily_statistics WHERE chat_id = $1 AND statistic_date = $2",
		chatID, day)
	if err != nil {
		log.Printf("clear daily statistics for %d: %v", chatID, err)
		return false
	}
	log.Printf("cleared %d daily statistics rows for %d on %s", tag.RowsAffected(), chatID, day.Format("2006-01-02"))
	return true
}

func groupUserPrefix(chatID int64) string {
	return fmt.Sprintf("user:%d:", chatID)
}
