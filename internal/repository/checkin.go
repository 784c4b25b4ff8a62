package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/okoshkin/checkin-bot/internal/clock"
	"github.com/okoshkin/checkin-bot/internal/model"
)

const upsertDailyStat = `
	INSERT INTO daily_statistics
	(chat_id, user_id, statistic_date, activity_name, activity_count, accumulated_time, is_soft_reset)
	VALUES ($1, $2, $3, $4, $5, $6, FALSE)
	ON CONFLICT (chat_id, user_id, statistic_date, activity_name, is_soft_reset)
	DO UPDATE SET
		activity_count = daily_statistics.activity_count + EXCLUDED.activity_count,
		accumulated_time = daily_statistics.accumulated_time + EXCLUDED.accumulated_time,
		updated_at = CURRENT_TIMESTAMP`

const upsertMonthlyStat = `
	INSERT INTO monthly_statistics
	(chat_id, user_id, statistic_date, activity_name, activity_count, accumulated_time)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (chat_id, user_id, statistic_date, activity_name)
	DO UPDATE SET
		activity_count = monthly_statistics.activity_count + EXCLUDED.activity_count,
		accumulated_time = monthly_statistics.accumulated_time + EXCLUDED.accumulated_time,
		updated_at = CURRENT_TIMESTAMP`

// CompleteActivity settles a finished activity into every aggregate
// table in one transaction: the daily statistics row, the daily
// activity bucket, the monthly history, the synthetic fine/overtime
// rows and the user's running totals. The caller has already decided
// elapsed time, overtime and the fine; the daily buckets key on the
// group's business date while monthly history keys on the wall-clock
// month. Any error rolls the whole fan-out back and propagates, leaving
// the user's in-progress activity untouched so the caller can retry.
func (r *Repository) CompleteActivity(ctx context.Context, chatID, userID int64, activity string, elapsedSeconds, fineAmount int64, isOvertime bool) error {
	businessToday := r.BusinessDate(ctx, chatID)
	realToday := clock.Today()
	monthStart := clock.MonthStart(realToday)

	var overtimeSeconds int64
	if isOvertime {
		limit, err := r.ActivityTimeLimit(ctx, activity)
		if err != nil {
			return err
		}
		overtimeSeconds = elapsedSeconds - int64(limit)*60
		if overtimeSeconds < 0 {
			overtimeSeconds = 0
		}
	}

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertDailyStat,
			chatID, userID, businessToday, activity, 1, elapsedSeconds); err != nil {
			return fmt.Errorf("daily statistics: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO user_activities
			(chat_id, user_id, activity_date, activity_name, activity_count, accumulated_time)
			VALUES ($1, $2, $3, $4, 1, $5)
			ON CONFLICT (chat_id, user_id, activity_date, activity_name)
			DO UPDATE SET
				activity_count = user_activities.activity_count + 1,
				accumulated_time = user_activities.accumulated_time + EXCLUDED.accumulated_time,
				updated_at = CURRENT_TIMESTAMP`,
			chatID, userID, businessToday, activity, elapsedSeconds); err != nil {
			return fmt.Errorf("daily bucket: %w", err)
		}

		if _, err := tx.Exec(ctx, upsertMonthlyStat,
			chatID, userID, monthStart, activity, 1, elapsedSeconds); err != nil {
			return fmt.Errorf("monthly statistics: %w", err)
		}

		if r.txHook != nil {
			if err := r.txHook("after-monthly"); err != nil {
				return err
			}
		}

		if fineAmount > 0 {
			if _, err := tx.Exec(ctx, upsertDailyStat,
				chatID, userID, businessToday, model.StatTotalFines, 1, fineAmount); err != nil {
				return fmt.Errorf("daily fine row: %w", err)
			}
			// The monthly fine row accumulates the amount only; its
			// count column stays untouched.
			if _, err := tx.Exec(ctx, upsertMonthlyStat,
				chatID, userID, monthStart, model.StatTotalFines, 0, fineAmount); err != nil {
				return fmt.Errorf("monthly fine row: %w", err)
			}
		}

		if isOvertime {
			if _, err := tx.Exec(ctx, upsertDailyStat,
				chatID, userID, businessToday, model.StatOvertimeCount, 1, 0); err != nil {
				return fmt.Errorf("overtime count row: %w", err)
			}
			if _, err := tx.Exec(ctx, upsertDailyStat,
				chatID, userID, businessToday, model.StatOvertimeTime, 0, overtimeSeconds); err != nil {
				return fmt.Errorf("overtime time row: %w", err)
			}
		}

		if _, err := tx.Exec(ctx, `
			UPDATE users SET
				total_accumulated_time = total_accumulated_time + $1,
				total_activity_count = total_activity_count + 1,
				current_activity = NULL,
				activity_start_time = NULL,
				last_updated = $2,
				total_fines = total_fines + $3,
				overtime_count = overtime_count + CASE WHEN $4 THEN 1 ELSE 0 END,
				total_overtime_time = total_overtime_time + $5,
				updated_at = CURRENT_TIMESTAMP
			WHERE chat_id = $6 AND user_id = $7`,
			elapsedSeconds, realToday, fineAmount, isOvertime, overtimeSeconds, chatID, userID); err != nil {
			return fmt.Errorf("user totals: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete activity %q for %d/%d: %w", activity, chatID, userID, err)
	}

	r.cache.Invalidate(userKey(chatID, userID))
	return nil
}

// AddWorkRecord stores a shift check-in and fans its side effects out:
// a work_fine statistics row, the user's fine total, the monthly fine
// row and, when a work_end completes a full day, the monthly work-day
// and work-hour aggregates. A repeated check-in of the same type on the
// same date replaces the earlier record.
func (r *Repository) AddWorkRecord(ctx context.Context, rec *model.WorkRecord) error {
	recordDate := clock.DateOnly(rec.RecordDate)
	if recordDate.IsZero() {
		return errors.New("add work record: record date is required")
	}
	monthStart := clock.MonthStart(recordDate)

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO work_records
			(chat_id, user_id, record_date, checkin_type, checkin_time, status, time_diff_minutes, fine_amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (chat_id, user_id, record_date, checkin_type)
			DO UPDATE SET
				checkin_time = EXCLUDED.checkin_time,
				status = EXCLUDED.status,
				time_diff_minutes = EXCLUDED.time_diff_minutes,
				fine_amount = EXCLUDED.fine_amount,
				created_at = CURRENT_TIMESTAMP`,
			rec.ChatID, rec.UserID, recordDate, rec.CheckinType, rec.CheckinTime,
			rec.Status, rec.TimeDiffMinutes, rec.FineAmount); err != nil {
			return fmt.Errorf("work record: %w", err)
		}

		if rec.FineAmount > 0 {
			if _, err := tx.Exec(ctx, upsertDailyStat,
				rec.ChatID, rec.UserID, recordDate, model.StatWorkFine, 1, rec.FineAmount); err != nil {
				return fmt.Errorf("work fine row: %w", err)
			}
		}

		if rec.CheckinType == model.CheckinWorkEnd {
			var hasStart bool
			err := tx.QueryRow(ctx, `
				SELECT EXISTS (
					SELECT 1 FROM work_records
					WHERE chat_id = $1 AND user_id = $2 AND record_date = $3 AND checkin_type = $4
				)`, rec.ChatID, rec.UserID, recordDate, model.CheckinWorkStart).Scan(&hasStart)
			if err != nil {
				return fmt.Errorf("check work start: %w", err)
			}
			if hasStart {
				var counted bool
				err := tx.QueryRow(ctx, `
					SELECT EXISTS (
						SELECT 1 FROM monthly_statistics
						WHERE chat_id = $1 AND user_id = $2 AND statistic_date = $3 AND activity_name = $4
					)`, rec.ChatID, rec.UserID, monthStart, model.StatWorkDays).Scan(&counted)
				if err != nil {
					return fmt.Errorf("check work days: %w", err)
				}
				if !counted {
					if _, err := tx.Exec(ctx, `
						INSERT INTO monthly_statistics
						(chat_id, user_id, statistic_date, activity_name, work_days)
						VALUES ($1, $2, $3, $4, 1)
						ON CONFLICT (chat_id, user_id, statistic_date, activity_name)
						DO UPDATE SET
							work_days = monthly_statistics.work_days + 1,
							updated_at = CURRENT_TIMESTAMP`,
						rec.ChatID, rec.UserID, monthStart, model.StatWorkDays); err != nil {
						return fmt.Errorf("work days row: %w", err)
					}
				}
				// Worked-hours bookkeeping is best effort: a malformed
				// clock time must not void the check-in itself.
				r.accumulateWorkHours(ctx, tx, rec.ChatID, rec.UserID, recordDate, monthStart)
			}
		}

		if rec.FineAmount > 0 {
			if _, err := tx.Exec(ctx,
				"UPDATE users SET total_fines = total_fines + $1 WHERE chat_id = $2 AND user_id = $3",
				rec.FineAmount, rec.ChatID, rec.UserID); err != nil {
				return fmt.Errorf("user fine total: %w", err)
			}
			if _, err := tx.Exec(ctx, upsertMonthlyStat,
				rec.ChatID, rec.UserID, monthStart, model.StatTotalFines, 0, rec.FineAmount); err != nil {
				return fmt.Errorf("monthly fine row: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("add work record for %d/%d: %w", rec.ChatID, rec.UserID, err)
	}

	r.cache.Invalidate(userKey(rec.ChatID, rec.UserID))
	return nil
}

// accumulateWorkHours recomputes that day's worked seconds from the
// HH:MM start/end pairs and adds them to the monthly work_hours row.
func (r *Repository) accumulateWorkHours(ctx context.Context, tx pgx.Tx, chatID, userID int64, workDate, monthStart time.Time) {
	rows, err := tx.Query(ctx, `
		SELECT checkin_type, checkin_time FROM work_records
		WHERE chat_id = $1 AND user_id = $2 AND record_date = $3
		ORDER BY checkin_time`, chatID, userID, workDate)
	if err != nil {
		log.Printf("work hours for %d/%d: %v", chatID, userID, err)
		return
	}
	type pair struct{ kind, at string }
	var records []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.kind, &p.at); err != nil {
			rows.Close()
			log.Printf("work hours scan: %v", err)
			return
		}
		records = append(records, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		log.Printf("work hours rows: %v", err)
		return
	}

	var workSeconds int64
	var startAt string
	for _, p := range records {
		switch p.kind {
		case model.CheckinWorkStart:
			startAt = p.at
		case model.CheckinWorkEnd:
			if startAt == "" {
				continue
			}
			start, err1 := time.Parse("15:04", startAt)
			end, err2 := time.Parse("15:04", p.at)
			if err1 != nil || err2 != nil {
				log.Printf("work hours parse %q-%q: %v %v", startAt, p.at, err1, err2)
				startAt = ""
				continue
			}
			if d := end.Sub(start); d > 0 {
				workSeconds += int64(d.Seconds())
			}
			startAt = ""
		}
	}

	if workSeconds > 0 {
		if _, err := tx.Exec(ctx, upsertMonthlyStat,
			chatID, userID, monthStart, model.StatWorkHours, 0, workSeconds); err != nil {
			log.Printf("work hours update for %d/%d: %v", chatID, userID, err)
		}
	}
}

// HasWorkRecordInPeriod reports whether the user already checked in
// with the given type during the group's current reset period.
func (r *Repository) HasWorkRecordInPeriod(ctx context.Context, chatID, userID int64, checkinType string) (bool, error) {
	periodStart := r.PeriodStart(ctx, chatID)
	var exists bool
	err := r.db().QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM work_records
			WHERE chat_id = $1 AND user_id = $2 AND record_date >= $3 AND checkin_type = $4
		)`, chatID, userID, clock.DateOnly(periodStart), checkinType).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has work record: %w", err)
	}
	return exists, nil
}

// TodayWorkRecords returns the user's shift records for the current
// business date, keyed by check-in type.
func (r *Repository) TodayWorkRecords(ctx context.Context, chatID, userID int64) (map[string]*model.WorkRecord, error) {
	today := r.BusinessDate(ctx, chatID)
	rows, err := r.db().Query(ctx, `
		SELECT chat_id, user_id, record_date, checkin_type, checkin_time, status, time_diff_minutes, fine_amount
		FROM work_records WHERE chat_id = $1 AND user_id = $2 AND record_date = $3`,
		chatID, userID, today)
	if err != nil {
		return nil, fmt.Errorf("today work records: %w", err)
	}
	defer rows.Close()
	records := map[string]*model.WorkRecord{}
	for rows.Next() {
		rec, err := scanWorkRecord(rows)
		if err != nil {
			return nil, err
		}
		records[rec.CheckinType] = rec
	}
	return records, rows.Err()
}

// UserWorkRecords returns the most recent shift records, newest first,
// up to `days` calendar days (two records per day).
func (r *Repository) UserWorkRecords(ctx context.Context, chatID, userID int64, days int) ([]*model.WorkRecord, error) {
	rows, err := r.db().Query(ctx, `
		SELECT chat_id, user_id, record_date, checkin_type, checkin_time, status, time_diff_minutes, fine_amount
		FROM work_records WHERE chat_id = $1 AND user_id = $2
		ORDER BY record_date DESC, checkin_type LIMIT $3`,
		chatID, userID, days*2)
	if err != nil {
		return nil, fmt.Errorf("user work records: %w", err)
	}
	defer rows.Close()
	var records []*model.WorkRecord
	for rows.Next() {
		rec, err := scanWorkRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanWorkRecord(rows pgx.Rows) (*model.WorkRecord, error) {
	var rec model.WorkRecord
	var status, checkinTime *string
	var diff *float64
	if err := rows.Scan(&rec.ChatID, &rec.UserID, &rec.RecordDate, &rec.CheckinType,
		&checkinTime, &status, &diff, &rec.FineAmount); err != nil {
		return nil, fmt.Errorf("scan work record: %w", err)
	}
	if checkinTime != nil {
		rec.CheckinTime = *checkinTime
	}
	if status != nil {
		rec.Status = *status
	}
	if diff != nil {
		rec.TimeDiffMinutes = *diff
	}
	return &rec, nil
}

// UserActivityCount returns today's completed occurrences of one
// activity, read straight from the daily bucket.
func (r *Repository) UserActivityCount(ctx context.Context, chatID, userID int64, activity string) (int, error) {
	today := r.BusinessDate(ctx, chatID)
	var count int
	err := r.db().QueryRow(ctx, `
		SELECT activity_count FROM user_activities
		WHERE chat_id = $1 AND user_id = $2 AND activity_date = $3 AND activity_name = $4`,
		chatID, userID, today, activity).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("user activity count: %w", err)
	}
	return count, nil
}

// UserActivityTime returns today's accumulated seconds for one activity.
func (r *Repository) UserActivityTime(ctx context.Context, chatID, userID int64, activity string) (int64, error) {
	today := r.BusinessDate(ctx, chatID)
	var seconds int64
	err := r.db().QueryRow(ctx, `
		SELECT accumulated_time FROM user_activities
		WHERE chat_id = $1 AND user_id = $2 AND activity_date = $3 AND activity_name = $4`,
		chatID, userID, today, activity).Scan(&seconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("user activity time: %w", err)
	}
	return seconds, nil
}

// UserAllActivities returns today's per-activity totals for one user.
func (r *Repository) UserAllActivities(ctx context.Context, chatID, userID int64) (map[string]model.ActivityTotals, error) {
	today := r.BusinessDate(ctx, chatID)
	rows, err := r.db().Query(ctx, `
		SELECT activity_name, activity_count, accumulated_time FROM user_activities
		WHERE chat_id = $1 AND user_id = $2 AND activity_date = $3`,
		chatID, userID, today)
	if err != nil {
		return nil, fmt.Errorf("user activities: %w", err)
	}
	defer rows.Close()
	activities := map[string]model.ActivityTotals{}
	for rows.Next() {
		var name string
		var totals model.ActivityTotals
		if err := rows.Scan(&name, &totals.Count, &totals.Time); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		activities[name] = totals
	}
	return activities, rows.Err()
}
