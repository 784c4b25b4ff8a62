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

// Activity start instants are persisted as text so a half-written row
// can never hold a bogus zero timestamp.
func parseStartTime(raw *string) *time.Time {
	if raw == nil || *raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		log.Printf("parse activity start time %q: %v", *raw, err)
		return nil
	}
	t = t.In(clock.Location)
	return &t
}

func formatStartTime(t time.Time) string {
	return t.In(clock.Location).Format(time.RFC3339)
}

// InitUser creates the user row if absent, otherwise refreshes the
// nickname and last_updated stamp. Idempotent.
func (r *Repository) InitUser(ctx context.Context, chatID, userID int64, nickname string) error {
	today := r.BusinessDate(ctx, chatID)
	var nick *string
	if nickname != "" {
		nick = &nickname
	}
	_, err := r.db().Exec(ctx, `
		INSERT INTO users (chat_id, user_id, nickname, last_updated)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chat_id, user_id)
		DO UPDATE SET
			nickname = COALESCE($3, users.nickname),
			last_updated = $4,
			updated_at = CURRENT_TIMESTAMP`,
		chatID, userID, nick, today)
	if err != nil {
		return fmt.Errorf("init user %d/%d: %w", chatID, userID, err)
	}
	r.cache.Invalidate(userKey(chatID, userID))
	return nil
}

// User returns the user's running state, or (nil, nil) when unknown.
// Reads are cached for thirty seconds.
func (r *Repository) User(ctx context.Context, chatID, userID int64) (*model.User, error) {
	key := userKey(chatID, userID)
	if v, ok := r.cache.Get(key); ok {
		return v.(*model.User), nil
	}
	row := r.db().QueryRow(ctx, `
		SELECT chat_id, user_id, nickname, current_activity, activity_start_time,
		       total_accumulated_time, total_activity_count, total_fines,
		       overtime_count, total_overtime_time, checkin_message_id, last_updated
		FROM users WHERE chat_id = $1 AND user_id = $2`, chatID, userID)
	var u model.User
	var nickname, startRaw *string
	var lastUpdated *time.Time
	err := row.Scan(&u.ChatID, &u.UserID, &nickname, &u.CurrentActivity, &startRaw,
		&u.TotalAccumulatedTime, &u.TotalActivityCount, &u.TotalFines,
		&u.OvertimeCount, &u.TotalOvertimeTime, &u.CheckinMessageID, &lastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d/%d: %w", chatID, userID, err)
	}
	if nickname != nil {
		u.Nickname = *nickname
	}
	if lastUpdated != nil {
		u.LastUpdated = *lastUpdated
	}
	u.ActivityStartTime = parseStartTime(startRaw)
	r.cache.Set(key, &u, userCacheTTL)
	return &u, nil
}

// SetUserActivity marks an activity as started. An empty nickname
// leaves the stored one alone.
func (r *Repository) SetUserActivity(ctx context.Context, chatID, userID int64, activity string, start time.Time, nickname string) error {
	var err error
	if nickname != "" {
		_, err = r.db().Exec(ctx, `
			UPDATE users SET current_activity = $1, activity_start_time = $2, nickname = $3,
				updated_at = CURRENT_TIMESTAMP
			WHERE chat_id = $4 AND user_id = $5`,
			activity, formatStartTime(start), nickname, chatID, userID)
	} else {
		_, err = r.db().Exec(ctx, `
			UPDATE users SET current_activity = $1, activity_start_time = $2,
				updated_at = CURRENT_TIMESTAMP
			WHERE chat_id = $3 AND user_id = $4`,
			activity, formatStartTime(start), chatID, userID)
	}
	if err != nil {
		return fmt.Errorf("set user activity: %w", err)
	}
	r.cache.Invalidate(userKey(chatID, userID))
	return nil
}

// UpdateUserLastUpdated moves the staleness stamp. Best effort: failure
// is logged, not returned.
func (r *Repository) UpdateUserLastUpdated(ctx context.Context, chatID, userID int64, day time.Time) {
	_, err := r.db().Exec(ctx,
		"UPDATE users SET last_updated = $1, updated_at = CURRENT_TIMESTAMP WHERE chat_id = $2 AND user_id = $3",
		clock.DateOnly(day), chatID, userID)
	if err != nil {
		log.Printf("update last_updated %d/%d: %v", chatID, userID, err)
		return
	}
	r.cache.Invalidate(userKey(chatID, userID))
}

// SetCheckinMessage remembers the pinned check-in keyboard message so
// the bot layer can refresh it later.
func (r *Repository) SetCheckinMessage(ctx context.Context, chatID, userID int64, messageID *int64) error {
	_, err := r.db().Exec(ctx,
		"UPDATE users SET checkin_message_id = $1, updated_at = CURRENT_TIMESTAMP WHERE chat_id = $2 AND user_id = $3",
		messageID, chatID, userID)
	if err != nil {
		return fmt.Errorf("set checkin message: %w", err)
	}
	r.cache.Invalidate(userKey(chatID, userID))
	return nil
}

// CleanupInactiveUsers removes users untouched for the given number of
// days together with their daily-granularity records. Users with any
// monthly history are kept so reports stay complete. Returns how many
// users were removed.
func (r *Repository) CleanupInactiveUsers(ctx context.Context, days int) (int, error) {
	cutoff := clock.DateOnly(clock.Now().AddDate(0, 0, -days))
	var removed int64
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT chat_id, user_id FROM users
			WHERE last_updated < $1
			AND NOT EXISTS (
				SELECT 1 FROM monthly_statistics
				WHERE monthly_statistics.chat_id = users.chat_id
				AND monthly_statistics.user_id = users.user_id
			)`, cutoff)
		if err != nil {
			return err
		}
		type key struct{ chat, user int64 }
		var stale []key
		for rows.Next() {
			var k key
			if err := rows.Scan(&k.chat, &k.user); err != nil {
				rows.Close()
				return err
			}
			stale = append(stale, k)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(stale) == 0 {
			return nil
		}
		for _, k := range stale {
			if _, err := tx.Exec(ctx, "DELETE FROM user_activities WHERE chat_id = $1 AND user_id = $2", k.chat, k.user); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, "DELETE FROM work_records WHERE chat_id = $1 AND user_id = $2", k.chat, k.user); err != nil {
				return err
			}
			tag, err := tx.Exec(ctx, "DELETE FROM users WHERE chat_id = $1 AND user_id = $2", k.chat, k.user)
			if err != nil {
				return err
			}
			removed += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup inactive users: %w", err)
	}
	if removed > 0 {
		log.Printf("removed %d inactive users", removed)
	}
	return int(removed), nil
}
