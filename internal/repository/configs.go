package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/okoshkin/checkin-bot/internal/model"
)

// ActivityLimits returns every configured activity with its per-day cap
// and time limit. Cached for five minutes.
func (r *Repository) ActivityLimits(ctx context.Context) (map[string]model.ActivityLimit, error) {
	if v, ok := r.cache.Get(keyActivityLimits); ok {
		return v.(map[string]model.ActivityLimit), nil
	}
	rows, err := r.db().Query(ctx, "SELECT activity_name, max_times, time_limit FROM activity_configs")
	if err != nil {
		return nil, fmt.Errorf("activity limits: %w", err)
	}
	defer rows.Close()
	limits := map[string]model.ActivityLimit{}
	for rows.Next() {
		var name string
		var limit model.ActivityLimit
		if err := rows.Scan(&name, &limit.MaxTimes, &limit.TimeLimit); err != nil {
			return nil, fmt.Errorf("scan activity config: %w", err)
		}
		limits[name] = limit
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	r.cache.Set(keyActivityLimits, limits, 300*time.Second)
	return limits, nil
}

// ActivityTimeLimit returns the activity's time limit in minutes, zero
// when unconfigured.
func (r *Repository) ActivityTimeLimit(ctx context.Context, activity string) (int, error) {
	limits, err := r.ActivityLimits(ctx)
	if err != nil {
		return 0, err
	}
	return limits[activity].TimeLimit, nil
}

// ActivityMaxTimes returns the activity's daily cap, zero when
// unconfigured.
func (r *Repository) ActivityMaxTimes(ctx context.Context, activity string) (int, error) {
	limits, err := r.ActivityLimits(ctx)
	if err != nil {
		return 0, err
	}
	return limits[activity].MaxTimes, nil
}

// ActivityExists reports whether the activity is configured, preferring
// the cache and falling through to the database.
func (r *Repository) ActivityExists(ctx context.Context, activity string) (bool, error) {
	if v, ok := r.cache.Get(keyActivityLimits); ok {
		_, exists := v.(map[string]model.ActivityLimit)[activity]
		return exists, nil
	}
	var exists bool
	err := r.db().QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM activity_configs WHERE activity_name = $1)", activity).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("activity exists: %w", err)
	}
	return exists, nil
}

// UpsertActivityConfig creates or updates an activity and seeds default
// fine tiers for it so a freshly added activity is immediately
// chargeable. Existing tiers are kept.
func (r *Repository) UpsertActivityConfig(ctx context.Context, activity string, maxTimes, timeLimit int, defaultFines map[string]int64) error {
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO activity_configs (activity_name, max_times, time_limit)
			VALUES ($1, $2, $3)
			ON CONFLICT (activity_name)
			DO UPDATE SET
				max_times = EXCLUDED.max_times,
				time_limit = EXCLUDED.time_limit,
				created_at = CURRENT_TIMESTAMP`,
			activity, maxTimes, timeLimit); err != nil {
			return err
		}
		for segment, amount := range defaultFines {
			if _, err := tx.Exec(ctx, `
				INSERT INTO fine_configs (activity_name, time_segment, fine_amount)
				VALUES ($1, $2, $3)
				ON CONFLICT (activity_name, time_segment) DO NOTHING`,
				activity, segment, amount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert activity config %q: %w", activity, err)
	}
	r.cache.Invalidate(keyActivityLimits)
	log.Printf("activity config updated: %s (max %d, limit %dmin)", activity, maxTimes, timeLimit)
	return nil
}

// DeleteActivityConfig removes an activity and its fine tiers.
func (r *Repository) DeleteActivityConfig(ctx context.Context, activity string) error {
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM activity_configs WHERE activity_name = $1", activity); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, "DELETE FROM fine_configs WHERE activity_name = $1", activity)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete activity config %q: %w", activity, err)
	}
	r.cache.Invalidate(keyActivityLimits)
	return nil
}

// FineRates returns every activity's fine tiers as segment -> amount.
func (r *Repository) FineRates(ctx context.Context) (map[string]map[string]int64, error) {
	rows, err := r.db().Query(ctx, "SELECT activity_name, time_segment, fine_amount FROM fine_configs")
	if err != nil {
		return nil, fmt.Errorf("fine rates: %w", err)
	}
	defer rows.Close()
	rates := map[string]map[string]int64{}
	for rows.Next() {
		var activity, segment string
		var amount int64
		if err := rows.Scan(&activity, &segment, &amount); err != nil {
			return nil, fmt.Errorf("scan fine config: %w", err)
		}
		if rates[activity] == nil {
			rates[activity] = map[string]int64{}
		}
		rates[activity][segment] = amount
	}
	return rates, rows.Err()
}

// FineRatesForActivity returns one activity's fine tiers.
func (r *Repository) FineRatesForActivity(ctx context.Context, activity string) (map[string]int64, error) {
	rows, err := r.db().Query(ctx,
		"SELECT time_segment, fine_amount FROM fine_configs WHERE activity_name = $1", activity)
	if err != nil {
		return nil, fmt.Errorf("fine rates for %q: %w", activity, err)
	}
	defer rows.Close()
	rates := map[string]int64{}
	for rows.Next() {
		var segment string
		var amount int64
		if err := rows.Scan(&segment, &amount); err != nil {
			return nil, fmt.Errorf("scan fine tier: %w", err)
		}
		rates[segment] = amount
	}
	return rates, rows.Err()
}

// UpsertFineRate sets one tier of an activity's fine schedule.
func (r *Repository) UpsertFineRate(ctx context.Context, activity, segment string, amount int64) error {
	_, err := r.db().Exec(ctx, `
		INSERT INTO fine_configs (activity_name, time_segment, fine_amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (activity_name, time_segment)
		DO UPDATE SET
			fine_amount = EXCLUDED.fine_amount,
			created_at = CURRENT_TIMESTAMP`,
		activity, segment, amount)
	if err != nil {
		return fmt.Errorf("upsert fine rate %s/%s: %w", activity, segment, err)
	}
	return nil
}

// ClearFineRates drops every tier of one activity's fine schedule.
func (r *Repository) ClearFineRates(ctx context.Context, activity string) error {
	_, err := r.db().Exec(ctx, "DELETE FROM fine_configs WHERE activity_name = $1", activity)
	if err != nil {
		return fmt.Errorf("clear fine rates %q: %w", activity, err)
	}
	return nil
}

// WorkFineRates returns the shift fine tiers for both check-in types.
func (r *Repository) WorkFineRates(ctx context.Context) (map[string]map[string]int64, error) {
	rows, err := r.db().Query(ctx, "SELECT checkin_type, time_segment, fine_amount FROM work_fine_configs")
	if err != nil {
		return nil, fmt.Errorf("work fine rates: %w", err)
	}
	defer rows.Close()
	rates := map[string]map[string]int64{}
	for rows.Next() {
		var checkinType, segment string
		var amount int64
		if err := rows.Scan(&checkinType, &segment, &amount); err != nil {
			return nil, fmt.Errorf("scan work fine config: %w", err)
		}
		if rates[checkinType] == nil {
			rates[checkinType] = map[string]int64{}
		}
		rates[checkinType][segment] = amount
	}
	return rates, rows.Err()
}

// WorkFineRatesForType returns the tiers for one check-in type.
func (r *Repository) WorkFineRatesForType(ctx context.Context, checkinType string) (map[string]int64, error) {
	rows, err := r.db().Query(ctx,
		"SELECT time_segment, fine_amount FROM work_fine_configs WHERE checkin_type = $1", checkinType)
	if err != nil {
		return nil, fmt.Errorf("work fine rates for %q: %w", checkinType, err)
	}
	defer rows.Close()
	rates := map[string]int64{}
	for rows.Next() {
		var segment string
		var amount int64
		if err := rows.Scan(&segment, &amount); err != nil {
			return nil, fmt.Errorf("scan work fine tier: %w", err)
		}
		rates[segment] = amount
	}
	return rates, rows.Err()
}

// UpsertWorkFineRate sets one tier of a check-in type's fine schedule.
func (r *Repository) UpsertWorkFineRate(ctx context.Context, checkinType, segment string, amount int64) error {
	_, err := r.db().Exec(ctx, `
		INSERT INTO work_fine_configs (checkin_type, time_segment, fine_amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (checkin_type, time_segment)
		DO UPDATE SET
			fine_amount = EXCLUDED.fine_amount,
			created_at = CURRENT_TIMESTAMP`,
		checkinType, segment, amount)
	if err != nil {
		return fmt.Errorf("upsert work fine rate %s/%s: %w", checkinType, segment, err)
	}
	return nil
}

// ClearWorkFineRates drops all tiers of one check-in type.
func (r *Repository) ClearWorkFineRates(ctx context.Context, checkinType string) error {
	_, err := r.db().Exec(ctx, "DELETE FROM work_fine_configs WHERE checkin_type = $1", checkinType)
	if err != nil {
		return fmt.Errorf("clear work fine rates %q: %w", checkinType, err)
	}
	return nil
}

// PushSettings returns the notification toggles. Cached for five
// minutes.
func (r *Repository) PushSettings(ctx context.Context) (map[string]bool, error) {
	if v, ok := r.cache.Get(keyPushSettings); ok {
		return v.(map[string]bool), nil
	}
	rows, err := r.db().Query(ctx, "SELECT setting_key, setting_value FROM push_settings")
	if err != nil {
		return nil, fmt.Errorf("push settings: %w", err)
	}
	defer rows.Close()
	settings := map[string]bool{}
	for rows.Next() {
		var key string
		var value int
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan push setting: %w", err)
		}
		settings[key] = value != 0
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	r.cache.Set(keyPushSettings, settings, 300*time.Second)
	return settings, nil
}

// UpdatePushSetting flips one notification toggle.
func (r *Repository) UpdatePushSetting(ctx context.Context, key string, value bool) error {
	v := 0
	if value {
		v = 1
	}
	_, err := r.db().Exec(ctx, `
		INSERT INTO push_settings (setting_key, setting_value)
		VALUES ($1, $2)
		ON CONFLICT (setting_key)
		DO UPDATE SET
			setting_value = EXCLUDED.setting_value,
			created_at = CURRENT_TIMESTAMP`,
		key, v)
	if err != nil {
		return fmt.Errorf("update push setting %q: %w", key, err)
	}
	r.cache.Invalidate(keyPushSettings)
	return nil
}

// SetActivityUserLimit caps how many users may run an activity at once.
func (r *Repository) SetActivityUserLimit(ctx context.Context, activity string, maxUsers int) error {
	_, err := r.db().Exec(ctx, `
		INSERT INTO activity_user_limits (activity_name, max_users)
		VALUES ($1, $2)
		ON CONFLICT (activity_name)
		DO UPDATE SET
			max_users = EXCLUDED.max_users,
			updated_at = CURRENT_TIMESTAMP`,
		activity, maxUsers)
	if err != nil {
		return fmt.Errorf("set activity user limit %q: %w", activity, err)
	}
	r.cache.Invalidate(activityLimitKey(activity))
	return nil
}

// ActivityUserLimit returns the occupancy cap for an activity, zero
// meaning unlimited. Cached for a minute.
func (r *Repository) ActivityUserLimit(ctx context.Context, activity string) (int, error) {
	key := activityLimitKey(activity)
	if v, ok := r.cache.Get(key); ok {
		return v.(int), nil
	}
	var limit int
	err := r.db().QueryRow(ctx,
		"SELECT max_users FROM activity_user_limits WHERE activity_name = $1", activity).Scan(&limit)
	if errors.Is(err, pgx.ErrNoRows) {
		limit = 0
	} else if err != nil {
		return 0, fmt.Errorf("activity user limit %q: %w", activity, err)
	}
	r.cache.Set(key, limit, 60*time.Second)
	return limit, nil
}

// RemoveActivityUserLimit lifts the occupancy cap.
func (r *Repository) RemoveActivityUserLimit(ctx context.Context, activity string) error {
	_, err := r.db().Exec(ctx, "DELETE FROM activity_user_limits WHERE activity_name = $1", activity)
	if err != nil {
		return fmt.Errorf("remove activity user limit %q: %w", activity, err)
	}
	r.cache.Invalidate(activityLimitKey(activity))
	return nil
}

// AllActivityUserLimits lists every occupancy cap.
func (r *Repository) AllActivityUserLimits(ctx context.Context) (map[string]int, error) {
	rows, err := r.db().Query(ctx, "SELECT activity_name, max_users FROM activity_user_limits")
	if err != nil {
		return nil, fmt.Errorf("activity user limits: %w", err)
	}
	defer rows.Close()
	limits := map[string]int{}
	for rows.Next() {
		var name string
		var max int
		if err := rows.Scan(&name, &max); err != nil {
			return nil, fmt.Errorf("scan activity user limit: %w", err)
		}
		limits[name] = max
	}
	return limits, rows.Err()
}

// CurrentActivityUsers counts users of a chat currently running the
// given activity.
func (r *Repository) CurrentActivityUsers(ctx context.Context, chatID int64, activity string) (int, error) {
	var count int
	err := r.db().QueryRow(ctx,
		"SELECT COUNT(*) FROM users WHERE chat_id = $1 AND current_activity = $2",
		chatID, activity).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("current activity users: %w", err)
	}
	return count, nil
}

func activityLimitKey(activity string) string {
	return "activity_limit:" + activity
}
