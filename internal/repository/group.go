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

// InitGroup creates the group row if absent.
func (r *Repository) InitGroup(ctx context.Context, chatID int64) error {
	_, err := r.db().Exec(ctx,
		"INSERT INTO groups (chat_id, work_start_time, work_end_time) VALUES ($1, $2, $3) ON CONFLICT (chat_id) DO NOTHING",
		chatID, r.cfg.WorkStart, r.cfg.WorkEnd)
	if err != nil {
		return fmt.Errorf("init group %d: %w", chatID, err)
	}
	r.cache.Invalidate(groupKey(chatID))
	return nil
}

// Group returns the group settings, or (nil, nil) when the group is
// unknown. Reads are cached for five minutes.
func (r *Repository) Group(ctx context.Context, chatID int64) (*model.Group, error) {
	key := groupKey(chatID)
	if v, ok := r.cache.Get(key); ok {
		return v.(*model.Group), nil
	}
	row := r.db().QueryRow(ctx, `
		SELECT chat_id, channel_id, notification_group_id, reset_hour, reset_minute,
		       work_start_time, work_end_time, created_at, updated_at
		FROM groups WHERE chat_id = $1`, chatID)
	var g model.Group
	err := row.Scan(&g.ChatID, &g.ChannelID, &g.NotificationGroupID, &g.ResetHour, &g.ResetMinute,
		&g.WorkStartTime, &g.WorkEndTime, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group %d: %w", chatID, err)
	}
	r.cache.Set(key, &g, groupCacheTTL)
	return &g, nil
}

// BusinessDate resolves the business date the group is currently in.
// On any lookup failure it falls back to the globally configured reset
// time; it never fails.
func (r *Repository) BusinessDate(ctx context.Context, chatID int64) time.Time {
	resetHour, resetMinute := r.resetTime(ctx, chatID)
	return clock.BusinessDate(clock.Now(), resetHour, resetMinute)
}

// PeriodStart returns the instant the group's current business day
// began, used for period-scoped work record checks.
func (r *Repository) PeriodStart(ctx context.Context, chatID int64) time.Time {
	resetHour, resetMinute := r.resetTime(ctx, chatID)
	return clock.PeriodStart(clock.Now(), resetHour, resetMinute)
}

func (r *Repository) resetTime(ctx context.Context, chatID int64) (int, int) {
	group, err := r.Group(ctx, chatID)
	if err != nil {
		log.Printf("business date for %d: %v, using default reset time", chatID, err)
		return r.cfg.ResetHour, r.cfg.ResetMinute
	}
	if group == nil {
		return r.cfg.ResetHour, r.cfg.ResetMinute
	}
	return group.ResetHour, group.ResetMinute
}

// UpdateGroupChannel points the group's export channel somewhere else.
func (r *Repository) UpdateGroupChannel(ctx context.Context, chatID, channelID int64) error {
	_, err := r.db().Exec(ctx,
		"UPDATE groups SET channel_id = $1, updated_at = CURRENT_TIMESTAMP WHERE chat_id = $2",
		channelID, chatID)
	if err != nil {
		return fmt.Errorf("update group channel: %w", err)
	}
	r.cache.Invalidate(groupKey(chatID))
	return nil
}

// UpdateGroupNotification sets the chat that receives overtime notices.
func (r *Repository) UpdateGroupNotification(ctx context.Context, chatID, groupID int64) error {
	_, err := r.db().Exec(ctx,
		"UPDATE groups SET notification_group_id = $1, updated_at = CURRENT_TIMESTAMP WHERE chat_id = $2",
		groupID, chatID)
	if err != nil {
		return fmt.Errorf("update group notification: %w", err)
	}
	r.cache.Invalidate(groupKey(chatID))
	return nil
}

// UpdateGroupResetTime moves the group's daily boundary.
func (r *Repository) UpdateGroupResetTime(ctx context.Context, chatID int64, hour, minute int) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("reset time %02d:%02d out of range", hour, minute)
	}
	_, err := r.db().Exec(ctx,
		"UPDATE groups SET reset_hour = $1, reset_minute = $2, updated_at = CURRENT_TIMESTAMP WHERE chat_id = $3",
		hour, minute, chatID)
	if err != nil {
		return fmt.Errorf("update group reset time: %w", err)
	}
	r.cache.Invalidate(groupKey(chatID))
	return nil
}

// UpdateGroupWorkTime sets the expected shift hours ("HH:MM").
func (r *Repository) UpdateGroupWorkTime(ctx context.Context, chatID int64, workStart, workEnd string) error {
	_, err := r.db().Exec(ctx,
		"UPDATE groups SET work_start_time = $1, work_end_time = $2, updated_at = CURRENT_TIMESTAMP WHERE chat_id = $3",
		workStart, workEnd, chatID)
	if err != nil {
		return fmt.Errorf("update group work time: %w", err)
	}
	r.cache.Invalidate(groupKey(chatID))
	return nil
}

// GroupWorkTime returns the group's shift hours, falling back to the
// configured defaults when unset.
func (r *Repository) GroupWorkTime(ctx context.Context, chatID int64) (model.WorkHours, error) {
	var start, end *string
	err := r.db().QueryRow(ctx,
		"SELECT work_start_time, work_end_time FROM groups WHERE chat_id = $1", chatID).
		Scan(&start, &end)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return model.WorkHours{}, fmt.Errorf("group work time: %w", err)
	}
	if start == nil || end == nil || *start == "" || *end == "" {
		return model.WorkHours{Start: r.cfg.WorkStart, End: r.cfg.WorkEnd}, nil
	}
	return model.WorkHours{Start: *start, End: *end}, nil
}

// WorkHoursEnabled reports whether the group changed its shift hours
// away from the defaults, which is what switches the feature on.
func (r *Repository) WorkHoursEnabled(ctx context.Context, chatID int64) (bool, error) {
	hours, err := r.GroupWorkTime(ctx, chatID)
	if err != nil {
		return false, err
	}
	return hours.Start != r.cfg.WorkStart || hours.End != r.cfg.WorkEnd, nil
}

// AllGroups lists every known chat id. Connectivity failures are
// retried with a reconnect in between; after the budget is spent an
// empty list is returned so background loops keep running.
func (r *Repository) AllGroups(ctx context.Context) []int64 {
	const retries = 3
	for attempt := 1; attempt <= retries; attempt++ {
		qctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		ids, err := r.fetchGroupIDs(qctx)
		cancel()
		if err == nil {
			return ids
		}
		log.Printf("get all groups attempt %d failed: %v", attempt, err)
		if !r.Reconnect(ctx) || attempt == retries {
			log.Printf("get all groups: giving up")
			return nil
		}
		select {
		case <-time.After(time.Duration(attempt) * 2 * time.Second):
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

func (r *Repository) fetchGroupIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db().Query(ctx, "SELECT chat_id FROM groups")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GroupMembers returns the running totals of every user stamped with
// the group's current business date.
func (r *Repository) GroupMembers(ctx context.Context, chatID int64) ([]*model.User, error) {
	today := r.BusinessDate(ctx, chatID)
	rows, err := r.db().Query(ctx, `
		SELECT user_id, nickname, current_activity, activity_start_time,
		       total_accumulated_time, total_activity_count, total_fines,
		       overtime_count, total_overtime_time
		FROM users WHERE chat_id = $1 AND last_updated = $2`, chatID, today)
	if err != nil {
		return nil, fmt.Errorf("group members: %w", err)
	}
	defer rows.Close()
	var members []*model.User
	for rows.Next() {
		u := model.User{ChatID: chatID}
		var nickname *string
		var startRaw *string
		if err := rows.Scan(&u.UserID, &nickname, &u.CurrentActivity, &startRaw,
			&u.TotalAccumulatedTime, &u.TotalActivityCount, &u.TotalFines,
			&u.OvertimeCount, &u.TotalOvertimeTime); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		if nickname != nil {
			u.Nickname = *nickname
		}
		u.ActivityStartTime = parseStartTime(startRaw)
		members = append(members, &u)
	}
	return members, rows.Err()
}
