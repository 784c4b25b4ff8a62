package service

import (
	"context"
	"errors"
	"time"

	"github.com/okoshkin/checkin-bot/internal/model"
)

var ErrBadLimit = errors.New("limit must not be negative")

// AdminStorage is the part of the repository the administration
// workflow uses.
type AdminStorage interface {
	ActivityLimits(ctx context.Context) (map[string]model.ActivityLimit, error)
	UpsertActivityConfig(ctx context.Context, activity string, maxTimes, timeLimit int, defaultFines map[string]int64) error
	DeleteActivityConfig(ctx context.Context, activity string) error
	UpsertFineRate(ctx context.Context, activity, segment string, amount int64) error
	ClearFineRates(ctx context.Context, activity string) error
	UpsertWorkFineRate(ctx context.Context, checkinType, segment string, amount int64) error
	SetActivityUserLimit(ctx context.Context, activity string, maxUsers int) error
	RemoveActivityUserLimit(ctx context.Context, activity string) error
	AllActivityUserLimits(ctx context.Context) (map[string]int, error)
	PushSettings(ctx context.Context) (map[string]bool, error)
	UpdatePushSetting(ctx context.Context, key string, value bool) error
	UpdateGroupResetTime(ctx context.Context, chatID int64, hour, minute int) error
	UpdateGroupWorkTime(ctx context.Context, chatID int64, workStart, workEnd string) error
	ResetUserDailyData(ctx context.Context, chatID, userID int64, targetDate time.Time) bool
	RefreshConfigCache(ctx context.Context)
}

// AdminService manages group and activity configuration.
type AdminService struct {
	storage      AdminStorage
	defaultFines map[string]int64
}

func NewAdminService(storage AdminStorage, defaultFines map[string]int64) *AdminService {
	return &AdminService{storage: storage, defaultFines: defaultFines}
}

// Activities returns the configured activities and their limits.
func (s *AdminService) Activities(ctx context.Context) (map[string]model.ActivityLimit, error) {
	return s.storage.ActivityLimits(ctx)
}

// SetActivity creates or replaces an activity's limits, seeding the
// default fine tiers for a new activity.
func (s *AdminService) SetActivity(ctx context.Context, activity string, maxTimes, timeLimit int) error {
	if maxTimes < 0 || timeLimit < 0 {
		return ErrBadLimit
	}
	return s.storage.UpsertActivityConfig(ctx, activity, maxTimes, timeLimit, s.defaultFines)
}

// RemoveActivity deletes an activity and its fine schedule.
func (s *AdminService) RemoveActivity(ctx context.Context, activity string) error {
	return s.storage.DeleteActivityConfig(ctx, activity)
}

// SetFine sets one tier of an activity's fine schedule.
func (s *AdminService) SetFine(ctx context.Context, activity, segment string, amount int64) error {
	if amount < 0 {
		return ErrBadLimit
	}
	return s.storage.UpsertFineRate(ctx, activity, segment, amount)
}

// ClearFines removes an activity's fine schedule entirely.
func (s *AdminService) ClearFines(ctx context.Context, activity string) error {
	return s.storage.ClearFineRates(ctx, activity)
}

// SetWorkFine sets one tier of a shift check-in type's fine schedule.
func (s *AdminService) SetWorkFine(ctx context.Context, checkinType, segment string, amount int64) error {
	if checkinType != model.CheckinWorkStart && checkinType != model.CheckinWorkEnd {
		return ErrUnknownCheckin
	}
	if amount < 0 {
		return ErrBadLimit
	}
	return s.storage.UpsertWorkFineRate(ctx, checkinType, segment, amount)
}

// SetOccupancy caps simultaneous users of one activity; zero lifts the
// cap.
func (s *AdminService) SetOccupancy(ctx context.Context, activity string, maxUsers int) error {
	if maxUsers < 0 {
		return ErrBadLimit
	}
	if maxUsers == 0 {
		return s.storage.RemoveActivityUserLimit(ctx, activity)
	}
	return s.storage.SetActivityUserLimit(ctx, activity, maxUsers)
}

// Occupancies lists all occupancy caps.
func (s *AdminService) Occupancies(ctx context.Context) (map[string]int, error) {
	return s.storage.AllActivityUserLimits(ctx)
}

// PushSettings returns the notification toggles.
func (s *AdminService) PushSettings(ctx context.Context) (map[string]bool, error) {
	return s.storage.PushSettings(ctx)
}

// SetPush flips one notification toggle.
func (s *AdminService) SetPush(ctx context.Context, key string, enabled bool) error {
	return s.storage.UpdatePushSetting(ctx, key, enabled)
}

// SetResetTime moves a group's daily reset boundary.
func (s *AdminService) SetResetTime(ctx context.Context, chatID int64, hour, minute int) error {
	return s.storage.UpdateGroupResetTime(ctx, chatID, hour, minute)
}

// SetWorkTime changes a group's shift hours.
func (s *AdminService) SetWorkTime(ctx context.Context, chatID int64, start, end string) error {
	if _, err := parseClockTime(start); err != nil {
		return err
	}
	if _, err := parseClockTime(end); err != nil {
		return err
	}
	return s.storage.UpdateGroupWorkTime(ctx, chatID, start, end)
}

// ResetUser wipes one user's current period, settling any running
// activity first. A zero userID resets the whole group.
func (s *AdminService) ResetUser(ctx context.Context, chatID, userID int64) bool {
	return s.storage.ResetUserDailyData(ctx, chatID, userID, time.Time{})
}

// ReloadConfig refreshes the configuration caches after out-of-band
// edits.
func (s *AdminService) ReloadConfig(ctx context.Context) {
	s.storage.RefreshConfigCache(ctx)
}
