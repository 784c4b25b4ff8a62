package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/okoshkin/checkin-bot/internal/clock"
	"github.com/okoshkin/checkin-bot/internal/fines"
	"github.com/okoshkin/checkin-bot/internal/model"
)

// Workflow errors surfaced to the chat layer.
var (
	ErrUnknownActivity    = errors.New("unknown activity")
	ErrActivityInProgress = errors.New("another activity is already in progress")
	ErrNoActivity         = errors.New("no activity in progress")
	ErrDailyLimitReached  = errors.New("daily limit for this activity reached")
	ErrActivityFull       = errors.New("activity occupancy limit reached")
)

// CheckinStorage is the part of the repository the check-in workflow
// uses.
type CheckinStorage interface {
	InitUser(ctx context.Context, chatID, userID int64, nickname string) error
	User(ctx context.Context, chatID, userID int64) (*model.User, error)
	SetUserActivity(ctx context.Context, chatID, userID int64, activity string, start time.Time, nickname string) error
	CompleteActivity(ctx context.Context, chatID, userID int64, activity string, elapsedSeconds, fineAmount int64, isOvertime bool) error
	ActivityExists(ctx context.Context, activity string) (bool, error)
	ActivityMaxTimes(ctx context.Context, activity string) (int, error)
	ActivityTimeLimit(ctx context.Context, activity string) (int, error)
	ActivityUserLimit(ctx context.Context, activity string) (int, error)
	CurrentActivityUsers(ctx context.Context, chatID int64, activity string) (int, error)
	UserActivityCount(ctx context.Context, chatID, userID int64, activity string) (int, error)
	FineRatesForActivity(ctx context.Context, activity string) (map[string]int64, error)
}

// CheckinService runs the start/end activity workflow. Operations for
// the same user are serialized with a per-user lock so a double tap
// cannot start two activities or settle one twice.
type CheckinService struct {
	storage CheckinStorage

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewCheckinService(storage CheckinStorage) *CheckinService {
	return &CheckinService{storage: storage, locks: map[string]*sync.Mutex{}}
}

func (s *CheckinService) userLock(chatID, userID int64) *sync.Mutex {
	key := fmt.Sprintf("%d:%d", chatID, userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// StartActivity begins an activity for the user after checking that the
// activity exists, the user is idle, the daily cap is not exhausted and
// the occupancy cap has room.
func (s *CheckinService) StartActivity(ctx context.Context, chatID, userID int64, nickname, activity string) error {
	l := s.userLock(chatID, userID)
	l.Lock()
	defer l.Unlock()

	exists, err := s.storage.ActivityExists(ctx, activity)
	if err != nil {
		return err
	}
	if !exists {
		return ErrUnknownActivity
	}

	user, err := s.storage.User(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if user.HasActiveActivity() {
		return ErrActivityInProgress
	}

	maxTimes, err := s.storage.ActivityMaxTimes(ctx, activity)
	if err != nil {
		return err
	}
	if maxTimes > 0 {
		count, err := s.storage.UserActivityCount(ctx, chatID, userID, activity)
		if err != nil {
			return err
		}
		if count >= maxTimes {
			return ErrDailyLimitReached
		}
	}

	occupancy, err := s.storage.ActivityUserLimit(ctx, activity)
	if err != nil {
		return err
	}
	if occupancy > 0 {
		current, err := s.storage.CurrentActivityUsers(ctx, chatID, activity)
		if err != nil {
			return err
		}
		if current >= occupancy {
			return ErrActivityFull
		}
	}

	if err := s.storage.InitUser(ctx, chatID, userID, nickname); err != nil {
		return err
	}
	return s.storage.SetUserActivity(ctx, chatID, userID, activity, clock.Now(), nickname)
}

// EndResult is what an activity settled into.
type EndResult struct {
	Activity        string
	ElapsedSeconds  int64
	Overtime        bool
	OvertimeSeconds int64
	Fine            int64
}

// EndActivity settles the user's running activity: it measures elapsed
// time, decides overtime against the activity's time limit, picks the
// fine from the overtime minutes and fans everything out through one
// transaction.
func (s *CheckinService) EndActivity(ctx context.Context, chatID, userID int64) (*EndResult, error) {
	l := s.userLock(chatID, userID)
	l.Lock()
	defer l.Unlock()

	user, err := s.storage.User(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	if !user.HasActiveActivity() {
		return nil, ErrNoActivity
	}

	activity := *user.CurrentActivity
	elapsed := int64(clock.Now().Sub(*user.ActivityStartTime).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}

	limit, err := s.storage.ActivityTimeLimit(ctx, activity)
	if err != nil {
		return nil, err
	}

	result := &EndResult{Activity: activity, ElapsedSeconds: elapsed}
	if limit > 0 && elapsed > int64(limit)*60 {
		result.Overtime = true
		result.OvertimeSeconds = elapsed - int64(limit)*60

		rates, err := s.storage.FineRatesForActivity(ctx, activity)
		if err != nil {
			return nil, err
		}
		overtimeMinutes := math.Ceil(float64(result.OvertimeSeconds) / 60)
		result.Fine = fines.Parse(rates).Lookup(overtimeMinutes)
	}

	err = s.storage.CompleteActivity(ctx, chatID, userID, activity,
		elapsed, result.Fine, result.Overtime)
	if err != nil {
		return nil, err
	}
	return result, nil
}
