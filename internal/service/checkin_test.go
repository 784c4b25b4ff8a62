package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okoshkin/checkin-bot/internal/clock"
	"github.com/okoshkin/checkin-bot/internal/model"
)

type completedCall struct {
	Activity string
	Elapsed  int64
	Fine     int64
	Overtime bool
}

// fakeCheckinStorage is an in-memory CheckinStorage for workflow tests.
type fakeCheckinStorage struct {
	user      *model.User
	limits    map[string]model.ActivityLimit
	occupancy map[string]int
	running   map[string]int
	counts    map[string]int
	fineRates map[string]map[string]int64
	started   []string
	completed []completedCall
	failOn    string
	failErr   error
}

func newFakeCheckinStorage() *fakeCheckinStorage {
	return &fakeCheckinStorage{
		limits: map[string]model.ActivityLimit{
			"meal":  {MaxTimes: 2, TimeLimit: 30},
			"smoke": {MaxTimes: 5, TimeLimit: 10},
		},
		occupancy: map[string]int{},
		running:   map[string]int{},
		counts:    map[string]int{},
		fineRates: map[string]map[string]int64{
			"meal":  {"10": 100, "30": 300},
			"smoke": {"10": 200, "30": 500},
		},
	}
}

func (f *fakeCheckinStorage) InitUser(ctx context.Context, chatID, userID int64, nickname string) error {
	if f.user == nil {
		f.user = &model.User{ChatID: chatID, UserID: userID, Nickname: nickname}
	}
	return nil
}

func (f *fakeCheckinStorage) User(ctx context.Context, chatID, userID int64) (*model.User, error) {
	return f.user, nil
}

func (f *fakeCheckinStorage) SetUserActivity(ctx context.Context, chatID, userID int64, activity string, start time.Time, nickname string) error {
	f.user.CurrentActivity = &activity
	f.user.ActivityStartTime = &start
	f.started = append(f.started, activity)
	return nil
}

func (f *fakeCheckinStorage) CompleteActivity(ctx context.Context, chatID, userID int64, activity string, elapsedSeconds, fineAmount int64, isOvertime bool) error {
	if f.failOn == "complete" {
		return f.failErr
	}
	f.completed = append(f.completed, completedCall{activity, elapsedSeconds, fineAmount, isOvertime})
	f.user.CurrentActivity = nil
	f.user.ActivityStartTime = nil
	return nil
}

func (f *fakeCheckinStorage) ActivityExists(ctx context.Context, activity string) (bool, error) {
	_, ok := f.limits[activity]
	return ok, nil
}

func (f *fakeCheckinStorage) ActivityMaxTimes(ctx context.Context, activity string) (int, error) {
	return f.limits[activity].MaxTimes, nil
}

func (f *fakeCheckinStorage) ActivityTimeLimit(ctx context.Context, activity string) (int, error) {
	return f.limits[activity].TimeLimit, nil
}

func (f *fakeCheckinStorage) ActivityUserLimit(ctx context.Context, activity string) (int, error) {
	return f.occupancy[activity], nil
}

func (f *fakeCheckinStorage) CurrentActivityUsers(ctx context.Context, chatID int64, activity string) (int, error) {
	return f.running[activity], nil
}

func (f *fakeCheckinStorage) UserActivityCount(ctx context.Context, chatID, userID int64, activity string) (int, error) {
	return f.counts[activity], nil
}

func (f *fakeCheckinStorage) FineRatesForActivity(ctx context.Context, activity string) (map[string]int64, error) {
	return f.fineRates[activity], nil
}

func startActivityAgo(f *fakeCheckinStorage, activity string, ago time.Duration) {
	start := clock.Now().Add(-ago)
	f.user = &model.User{ChatID: 1, UserID: 10, CurrentActivity: &activity, ActivityStartTime: &start}
}

func TestStartActivity(t *testing.T) {
	f := newFakeCheckinStorage()
	s := NewCheckinService(f)

	err := s.StartActivity(context.Background(), 1, 10, "alice", "meal")
	require.NoError(t, err)
	require.Equal(t, []string{"meal"}, f.started)
	assert.True(t, f.user.HasActiveActivity())
}

func TestStartActivityUnknown(t *testing.T) {
	f := newFakeCheckinStorage()
	s := NewCheckinService(f)

	err := s.StartActivity(context.Background(), 1, 10, "alice", "nap")
	assert.ErrorIs(t, err, ErrUnknownActivity)
}

func TestStartActivityWhileBusy(t *testing.T) {
	f := newFakeCheckinStorage()
	startActivityAgo(f, "smoke", time.Minute)
	s := NewCheckinService(f)

	err := s.StartActivity(context.Background(), 1, 10, "alice", "meal")
	assert.ErrorIs(t, err, ErrActivityInProgress)
}

func TestStartActivityDailyLimit(t *testing.T) {
	f := newFakeCheckinStorage()
	f.counts["meal"] = 2
	s := NewCheckinService(f)

	err := s.StartActivity(context.Background(), 1, 10, "alice", "meal")
	assert.ErrorIs(t, err, ErrDailyLimitReached)
}

func TestStartActivityOccupancyFull(t *testing.T) {
	f := newFakeCheckinStorage()
	f.occupancy["smoke"] = 3
	f.running["smoke"] = 3
	s := NewCheckinService(f)

	err := s.StartActivity(context.Background(), 1, 10, "alice", "smoke")
	assert.ErrorIs(t, err, ErrActivityFull)

	f.running["smoke"] = 2
	require.NoError(t, s.StartActivity(context.Background(), 1, 10, "alice", "smoke"))
}

func TestEndActivityWithoutStart(t *testing.T) {
	f := newFakeCheckinStorage()
	s := NewCheckinService(f)

	_, err := s.EndActivity(context.Background(), 1, 10)
	assert.ErrorIs(t, err, ErrNoActivity)
}

func TestEndActivityWithinLimit(t *testing.T) {
	f := newFakeCheckinStorage()
	startActivityAgo(f, "meal", 20*time.Minute)
	s := NewCheckinService(f)

	res, err := s.EndActivity(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.False(t, res.Overtime)
	assert.Zero(t, res.Fine)
	assert.InDelta(t, 20*60, res.ElapsedSeconds, 2)

	require.Len(t, f.completed, 1)
	assert.False(t, f.completed[0].Overtime)
	assert.Zero(t, f.completed[0].Fine)
}

func TestEndActivityOvertimeFine(t *testing.T) {
	// A 50 minute meal against a 30 minute limit: 20 overtime minutes
	// land in the 30-minute fine tier.
	f := newFakeCheckinStorage()
	startActivityAgo(f, "meal", 50*time.Minute)
	s := NewCheckinService(f)

	res, err := s.EndActivity(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.True(t, res.Overtime)
	assert.Equal(t, int64(300), res.Fine)
	assert.InDelta(t, 50*60, res.ElapsedSeconds, 2)
	assert.InDelta(t, 20*60, res.OvertimeSeconds, 2)

	require.Len(t, f.completed, 1)
	c := f.completed[0]
	assert.Equal(t, "meal", c.Activity)
	assert.True(t, c.Overtime)
	assert.Equal(t, int64(300), c.Fine)
	assert.False(t, f.user.HasActiveActivity())
}

func TestEndActivityStorageFailureKeepsState(t *testing.T) {
	f := newFakeCheckinStorage()
	startActivityAgo(f, "meal", 10*time.Minute)
	f.failOn = "complete"
	f.failErr = errors.New("db down")
	s := NewCheckinService(f)

	_, err := s.EndActivity(context.Background(), 1, 10)
	require.Error(t, err)
	// The activity survives a failed settlement so it can be retried.
	assert.True(t, f.user.HasActiveActivity())
}
