package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okoshkin/checkin-bot/internal/clock"
	"github.com/okoshkin/checkin-bot/internal/config"
	"github.com/okoshkin/checkin-bot/internal/model"
)

// newTestRepo connects to the database named by TEST_DATABASE_URL and
// wipes the mutable tables. Configuration tables keep their seeded
// defaults. Tests are skipped when the variable is unset.
func newTestRepo(t *testing.T) (*Repository, context.Context) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	cfg := &config.Config{
		DatabaseURL:            url,
		PoolMinConns:           1,
		PoolMaxConns:           4,
		PoolMaxIdleTime:        time.Minute,
		ConnectTimeout:         5 * time.Second,
		WorkStart:              "09:00",
		WorkEnd:                "18:00",
		RetentionDays:          30,
		MonthlyRetentionMonths: 3,
		InactiveUserDays:       30,
		Defaults:               config.DefaultBundle(),
	}
	r := New(cfg)
	ctx := context.Background()
	require.NoError(t, r.Connect(ctx))
	t.Cleanup(r.Close)

	_, err := r.db().Exec(ctx,
		"TRUNCATE users, user_activities, work_records, daily_statistics, monthly_statistics, groups, activity_user_limits RESTART IDENTITY")
	require.NoError(t, err)
	r.cache.Clear()
	return r, ctx
}

func setupUser(t *testing.T, r *Repository, ctx context.Context, chatID, userID int64) {
	t.Helper()
	require.NoError(t, r.InitGroup(ctx, chatID))
	require.NoError(t, r.InitUser(ctx, chatID, userID, "tester"))
}

func dailyStat(t *testing.T, r *Repository, ctx context.Context, chatID, userID int64, name string) (int, int64) {
	t.Helper()
	var count int
	var seconds int64
	err := r.db().QueryRow(ctx, `
		SELECT COALESCE(SUM(activity_count), 0), COALESCE(SUM(accumulated_time), 0)
		FROM daily_statistics
		WHERE chat_id = $1 AND user_id = $2 AND activity_name = $3`,
		chatID, userID, name).Scan(&count, &seconds)
	require.NoError(t, err)
	return count, seconds
}

func monthlyStat(t *testing.T, r *Repository, ctx context.Context, chatID, userID int64, name string) (int, int64) {
	t.Helper()
	var count int
	var seconds int64
	err := r.db().QueryRow(ctx, `
		SELECT COALESCE(SUM(activity_count), 0), COALESCE(SUM(accumulated_time), 0)
		FROM monthly_statistics
		WHERE chat_id = $1 AND user_id = $2 AND activity_name = $3`,
		chatID, userID, name).Scan(&count, &seconds)
	require.NoError(t, err)
	return count, seconds
}

func TestCompleteActivityAccumulates(t *testing.T) {
	r, ctx := newTestRepo(t)
	setupUser(t, r, ctx, -100, 10)

	// Two identical completions must land in the same rows, doubled.
	require.NoError(t, r.CompleteActivity(ctx, -100, 10, "meal", 1500, 0, false))
	require.NoError(t, r.CompleteActivity(ctx, -100, 10, "meal", 1500, 0, false))

	count, seconds := dailyStat(t, r, ctx, -100, 10, "meal")
	assert.Equal(t, 2, count)
	assert.Equal(t, int64(3000), seconds)

	mCount, mSeconds := monthlyStat(t, r, ctx, -100, 10, "meal")
	assert.Equal(t, 2, mCount)
	assert.Equal(t, int64(3000), mSeconds)

	user, err := r.User(ctx, -100, 10)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, int64(3000), user.TotalAccumulatedTime)
	assert.Equal(t, 2, user.TotalActivityCount)
	assert.False(t, user.HasActiveActivity())
}

func TestCompleteActivityOvertimeFanOut(t *testing.T) {
	r, ctx := newTestRepo(t)
	setupUser(t, r, ctx, -100, 10)

	// 50 minutes against meal's 30 minute limit, fine already decided
	// by the caller.
	require.NoError(t, r.CompleteActivity(ctx, -100, 10, "meal", 3000, 300, true))

	count, seconds := dailyStat(t, r, ctx, -100, 10, "meal")
	assert.Equal(t, 1, count)
	assert.Equal(t, int64(3000), seconds)

	fineCount, fineAmount := dailyStat(t, r, ctx, -100, 10, "total_fines")
	assert.Equal(t, 1, fineCount)
	assert.Equal(t, int64(300), fineAmount)

	otCount, _ := dailyStat(t, r, ctx, -100, 10, "overtime_count")
	assert.Equal(t, 1, otCount)
	_, otSeconds := dailyStat(t, r, ctx, -100, 10, "overtime_time")
	assert.Equal(t, int64(1200), otSeconds)

	// Monthly fine rows carry the amount only.
	mFineCount, mFineAmount := monthlyStat(t, r, ctx, -100, 10, "total_fines")
	assert.Equal(t, 0, mFineCount)
	assert.Equal(t, int64(300), mFineAmount)

	user, err := r.User(ctx, -100, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(300), user.TotalFines)
	assert.Equal(t, 1, user.OvertimeCount)
	assert.Equal(t, int64(1200), user.TotalOvertimeTime)
}

func TestCompleteActivityRollsBackAsOne(t *testing.T) {
	r, ctx := newTestRepo(t)
	setupUser(t, r, ctx, -100, 10)
	require.NoError(t, r.SetUserActivity(ctx, -100, 10, "meal", clock.Now(), ""))

	r.txHook = func(step string) error { return errors.New("injected failure") }
	defer func() { r.txHook = nil }()

	err := r.CompleteActivity(ctx, -100, 10, "meal", 3000, 300, true)
	require.Error(t, err)

	// Writes before the failpoint must have rolled back with the rest.
	count, _ := dailyStat(t, r, ctx, -100, 10, "meal")
	assert.Zero(t, count)
	mCount, mSeconds := monthlyStat(t, r, ctx, -100, 10, "meal")
	assert.Zero(t, mCount)
	assert.Zero(t, mSeconds)

	r.cache.Clear()
	user, err := r.User(ctx, -100, 10)
	require.NoError(t, err)
	assert.Zero(t, user.TotalFines)
	// The run is still open and can be settled again.
	assert.True(t, user.HasActiveActivity())
}

func TestSoftResetSurvivesInDailySums(t *testing.T) {
	r, ctx := newTestRepo(t)
	setupUser(t, r, ctx, -100, 10)

	require.NoError(t, r.CompleteActivity(ctx, -100, 10, "meal", 600, 0, false))
	require.True(t, r.SoftResetGroup(ctx, -100, ResetSoft))

	// Archived rows keep the flag, buckets are gone.
	var flagged int
	err := r.db().QueryRow(ctx,
		"SELECT COUNT(*) FROM daily_statistics WHERE chat_id = -100 AND is_soft_reset = TRUE").Scan(&flagged)
	require.NoError(t, err)
	assert.Equal(t, 1, flagged)

	n, err := r.UserActivityCount(ctx, -100, 10, "meal")
	require.NoError(t, err)
	assert.Zero(t, n)

	user, err := r.User(ctx, -100, 10)
	require.NoError(t, err)
	assert.Zero(t, user.TotalAccumulatedTime)

	// Re-accumulating after the reset: SUM-based reads see both halves.
	require.NoError(t, r.CompleteActivity(ctx, -100, 10, "meal", 900, 0, false))
	count, seconds := dailyStat(t, r, ctx, -100, 10, "meal")
	assert.Equal(t, 2, count)
	assert.Equal(t, int64(1500), seconds)

	summaries, err := r.GroupStatistics(ctx, -100, time.Time{})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, int64(1500), summaries[0].TotalAccumulatedTime)
}

func TestHardResetDeletesDay(t *testing.T) {
	r, ctx := newTestRepo(t)
	setupUser(t, r, ctx, -100, 10)

	require.NoError(t, r.CompleteActivity(ctx, -100, 10, "meal", 600, 0, false))
	require.True(t, r.ResetUserDailyData(ctx, -100, 10, time.Time{}))

	count, _ := dailyStat(t, r, ctx, -100, 10, "meal")
	assert.Zero(t, count)

	// Monthly history is not touched by a daily reset.
	mCount, _ := monthlyStat(t, r, ctx, -100, 10, "meal")
	assert.Equal(t, 1, mCount)

	user, err := r.User(ctx, -100, 10)
	require.NoError(t, err)
	assert.Zero(t, user.TotalActivityCount)
}

func TestResetSettlesOpenActivity(t *testing.T) {
	r, ctx := newTestRepo(t)
	setupUser(t, r, ctx, -100, 10)

	start := clock.Now().Add(-40 * time.Minute)
	require.NoError(t, r.SetUserActivity(ctx, -100, 10, "meal", start, ""))
	r.cache.Clear()

	require.True(t, r.ResetUserDailyData(ctx, -100, 10, time.Time{}))

	// The open run went straight into the month it started in.
	mCount, mSeconds := monthlyStat(t, r, ctx, -100, 10, "meal")
	assert.Equal(t, 1, mCount)
	assert.InDelta(t, 40*60, mSeconds, 5)

	user, err := r.User(ctx, -100, 10)
	require.NoError(t, err)
	assert.False(t, user.HasActiveActivity())
}

func TestWorkDayCountedOncePerMonth(t *testing.T) {
	r, ctx := newTestRepo(t)
	setupUser(t, r, ctx, -100, 10)
	today := clock.Today()

	add := func(date time.Time, checkinType, at string) {
		require.NoError(t, r.AddWorkRecord(ctx, &model.WorkRecord{
			ChatID:      -100,
			UserID:      10,
			RecordDate:  date,
			CheckinType: checkinType,
			CheckinTime: at,
			Status:      model.WorkStatusOnTime,
		}))
	}

	add(today, model.CheckinWorkStart, "09:00")
	add(today, model.CheckinWorkEnd, "18:00")

	var workDays int
	err := r.db().QueryRow(ctx, `
		SELECT COALESCE(SUM(work_days), 0) FROM monthly_statistics
		WHERE chat_id = -100 AND user_id = 10 AND activity_name = 'work_days'`).Scan(&workDays)
	require.NoError(t, err)
	assert.Equal(t, 1, workDays)

	// Worked hours accumulated for the completed pair.
	_, hours := monthlyStat(t, r, ctx, -100, 10, "work_hours")
	assert.Equal(t, int64(9*3600), hours)

	// A full day later in the same month does not add another work day
	// while a row for the month exists.
	if today.Day() > 1 {
		earlier := today.AddDate(0, 0, -1)
		add(earlier, model.CheckinWorkStart, "09:00")
		add(earlier, model.CheckinWorkEnd, "18:00")

		err = r.db().QueryRow(ctx, `
			SELECT COALESCE(SUM(work_days), 0) FROM monthly_statistics
			WHERE chat_id = -100 AND user_id = 10 AND activity_name = 'work_days'`).Scan(&workDays)
		require.NoError(t, err)
		assert.Equal(t, 1, workDays)
	}
}

func TestWorkRecordReplacedOnRepeat(t *testing.T) {
	r, ctx := newTestRepo(t)
	setupUser(t, r, ctx, -100, 10)
	today := clock.Today()

	first := &model.WorkRecord{
		ChatID: -100, UserID: 10, RecordDate: today,
		CheckinType: model.CheckinWorkStart, CheckinTime: "09:10",
		Status: model.WorkStatusLate, TimeDiffMinutes: 10, FineAmount: 50,
	}
	require.NoError(t, r.AddWorkRecord(ctx, first))

	second := &model.WorkRecord{
		ChatID: -100, UserID: 10, RecordDate: today,
		CheckinType: model.CheckinWorkStart, CheckinTime: "09:20",
		Status: model.WorkStatusLate, TimeDiffMinutes: 20, FineAmount: 50,
	}
	require.NoError(t, r.AddWorkRecord(ctx, second))

	records, err := r.TodayWorkRecords(ctx, -100, 10)
	require.NoError(t, err)
	require.Contains(t, records, model.CheckinWorkStart)
	assert.Equal(t, "09:20", records[model.CheckinWorkStart].CheckinTime)
}

func TestGroupResetTimeChangesBusinessDate(t *testing.T) {
	r, ctx := newTestRepo(t)
	require.NoError(t, r.InitGroup(ctx, -100))

	require.NoError(t, r.UpdateGroupResetTime(ctx, -100, 4, 0))
	got := r.BusinessDate(ctx, -100)
	want := clock.BusinessDate(clock.Now(), 4, 0)
	assert.True(t, got.Equal(want), "got %v want %v", got, want)
}

func TestActivityConfigRoundTrip(t *testing.T) {
	r, ctx := newTestRepo(t)

	require.NoError(t, r.UpsertActivityConfig(ctx, "nap", 1, 20, config.DefaultActivityFines()))
	limits, err := r.ActivityLimits(ctx)
	require.NoError(t, err)
	require.Contains(t, limits, "nap")
	assert.Equal(t, 20, limits["nap"].TimeLimit)

	rates, err := r.FineRatesForActivity(ctx, "nap")
	require.NoError(t, err)
	assert.NotEmpty(t, rates)

	require.NoError(t, r.DeleteActivityConfig(ctx, "nap"))
	exists, err := r.ActivityExists(ctx, "nap")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestActivityUserLimits(t *testing.T) {
	r, ctx := newTestRepo(t)
	setupUser(t, r, ctx, -100, 10)

	require.NoError(t, r.SetActivityUserLimit(ctx, "smoke", 2))
	limit, err := r.ActivityUserLimit(ctx, "smoke")
	require.NoError(t, err)
	assert.Equal(t, 2, limit)

	require.NoError(t, r.SetUserActivity(ctx, -100, 10, "smoke", clock.Now(), ""))
	n, err := r.CurrentActivityUsers(ctx, -100, "smoke")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, r.RemoveActivityUserLimit(ctx, "smoke"))
	limit, err = r.ActivityUserLimit(ctx, "smoke")
	require.NoError(t, err)
	assert.Zero(t, limit)
}
