package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okoshkin/checkin-bot/internal/model"
)

func TestBuildDailySummaries(t *testing.T) {
	stats := []statRow{
		{UserID: 1, Nickname: "alice", Name: "meal", Count: 2, Time: 3600},
		{UserID: 1, Nickname: "alice", Name: "smoke", Count: 1, Time: 300},
		{UserID: 1, Nickname: "alice", Name: "total_fines", Count: 1, Time: 300},
		{UserID: 1, Nickname: "alice", Name: "work_fine", Count: 1, Time: 50},
		{UserID: 1, Nickname: "alice", Name: "overtime_count", Count: 1, Time: 0},
		{UserID: 1, Nickname: "alice", Name: "overtime_time", Count: 0, Time: 1200},
		{UserID: 2, Nickname: "bob", Name: "toilet", Count: 3, Time: 900},
	}
	summaries := buildDailySummaries(stats, []string{"meal", "smoke", "toilet"})
	require.Len(t, summaries, 2)

	alice := summaries[0]
	assert.Equal(t, int64(1), alice.UserID)
	assert.Equal(t, "alice", alice.Nickname)
	assert.Equal(t, model.ActivityTotals{Count: 2, Time: 3600}, alice.Activities["meal"])
	// The synthetic rows stay out of the activity totals.
	assert.Equal(t, 3, alice.TotalActivityCount)
	assert.Equal(t, int64(3900), alice.TotalAccumulatedTime)
	// Activity fines and work fines merge into one figure.
	assert.Equal(t, int64(350), alice.TotalFines)
	assert.Equal(t, 1, alice.OvertimeCount)
	assert.Equal(t, int64(1200), alice.TotalOvertimeTime)
	// Configured but unused activities are backfilled with zeros.
	assert.Contains(t, alice.Activities, "toilet")
	assert.Equal(t, model.ActivityTotals{}, alice.Activities["toilet"])

	bob := summaries[1]
	assert.Equal(t, int64(2), bob.UserID)
	assert.Zero(t, bob.TotalFines)
	assert.Equal(t, 3, bob.TotalActivityCount)
}

func TestBuildDailySummariesEmpty(t *testing.T) {
	assert.Empty(t, buildDailySummaries(nil, []string{"meal"}))
}

func TestBuildMonthlySummaries(t *testing.T) {
	stats := []statRow{
		{UserID: 5, Nickname: "carol", Name: "meal", Count: 20, Time: 36000},
		{UserID: 5, Nickname: "carol", Name: "total_fines", Count: 0, Time: 900},
		{UserID: 5, Nickname: "carol", Name: "work_days", Count: 0, Time: 0, WorkDays: 18},
		{UserID: 5, Nickname: "carol", Name: "work_hours", Count: 0, Time: 518400},
	}
	summaries := buildMonthlySummaries(stats)
	require.Len(t, summaries, 1)

	carol := summaries[0]
	assert.Equal(t, 18, carol.WorkDays)
	assert.Equal(t, int64(518400), carol.WorkHours)
	assert.Equal(t, int64(900), carol.TotalFines)
	assert.Equal(t, 20, carol.TotalActivityCount)
	assert.Equal(t, int64(36000), carol.TotalAccumulatedTime)
	assert.NotNil(t, carol.WorkStats)
}

func TestActivityNamesSorted(t *testing.T) {
	limits := map[string]model.ActivityLimit{
		"smoke": {}, "meal": {}, "toilet": {},
	}
	assert.Equal(t, []string{"meal", "smoke", "toilet"}, activityNames(limits))
}
