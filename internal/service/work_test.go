package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okoshkin/checkin-bot/internal/clock"
	"github.com/okoshkin/checkin-bot/internal/model"
)

type fakeWorkStorage struct {
	hours     model.WorkHours
	existing  map[string]bool
	records   []*model.WorkRecord
	workFines map[string]map[string]int64
}

func newFakeWorkStorage(hours model.WorkHours) *fakeWorkStorage {
	return &fakeWorkStorage{
		hours:    hours,
		existing: map[string]bool{},
		workFines: map[string]map[string]int64{
			model.CheckinWorkStart: {"60": 50, "120": 100, "180": 200, "240": 300, "max": 500},
			model.CheckinWorkEnd:   {"60": 50, "120": 100, "180": 200, "240": 300, "max": 500},
		},
	}
}

func (f *fakeWorkStorage) InitUser(ctx context.Context, chatID, userID int64, nickname string) error {
	return nil
}

func (f *fakeWorkStorage) BusinessDate(ctx context.Context, chatID int64) time.Time {
	return clock.Today()
}

func (f *fakeWorkStorage) GroupWorkTime(ctx context.Context, chatID int64) (model.WorkHours, error) {
	return f.hours, nil
}

func (f *fakeWorkStorage) HasWorkRecordInPeriod(ctx context.Context, chatID, userID int64, checkinType string) (bool, error) {
	return f.existing[checkinType], nil
}

func (f *fakeWorkStorage) AddWorkRecord(ctx context.Context, rec *model.WorkRecord) error {
	f.records = append(f.records, rec)
	f.existing[rec.CheckinType] = true
	return nil
}

func (f *fakeWorkStorage) WorkFineRatesForType(ctx context.Context, checkinType string) (map[string]int64, error) {
	return f.workFines[checkinType], nil
}

var officeHours = model.WorkHours{Start: "09:00", End: "18:00"}

// workServiceAt pins the service clock to a fixed instant so lateness
// does not depend on when the test runs.
func workServiceAt(f *fakeWorkStorage, hh, mm int) *WorkService {
	s := NewWorkService(f)
	s.now = func() time.Time {
		return time.Date(2025, time.March, 10, hh, mm, 0, 0, clock.Location)
	}
	return s
}

func TestCheckinRejectsUnknownType(t *testing.T) {
	s := workServiceAt(newFakeWorkStorage(officeHours), 9, 0)
	_, err := s.Checkin(context.Background(), 1, 10, "alice", "lunch")
	assert.ErrorIs(t, err, ErrUnknownCheckin)
}

func TestCheckinOncePerPeriod(t *testing.T) {
	f := newFakeWorkStorage(officeHours)
	s := workServiceAt(f, 8, 30)

	_, err := s.Checkin(context.Background(), 1, 10, "alice", model.CheckinWorkStart)
	require.NoError(t, err)

	_, err = s.Checkin(context.Background(), 1, 10, "alice", model.CheckinWorkStart)
	assert.ErrorIs(t, err, ErrAlreadyCheckedIn)
	assert.Len(t, f.records, 1)
}

func TestCheckinOnTimeStart(t *testing.T) {
	f := newFakeWorkStorage(officeHours)
	s := workServiceAt(f, 8, 30)

	res, err := s.Checkin(context.Background(), 1, 10, "alice", model.CheckinWorkStart)
	require.NoError(t, err)
	assert.Equal(t, model.WorkStatusOnTime, res.Status)
	assert.Zero(t, res.Fine)
	assert.Zero(t, res.DiffMinutes)

	require.Len(t, f.records, 1)
	assert.Equal(t, model.WorkStatusOnTime, f.records[0].Status)
	assert.True(t, f.records[0].RecordDate.Equal(clock.Today()))
}

func TestCheckinLateStartFine(t *testing.T) {
	// Clocking in at 10:30 against a 09:00 start: 90 minutes late,
	// second fine tier.
	f := newFakeWorkStorage(officeHours)
	s := workServiceAt(f, 10, 30)

	res, err := s.Checkin(context.Background(), 1, 10, "alice", model.CheckinWorkStart)
	require.NoError(t, err)
	assert.Equal(t, model.WorkStatusLate, res.Status)
	assert.InDelta(t, 90, res.DiffMinutes, 0.01)
	assert.Equal(t, int64(100), res.Fine)
	require.Len(t, f.records, 1)
	assert.Equal(t, int64(100), f.records[0].FineAmount)
	assert.Equal(t, "10:30", f.records[0].CheckinTime)
}

func TestCheckinEarlyLeaveFine(t *testing.T) {
	// Leaving at 13:00 against an 18:00 end: 300 minutes early, beyond
	// every tier, so the max amount applies.
	f := newFakeWorkStorage(officeHours)
	s := workServiceAt(f, 13, 0)

	res, err := s.Checkin(context.Background(), 1, 10, "alice", model.CheckinWorkEnd)
	require.NoError(t, err)
	assert.Equal(t, model.WorkStatusEarly, res.Status)
	assert.InDelta(t, 300, res.DiffMinutes, 0.01)
	assert.Equal(t, int64(500), res.Fine)
}

func TestEvaluateCheckinBoundaries(t *testing.T) {
	at := func(hh, mm int) time.Time {
		return time.Date(2025, time.March, 10, hh, mm, 0, 0, clock.Location)
	}
	hours := model.WorkHours{Start: "09:00", End: "18:00"}

	cases := []struct {
		kind   string
		now    time.Time
		status string
		diff   float64
	}{
		{model.CheckinWorkStart, at(8, 59), model.WorkStatusOnTime, 0},
		{model.CheckinWorkStart, at(9, 0), model.WorkStatusOnTime, 0},
		{model.CheckinWorkStart, at(9, 45), model.WorkStatusLate, 45},
		{model.CheckinWorkEnd, at(18, 0), model.WorkStatusOnTime, 0},
		{model.CheckinWorkEnd, at(19, 30), model.WorkStatusOnTime, 0},
		{model.CheckinWorkEnd, at(17, 15), model.WorkStatusEarly, 45},
	}
	for i, c := range cases {
		res, err := evaluateCheckin(c.kind, c.now, hours)
		require.NoError(t, err, "case %d", i)
		assert.Equal(t, c.status, res.Status, "case %d", i)
		assert.InDelta(t, c.diff, res.DiffMinutes, 0.01, "case %d", i)
	}
}

func TestEvaluateCheckinBadHours(t *testing.T) {
	_, err := evaluateCheckin(model.CheckinWorkStart, clock.Now(), model.WorkHours{Start: "nine", End: "18:00"})
	assert.ErrorIs(t, err, ErrWorkTimeUnset)
}

func TestParseClockTime(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"09:00", 540, false},
		{"00:00", 0, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"noon", 0, true},
		{"", 0, true},
	}
	for _, c := range cases {
		got, err := parseClockTime(c.in)
		if c.wantErr {
			assert.Error(t, err, fmt.Sprintf("input %q", c.in))
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "input %q", c.in)
	}
}
