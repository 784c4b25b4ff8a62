package model

import "time"

// Check-in types for work shift records.
const (
	CheckinWorkStart = "work_start"
	CheckinWorkEnd   = "work_end"
)

// Shift check-in status values.
const (
	WorkStatusOnTime = "on_time"
	WorkStatusLate   = "late"
	WorkStatusEarly  = "early"
)

// WorkRecord is one shift clock-in or clock-out. At most one record per
// (chat, user, date, type); a repeated check-in replaces the earlier one.
type WorkRecord struct {
	ChatID          int64
	UserID          int64
	RecordDate      time.Time
	CheckinType     string
	CheckinTime     string
	Status          string
	TimeDiffMinutes float64
	FineAmount      int64
}
