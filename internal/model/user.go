package model

import "time"

// User holds the running per-chat state for one member: the activity in
// progress, today's accumulated totals and the fine/overtime counters.
// Invariant: CurrentActivity and ActivityStartTime are either both set
// or both nil.
type User struct {
	ChatID               int64
	UserID               int64
	Nickname             string
	CurrentActivity      *string
	ActivityStartTime    *time.Time
	TotalAccumulatedTime int64
	TotalActivityCount   int
	TotalFines           int64
	OvertimeCount        int
	TotalOvertimeTime    int64
	CheckinMessageID     *int64
	LastUpdated          time.Time
}

// HasActiveActivity reports whether an activity is in progress.
func (u *User) HasActiveActivity() bool {
	return u != nil && u.CurrentActivity != nil && u.ActivityStartTime != nil
}
