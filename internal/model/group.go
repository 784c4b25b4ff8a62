package model

import "time"

// Group stores per-chat settings. A row is created on the first
// interaction with a chat and never deleted.
type Group struct {
	ChatID              int64
	ChannelID           *int64
	NotificationGroupID *int64
	ResetHour           int
	ResetMinute         int
	WorkStartTime       string
	WorkEndTime         string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// WorkHours is the pair of expected clock-in/clock-out times ("HH:MM").
type WorkHours struct {
	Start string
	End   string
}
