package model

import "time"

// StatKind names a row in the daily/monthly statistics tables. Ordinary
// check-in activities share the table with a small set of synthetic
// kinds that carry cross-cutting metrics (fines, overtime, work days)
// in the same row shape.
type StatKind string

const (
	StatTotalFines    StatKind = "total_fines"
	StatOvertimeCount StatKind = "overtime_count"
	StatOvertimeTime  StatKind = "overtime_time"
	StatWorkFine      StatKind = "work_fine"
	StatWorkDays      StatKind = "work_days"
	StatWorkHours     StatKind = "work_hours"
)

// ActivityStat tags a plain activity name as a statistics row key.
func ActivityStat(name string) StatKind { return StatKind(name) }

var syntheticKinds = map[StatKind]bool{
	StatTotalFines:    true,
	StatOvertimeCount: true,
	StatOvertimeTime:  true,
	StatWorkFine:      true,
	StatWorkDays:      true,
	StatWorkHours:     true,
}

// Synthetic reports whether the kind is a reserved metric row rather
// than a real activity.
func (k StatKind) Synthetic() bool { return syntheticKinds[k] }

// SyntheticKinds returns the reserved kinds, for SQL NOT IN filters.
func SyntheticKinds() []string {
	return []string{
		string(StatTotalFines),
		string(StatOvertimeCount),
		string(StatOvertimeTime),
		string(StatWorkFine),
		string(StatWorkDays),
		string(StatWorkHours),
	}
}

// ActivityTotals is the count/time pair accumulated for one activity.
type ActivityTotals struct {
	Count int
	Time  int64
}

// UserDailySummary is one user's reshaped daily statistics: real
// activities keyed by name plus the synthetic metrics split out into
// dedicated fields.
type UserDailySummary struct {
	UserID               int64
	Nickname             string
	Activities           map[string]ActivityTotals
	TotalAccumulatedTime int64
	TotalActivityCount   int
	TotalFines           int64
	OvertimeCount        int
	TotalOvertimeTime    int64
	WorkDays             int
	WorkHours            int64
}

// WorkTypeTotals aggregates work records of one check-in type.
type WorkTypeTotals struct {
	Count int
	Fines int64
}

// UserMonthlySummary mirrors UserDailySummary for a calendar month and
// additionally carries per-type work record totals.
type UserMonthlySummary struct {
	UserID               int64
	Nickname             string
	Activities           map[string]ActivityTotals
	TotalAccumulatedTime int64
	TotalActivityCount   int
	TotalFines           int64
	OvertimeCount        int
	TotalOvertimeTime    int64
	WorkDays             int
	WorkHours            int64
	WorkStats            map[string]WorkTypeTotals
}

// RankEntry is one leaderboard row. Active entries represent users whose
// activity is still running and therefore have no accumulated time yet.
type RankEntry struct {
	UserID            int64
	Nickname          string
	TotalTime         int64
	TotalCount        int
	Active            bool
	ActivityStartTime *time.Time
}

// MonthlyWorkSummary aggregates one user's work records for a month.
type MonthlyWorkSummary struct {
	UserID            int64
	Nickname          string
	WorkStartCount    int
	WorkEndCount      int
	WorkStartFines    int64
	WorkEndFines      int64
	AvgWorkStartLate  float64
	AvgWorkEndEarly   float64
}
