package model

// ActivityLimit is the per-day occurrence cap and the single-run time
// limit (minutes) for one activity.
type ActivityLimit struct {
	MaxTimes  int `json:"max_times"`
	TimeLimit int `json:"time_limit"`
}
