package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/okoshkin/checkin-bot/internal/clock"
	"github.com/okoshkin/checkin-bot/internal/model"
)

// statRow is one aggregated statistics row before reshaping into
// per-user summaries.
type statRow struct {
	UserID   int64
	Nickname string
	Name     string
	Count    int
	Time     int64
	WorkDays int
}

// GroupStatistics returns every user's reshaped totals for one business
// date. A zero date means the group's current business date. Summing
// over the soft-reset flag keeps archived and re-accumulated rows in
// one figure.
func (r *Repository) GroupStatistics(ctx context.Context, chatID int64, date time.Time) ([]*model.UserDailySummary, error) {
	if date.IsZero() {
		date = r.BusinessDate(ctx, chatID)
	}
	rows, err := r.db().Query(ctx, `
		SELECT d.user_id, COALESCE(u.nickname, ''), d.activity_name,
		       SUM(d.activity_count), SUM(d.accumulated_time)
		FROM daily_statistics d
		LEFT JOIN users u ON u.chat_id = d.chat_id AND u.user_id = d.user_id
		WHERE d.chat_id = $1 AND d.statistic_date = $2
		GROUP BY d.user_id, u.nickname, d.activity_name
		ORDER BY d.user_id`, chatID, clock.DateOnly(date))
	if err != nil {
		return nil, fmt.Errorf("group statistics: %w", err)
	}
	defer rows.Close()

	var stats []statRow
	for rows.Next() {
		var row statRow
		if err := rows.Scan(&row.UserID, &row.Nickname, &row.Name, &row.Count, &row.Time); err != nil {
			return nil, fmt.Errorf("scan statistics row: %w", err)
		}
		stats = append(stats, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	limits, err := r.ActivityLimits(ctx)
	if err != nil {
		return nil, err
	}
	return buildDailySummaries(stats, activityNames(limits)), nil
}

// buildDailySummaries folds raw statistics rows into per-user summaries,
// routing the synthetic metric rows into their dedicated fields and
// backfilling zero entries for configured activities the user never ran.
func buildDailySummaries(stats []statRow, configured []string) []*model.UserDailySummary {
	byUser := map[int64]*model.UserDailySummary{}
	var order []int64
	for _, row := range stats {
		s := byUser[row.UserID]
		if s == nil {
			s = &model.UserDailySummary{
				UserID:     row.UserID,
				Nickname:   row.Nickname,
				Activities: map[string]model.ActivityTotals{},
			}
			byUser[row.UserID] = s
			order = append(order, row.UserID)
		}
		switch model.StatKind(row.Name) {
		case model.StatTotalFines, model.StatWorkFine:
			s.TotalFines += row.Time
		case model.StatOvertimeCount:
			s.OvertimeCount += row.Count
		case model.StatOvertimeTime:
			s.TotalOvertimeTime += row.Time
		case model.StatWorkDays:
			s.WorkDays += row.Count
		case model.StatWorkHours:
			s.WorkHours += row.Time
		default:
			s.Activities[row.Name] = model.ActivityTotals{Count: row.Count, Time: row.Time}
			s.TotalActivityCount += row.Count
			s.TotalAccumulatedTime += row.Time
		}
	}

	summaries := make([]*model.UserDailySummary, 0, len(order))
	for _, id := range order {
		s := byUser[id]
		for _, name := range configured {
			if _, ok := s.Activities[name]; !ok {
				s.Activities[name] = model.ActivityTotals{}
			}
		}
		summaries = append(summaries, s)
	}
	return summaries
}

// MonthlyStatistics returns every user's reshaped totals for one
// calendar month, work record totals included. The work-day and
// work-hour figures come from the synthetic monthly rows; per-type shift
// counts and fines come from work_records directly.
func (r *Repository) MonthlyStatistics(ctx context.Context, chatID int64, month time.Time) ([]*model.UserMonthlySummary, error) {
	monthStart := clock.MonthStart(month)
	rows, err := r.db().Query(ctx, `
		SELECT m.user_id, COALESCE(u.nickname, ''), m.activity_name,
		       SUM(m.activity_count), SUM(m.accumulated_time), SUM(m.work_days)
		FROM monthly_statistics m
		LEFT JOIN users u ON u.chat_id = m.chat_id AND u.user_id = m.user_id
		WHERE m.chat_id = $1 AND m.statistic_date = $2
		GROUP BY m.user_id, u.nickname, m.activity_name
		ORDER BY m.user_id`, chatID, monthStart)
	if err != nil {
		return nil, fmt.Errorf("monthly statistics: %w", err)
	}
	defer rows.Close()

	var stats []statRow
	for rows.Next() {
		var row statRow
		if err := rows.Scan(&row.UserID, &row.Nickname, &row.Name, &row.Count, &row.Time, &row.WorkDays); err != nil {
			return nil, fmt.Errorf("scan monthly row: %w", err)
		}
		stats = append(stats, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	summaries := buildMonthlySummaries(stats)
	if len(summaries) == 0 {
		return summaries, nil
	}

	work, err := r.monthlyWorkTotals(ctx, chatID, monthStart)
	if err != nil {
		return nil, err
	}
	for _, s := range summaries {
		if w, ok := work[s.UserID]; ok {
			s.WorkStats = w
		}
	}
	return summaries, nil
}

func buildMonthlySummaries(stats []statRow) []*model.UserMonthlySummary {
	byUser := map[int64]*model.UserMonthlySummary{}
	var order []int64
	for _, row := range stats {
		s := byUser[row.UserID]
		if s == nil {
			s = &model.UserMonthlySummary{
				UserID:     row.UserID,
				Nickname:   row.Nickname,
				Activities: map[string]model.ActivityTotals{},
				WorkStats:  map[string]model.WorkTypeTotals{},
			}
			byUser[row.UserID] = s
			order = append(order, row.UserID)
		}
		switch model.StatKind(row.Name) {
		case model.StatTotalFines, model.StatWorkFine:
			s.TotalFines += row.Time
		case model.StatOvertimeCount:
			s.OvertimeCount += row.Count
		case model.StatOvertimeTime:
			s.TotalOvertimeTime += row.Time
		case model.StatWorkDays:
			s.WorkDays += row.WorkDays
		case model.StatWorkHours:
			s.WorkHours += row.Time
		default:
			s.Activities[row.Name] = model.ActivityTotals{Count: row.Count, Time: row.Time}
			s.TotalActivityCount += row.Count
			s.TotalAccumulatedTime += row.Time
		}
	}
	summaries := make([]*model.UserMonthlySummary, 0, len(order))
	for _, id := range order {
		summaries = append(summaries, byUser[id])
	}
	return summaries
}

// monthlyWorkTotals aggregates shift counts and fines per user and
// check-in type for one month.
func (r *Repository) monthlyWorkTotals(ctx context.Context, chatID int64, monthStart time.Time) (map[int64]map[string]model.WorkTypeTotals, error) {
	rows, err := r.db().Query(ctx, `
		SELECT user_id, checkin_type, COUNT(*), COALESCE(SUM(fine_amount), 0)
		FROM work_records
		WHERE chat_id = $1 AND record_date >= $2 AND record_date < $3
		GROUP BY user_id, checkin_type`,
		chatID, monthStart, monthStart.AddDate(0, 1, 0))
	if err != nil {
		return nil, fmt.Errorf("monthly work totals: %w", err)
	}
	defer rows.Close()
	totals := map[int64]map[string]model.WorkTypeTotals{}
	for rows.Next() {
		var userID int64
		var checkinType string
		var t model.WorkTypeTotals
		if err := rows.Scan(&userID, &checkinType, &t.Count, &t.Fines); err != nil {
			return nil, fmt.Errorf("scan work totals: %w", err)
		}
		if totals[userID] == nil {
			totals[userID] = map[string]model.WorkTypeTotals{}
		}
		totals[userID][checkinType] = t
	}
	return totals, rows.Err()
}

// MonthlyWorkStatistics summarizes one month's shift discipline per
// user: per-type counts and fines plus the average lateness of starts
// and early leave of ends, in minutes.
func (r *Repository) MonthlyWorkStatistics(ctx context.Context, chatID int64, month time.Time) ([]*model.MonthlyWorkSummary, error) {
	monthStart := clock.MonthStart(month)
	rows, err := r.db().Query(ctx, `
		SELECT w.user_id, COALESCE(u.nickname, ''), w.checkin_type,
		       COUNT(*), COALESCE(SUM(w.fine_amount), 0),
		       COALESCE(AVG(CASE WHEN w.status = $4 THEN w.time_diff_minutes END), 0),
		       COALESCE(AVG(CASE WHEN w.status = $5 THEN w.time_diff_minutes END), 0)
		FROM work_records w
		LEFT JOIN users u ON u.chat_id = w.chat_id AND u.user_id = w.user_id
		WHERE w.chat_id = $1 AND w.record_date >= $2 AND w.record_date < $3
		GROUP BY w.user_id, u.nickname, w.checkin_type
		ORDER BY w.user_id`,
		chatID, monthStart, monthStart.AddDate(0, 1, 0),
		model.WorkStatusLate, model.WorkStatusEarly)
	if err != nil {
		return nil, fmt.Errorf("monthly work statistics: %w", err)
	}
	defer rows.Close()

	byUser := map[int64]*model.MonthlyWorkSummary{}
	var order []int64
	for rows.Next() {
		var userID int64
		var nickname, checkinType string
		var count int
		var fines int64
		var avgLate, avgEarly float64
		if err := rows.Scan(&userID, &nickname, &checkinType, &count, &fines, &avgLate, &avgEarly); err != nil {
			return nil, fmt.Errorf("scan work summary: %w", err)
		}
		s := byUser[userID]
		if s == nil {
			s = &model.MonthlyWorkSummary{UserID: userID, Nickname: nickname}
			byUser[userID] = s
			order = append(order, userID)
		}
		switch checkinType {
		case model.CheckinWorkStart:
			s.WorkStartCount = count
			s.WorkStartFines = fines
			s.AvgWorkStartLate = avgLate
		case model.CheckinWorkEnd:
			s.WorkEndCount = count
			s.WorkEndFines = fines
			s.AvgWorkEndEarly = avgEarly
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	summaries := make([]*model.MonthlyWorkSummary, 0, len(order))
	for _, id := range order {
		summaries = append(summaries, byUser[id])
	}
	return summaries, nil
}

// MonthlyActivityRanking returns the top users per configured activity
// for one month, ordered by accumulated time.
func (r *Repository) MonthlyActivityRanking(ctx context.Context, chatID int64, month time.Time, topN int) (map[string][]*model.RankEntry, error) {
	if topN <= 0 {
		topN = 10
	}
	monthStart := clock.MonthStart(month)
	limits, err := r.ActivityLimits(ctx)
	if err != nil {
		return nil, err
	}

	ranking := map[string][]*model.RankEntry{}
	for _, activity := range activityNames(limits) {
		rows, err := r.db().Query(ctx, `
			SELECT m.user_id, COALESCE(u.nickname, ''),
			       SUM(m.accumulated_time), SUM(m.activity_count)
			FROM monthly_statistics m
			LEFT JOIN users u ON u.chat_id = m.chat_id AND u.user_id = m.user_id
			WHERE m.chat_id = $1 AND m.statistic_date = $2 AND m.activity_name = $3
			GROUP BY m.user_id, u.nickname
			HAVING SUM(m.accumulated_time) > 0
			ORDER BY SUM(m.accumulated_time) DESC
			LIMIT $4`, chatID, monthStart, activity, topN)
		if err != nil {
			return nil, fmt.Errorf("ranking for %q: %w", activity, err)
		}
		var entries []*model.RankEntry
		for rows.Next() {
			var e model.RankEntry
			if err := rows.Scan(&e.UserID, &e.Nickname, &e.TotalTime, &e.TotalCount); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan rank entry: %w", err)
			}
			entries = append(entries, &e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		if len(entries) > 0 {
			ranking[activity] = entries
		}
	}
	return ranking, nil
}

// DailyRankData returns today's leaderboard for one activity: the top
// finishers by accumulated time followed by users whose run is still in
// progress, carrying their start timestamps instead of totals.
func (r *Repository) DailyRankData(ctx context.Context, chatID int64, activity string, topN int) ([]*model.RankEntry, error) {
	if topN <= 0 {
		topN = 5
	}
	today := r.BusinessDate(ctx, chatID)

	rows, err := r.db().Query(ctx, `
		SELECT d.user_id, COALESCE(u.nickname, ''),
		       SUM(d.accumulated_time), SUM(d.activity_count)
		FROM daily_statistics d
		LEFT JOIN users u ON u.chat_id = d.chat_id AND u.user_id = d.user_id
		WHERE d.chat_id = $1 AND d.statistic_date = $2 AND d.activity_name = $3
		GROUP BY d.user_id, u.nickname
		HAVING SUM(d.accumulated_time) > 0
		ORDER BY SUM(d.accumulated_time) DESC
		LIMIT $4`, chatID, today, activity, topN)
	if err != nil {
		return nil, fmt.Errorf("daily rank: %w", err)
	}
	var entries []*model.RankEntry
	seen := map[int64]bool{}
	for rows.Next() {
		var e model.RankEntry
		if err := rows.Scan(&e.UserID, &e.Nickname, &e.TotalTime, &e.TotalCount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan daily rank: %w", err)
		}
		seen[e.UserID] = true
		entries = append(entries, &e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	active, err := r.db().Query(ctx, `
		SELECT user_id, COALESCE(nickname, ''), activity_start_time
		FROM users WHERE chat_id = $1 AND current_activity = $2`, chatID, activity)
	if err != nil {
		return nil, fmt.Errorf("active users: %w", err)
	}
	defer active.Close()
	for active.Next() {
		var e model.RankEntry
		var startText *string
		if err := active.Scan(&e.UserID, &e.Nickname, &startText); err != nil {
			return nil, fmt.Errorf("scan active user: %w", err)
		}
		if seen[e.UserID] {
			continue
		}
		e.Active = true
		e.ActivityStartTime = parseStartTime(startText)
		entries = append(entries, &e)
	}
	return entries, active.Err()
}

func activityNames(limits map[string]model.ActivityLimit) []string {
	names := make([]string, 0, len(limits))
	for name := range limits {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
