package service

import (
	"context"
	"log"
	"time"

	"github.com/okoshkin/checkin-bot/internal/clock"
	"github.com/okoshkin/checkin-bot/internal/model"
	"github.com/okoshkin/checkin-bot/internal/repository"
)

// ReportStorage is the part of the repository the reporting and
// maintenance workflows use.
type ReportStorage interface {
	AllGroups(ctx context.Context) []int64
	GroupStatistics(ctx context.Context, chatID int64, date time.Time) ([]*model.UserDailySummary, error)
	MonthlyStatistics(ctx context.Context, chatID int64, month time.Time) ([]*model.UserMonthlySummary, error)
	MonthlyWorkStatistics(ctx context.Context, chatID int64, month time.Time) ([]*model.MonthlyWorkSummary, error)
	MonthlyActivityRanking(ctx context.Context, chatID int64, month time.Time, topN int) (map[string][]*model.RankEntry, error)
	DailyRankData(ctx context.Context, chatID int64, activity string, topN int) ([]*model.RankEntry, error)
	PushSettings(ctx context.Context) (map[string]bool, error)
	SoftResetGroup(ctx context.Context, chatID int64, mode repository.ResetMode) bool
}

// ReportService assembles group summaries and drives the scheduled
// daily rollover.
type ReportService struct {
	storage ReportStorage
}

func NewReportService(storage ReportStorage) *ReportService {
	return &ReportService{storage: storage}
}

// DailySummary returns today's totals for a group.
func (s *ReportService) DailySummary(ctx context.Context, chatID int64) ([]*model.UserDailySummary, error) {
	return s.storage.GroupStatistics(ctx, chatID, time.Time{})
}

// MonthlyReport returns the current month's totals for a group.
func (s *ReportService) MonthlyReport(ctx context.Context, chatID int64) ([]*model.UserMonthlySummary, error) {
	return s.storage.MonthlyStatistics(ctx, chatID, clock.Today())
}

// MonthlyWorkReport returns the current month's shift discipline for a
// group.
func (s *ReportService) MonthlyWorkReport(ctx context.Context, chatID int64) ([]*model.MonthlyWorkSummary, error) {
	return s.storage.MonthlyWorkStatistics(ctx, chatID, clock.Today())
}

// Ranking returns the current month's per-activity leaderboards.
func (s *ReportService) Ranking(ctx context.Context, chatID int64) (map[string][]*model.RankEntry, error) {
	return s.storage.MonthlyActivityRanking(ctx, chatID, clock.Today(), 10)
}

// DailyRank returns today's leaderboard for one activity.
func (s *ReportService) DailyRank(ctx context.Context, chatID int64, activity string) ([]*model.RankEntry, error) {
	return s.storage.DailyRankData(ctx, chatID, activity, 5)
}

// RolloverAll archives the finished day for every known group. The
// archive keeps the day's rows under the soft-reset flag so monthly
// sums stay intact. Failures are logged per group and never stop the
// sweep.
func (s *ReportService) RolloverAll(ctx context.Context) {
	groups := s.storage.AllGroups(ctx)
	if len(groups) == 0 {
		return
	}
	settings, err := s.storage.PushSettings(ctx)
	if err != nil {
		log.Printf("rollover: push settings: %v", err)
		settings = map[string]bool{}
	}
	for _, chatID := range groups {
		if settings["daily_summary"] {
			if summary, err := s.storage.GroupStatistics(ctx, chatID, time.Time{}); err != nil {
				log.Printf("rollover: summary for %d: %v", chatID, err)
			} else {
				log.Printf("rollover: group %d closed the day with %d active users", chatID, len(summary))
			}
		}
		if !s.storage.SoftResetGroup(ctx, chatID, repository.ResetSoft) {
			log.Printf("rollover: soft reset failed for group %d", chatID)
		}
	}
}
