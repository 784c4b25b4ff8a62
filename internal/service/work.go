package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/okoshkin/checkin-bot/internal/clock"
	"github.com/okoshkin/checkin-bot/internal/fines"
	"github.com/okoshkin/checkin-bot/internal/model"
)

var (
	ErrAlreadyCheckedIn = errors.New("already checked in this period")
	ErrUnknownCheckin   = errors.New("unknown check-in type")
	ErrWorkTimeUnset    = errors.New("work hours are not configured for this group")
)

// WorkStorage is the part of the repository the shift check-in workflow
// uses.
type WorkStorage interface {
	InitUser(ctx context.Context, chatID, userID int64, nickname string) error
	BusinessDate(ctx context.Context, chatID int64) time.Time
	GroupWorkTime(ctx context.Context, chatID int64) (model.WorkHours, error)
	HasWorkRecordInPeriod(ctx context.Context, chatID, userID int64, checkinType string) (bool, error)
	AddWorkRecord(ctx context.Context, rec *model.WorkRecord) error
	WorkFineRatesForType(ctx context.Context, checkinType string) (map[string]int64, error)
}

// WorkService handles shift clock-in and clock-out: it compares the
// check-in instant against the group's configured work hours, decides
// late/early status and the fine, and persists the record keyed on the
// business date.
type WorkService struct {
	storage WorkStorage
	now     func() time.Time
}

func NewWorkService(storage WorkStorage) *WorkService {
	return &WorkService{storage: storage, now: clock.Now}
}

// WorkResult describes a settled shift check-in.
type WorkResult struct {
	CheckinType string
	CheckinTime string
	Status      string
	DiffMinutes float64
	Fine        int64
}

// Checkin records a work_start or work_end for the user. One record of
// each type per reset period; a repeat returns ErrAlreadyCheckedIn.
func (s *WorkService) Checkin(ctx context.Context, chatID, userID int64, nickname, checkinType string) (*WorkResult, error) {
	if checkinType != model.CheckinWorkStart && checkinType != model.CheckinWorkEnd {
		return nil, ErrUnknownCheckin
	}

	done, err := s.storage.HasWorkRecordInPeriod(ctx, chatID, userID, checkinType)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, ErrAlreadyCheckedIn
	}

	hours, err := s.storage.GroupWorkTime(ctx, chatID)
	if err != nil {
		return nil, err
	}

	result, err := evaluateCheckin(checkinType, s.now(), hours)
	if err != nil {
		return nil, err
	}

	if result.Status != model.WorkStatusOnTime {
		rates, err := s.storage.WorkFineRatesForType(ctx, checkinType)
		if err != nil {
			return nil, err
		}
		result.Fine = fines.Parse(rates).Lookup(result.DiffMinutes)
	}

	if err := s.storage.InitUser(ctx, chatID, userID, nickname); err != nil {
		return nil, err
	}
	rec := &model.WorkRecord{
		ChatID:          chatID,
		UserID:          userID,
		RecordDate:      s.storage.BusinessDate(ctx, chatID),
		CheckinType:     checkinType,
		CheckinTime:     result.CheckinTime,
		Status:          result.Status,
		TimeDiffMinutes: result.DiffMinutes,
		FineAmount:      result.Fine,
	}
	if err := s.storage.AddWorkRecord(ctx, rec); err != nil {
		return nil, err
	}
	return result, nil
}

// evaluateCheckin compares the check-in instant with the configured
// shift boundary. For work_start a positive diff means late; for
// work_end a positive diff means leaving early. On-time check-ins carry
// a zero diff.
func evaluateCheckin(checkinType string, now time.Time, hours model.WorkHours) (*WorkResult, error) {
	boundary := hours.Start
	if checkinType == model.CheckinWorkEnd {
		boundary = hours.End
	}
	boundaryMin, err := parseClockTime(boundary)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkTimeUnset, err)
	}

	local := now.In(clock.Location)
	nowMin := float64(local.Hour()*60+local.Minute()) + float64(local.Second())/60

	result := &WorkResult{
		CheckinType: checkinType,
		CheckinTime: local.Format("15:04"),
		Status:      model.WorkStatusOnTime,
	}
	switch checkinType {
	case model.CheckinWorkStart:
		if diff := nowMin - float64(boundaryMin); diff > 0 {
			result.Status = model.WorkStatusLate
			result.DiffMinutes = diff
		}
	case model.CheckinWorkEnd:
		if diff := float64(boundaryMin) - nowMin; diff > 0 {
			result.Status = model.WorkStatusEarly
			result.DiffMinutes = diff
		}
	}
	return result, nil
}

// parseClockTime turns "HH:MM" into minutes after midnight.
func parseClockTime(v string) (int, error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("bad clock time %q", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("bad clock time %q", v)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("bad clock time %q", v)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock time %q out of range", v)
	}
	return h*60 + m, nil
}
