package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/okoshkin/checkin-bot/internal/config"
	"github.com/okoshkin/checkin-bot/internal/repository"
	"github.com/okoshkin/checkin-bot/internal/service"
)

// App wires the repository, the workflow services and the maintenance
// scheduler together and owns the process lifecycle.
type App struct {
	cfg     *config.Config
	repo    *repository.Repository
	checkin *service.CheckinService
	work    *service.WorkService
	reports *service.ReportService
	admin   *service.AdminService
}

func New(cfg *config.Config, repo *repository.Repository) *App {
	return &App{
		cfg:     cfg,
		repo:    repo,
		checkin: service.NewCheckinService(repo),
		work:    service.NewWorkService(repo),
		reports: service.NewReportService(repo),
		admin:   service.NewAdminService(repo, config.DefaultActivityFines()),
	}
}

func (a *App) Checkin() *service.CheckinService { return a.checkin }
func (a *App) Work() *service.WorkService { return a.work }
func (a *App) Reports() *service.ReportService { return a.reports }
func (a *App) Admin() *service.AdminService { return a.admin }

// Run starts the scheduled maintenance jobs and blocks until the
// process receives an interrupt.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler, err := a.startScheduler(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			log.Printf("scheduler shutdown: %v", err)
		}
	}()

	log.Println("check-in engine started")
	<-ctx.Done()
	log.Println("shutting down")
	return nil
}

// startScheduler registers the recurring jobs: the daily rollover at
// the configured reset time, retention and inactive-user cleanup once a
// day, a cache sweep every five minutes and a connection probe every
// minute that reconnects on failure.
func (a *App) startScheduler(ctx context.Context) (gocron.Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(
			gocron.NewAtTime(uint(a.cfg.ResetHour), uint(a.cfg.ResetMinute), 0),
		)),
		gocron.NewTask(func() { a.reports.RolloverAll(ctx) }),
		gocron.WithName("daily-rollover"),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule rollover: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(3, 30, 0))),
		gocron.NewTask(func() {
			a.repo.SafeCleanupOldData(ctx, a.cfg.RetentionDays)
			if n, err := a.repo.CleanupInactiveUsers(ctx, a.cfg.InactiveUserDays); err != nil {
				log.Printf("inactive user cleanup: %v", err)
			} else if n > 0 {
				log.Printf("removed %d inactive users", n)
			}
		}),
		gocron.WithName("retention"),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule retention: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(5*time.Minute),
		gocron.NewTask(func() {
			if n := a.repo.SweepCache(); n > 0 {
				log.Printf("cache sweep removed %d entries", n)
			}
		}),
		gocron.WithName("cache-sweep"),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule cache sweep: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(time.Minute),
		gocron.NewTask(func() {
			if a.repo.HealthCheck(ctx) {
				return
			}
			log.Println("health check failed, reconnecting")
			if !a.repo.Reconnect(ctx) {
				log.Println("reconnect failed, will retry on next probe")
			}
		}),
		gocron.WithName("health-probe"),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule health probe: %w", err)
	}

	scheduler.Start()
	return scheduler, nil
}
