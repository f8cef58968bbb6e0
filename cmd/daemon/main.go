package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/dgnsrekt/optionflow/internal/app"
	"github.com/dgnsrekt/optionflow/internal/config"
	"github.com/dgnsrekt/optionflow/internal/notify"
)

const (
	checkInterval = time.Minute
	retryDelay    = 15 * time.Minute
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	cfg, err := config.Load(os.Getenv("OPTIONFLOW_CONFIG"))
	if err != nil {
		logger.Error("failed to load config", zap.Error(err))
		return 1
	}
	d := cfg.Daemon

	logger.Info("daemon configuration loaded",
		zap.Int("scheduleHour", d.ScheduleHour),
		zap.Int("scheduleMinute", d.ScheduleMinute),
		zap.String("timezone", d.Timezone),
		zap.String("stateFile", d.StateFile),
		zap.Bool("runOnStartup", d.RunOnStartup),
		zap.Int("tickers", len(cfg.Tickers)),
		zap.Bool("notify", cfg.Notify.Enabled),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build services", zap.Error(err))
		return 1
	}
	defer func() { _ = a.Close() }()
	a.Start(ctx)

	sched := NewScheduler(d.ScheduleHour, d.ScheduleMinute, d.Timezone, a.Calendar)
	tracker := NewScanTracker(d.StateFile)
	job := &Job{
		flow:     a.Flow,
		notifier: notify.New(cfg.Notify, logger),
		tracker:  tracker,
		tickers:  cfg.Tickers,
		logger:   logger,
	}

	logger.Info("daemon started",
		zap.String("schedule", fmt.Sprintf("%02d:%02d %s", d.ScheduleHour, d.ScheduleMinute, d.Timezone)),
	)

	if d.RunOnStartup {
		logger.Info("checking for missed scan on startup")
		runIfDue(ctx, sched, tracker, job, logger)
	}

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("received shutdown signal")
			return 0
		case <-ticker.C:
			runIfDue(ctx, sched, tracker, job, logger)
		}
	}
}

// shouldScan checks if conditions are met for triggering today's scan.
func shouldScan(sched *Scheduler, tracker *ScanTracker, logger *zap.Logger) bool {
	today := sched.TodayDate()

	if tracker.AlreadyScanned(today) {
		return false
	}

	if !sched.IsMarketDay() {
		logger.Debug("not a market day", zap.String("date", today))
		return false
	}

	if !sched.Due() {
		return false
	}

	logger.Info("scan conditions met",
		zap.String("date", today),
		zap.String("time", time.Now().In(sched.Location()).Format("15:04:05")),
	)
	return true
}

func runIfDue(ctx context.Context, sched *Scheduler, tracker *ScanTracker, job *Job, logger *zap.Logger) {
	if time.Since(job.lastFailure) < retryDelay {
		return
	}
	if !shouldScan(sched, tracker, logger) {
		return
	}
	if err := job.Run(ctx, sched.TodayDate()); err != nil {
		job.lastFailure = time.Now()
	}
}
