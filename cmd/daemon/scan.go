package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/optionflow/internal/notify"
	"github.com/dgnsrekt/optionflow/internal/scanner"
	"github.com/dgnsrekt/optionflow/internal/scheduler"
	"github.com/dgnsrekt/optionflow/internal/service"
)

// ScanTracker persists the last session date scanned successfully.
type ScanTracker struct {
	stateFile string
}

func NewScanTracker(stateFile string) *ScanTracker {
	return &ScanTracker{stateFile: stateFile}
}

// LastScanDate returns "" when nothing has been recorded.
func (t *ScanTracker) LastScanDate() string {
	data, err := os.ReadFile(t.stateFile)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (t *ScanTracker) SetLastScanDate(date string) error {
	dir := filepath.Dir(t.stateFile)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	return os.WriteFile(t.stateFile, []byte(date+"\n"), 0600)
}

func (t *ScanTracker) AlreadyScanned(date string) bool {
	return t.LastScanDate() == date
}

// FlowScanner is satisfied by *service.Flow.
type FlowScanner interface {
	Scan(ctx context.Context, req scanner.Request) (*service.Report, error)
}

// Job runs one end-of-day scan and reports it.
type Job struct {
	flow     FlowScanner
	notifier notify.Notifier
	tracker  *ScanTracker
	tickers  []string
	logger   *zap.Logger

	lastFailure time.Time
}

// Run scans the configured tickers at background priority. The tracker
// only advances when at least one underlying succeeded, so a fully
// failed run is retried on the next tick.
func (j *Job) Run(ctx context.Context, date string) error {
	j.logger.Info("starting scheduled scan",
		zap.String("date", date),
		zap.Int("tickers", len(j.tickers)),
	)
	start := time.Now()

	ctx = scheduler.WithPriority(ctx, scheduler.Background)
	report, err := j.flow.Scan(ctx, scanner.Request{Symbols: j.tickers})
	duration := time.Since(start)

	if err != nil {
		j.logger.Error("scan failed", zap.Error(err), zap.String("date", date))
		if nerr := j.notifier.SendFailure(ctx, report, date, duration, err); nerr != nil {
			j.logger.Warn("failed to send failure notification", zap.Error(nerr))
		}
		return err
	}

	if report.Batch != nil {
		for _, e := range report.Batch.Errors {
			j.logger.Warn("underlying failed", zap.String("error", e))
		}
	}
	j.logger.Info("scan succeeded",
		zap.String("date", date),
		zap.Int("qualifying", len(report.Trades)),
		zap.Int("combos", len(report.Combos)),
		zap.Float64("premium", report.Summary.TotalPremium),
		zap.Duration("duration", duration),
	)

	if nerr := j.notifier.SendSuccess(ctx, report, date, duration); nerr != nil {
		j.logger.Warn("failed to send success notification", zap.Error(nerr))
	}

	if err := j.tracker.SetLastScanDate(date); err != nil {
		j.logger.Error("failed to update tracker", zap.Error(err))
	}
	return nil
}
