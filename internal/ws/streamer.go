package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/optionflow/internal/flow"
	"github.com/dgnsrekt/optionflow/internal/scanner"
	"github.com/dgnsrekt/optionflow/internal/scheduler"
	"github.com/dgnsrekt/optionflow/internal/service"
	"github.com/dgnsrekt/optionflow/internal/session"
)

// FlowSource runs a scan and emits qualifying trades as they are found.
type FlowSource interface {
	Stream(ctx context.Context, req scanner.Request, emit func(flow.Flagged)) (*service.Report, error)
}

type Windows interface {
	WindowAt(now time.Time) (session.Window, error)
}

// seenRetention bounds how long a delivered trade is remembered.
const seenRetention = 24 * time.Hour

// Streamer rescans subscribed symbols while the session is live and
// broadcasts trades not delivered before. New subscribers get a one-off
// backfill of the session so far.
type Streamer struct {
	hub      *Hub
	source   FlowSource
	windows  Windows
	interval time.Duration
	seen     map[string]time.Time
	mu       sync.Mutex
	now      func() time.Time
	logger   *zap.Logger
}

// NewStreamer creates a new Streamer and installs its backfill on hub.
func NewStreamer(hub *Hub, source FlowSource, windows Windows, interval time.Duration, logger *zap.Logger) (*Streamer, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("stream interval must be > 0, got %s", interval)
	}
	s := &Streamer{
		hub:      hub,
		source:   source,
		windows:  windows,
		interval: interval,
		seen:     make(map[string]time.Time),
		now:      time.Now,
		logger:   logger,
	}
	hub.OnJoin(s.Backfill)
	return s, nil
}

// Run starts the streaming loop. Call in a goroutine.
// Returns when context is cancelled.
func (s *Streamer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("streamer started",
		zap.Duration("interval", s.interval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("streamer stopping")
			return

		case <-ticker.C:
			s.broadcastNext(ctx)
		}
	}
}

// broadcastNext rescans every active group once.
func (s *Streamer) broadcastNext(ctx context.Context) {
	groups := s.hub.GetActiveGroups()
	if len(groups) == 0 {
		return
	}

	window, err := s.windows.WindowAt(s.now())
	if err != nil {
		s.logger.Debug("no session window", zap.Error(err))
		return
	}
	if window.State != session.Live {
		return
	}

	s.prune()
	ctx = scheduler.WithPriority(ctx, scheduler.Feature)
	sent := 0
	report, err := s.source.Stream(ctx, scanner.Request{Symbols: groups}, func(f flow.Flagged) {
		if !s.markSeen(f) {
			return
		}
		msg, err := tradeMessage(f)
		if err != nil {
			s.logger.Debug("failed to build trade message", zap.Error(err))
			return
		}
		s.hub.Broadcast(f.Contract.Underlying, msg)
		sent++
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("live rescan failed", zap.Strings("groups", groups), zap.Error(err))
	}

	fields := []zap.Field{zap.Strings("groups", groups), zap.Int("sent", sent)}
	if report != nil {
		fields = append(fields, zap.Int("qualifying", report.Summary.Trades))
	}
	s.logger.Debug("broadcast flow", fields...)
}

// Backfill streams the session so far for symbol to one client and
// finishes with a summary message.
func (s *Streamer) Backfill(ctx context.Context, client *Client, symbol string) {
	ctx = scheduler.WithPriority(ctx, scheduler.Interactive)
	report, err := s.source.Stream(ctx, scanner.Request{Symbols: []string{symbol}}, func(f flow.Flagged) {
		s.markSeen(f)
		msg, err := tradeMessage(f)
		if err != nil {
			return
		}
		client.Send(msg)
	})
	if err != nil {
		s.logger.Warn("backfill failed",
			zap.String("connID", client.connID),
			zap.String("symbol", symbol),
			zap.Error(err),
		)
	}
	if report == nil {
		return
	}

	msg, err := summaryMessage(symbol, report.Summary, s.now())
	if err != nil {
		return
	}
	client.Send(msg)
}

// markSeen records f and reports whether it was new. Entries age from
// when they were first observed, not from the print's own timestamp.
func (s *Streamer) markSeen(f flow.Flagged) bool {
	key := fmt.Sprintf("%s|%d|%g|%d", f.Contract.Ticker, f.Timestamp.UnixNano(), f.Price, f.Size)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = s.now()
	return true
}

func (s *Streamer) prune() {
	cutoff := s.now().Add(-seenRetention)

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, at := range s.seen {
		if at.Before(cutoff) {
			delete(s.seen, key)
		}
	}
}
