// Package gateway routes every upstream call through the shared
// scheduler. Callers pick a priority with scheduler.WithPriority.
package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/optionflow/internal/bars"
	"github.com/dgnsrekt/optionflow/internal/scheduler"
	"github.com/dgnsrekt/optionflow/internal/upstream"
)

// Timeouts per call class. Quote covers single-value lookups, Bulk
// covers paged listings and bar pulls.
type Timeouts struct {
	Quote time.Duration
	Bulk  time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{Quote: 5 * time.Second, Bulk: 30 * time.Second}
}

// maxPages stops a provider that keeps returning cursors.
const maxPages = 10_000

type Gateway struct {
	client   upstream.Client
	sched    *scheduler.Scheduler
	timeouts Timeouts
	logger   *zap.Logger
}

func New(client upstream.Client, sched *scheduler.Scheduler, timeouts Timeouts, logger *zap.Logger) *Gateway {
	return &Gateway{
		client:   client,
		sched:    sched,
		timeouts: timeouts,
		logger:   logger,
	}
}

// ClassifyError maps upstream errors onto scheduler retry classes.
func ClassifyError(err error) scheduler.ErrorClass {
	switch upstream.Classify(err) {
	case upstream.ClassRateLimited:
		return scheduler.RateLimited
	case upstream.ClassTransient:
		return scheduler.Transient
	default:
		return scheduler.Permanent
	}
}

func (g *Gateway) priority(ctx context.Context) scheduler.Priority {
	return scheduler.PriorityFrom(ctx, scheduler.Feature)
}

// Spot returns the last traded price of ticker.
func (g *Gateway) Spot(ctx context.Context, ticker string) (float64, error) {
	return scheduler.Do(ctx, g.sched, g.priority(ctx), g.timeouts.Quote, func(ctx context.Context) (float64, error) {
		return g.client.LastPrice(ctx, ticker)
	})
}

func (g *Gateway) ContractsPage(ctx context.Context, underlying string, expiration *time.Time, cursor string) (*upstream.ContractsPage, error) {
	return scheduler.Do(ctx, g.sched, g.priority(ctx), g.timeouts.Bulk, func(ctx context.Context) (*upstream.ContractsPage, error) {
		return g.client.ListContracts(ctx, underlying, expiration, cursor)
	})
}

func (g *Gateway) TradesPage(ctx context.Context, ticker string, from, to time.Time, cursor string) (*upstream.TradesPage, error) {
	return scheduler.Do(ctx, g.sched, g.priority(ctx), g.timeouts.Bulk, func(ctx context.Context) (*upstream.TradesPage, error) {
		return g.client.ListTrades(ctx, ticker, from, to, cursor)
	})
}

// Trades pulls every print of ticker in [from, to], one scheduled call
// per page.
func (g *Gateway) Trades(ctx context.Context, ticker string, from, to time.Time) ([]upstream.TradePrint, error) {
	var (
		out    []upstream.TradePrint
		cursor string
	)
	for i := 0; i < maxPages; i++ {
		page, err := g.TradesPage(ctx, ticker, from, to, cursor)
		if err != nil {
			return out, err
		}
		if page == nil {
			break
		}
		out = append(out, page.Results...)
		if page.NextURL == "" || page.NextURL == cursor {
			break
		}
		cursor = page.NextURL
	}
	return out, nil
}

func (g *Gateway) SnapshotPage(ctx context.Context, underlying, cursor string) (*upstream.SnapshotPage, error) {
	return scheduler.Do(ctx, g.sched, g.priority(ctx), g.timeouts.Bulk, func(ctx context.Context) (*upstream.SnapshotPage, error) {
		return g.client.Snapshot(ctx, underlying, cursor)
	})
}

// Chain pulls the full option chain snapshot for underlying.
func (g *Gateway) Chain(ctx context.Context, underlying string) ([]upstream.SnapshotContract, error) {
	var (
		out    []upstream.SnapshotContract
		cursor string
	)
	for i := 0; i < maxPages; i++ {
		page, err := g.SnapshotPage(ctx, underlying, cursor)
		if err != nil {
			return nil, err
		}
		if page == nil {
			break
		}
		out = append(out, page.Results...)
		if page.NextURL == "" || page.NextURL == cursor {
			break
		}
		cursor = page.NextURL
	}
	g.logger.Debug("chain loaded", zap.String("underlying", underlying), zap.Int("contracts", len(out)))
	return out, nil
}

// FetchBars implements bars.Fetcher.
func (g *Gateway) FetchBars(ctx context.Context, underlying string, day time.Time) ([]bars.Bar, error) {
	raw, err := scheduler.Do(ctx, g.sched, g.priority(ctx), g.timeouts.Bulk, func(ctx context.Context) ([]upstream.Bar, error) {
		return g.client.MinuteBars(ctx, underlying, day)
	})
	if err != nil {
		return nil, err
	}

	out := make([]bars.Bar, 0, len(raw))
	for _, b := range raw {
		if b.Close <= 0 {
			continue
		}
		out = append(out, bars.Bar{Start: time.UnixMilli(b.Timestamp), Close: b.Close})
	}
	return out, nil
}
