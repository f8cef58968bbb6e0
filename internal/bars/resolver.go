package bars

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var ErrNoBars = errors.New("no minute bars for session")

// Fetcher loads one session's minute bars for an underlying.
type Fetcher interface {
	FetchBars(ctx context.Context, underlying string, day time.Time) ([]Bar, error)
}

type ResolverConfig struct {
	// TTL applies to completed sessions.
	TTL time.Duration
	// LiveTTL applies to today's session, whose bars are still growing.
	LiveTTL  time.Duration
	Location *time.Location
}

// Resolver answers "what was spot at t" from the nearest minute-bar
// close, loading each (underlying, date) at most once per TTL.
type Resolver struct {
	store   Store
	fetcher Fetcher
	cfg     ResolverConfig
	now     func() time.Time
	logger  *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

func NewResolver(store Store, fetcher Fetcher, cfg ResolverConfig, logger *zap.Logger) *Resolver {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Resolver{
		store:   store,
		fetcher: fetcher,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
	}
}

// SpotAt returns the close of the minute bar nearest to at.
func (r *Resolver) SpotAt(ctx context.Context, underlying string, at time.Time) (float64, error) {
	series, err := r.Bars(ctx, underlying, at)
	if err != nil {
		return 0, err
	}
	return nearest(series, at).Close, nil
}

// Bars returns the cached session bars containing at, fetching them on
// a miss. Store failures degrade to a fetch.
func (r *Resolver) Bars(ctx context.Context, underlying string, at time.Time) ([]Bar, error) {
	day := at.In(r.cfg.Location)
	key := Key{Underlying: underlying, Date: day.Format(time.DateOnly)}

	cached, ok, err := r.store.Get(ctx, key)
	if err != nil {
		r.logger.Warn("bar cache read failed", zap.String("key", key.String()), zap.Error(err))
	}
	if ok {
		r.hits.Add(1)
		if len(cached) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoBars, key)
		}
		return cached, nil
	}
	r.misses.Add(1)

	fetched, err := r.fetcher.FetchBars(ctx, underlying, day)
	if err != nil {
		return nil, fmt.Errorf("fetching bars %s: %w", key, err)
	}
	sort.Slice(fetched, func(i, j int) bool { return fetched[i].Start.Before(fetched[j].Start) })

	if err := r.store.Put(ctx, key, fetched, r.ttlFor(key)); err != nil {
		r.logger.Warn("bar cache write failed", zap.String("key", key.String()), zap.Error(err))
	}

	r.logger.Debug("loaded minute bars", zap.String("key", key.String()), zap.Int("bars", len(fetched)))

	if len(fetched) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoBars, key)
	}
	return fetched, nil
}

// Invalidate drops the cached bars for one session.
func (r *Resolver) Invalidate(ctx context.Context, key Key) error {
	return r.store.Delete(ctx, key)
}

// CacheStats returns cumulative hit and miss counts.
func (r *Resolver) CacheStats() (hits, misses int64) {
	return r.hits.Load(), r.misses.Load()
}

func (r *Resolver) ttlFor(key Key) time.Duration {
	if key.Date == r.now().In(r.cfg.Location).Format(time.DateOnly) {
		return r.cfg.LiveTTL
	}
	return r.cfg.TTL
}

// nearest expects series sorted by Start and non-empty. Ties go to the
// earlier bar.
func nearest(series []Bar, at time.Time) Bar {
	i := sort.Search(len(series), func(i int) bool { return !series[i].Start.Before(at) })
	switch {
	case i == 0:
		return series[0]
	case i == len(series):
		return series[len(series)-1]
	}
	before, after := series[i-1], series[i]
	if after.Start.Sub(at) < at.Sub(before.Start) {
		return after
	}
	return before
}
