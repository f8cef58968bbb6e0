// Package scanner pulls trade prints for a batch of underlyings inside
// the current session window and emits them as normalized trades.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/optionflow/internal/bars"
	"github.com/dgnsrekt/optionflow/internal/flow"
	"github.com/dgnsrekt/optionflow/internal/session"
	"github.com/dgnsrekt/optionflow/internal/universe"
	"github.com/dgnsrekt/optionflow/internal/upstream"
)

var ErrUpstreamUnreachable = errors.New("upstream unreachable for every underlying")

// noData reports provider answers that mean "nothing here" rather than
// a failed call.
func noData(err error) bool {
	return errors.Is(err, upstream.ErrNotFound) || errors.Is(err, bars.ErrNoBars)
}

// Market is the scheduled view of the data provider.
type Market interface {
	Spot(ctx context.Context, ticker string) (float64, error)
	Trades(ctx context.Context, ticker string, from, to time.Time) ([]upstream.TradePrint, error)
}

type Universe interface {
	Resolve(ctx context.Context, underlying string, spot float64, expiration *time.Time) ([]universe.Contract, error)
}

// SpotHistory resolves the underlying's price at a past instant.
type SpotHistory interface {
	SpotAt(ctx context.Context, underlying string, at time.Time) (float64, error)
}

type Windows interface {
	WindowAt(now time.Time) (session.Window, error)
}

type Config struct {
	// Workers bounds how many underlyings are scanned at once.
	Workers int
	// ContractBatch is how many contracts of one underlying are in
	// flight together.
	ContractBatch int
}

func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.ContractBatch < 1 {
		return fmt.Errorf("contract batch must be >= 1, got %d", c.ContractBatch)
	}
	return nil
}

type Scanner struct {
	market   Market
	universe Universe
	history  SpotHistory
	windows  Windows
	cfg      Config
	now      func() time.Time
	logger   *zap.Logger
}

func New(market Market, u Universe, history SpotHistory, windows Windows, cfg Config, logger *zap.Logger) (*Scanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scanner config: %w", err)
	}
	return &Scanner{
		market:   market,
		universe: u,
		history:  history,
		windows:  windows,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}, nil
}

// Execute scans every symbol and hands each normalized trade to emit as
// soon as it is built. A failing contract or underlying is logged and
// counted; the batch only fails when no underlying could be scanned.
func (s *Scanner) Execute(ctx context.Context, req Request, emit Sink) (*BatchResult, error) {
	start := time.Now()
	symbols := NormalizeSymbols(req.Symbols)

	window, err := s.windows.WindowAt(s.now())
	if err != nil {
		return nil, fmt.Errorf("computing scan window: %w", err)
	}

	result := &BatchResult{
		ID:     uuid.NewString(),
		Window: window,
		Total:  len(symbols),
	}
	if len(symbols) == 0 {
		return result, nil
	}

	s.logger.Info("scan started",
		zap.String("scan", result.ID),
		zap.Strings("symbols", symbols),
		zap.Stringer("state", window.State),
		zap.Time("from", window.From),
		zap.Time("to", window.To),
	)

	events := make(chan event, 256)

	go func() {
		var g errgroup.Group
		g.SetLimit(s.cfg.Workers)
		for _, sym := range symbols {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				r := s.scanUnderlying(ctx, sym, window, req.Expiration, events)
				select {
				case events <- event{result: &r}:
				case <-ctx.Done():
				}
				return nil
			})
		}
		_ = g.Wait()
		close(events)
	}()

	for ev := range events {
		switch {
		case ev.trade != nil:
			result.Emitted++
			if emit != nil {
				emit(*ev.trade)
			}
		case ev.result != nil:
			result.add(*ev.result)
		}
	}
	result.Duration = time.Since(start)

	if err := ctx.Err(); err != nil {
		return result, err
	}

	s.logger.Info("scan finished",
		zap.String("scan", result.ID),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("contracts", result.Contracts),
		zap.Int("prints", result.Prints),
		zap.Int("emitted", result.Emitted),
		zap.Duration("duration", result.Duration),
	)

	if result.Failed == result.Total {
		return result, fmt.Errorf("%w: %d of %d failed", ErrUpstreamUnreachable, result.Failed, result.Total)
	}
	return result, nil
}

func (s *Scanner) scanUnderlying(ctx context.Context, symbol string, window session.Window, expiration *time.Time, events chan<- event) UnderlyingResult {
	res := UnderlyingResult{Symbol: symbol}
	log := s.logger.With(zap.String("underlying", symbol))

	spot, err := s.market.Spot(ctx, symbol)
	if err != nil && noData(err) {
		log.Info("no spot for underlying", zap.Error(err))
		return res
	}
	if err != nil {
		log.Warn("spot lookup failed", zap.Error(err))
		res.Error = fmt.Errorf("spot: %w", err)
		return res
	}
	res.Spot = spot

	contracts, err := s.universe.Resolve(ctx, symbol, spot, expiration)
	if err != nil && noData(err) {
		log.Info("no contracts listed", zap.Error(err))
		return res
	}
	if err != nil {
		log.Warn("universe resolution failed", zap.Error(err))
		res.Error = fmt.Errorf("universe: %w", err)
		return res
	}
	res.Contracts = len(contracts)
	if len(contracts) == 0 {
		log.Info("no contracts in band", zap.Float64("spot", spot))
		return res
	}

	// Every print needs the session's bars; fail the underlying once
	// rather than per print.
	if _, err := s.history.SpotAt(ctx, symbol, window.From); err != nil {
		if noData(err) {
			log.Info("no minute bars for session", zap.String("date", window.Date), zap.Error(err))
			res.Contracts = 0
			return res
		}
		log.Warn("minute bars unavailable", zap.String("date", window.Date), zap.Error(err))
		res.Error = fmt.Errorf("minute bars: %w", err)
		return res
	}

	var failed, prints, unresolved, emitted atomic.Int64
	for i := 0; i < len(contracts); i += s.cfg.ContractBatch {
		if ctx.Err() != nil {
			break
		}
		end := min(i+s.cfg.ContractBatch, len(contracts))

		var g errgroup.Group
		for _, c := range contracts[i:end] {
			g.Go(func() error {
				st, err := s.scanContract(ctx, symbol, c, window, events)
				prints.Add(int64(st.prints))
				unresolved.Add(int64(st.unresolved))
				emitted.Add(int64(st.emitted))
				if err != nil && ctx.Err() == nil {
					failed.Add(1)
					log.Warn("contract scan failed", zap.String("contract", c.Ticker), zap.Error(err))
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	res.ContractsFailed = int(failed.Load())
	res.Prints = int(prints.Load())
	res.SpotUnresolved = int(unresolved.Load())
	res.Emitted = int(emitted.Load())

	log.Info("underlying scanned",
		zap.Float64("spot", spot),
		zap.Int("contracts", res.Contracts),
		zap.Int("contractsFailed", res.ContractsFailed),
		zap.Int("prints", res.Prints),
		zap.Int("emitted", res.Emitted),
	)
	return res
}

type contractStats struct {
	prints     int
	unresolved int
	emitted    int
}

func (s *Scanner) scanContract(ctx context.Context, symbol string, c universe.Contract, window session.Window, events chan<- event) (contractStats, error) {
	var st contractStats

	prints, err := s.market.Trades(ctx, c.Ticker, window.From, window.To)
	if err != nil {
		return st, err
	}
	st.prints = len(prints)

	// The provider's slice may be shared; order a private copy.
	prints = slices.Clone(prints)
	sort.SliceStable(prints, func(i, j int) bool { return prints[i].SipTimestamp < prints[j].SipTimestamp })

	var tick flow.TickTest
	for _, p := range prints {
		if p.Size <= 0 || p.Price <= 0 {
			continue
		}
		side := tick.Next(p.Price)

		at := time.Unix(0, p.SipTimestamp)
		spot, err := s.history.SpotAt(ctx, symbol, at)
		if err != nil || spot <= 0 {
			st.unresolved++
			continue
		}

		t := flow.NewTrade(c, p.Price, p.Size, at, spot, p.Exchange, side, p.Conditions)
		select {
		case events <- event{trade: &t}:
			st.emitted++
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
	return st, nil
}
