package gex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/optionflow/internal/pricing"
	"github.com/dgnsrekt/optionflow/internal/universe"
	"github.com/dgnsrekt/optionflow/internal/upstream"
)

var ErrNoSpot = errors.New("no spot price for underlying")

const secondsPerYear = 365 * 24 * 60 * 60

// Chain loads the option chain snapshot of an underlying.
type Chain interface {
	Chain(ctx context.Context, underlying string) ([]upstream.SnapshotContract, error)
}

// SpotSource is consulted when the snapshot carries no underlying price.
type SpotSource interface {
	Spot(ctx context.Context, ticker string) (float64, error)
}

type ServiceConfig struct {
	Options
	RiskFreeRate float64
	Solver       pricing.SolverConfig
	// Location of the exchange; contracts expire at Close on their date.
	Location *time.Location
	Close    time.Duration
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Options:      DefaultOptions(),
		RiskFreeRate: 0.045,
		Solver:       pricing.DefaultSolverConfig(),
		Location:     time.UTC,
		Close:        16 * time.Hour,
	}
}

// Service builds profiles from live snapshots.
type Service struct {
	chain  Chain
	spots  SpotSource
	cfg    ServiceConfig
	now    func() time.Time
	logger *zap.Logger
}

func NewService(chain Chain, spots SpotSource, cfg ServiceConfig, logger *zap.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Service{
		chain:  chain,
		spots:  spots,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
}

// Profile pulls the chain for underlying and aggregates it. Contracts
// whose gamma is neither supplied nor solvable contribute zero.
func (s *Service) Profile(ctx context.Context, underlying string, live LiveOI) (*Profile, error) {
	underlying = strings.ToUpper(strings.TrimSpace(underlying))
	asOf := s.now()

	snaps, err := s.chain.Chain(ctx, underlying)
	if err != nil {
		return nil, fmt.Errorf("loading chain for %s: %w", underlying, err)
	}

	spot := snapshotSpot(snaps)
	if spot <= 0 && s.spots != nil {
		spot, err = s.spots.Spot(ctx, underlying)
		if err != nil {
			return nil, fmt.Errorf("spot for %s: %w", underlying, err)
		}
	}
	if spot <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSpot, underlying)
	}

	positions := make([]Position, 0, len(snaps))
	var estimated, unavailable int
	for _, snap := range snaps {
		pos, ok := s.position(underlying, snap)
		if !ok {
			continue
		}
		// Providers send an empty greeks object when they have none.
		if snap.Greeks == nil || !(snap.Greeks.Gamma > 0) {
			g, err := s.estimateGamma(pos, snap, spot, asOf)
			if err != nil {
				unavailable++
				s.logger.Debug("gamma unavailable",
					zap.String("contract", snap.Details.Ticker),
					zap.Error(err),
				)
			} else {
				estimated++
			}
			pos.Gamma = g
		} else {
			pos.Gamma = snap.Greeks.Gamma
		}
		positions = append(positions, pos)
	}

	opts := s.cfg.Options
	opts.AsOf = asOf
	profile := Aggregate(underlying, spot, positions, live, opts)
	profile.EstimatedGamma = estimated
	profile.GammaUnavailable = unavailable

	s.logger.Info("gamma profile built",
		zap.String("underlying", underlying),
		zap.Float64("spot", spot),
		zap.Int("contracts", profile.Contracts),
		zap.Int("strikes", len(profile.Strikes)),
		zap.Int("liveOverrides", profile.LiveOverrides),
		zap.Int("estimatedGamma", estimated),
		zap.Int("gammaUnavailable", unavailable),
		zap.Float64("netGEX", profile.NetGEX),
	)
	return &profile, nil
}

func (s *Service) position(underlying string, snap upstream.SnapshotContract) (Position, bool) {
	kind, ok := universe.ParseKind(snap.Details.ContractType)
	if !ok || snap.Details.StrikePrice <= 0 {
		return Position{}, false
	}
	exp, err := time.ParseInLocation(time.DateOnly, snap.Details.ExpirationDate, s.cfg.Location)
	if err != nil {
		return Position{}, false
	}
	return Position{
		Underlying:   underlying,
		Strike:       snap.Details.StrikePrice,
		Kind:         kind,
		Expiration:   exp,
		OpenInterest: snap.OpenInterest,
	}, true
}

// estimateGamma prices gamma with Black-Scholes, using the snapshot's
// implied volatility when present and solving it from the quote
// otherwise. It returns 0 alongside any error.
func (s *Service) estimateGamma(pos Position, snap upstream.SnapshotContract, spot float64, asOf time.Time) (float64, error) {
	expiry := pos.Expiration.Add(s.cfg.Close)
	in := pricing.Inputs{
		Right:  pricing.Call,
		Spot:   spot,
		Strike: pos.Strike,
		T:      expiry.Sub(asOf).Seconds() / secondsPerYear,
		Rate:   s.cfg.RiskFreeRate,
	}
	if pos.Kind == universe.Put {
		in.Right = pricing.Put
	}
	if in.T <= 0 {
		return 0, pricing.ErrExpired
	}

	if snap.ImpliedVolatility != nil && *snap.ImpliedVolatility > 0 {
		in.Vol = *snap.ImpliedVolatility
		return pricing.Gamma(in), nil
	}

	price := quotePrice(snap)
	if price <= 0 {
		return 0, errors.New("no quote to solve implied volatility from")
	}
	vol, err := pricing.ImpliedVol(in, price, s.cfg.Solver)
	if err != nil {
		return 0, err
	}
	in.Vol = vol
	return pricing.Gamma(in), nil
}

func quotePrice(snap upstream.SnapshotContract) float64 {
	q := snap.LastQuote
	switch {
	case q.Midpoint > 0:
		return q.Midpoint
	case q.Bid > 0 && q.Ask > 0:
		return (q.Bid + q.Ask) / 2
	default:
		return snap.LastTrade.Price
	}
}

func snapshotSpot(snaps []upstream.SnapshotContract) float64 {
	for _, s := range snaps {
		if s.UnderlyingAsset.Price > 0 {
			return s.UnderlyingAsset.Price
		}
	}
	return 0
}
