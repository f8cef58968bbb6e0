// Package universe enumerates the option contracts worth scanning for an
// underlying.
package universe

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/optionflow/internal/upstream"
)

// Kind is the option right.
type Kind string

const (
	Call Kind = "call"
	Put  Kind = "put"
)

// ParseKind accepts the provider's contract_type values.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(s) {
	case "call", "c":
		return Call, true
	case "put", "p":
		return Put, true
	}
	return "", false
}

// Contract is immutable once resolved.
type Contract struct {
	Ticker     string    `json:"ticker"`
	Underlying string    `json:"underlying"`
	Strike     float64   `json:"strike"`
	Expiration time.Time `json:"expiration"`
	Kind       Kind      `json:"kind"`
	DTE        int       `json:"dte"`
}

// Band is the asymmetric moneyness filter. Calls survive when
// strike >= CallFloor*spot, puts when strike <= PutCeiling*spot.
type Band struct {
	CallFloor  float64
	PutCeiling float64
}

func DefaultBand() Band {
	return Band{CallFloor: 0.95, PutCeiling: 1.05}
}

// Keep reports whether a contract of kind at strike survives the band.
func (b Band) Keep(kind Kind, strike, spot float64) bool {
	switch kind {
	case Call:
		return strike >= b.CallFloor*spot
	case Put:
		return strike <= b.PutCeiling*spot
	}
	return false
}

// Source pages through the provider's contract listing.
type Source interface {
	ContractsPage(ctx context.Context, underlying string, expiration *time.Time, cursor string) (*upstream.ContractsPage, error)
}

type Resolver struct {
	source Source
	band   Band
	loc    *time.Location
	now    func() time.Time
	logger *zap.Logger
}

func NewResolver(source Source, band Band, loc *time.Location, logger *zap.Logger) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{
		source: source,
		band:   band,
		loc:    loc,
		now:    time.Now,
		logger: logger,
	}
}

// Resolve lists every contract for underlying, following pagination to
// exhaustion, and keeps those inside the moneyness band. A non-positive
// spot yields an empty set.
func (r *Resolver) Resolve(ctx context.Context, underlying string, spot float64, expiration *time.Time) ([]Contract, error) {
	if spot <= 0 || math.IsNaN(spot) {
		r.logger.Debug("no spot, skipping universe", zap.String("underlying", underlying))
		return nil, nil
	}

	today := r.now().In(r.loc)
	var (
		out    []Contract
		cursor string
		listed int
		pages  int
	)

	for {
		page, err := r.source.ContractsPage(ctx, underlying, expiration, cursor)
		if err != nil {
			return nil, fmt.Errorf("listing contracts for %s (page %d): %w", underlying, pages+1, err)
		}
		pages++

		for _, ref := range page.Results {
			listed++
			c, ok := r.normalize(underlying, ref, today)
			if !ok {
				continue
			}
			if r.band.Keep(c.Kind, c.Strike, spot) {
				out = append(out, c)
			}
		}

		if page.NextURL == "" || page.NextURL == cursor {
			break
		}
		cursor = page.NextURL
	}

	r.logger.Debug("universe resolved",
		zap.String("underlying", underlying),
		zap.Float64("spot", spot),
		zap.Int("pages", pages),
		zap.Int("listed", listed),
		zap.Int("kept", len(out)),
	)
	return out, nil
}

// normalize drops malformed rows rather than failing the listing.
func (r *Resolver) normalize(underlying string, ref upstream.ContractRef, today time.Time) (Contract, bool) {
	kind, ok := ParseKind(ref.ContractType)
	if !ok || ref.Ticker == "" || ref.StrikePrice <= 0 {
		return Contract{}, false
	}
	exp, err := time.ParseInLocation(time.DateOnly, ref.ExpirationDate, r.loc)
	if err != nil {
		return Contract{}, false
	}

	u := ref.UnderlyingTicker
	if u == "" {
		u = underlying
	}
	return Contract{
		Ticker:     ref.Ticker,
		Underlying: u,
		Strike:     ref.StrikePrice,
		Expiration: exp,
		Kind:       kind,
		DTE:        DTE(exp, today),
	}, true
}

// DTE is the number of calendar days from asOf's date to expiration,
// floored at zero.
func DTE(expiration, asOf time.Time) int {
	asOf = asOf.In(expiration.Location())
	from := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	to := time.Date(expiration.Year(), expiration.Month(), expiration.Day(), 0, 0, 0, 0, time.UTC)
	days := int(to.Sub(from).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
