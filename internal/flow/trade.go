// Package flow normalizes option trade prints and flags the ones that
// look like deliberate institutional positioning.
package flow

import (
	"time"

	"github.com/dgnsrekt/optionflow/internal/universe"
)

// ContractMultiplier converts per-contract premium to dollars.
const ContractMultiplier = 100

// Side is the inferred aggressor side of a print.
type Side int

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Trade is one normalized print. Spot, Moneyness and DTE are taken at
// execution time.
type Trade struct {
	Contract   universe.Contract `json:"contract"`
	Size       int64             `json:"size"`
	Price      float64           `json:"price"`
	Premium    float64           `json:"premium"`
	Timestamp  time.Time         `json:"timestamp"`
	Spot       float64           `json:"spot"`
	Exchange   int               `json:"exchange"`
	Moneyness  float64           `json:"moneyness"`
	DTE        int               `json:"dte"`
	Side       Side              `json:"side"`
	Conditions []int             `json:"conditions,omitempty"`
}

// NewTrade builds a Trade from a print and the spot prevailing when it
// executed.
func NewTrade(c universe.Contract, price float64, size int64, at time.Time, spot float64, exchange int, side Side, conditions []int) Trade {
	return Trade{
		Contract:   c,
		Size:       size,
		Price:      price,
		Premium:    price * float64(size) * ContractMultiplier,
		Timestamp:  at,
		Spot:       spot,
		Exchange:   exchange,
		Moneyness:  Moneyness(c.Kind, c.Strike, spot),
		DTE:        universe.DTE(c.Expiration, at),
		Side:       side,
		Conditions: conditions,
	}
}

// Moneyness is the signed out-of-the-money distance as a fraction of
// spot: positive OTM, negative ITM, for both calls and puts.
func Moneyness(kind universe.Kind, strike, spot float64) float64 {
	if spot <= 0 {
		return 0
	}
	if kind == universe.Put {
		return (spot - strike) / spot
	}
	return (strike - spot) / spot
}

// TickTest infers aggressor side from consecutive prints of one
// contract: an uptick is a buy, a downtick a sell, and an unchanged
// price repeats the previous inference.
type TickTest struct {
	last float64
	side Side
	seen bool
}

func (t *TickTest) Next(price float64) Side {
	switch {
	case !t.seen:
		t.seen = true
	case price > t.last:
		t.side = SideBuy
	case price < t.last:
		t.side = SideSell
	}
	t.last = price
	return t.side
}
