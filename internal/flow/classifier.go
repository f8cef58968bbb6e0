package flow

import (
	"errors"
	"fmt"
)

// Tier is one row of the qualification table. A trade satisfies a tier
// when it meets every non-zero minimum.
type Tier struct {
	Level      int     `mapstructure:"level" json:"level"`
	MinPrice   float64 `mapstructure:"min_price" json:"min_price"`
	MinSize    int64   `mapstructure:"min_size" json:"min_size"`
	MinPremium float64 `mapstructure:"min_premium" json:"min_premium"`
}

func (t Tier) match(price float64, size int64, premium float64) bool {
	return price >= t.MinPrice && size >= t.MinSize && premium >= t.MinPremium
}

// DefaultTiers is the single global table applied to every underlying.
func DefaultTiers() []Tier {
	return []Tier{
		{Level: 1, MinPrice: 8.00, MinSize: 80},
		{Level: 2, MinPrice: 7.00, MinSize: 100},
		{Level: 3, MinPrice: 5.00, MinSize: 150},
		{Level: 4, MinPrice: 3.50, MinSize: 200},
		{Level: 5, MinPrice: 2.50, MinSize: 200},
		{Level: 6, MinPrice: 1.00, MinSize: 800},
		{Level: 7, MinPrice: 0.50, MinSize: 2000},
		{Level: 8, MinPrice: 0.01, MinSize: 20, MinPremium: 50_000},
	}
}

// Classifier flags qualifying trades. It is stateless and safe for
// concurrent use.
type Classifier struct {
	tiers []Tier
}

func NewClassifier(tiers []Tier) (*Classifier, error) {
	if len(tiers) == 0 {
		return nil, errors.New("at least one tier is required")
	}
	for _, t := range tiers {
		if t.MinPrice < 0 || t.MinSize < 0 || t.MinPremium < 0 {
			return nil, fmt.Errorf("tier %d: minimums must be non-negative", t.Level)
		}
	}
	cp := make([]Tier, len(tiers))
	copy(cp, tiers)
	return &Classifier{tiers: cp}, nil
}

// Classify returns the first tier trade satisfies.
func (c *Classifier) Classify(trade Trade) (int, bool) {
	return c.match(trade.Price, trade.Size)
}

func (c *Classifier) match(price float64, size int64) (int, bool) {
	premium := price * float64(size) * ContractMultiplier
	for _, t := range c.tiers {
		if t.match(price, size, premium) {
			return t.Level, true
		}
	}
	return 0, false
}

func (c *Classifier) Tiers() []Tier {
	out := make([]Tier, len(c.tiers))
	copy(out, c.tiers)
	return out
}

// Flagged is a qualifying trade with the tier it matched.
type Flagged struct {
	Trade
	Tier int `json:"tier"`
}
