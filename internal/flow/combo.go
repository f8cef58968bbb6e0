package flow

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/dgnsrekt/optionflow/internal/universe"
)

// ComboConfig bounds how close a call buy and a put sell must be to be
// paired. StrikeTolerance is a fraction of spot.
type ComboConfig struct {
	StrikeTolerance float64       `mapstructure:"strike_tolerance"`
	Window          time.Duration `mapstructure:"window"`
}

func DefaultComboConfig() ComboConfig {
	return ComboConfig{
		StrikeTolerance: 0.02,
		Window:          2 * time.Minute,
	}
}

func (c ComboConfig) Validate() error {
	if c.StrikeTolerance < 0 {
		return errors.New("combo strike tolerance must be >= 0")
	}
	if c.Window < 0 {
		return errors.New("combo window must be >= 0")
	}
	return nil
}

// Combo is an aggressive call buy paired with an aggressive put sell on
// the same underlying and expiration, a synthetic long.
type Combo struct {
	Underlying string    `json:"underlying"`
	Expiration time.Time `json:"expiration"`
	Call       Trade     `json:"call"`
	Put        Trade     `json:"put"`
	StrikeGap  float64   `json:"strike_gap"`
	TimeGap    float64   `json:"time_gap_seconds"`
}

// DetectCombos pairs each call buy with the closest-in-time unused put
// sell inside the tolerances. Each trade is used at most once.
func DetectCombos(trades []Trade, cfg ComboConfig) []Combo {
	var calls, puts []Trade
	for _, t := range trades {
		switch {
		case t.Contract.Kind == universe.Call && t.Side == SideBuy:
			calls = append(calls, t)
		case t.Contract.Kind == universe.Put && t.Side == SideSell:
			puts = append(puts, t)
		}
	}
	if len(calls) == 0 || len(puts) == 0 {
		return nil
	}

	sort.SliceStable(calls, func(i, j int) bool { return calls[i].Timestamp.Before(calls[j].Timestamp) })

	used := make([]bool, len(puts))
	var combos []Combo
	for _, call := range calls {
		best := -1
		var bestGap time.Duration
		for i, put := range puts {
			if used[i] || !pairable(call, put, cfg) {
				continue
			}
			gap := absDuration(call.Timestamp.Sub(put.Timestamp))
			if best < 0 || gap < bestGap {
				best, bestGap = i, gap
			}
		}
		if best < 0 {
			continue
		}
		used[best] = true
		put := puts[best]
		combos = append(combos, Combo{
			Underlying: call.Contract.Underlying,
			Expiration: call.Contract.Expiration,
			Call:       call,
			Put:        put,
			StrikeGap:  math.Abs(call.Contract.Strike - put.Contract.Strike),
			TimeGap:    bestGap.Seconds(),
		})
	}
	return combos
}

func pairable(call, put Trade, cfg ComboConfig) bool {
	if call.Contract.Underlying != put.Contract.Underlying {
		return false
	}
	if !call.Contract.Expiration.Equal(put.Contract.Expiration) {
		return false
	}
	if absDuration(call.Timestamp.Sub(put.Timestamp)) > cfg.Window {
		return false
	}
	spot := call.Spot
	if spot <= 0 {
		spot = put.Spot
	}
	return math.Abs(call.Contract.Strike-put.Contract.Strike) <= cfg.StrikeTolerance*spot
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
