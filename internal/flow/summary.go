package flow

import "github.com/dgnsrekt/optionflow/internal/universe"

// Summary aggregates a scan's qualifying trades.
type Summary struct {
	Trades       int         `json:"trades"`
	Contracts    int         `json:"contracts"`
	TotalPremium float64     `json:"total_premium"`
	CallPremium  float64     `json:"call_premium"`
	PutPremium   float64     `json:"put_premium"`
	ByTier       map[int]int `json:"by_tier"`
	Combos       int         `json:"combos"`
	Bullish      int         `json:"bullish"`
	Bearish      int         `json:"bearish"`
}

// PutCallRatio is put premium over call premium, zero without calls.
func (s Summary) PutCallRatio() float64 {
	if s.CallPremium == 0 {
		return 0
	}
	return s.PutPremium / s.CallPremium
}

// Summarize folds flagged trades and detected combos into a Summary.
// Buys of calls and sells of puts count as bullish, the mirror as
// bearish; unknown sides count as neither.
func Summarize(flagged []Flagged, combos []Combo) Summary {
	s := Summary{ByTier: make(map[int]int), Combos: len(combos)}
	seen := make(map[string]struct{})

	for _, f := range flagged {
		s.Trades++
		s.TotalPremium += f.Premium
		s.ByTier[f.Tier]++
		seen[f.Contract.Ticker] = struct{}{}

		isCall := f.Contract.Kind == universe.Call
		if isCall {
			s.CallPremium += f.Premium
		} else {
			s.PutPremium += f.Premium
		}

		switch {
		case f.Side == SideUnknown:
		case (f.Side == SideBuy) == isCall:
			s.Bullish++
		default:
			s.Bearish++
		}
	}
	s.Contracts = len(seen)
	return s
}
