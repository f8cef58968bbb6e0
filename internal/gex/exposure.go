// Package gex folds open interest and gamma into a dealer gamma exposure
// profile. Dealers are modelled short calls and long puts, so calls
// contribute positive exposure and puts negative.
package gex

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/dgnsrekt/optionflow/internal/universe"
)

// ContractMultiplier is shares per contract.
const ContractMultiplier = 100

// Environment is the sign of total net exposure.
type Environment string

const (
	Positive Environment = "POSITIVE"
	Negative Environment = "NEGATIVE"
)

// OIKey identifies a contract for live open interest overrides.
type OIKey struct {
	Underlying string
	Strike     float64
	Kind       universe.Kind
	Expiration string // YYYY-MM-DD
}

// NewOIKey normalizes expiration to its calendar date.
func NewOIKey(underlying string, strike float64, kind universe.Kind, expiration time.Time) OIKey {
	return OIKey{
		Underlying: underlying,
		Strike:     strike,
		Kind:       kind,
		Expiration: expiration.Format(time.DateOnly),
	}
}

// LiveOI replaces snapshot open interest for the contracts it names.
type LiveOI map[OIKey]float64

// LiveOIEntry is the wire form of one override.
type LiveOIEntry struct {
	Strike       float64 `json:"strike"`
	Kind         string  `json:"kind"`
	Expiration   string  `json:"expiration"`
	OpenInterest float64 `json:"open_interest"`
}

// BuildLiveOI keys entries to underlying. Later entries for the same
// contract replace earlier ones.
func BuildLiveOI(underlying string, entries []LiveOIEntry) (LiveOI, error) {
	live := make(LiveOI, len(entries))
	for _, e := range entries {
		kind, ok := universe.ParseKind(e.Kind)
		if !ok {
			return nil, fmt.Errorf("invalid kind %q", e.Kind)
		}
		exp, err := time.Parse(time.DateOnly, e.Expiration)
		if err != nil {
			return nil, fmt.Errorf("invalid expiration %q", e.Expiration)
		}
		if e.OpenInterest < 0 {
			return nil, fmt.Errorf("negative open interest at strike %v", e.Strike)
		}
		live[NewOIKey(underlying, e.Strike, kind, exp)] = e.OpenInterest
	}
	return live, nil
}

// Position is one contract's input to the aggregator.
type Position struct {
	Underlying   string
	Strike       float64
	Kind         universe.Kind
	Expiration   time.Time
	Gamma        float64
	OpenInterest float64
}

func (p Position) key() OIKey {
	return NewOIKey(p.Underlying, p.Strike, p.Kind, p.Expiration)
}

// ContractExposure is gamma x OI x spot^2 x 100, positive for calls and
// negative for puts. Non-finite or negative inputs contribute nothing.
func ContractExposure(kind universe.Kind, gamma, openInterest, spot float64) float64 {
	if !(gamma > 0) || !(openInterest > 0) || !(spot > 0) || math.IsInf(gamma, 0) {
		return 0
	}
	e := gamma * openInterest * spot * spot * ContractMultiplier
	if kind == universe.Put {
		return -e
	}
	return e
}

type StrikeExposure struct {
	Strike       float64 `json:"strike"`
	CallExposure float64 `json:"call_exposure"`
	PutExposure  float64 `json:"put_exposure"`
	NetExposure  float64 `json:"net_exposure"`
}

// Wall is a strike with concentrated one-sided exposure.
type Wall struct {
	Strike   float64 `json:"strike"`
	Exposure float64 `json:"exposure"`
}

// Profile is the result of one aggregation. ZeroGamma, Flip and the
// walls are nil when fewer than two strikes carry exposure.
type Profile struct {
	Underlying         string           `json:"underlying"`
	Spot               float64          `json:"spot"`
	AsOf               time.Time        `json:"as_of"`
	TotalCall          float64          `json:"total_call_exposure"`
	TotalPut           float64          `json:"total_put_exposure"`
	NetGEX             float64          `json:"net_gex"`
	ZeroGamma          *float64         `json:"zero_gamma,omitempty"`
	Flip               *float64         `json:"flip,omitempty"`
	CallWalls          []Wall           `json:"call_walls,omitempty"`
	PutWalls           []Wall           `json:"put_walls,omitempty"`
	Environment        Environment      `json:"environment"`
	LandmarksAvailable bool             `json:"landmarks_available"`
	Strikes            []StrikeExposure `json:"strikes"`
	Contracts          int              `json:"contracts"`
	LiveOverrides      int              `json:"live_overrides"`
	EstimatedGamma     int              `json:"estimated_gamma"`
	GammaUnavailable   int              `json:"gamma_unavailable"`
}

// Options controls aggregation.
type Options struct {
	// HorizonDays drops expirations further out than this many calendar
	// days from AsOf. Zero disables the filter.
	HorizonDays int
	// Walls is how many call and put walls to report.
	Walls int
	AsOf  time.Time
}

func DefaultOptions() Options {
	return Options{HorizonDays: 45, Walls: 3}
}

// Aggregate builds the profile from positions. A live OI entry fully
// replaces the position's own open interest.
func Aggregate(underlying string, spot float64, positions []Position, live LiveOI, opts Options) Profile {
	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}
	p := Profile{Underlying: underlying, Spot: spot, AsOf: asOf}

	byStrike := make(map[float64]*StrikeExposure)
	for _, pos := range positions {
		if opts.HorizonDays > 0 && universe.DTE(pos.Expiration, asOf) > opts.HorizonDays {
			continue
		}
		if pos.Expiration.Before(startOfDay(asOf, pos.Expiration.Location())) {
			continue
		}

		oi := pos.OpenInterest
		if v, ok := live[pos.key()]; ok {
			oi = v
			p.LiveOverrides++
		}
		p.Contracts++

		e := ContractExposure(pos.Kind, pos.Gamma, oi, spot)
		se, ok := byStrike[pos.Strike]
		if !ok {
			se = &StrikeExposure{Strike: pos.Strike}
			byStrike[pos.Strike] = se
		}
		if pos.Kind == universe.Put {
			se.PutExposure += e
		} else {
			se.CallExposure += e
		}
	}

	p.Strikes = make([]StrikeExposure, 0, len(byStrike))
	for _, se := range byStrike {
		se.NetExposure = se.CallExposure + se.PutExposure
		p.TotalCall += se.CallExposure
		p.TotalPut += se.PutExposure
		p.Strikes = append(p.Strikes, *se)
	}
	sort.Slice(p.Strikes, func(i, j int) bool { return p.Strikes[i].Strike < p.Strikes[j].Strike })

	p.NetGEX = p.TotalCall + p.TotalPut
	p.Environment = Negative
	if p.NetGEX > 0 {
		p.Environment = Positive
	}

	// A strike carries exposure when either side does, even if the
	// sides cancel.
	carrying := 0
	for _, se := range p.Strikes {
		if se.CallExposure != 0 || se.PutExposure != 0 {
			carrying++
		}
	}
	if carrying < 2 {
		return p
	}

	p.LandmarksAvailable = true
	zg := zeroGamma(p.Strikes, spot)
	p.ZeroGamma = &zg
	flip := flipLevel(p.Strikes)
	p.Flip = &flip
	p.CallWalls, p.PutWalls = walls(p.Strikes, opts.Walls)
	return p
}

// zeroGamma finds the first adjacent pair of nonzero strikes, in
// ascending order, whose net exposures differ in sign and linearly
// interpolates the crossing. Without a crossing it returns spot.
func zeroGamma(strikes []StrikeExposure, spot float64) float64 {
	var prev *StrikeExposure
	for i := range strikes {
		cur := &strikes[i]
		if cur.NetExposure == 0 {
			continue
		}
		if prev != nil && (prev.NetExposure > 0) != (cur.NetExposure > 0) {
			w := prev.NetExposure / (prev.NetExposure - cur.NetExposure)
			return prev.Strike + w*(cur.Strike-prev.Strike)
		}
		prev = cur
	}
	return spot
}

// flipLevel is the strike with the largest absolute net exposure. The
// lower strike wins a tie.
func flipLevel(strikes []StrikeExposure) float64 {
	best := strikes[0]
	for _, se := range strikes[1:] {
		if math.Abs(se.NetExposure) > math.Abs(best.NetExposure) {
			best = se
		}
	}
	return best.Strike
}

func walls(strikes []StrikeExposure, n int) (calls, puts []Wall) {
	if n <= 0 {
		return nil, nil
	}
	for _, se := range strikes {
		if se.CallExposure > 0 {
			calls = append(calls, Wall{Strike: se.Strike, Exposure: se.CallExposure})
		}
		if se.PutExposure < 0 {
			puts = append(puts, Wall{Strike: se.Strike, Exposure: se.PutExposure})
		}
	}
	sort.SliceStable(calls, func(i, j int) bool { return calls[i].Exposure > calls[j].Exposure })
	sort.SliceStable(puts, func(i, j int) bool { return puts[i].Exposure < puts[j].Exposure })
	if len(calls) > n {
		calls = calls[:n]
	}
	if len(puts) > n {
		puts = puts[:n]
	}
	return calls, puts
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
