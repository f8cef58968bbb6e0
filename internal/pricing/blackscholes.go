// Package pricing estimates option prices and Greeks with the
// Black-Scholes model when the data provider omits them.
package pricing

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

var (
	ErrExpired       = errors.New("option expired")
	ErrZeroVega      = errors.New("vega is zero")
	ErrNoConvergence = errors.New("implied volatility did not converge")
	ErrInvalidInput  = errors.New("invalid pricing input")
)

// Right distinguishes calls from puts.
type Right int

const (
	Call Right = iota
	Put
)

// Inputs to the Black-Scholes model. T is in years, Rate and Vol are
// annualized decimals.
type Inputs struct {
	Right  Right
	Spot   float64
	Strike float64
	T      float64
	Rate   float64
	Vol    float64
}

var stdNormal = distuv.UnitNormal

func (in Inputs) valid() bool {
	return in.Spot > 0 && in.Strike > 0 && in.Vol > 0 &&
		!math.IsNaN(in.T) && !math.IsInf(in.T, 0)
}

func (in Inputs) d1d2() (float64, float64) {
	sqrtT := math.Sqrt(in.T)
	d1 := (math.Log(in.Spot/in.Strike) + (in.Rate+in.Vol*in.Vol/2)*in.T) / (in.Vol * sqrtT)
	return d1, d1 - in.Vol*sqrtT
}

// Price returns the Black-Scholes value. An expired option is worth its
// intrinsic value.
func Price(in Inputs) float64 {
	if in.T <= 0 {
		return intrinsic(in)
	}
	if !in.valid() {
		return 0
	}

	d1, d2 := in.d1d2()
	disc := in.Strike * math.Exp(-in.Rate*in.T)
	if in.Right == Call {
		return in.Spot*stdNormal.CDF(d1) - disc*stdNormal.CDF(d2)
	}
	return disc*stdNormal.CDF(-d2) - in.Spot*stdNormal.CDF(-d1)
}

// Delta of the option; zero once expired.
func Delta(in Inputs) float64 {
	if in.T <= 0 || !in.valid() {
		return 0
	}
	d1, _ := in.d1d2()
	if in.Right == Call {
		return stdNormal.CDF(d1)
	}
	return stdNormal.CDF(d1) - 1
}

// Gamma is identical for calls and puts and never negative. Expired or
// degenerate inputs give 0.
func Gamma(in Inputs) float64 {
	if in.T <= 0 || !in.valid() {
		return 0
	}
	d1, _ := in.d1d2()
	g := stdNormal.Prob(d1) / (in.Spot * in.Vol * math.Sqrt(in.T))
	if math.IsNaN(g) || g < 0 {
		return 0
	}
	return g
}

// Vega per 1.00 change in volatility.
func Vega(in Inputs) float64 {
	if in.T <= 0 || !in.valid() {
		return 0
	}
	d1, _ := in.d1d2()
	return in.Spot * stdNormal.Prob(d1) * math.Sqrt(in.T)
}

func intrinsic(in Inputs) float64 {
	if in.Right == Call {
		return math.Max(in.Spot-in.Strike, 0)
	}
	return math.Max(in.Strike-in.Spot, 0)
}
