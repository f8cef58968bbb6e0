package pricing

import (
	"fmt"
	"math"
)

// SolverConfig bounds the Newton-Raphson implied volatility search.
type SolverConfig struct {
	InitialGuess  float64
	Tolerance     float64
	MaxIterations int
	MinVol        float64
	MaxVol        float64
}

func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		InitialGuess:  0.30,
		Tolerance:     1e-5,
		MaxIterations: 100,
		MinVol:        0.001,
		MaxVol:        5.0,
	}
}

// ImpliedVol solves for the volatility that reproduces price. in.Vol is
// ignored. Callers decide what to do on failure; nothing is substituted.
func ImpliedVol(in Inputs, price float64, cfg SolverConfig) (float64, error) {
	if in.T <= 0 {
		return 0, ErrExpired
	}
	if in.Spot <= 0 || in.Strike <= 0 || price <= 0 || math.IsNaN(price) {
		return 0, fmt.Errorf("%w: spot=%g strike=%g price=%g", ErrInvalidInput, in.Spot, in.Strike, price)
	}

	vol := clamp(cfg.InitialGuess, cfg.MinVol, cfg.MaxVol)
	for i := 0; i < cfg.MaxIterations; i++ {
		in.Vol = vol
		diff := Price(in) - price
		if math.Abs(diff) < cfg.Tolerance {
			return vol, nil
		}

		vega := Vega(in)
		if vega == 0 {
			return 0, ErrZeroVega
		}

		vol = clamp(vol-diff/vega, cfg.MinVol, cfg.MaxVol)
	}

	in.Vol = vol
	if math.Abs(Price(in)-price) < cfg.Tolerance {
		return vol, nil
	}
	return 0, fmt.Errorf("%w after %d iterations", ErrNoConvergence, cfg.MaxIterations)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
