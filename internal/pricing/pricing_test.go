package pricing

import (
	"errors"
	"math"
	"testing"
)

func TestPrice_KnownValue(t *testing.T) {
	// Hull, 10th ed. example 15.6: S=42 K=40 r=0.10 sigma=0.20 T=0.5
	in := Inputs{Right: Call, Spot: 42, Strike: 40, T: 0.5, Rate: 0.10, Vol: 0.20}
	if got := Price(in); math.Abs(got-4.76) > 0.01 {
		t.Errorf("expected call ~4.76, got %.4f", got)
	}

	in.Right = Put
	if got := Price(in); math.Abs(got-0.81) > 0.01 {
		t.Errorf("expected put ~0.81, got %.4f", got)
	}
}

func TestPrice_PutCallParity(t *testing.T) {
	for _, k := range []float64{80, 95, 100, 105, 120} {
		call := Inputs{Right: Call, Spot: 100, Strike: k, T: 0.75, Rate: 0.04, Vol: 0.35}
		put := call
		put.Right = Put

		lhs := Price(call) - Price(put)
		rhs := call.Spot - k*math.Exp(-call.Rate*call.T)
		if math.Abs(lhs-rhs) > 1e-9 {
			t.Errorf("strike %.0f: parity violated, C-P=%.8f S-Ke^-rT=%.8f", k, lhs, rhs)
		}
	}
}

func TestPrice_ExpiredIsIntrinsic(t *testing.T) {
	in := Inputs{Right: Call, Spot: 110, Strike: 100, T: 0, Vol: 0.2}
	if got := Price(in); got != 10 {
		t.Errorf("expected intrinsic 10, got %v", got)
	}
	in.Right = Put
	if got := Price(in); got != 0 {
		t.Errorf("expected worthless put, got %v", got)
	}
}

func TestGamma(t *testing.T) {
	tests := []struct {
		name string
		in   Inputs
		zero bool
	}{
		{"atm", Inputs{Spot: 100, Strike: 100, T: 0.25, Rate: 0.05, Vol: 0.2}, false},
		{"deep otm", Inputs{Spot: 100, Strike: 400, T: 0.01, Rate: 0.05, Vol: 0.1}, false},
		{"expired", Inputs{Spot: 100, Strike: 100, T: 0, Vol: 0.2}, true},
		{"negative time", Inputs{Spot: 100, Strike: 100, T: -1, Vol: 0.2}, true},
		{"zero vol", Inputs{Spot: 100, Strike: 100, T: 0.5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := Gamma(tt.in)
			if g < 0 || math.IsNaN(g) {
				t.Fatalf("gamma must be a non-negative number, got %v", g)
			}
			if tt.zero && g != 0 {
				t.Errorf("expected zero gamma, got %v", g)
			}
		})
	}

	call := Inputs{Right: Call, Spot: 100, Strike: 100, T: 0.25, Rate: 0.05, Vol: 0.2}
	put := call
	put.Right = Put
	if Gamma(call) != Gamma(put) {
		t.Error("call and put gamma differ")
	}
	// ATM 3-month gamma at 20% vol is about 0.0393
	if g := Gamma(call); math.Abs(g-0.0393) > 0.001 {
		t.Errorf("unexpected atm gamma %.5f", g)
	}
}

func TestImpliedVol_RoundTrip(t *testing.T) {
	cfg := DefaultSolverConfig()
	vols := []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 1.5, 2.0, 2.5, 3.0}
	terms := []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 1.5, 2.0}

	for _, right := range []Right{Call, Put} {
		for _, vol := range vols {
			for _, T := range terms {
				in := Inputs{Right: right, Spot: 100, Strike: 100, T: T, Rate: 0.05, Vol: vol}
				price := Price(in)

				got, err := ImpliedVol(in, price, cfg)
				if err != nil {
					t.Errorf("right=%d vol=%.2f T=%.2f: %v", right, vol, T, err)
					continue
				}
				if math.Abs(got-vol) > 1e-4 {
					t.Errorf("right=%d vol=%.2f T=%.2f: recovered %.6f", right, vol, T, got)
				}
			}
		}
	}
}

func TestImpliedVol_Errors(t *testing.T) {
	cfg := DefaultSolverConfig()

	_, err := ImpliedVol(Inputs{Right: Call, Spot: 100, Strike: 100, T: 0}, 2, cfg)
	if !errors.Is(err, ErrExpired) {
		t.Errorf("expected ErrExpired, got %v", err)
	}

	_, err = ImpliedVol(Inputs{Right: Call, Spot: 0, Strike: 100, T: 1}, 2, cfg)
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	// Far OTM with a week left: vega underflows to exactly zero.
	_, err = ImpliedVol(Inputs{Right: Call, Spot: 100, Strike: 10000, T: 0.02}, 1, cfg)
	if !errors.Is(err, ErrZeroVega) {
		t.Errorf("expected ErrZeroVega, got %v", err)
	}

	// A call can never be worth more than the stock.
	cfg.MaxIterations = 5
	_, err = ImpliedVol(Inputs{Right: Call, Spot: 100, Strike: 100, T: 0.5}, 150, cfg)
	if !errors.Is(err, ErrNoConvergence) {
		t.Errorf("expected ErrNoConvergence, got %v", err)
	}
}
