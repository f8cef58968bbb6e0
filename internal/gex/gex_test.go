package gex

import (
	"context"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/optionflow/internal/pricing"
	"github.com/dgnsrekt/optionflow/internal/universe"
	"github.com/dgnsrekt/optionflow/internal/upstream"
)

var (
	asOf   = time.Date(2025, 11, 14, 15, 0, 0, 0, time.UTC)
	expiry = time.Date(2025, 12, 19, 0, 0, 0, 0, time.UTC)
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.AsOf = asOf
	return opts
}

func pos(kind universe.Kind, strike, gamma, oi float64) Position {
	return Position{Underlying: "SPY", Strike: strike, Kind: kind, Expiration: expiry, Gamma: gamma, OpenInterest: oi}
}

func TestContractExposure_SignConvention(t *testing.T) {
	for _, tt := range []struct{ g, oi, s float64 }{
		{0.03, 500, 100},
		{0.0012, 12345, 512.37},
		{1e-5, 1, 4800},
	} {
		want := tt.g * tt.oi * tt.s * tt.s * 100
		if got := ContractExposure(universe.Call, tt.g, tt.oi, tt.s); got != want {
			t.Errorf("call: expected %v, got %v", want, got)
		}
		if got := ContractExposure(universe.Put, tt.g, tt.oi, tt.s); got != -want {
			t.Errorf("put: expected %v, got %v", -want, got)
		}
	}

	for _, bad := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if got := ContractExposure(universe.Call, bad, 10, 100); got != 0 {
			t.Errorf("gamma %v: expected zero exposure, got %v", bad, got)
		}
	}
}

func TestAggregate_EndToEnd(t *testing.T) {
	positions := []Position{
		pos(universe.Put, 95, 0.02, 1000),
		pos(universe.Call, 105, 0.03, 500),
	}
	p := Aggregate("SPY", 100, positions, nil, testOptions())

	spot, callGamma, callOI, putGamma, putOI := 100.0, 0.03, 500.0, 0.02, 1000.0
	wantCall := callGamma * callOI * spot * spot * 100
	wantPut := -(putGamma * putOI * spot * spot * 100)

	if len(p.Strikes) != 2 {
		t.Fatalf("expected 2 strikes, got %d", len(p.Strikes))
	}
	put, call := p.Strikes[0], p.Strikes[1]
	if call.Strike != 105 || call.CallExposure != wantCall {
		t.Errorf("expected call exposure %v at 105, got %+v", wantCall, call)
	}
	if put.Strike != 95 || put.PutExposure != wantPut {
		t.Errorf("expected put exposure %v at 95, got %+v", wantPut, put)
	}
	if (call.NetExposure > 0) == (put.NetExposure > 0) {
		t.Error("net exposure sign should differ between the strikes")
	}
	for _, se := range p.Strikes {
		if se.NetExposure != se.CallExposure+se.PutExposure {
			t.Errorf("strike %v: net != call + put", se.Strike)
		}
	}

	if !p.LandmarksAvailable || p.Flip == nil || *p.Flip != 95 {
		t.Errorf("expected flip at 95 (largest |exposure|), got %v", p.Flip)
	}
	if p.NetGEX != wantCall+wantPut || p.Environment != Negative {
		t.Errorf("unexpected totals: net=%v env=%s", p.NetGEX, p.Environment)
	}
	if p.ZeroGamma == nil || *p.ZeroGamma <= 95 || *p.ZeroGamma >= 105 {
		t.Errorf("zero gamma should fall between the strikes, got %v", p.ZeroGamma)
	}
	if len(p.CallWalls) != 1 || p.CallWalls[0].Strike != 105 {
		t.Errorf("unexpected call walls %+v", p.CallWalls)
	}
	if len(p.PutWalls) != 1 || p.PutWalls[0].Strike != 95 {
		t.Errorf("unexpected put walls %+v", p.PutWalls)
	}
}

func TestZeroGamma_FirstCrossing(t *testing.T) {
	strikes := []StrikeExposure{
		{Strike: 100, NetExposure: 10},
		{Strike: 105, NetExposure: -5},
		{Strike: 110, NetExposure: 8},
	}
	z := zeroGamma(strikes, 200)
	if !(z > 100 && z < 105) {
		t.Fatalf("zero gamma %v should fall strictly between 100 and 105", z)
	}
	if math.Abs(z-(100+5*10.0/15.0)) > 1e-9 {
		t.Errorf("expected linear interpolation 103.33, got %v", z)
	}
}

func TestZeroGamma_SkipsZeroStrikes(t *testing.T) {
	strikes := []StrikeExposure{
		{Strike: 100, NetExposure: 4},
		{Strike: 105, NetExposure: 0},
		{Strike: 110, NetExposure: -4},
	}
	if z := zeroGamma(strikes, 0); z != 105 {
		t.Errorf("expected crossing at 105, got %v", z)
	}
}

func TestZeroGamma_NoCrossingDefaultsToSpot(t *testing.T) {
	strikes := []StrikeExposure{
		{Strike: 100, NetExposure: 4},
		{Strike: 110, NetExposure: 9},
	}
	if z := zeroGamma(strikes, 107.5); z != 107.5 {
		t.Errorf("expected spot, got %v", z)
	}
}

func TestAggregate_LandmarksUnavailable(t *testing.T) {
	p := Aggregate("SPY", 100, []Position{
		pos(universe.Call, 105, 0.03, 500),
		pos(universe.Put, 95, 0.02, 0),
	}, nil, testOptions())

	if p.LandmarksAvailable || p.ZeroGamma != nil || p.Flip != nil || p.CallWalls != nil || p.PutWalls != nil {
		t.Errorf("landmarks should be unavailable with one nonzero strike: %+v", p)
	}
	if p.TotalCall <= 0 || p.Environment != Positive {
		t.Errorf("totals should still be reported: %+v", p)
	}

	empty := Aggregate("SPY", 100, nil, nil, testOptions())
	if empty.LandmarksAvailable || empty.NetGEX != 0 || empty.Environment != Negative {
		t.Errorf("unexpected empty profile: %+v", empty)
	}
}

func TestAggregate_CancellingStrikeCarriesExposure(t *testing.T) {
	p := Aggregate("SPY", 100, []Position{
		pos(universe.Call, 100, 0.02, 100),
		pos(universe.Put, 100, 0.02, 100),
		pos(universe.Call, 105, 0.03, 500),
	}, nil, testOptions())

	var at100 StrikeExposure
	for _, se := range p.Strikes {
		if se.Strike == 100 {
			at100 = se
		}
	}
	if at100.NetExposure != 0 || at100.CallExposure == 0 {
		t.Fatalf("expected call and put to cancel at 100, got %+v", at100)
	}

	if !p.LandmarksAvailable || p.Flip == nil || p.ZeroGamma == nil {
		t.Fatalf("two strikes carry exposure, landmarks should be available: %+v", p)
	}
	if *p.Flip != 105 {
		t.Errorf("expected flip at 105, got %v", *p.Flip)
	}
	if *p.ZeroGamma != 100 {
		t.Errorf("expected zero gamma to default to spot, got %v", *p.ZeroGamma)
	}
	if len(p.PutWalls) != 1 || p.PutWalls[0].Strike != 100 {
		t.Errorf("expected put wall at 100, got %+v", p.PutWalls)
	}
	if len(p.CallWalls) != 2 || p.CallWalls[0].Strike != 105 {
		t.Errorf("unexpected call walls %+v", p.CallWalls)
	}
}

func TestAggregate_LiveOIOverride(t *testing.T) {
	call := pos(universe.Call, 105, 0.03, math.NaN())
	put := pos(universe.Put, 95, 0.02, 1000)
	live := LiveOI{NewOIKey("SPY", 105, universe.Call, expiry): 2000}

	p := Aggregate("SPY", 100, []Position{call, put}, live, testOptions())

	want := ContractExposure(universe.Call, 0.03, 2000, 100)
	if p.Strikes[1].CallExposure != want {
		t.Errorf("expected exposure from live OI %v, got %v", want, p.Strikes[1].CallExposure)
	}
	if p.LiveOverrides != 1 {
		t.Errorf("expected 1 live override, got %d", p.LiveOverrides)
	}

	// The override tracks its value exactly.
	live[NewOIKey("SPY", 105, universe.Call, expiry)] = 500
	p = Aggregate("SPY", 100, []Position{call, put}, live, testOptions())
	if got := p.Strikes[1].CallExposure; got != ContractExposure(universe.Call, 0.03, 500, 100) {
		t.Errorf("expected exposure to follow override, got %v", got)
	}

	// A key for another expiration does not match.
	other := LiveOI{NewOIKey("SPY", 95, universe.Put, expiry.AddDate(0, 0, 7)): 1}
	p = Aggregate("SPY", 100, []Position{put}, other, testOptions())
	if p.LiveOverrides != 0 || p.Strikes[0].PutExposure != ContractExposure(universe.Put, 0.02, 1000, 100) {
		t.Errorf("override applied to the wrong contract: %+v", p)
	}
}

func TestAggregate_Horizon(t *testing.T) {
	far := pos(universe.Call, 110, 0.01, 100)
	far.Expiration = asOf.AddDate(0, 0, 60)
	expired := pos(universe.Call, 90, 0.01, 100)
	expired.Expiration = asOf.AddDate(0, 0, -1)
	sameDay := pos(universe.Put, 100, 0.01, 100)
	sameDay.Expiration = time.Date(2025, 11, 14, 0, 0, 0, 0, time.UTC)

	p := Aggregate("SPY", 100, []Position{far, expired, sameDay, pos(universe.Call, 105, 0.01, 100)}, nil, testOptions())
	if p.Contracts != 2 {
		t.Errorf("expected 2 in-horizon contracts, got %d", p.Contracts)
	}
	for _, se := range p.Strikes {
		if se.Strike == 110 || se.Strike == 90 {
			t.Errorf("strike %v should be outside the horizon", se.Strike)
		}
	}
}

func TestAggregate_WallsOrdered(t *testing.T) {
	positions := []Position{
		pos(universe.Call, 100, 0.01, 100),
		pos(universe.Call, 105, 0.01, 300),
		pos(universe.Call, 110, 0.01, 200),
		pos(universe.Call, 115, 0.01, 50),
		pos(universe.Put, 90, 0.01, 400),
		pos(universe.Put, 95, 0.01, 100),
	}
	opts := testOptions()
	opts.Walls = 2
	p := Aggregate("SPY", 100, positions, nil, opts)

	if len(p.CallWalls) != 2 || p.CallWalls[0].Strike != 105 || p.CallWalls[1].Strike != 110 {
		t.Errorf("unexpected call walls %+v", p.CallWalls)
	}
	if len(p.PutWalls) != 2 || p.PutWalls[0].Strike != 90 || p.PutWalls[1].Strike != 95 {
		t.Errorf("unexpected put walls %+v", p.PutWalls)
	}
}

type mockChain struct {
	snaps []upstream.SnapshotContract
}

func (m mockChain) Chain(ctx context.Context, underlying string) ([]upstream.SnapshotContract, error) {
	return m.snaps, nil
}

type fixedSpot float64

func (f fixedSpot) Spot(ctx context.Context, ticker string) (float64, error) {
	return float64(f), nil
}

func snapshot(kind string, strike, oi float64) upstream.SnapshotContract {
	return upstream.SnapshotContract{
		Details: upstream.SnapshotDetails{
			Ticker:         "O:SPY",
			ContractType:   kind,
			ExpirationDate: "2025-12-19",
			StrikePrice:    strike,
		},
		OpenInterest: oi,
	}
}

func TestService_Profile(t *testing.T) {
	withGreeks := snapshot("call", 105, 500)
	withGreeks.Greeks = &upstream.Greeks{Gamma: 0.03}
	withGreeks.UnderlyingAsset.Price = 100

	iv := 0.25
	withIV := snapshot("put", 95, 1000)
	withIV.ImpliedVolatility = &iv

	// Quote generated from a known vol so the solver has a real answer.
	solveIn := pricing.Inputs{Right: pricing.Call, Spot: 100, Strike: 100, Rate: 0.045, Vol: 0.3}
	solveIn.T = time.Date(2025, 12, 19, 16, 0, 0, 0, time.UTC).Sub(asOf).Seconds() / secondsPerYear
	withQuote := snapshot("call", 100, 200)
	withQuote.LastQuote.Midpoint = pricing.Price(solveIn)

	noData := snapshot("put", 90, 300)

	svc := NewService(mockChain{snaps: []upstream.SnapshotContract{withGreeks, withIV, withQuote, noData}}, nil, DefaultServiceConfig(), zap.NewNop())
	svc.now = func() time.Time { return asOf }

	p, err := svc.Profile(context.Background(), "spy", nil)
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}

	if p.Spot != 100 || p.Underlying != "SPY" {
		t.Errorf("unexpected spot/underlying: %v %s", p.Spot, p.Underlying)
	}
	if p.EstimatedGamma != 2 || p.GammaUnavailable != 1 {
		t.Errorf("expected 2 estimated and 1 unavailable, got %d/%d", p.EstimatedGamma, p.GammaUnavailable)
	}

	byStrike := make(map[float64]StrikeExposure)
	for _, se := range p.Strikes {
		byStrike[se.Strike] = se
	}
	if got := byStrike[105].CallExposure; got != ContractExposure(universe.Call, 0.03, 500, 100) {
		t.Errorf("supplied gamma not used: %v", got)
	}
	if byStrike[95].PutExposure >= 0 {
		t.Errorf("expected negative put exposure from snapshot IV, got %v", byStrike[95].PutExposure)
	}
	solvedGamma := pricing.Gamma(solveIn)
	if got, want := byStrike[100].CallExposure, ContractExposure(universe.Call, solvedGamma, 200, 100); math.Abs(got-want)/want > 1e-3 {
		t.Errorf("solved gamma exposure %v, want ~%v", got, want)
	}
	if se, ok := byStrike[90]; !ok || se.NetExposure != 0 {
		t.Errorf("contract without gamma should contribute zero, got %+v", se)
	}
}

func TestService_EstimatesWhenGreeksEmpty(t *testing.T) {
	iv := 0.25
	s := snapshot("call", 105, 500)
	s.Greeks = &upstream.Greeks{}
	s.ImpliedVolatility = &iv
	s.UnderlyingAsset.Price = 100

	svc := NewService(mockChain{snaps: []upstream.SnapshotContract{s}}, nil, DefaultServiceConfig(), zap.NewNop())
	svc.now = func() time.Time { return asOf }

	p, err := svc.Profile(context.Background(), "SPY", nil)
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if p.EstimatedGamma != 1 || p.GammaUnavailable != 0 {
		t.Errorf("expected 1 estimated and 0 unavailable, got %d/%d", p.EstimatedGamma, p.GammaUnavailable)
	}
	if p.TotalCall <= 0 {
		t.Errorf("expected positive call exposure from estimated gamma, got %v", p.TotalCall)
	}
}

func TestService_FallsBackToSpotSource(t *testing.T) {
	s := snapshot("call", 105, 500)
	s.Greeks = &upstream.Greeks{Gamma: 0.03}

	svc := NewService(mockChain{snaps: []upstream.SnapshotContract{s}}, fixedSpot(101), DefaultServiceConfig(), zap.NewNop())
	svc.now = func() time.Time { return asOf }

	p, err := svc.Profile(context.Background(), "SPY", nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.Spot != 101 {
		t.Errorf("expected fallback spot 101, got %v", p.Spot)
	}

	noSpot := NewService(mockChain{}, fixedSpot(0), DefaultServiceConfig(), zap.NewNop())
	if _, err := noSpot.Profile(context.Background(), "SPY", nil); err == nil {
		t.Error("expected error without any spot")
	}
}

func TestBuildLiveOI(t *testing.T) {
	live, err := BuildLiveOI("SPY", []LiveOIEntry{
		{Strike: 100, Kind: "call", Expiration: "2025-12-19", OpenInterest: 10},
		{Strike: 100, Kind: "P", Expiration: "2025-12-19", OpenInterest: 20},
		{Strike: 100, Kind: "call", Expiration: "2025-12-19", OpenInterest: 30},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(live))
	}
	if got := live[NewOIKey("SPY", 100, universe.Call, expiry)]; got != 30 {
		t.Errorf("expected later entry to win, got %v", got)
	}
	if got := live[NewOIKey("SPY", 100, universe.Put, expiry)]; got != 20 {
		t.Errorf("expected put override 20, got %v", got)
	}

	bad := []LiveOIEntry{
		{Strike: 100, Kind: "straddle", Expiration: "2025-12-19"},
		{Strike: 100, Kind: "call", Expiration: "12/19/2025"},
		{Strike: 100, Kind: "call", Expiration: "2025-12-19", OpenInterest: -1},
	}
	for _, e := range bad {
		if _, err := BuildLiveOI("SPY", []LiveOIEntry{e}); err == nil {
			t.Errorf("expected error for %+v", e)
		}
	}
}
