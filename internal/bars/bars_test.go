package bars

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type countingFetcher struct {
	bars  []Bar
	err   error
	calls atomic.Int32
}

func (f *countingFetcher) FetchBars(ctx context.Context, underlying string, day time.Time) ([]Bar, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]Bar, len(f.bars))
	copy(out, f.bars)
	return out, nil
}

func minuteSeries(start time.Time, closes ...float64) []Bar {
	out := make([]Bar, len(closes))
	for i, c := range closes {
		out[i] = Bar{Start: start.Add(time.Duration(i) * time.Minute), Close: c}
	}
	return out
}

func TestSpotAt_NearestBar(t *testing.T) {
	open := time.Date(2025, 11, 14, 14, 30, 0, 0, time.UTC)
	fetcher := &countingFetcher{bars: minuteSeries(open, 100, 101, 102, 103)}
	r := NewResolver(NewMemoryStore(), fetcher, ResolverConfig{TTL: time.Hour}, zap.NewNop())

	tests := []struct {
		name string
		at   time.Time
		want float64
	}{
		{"exact", open.Add(2 * time.Minute), 102},
		{"closer to earlier", open.Add(time.Minute + 20*time.Second), 101},
		{"closer to later", open.Add(time.Minute + 40*time.Second), 102},
		{"tie goes earlier", open.Add(time.Minute + 30*time.Second), 101},
		{"before first bar", open.Add(-5 * time.Minute), 100},
		{"after last bar", open.Add(time.Hour), 103},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.SpotAt(context.Background(), "SPY", tt.at)
			if err != nil {
				t.Fatalf("SpotAt failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %.2f, got %.2f", tt.want, got)
			}
		})
	}

	if n := fetcher.calls.Load(); n != 1 {
		t.Errorf("expected bars fetched once per session, got %d fetches", n)
	}
	hits, misses := r.CacheStats()
	if misses != 1 || hits != int64(len(tests)-1) {
		t.Errorf("unexpected cache stats: hits=%d misses=%d", hits, misses)
	}
}

func TestSpotAt_SeparateKeysPerDay(t *testing.T) {
	ny, _ := time.LoadLocation("America/New_York")
	fetcher := &countingFetcher{bars: minuteSeries(time.Date(2025, 11, 14, 9, 30, 0, 0, ny), 50)}
	r := NewResolver(NewMemoryStore(), fetcher, ResolverConfig{Location: ny}, zap.NewNop())

	ctx := context.Background()
	r.SpotAt(ctx, "SPY", time.Date(2025, 11, 14, 10, 0, 0, 0, ny))
	r.SpotAt(ctx, "SPY", time.Date(2025, 11, 13, 10, 0, 0, 0, ny))
	r.SpotAt(ctx, "QQQ", time.Date(2025, 11, 14, 10, 0, 0, 0, ny))
	// 01:00 UTC on the 15th is still the 14th in New York.
	r.SpotAt(ctx, "SPY", time.Date(2025, 11, 15, 1, 0, 0, 0, time.UTC))

	if n := fetcher.calls.Load(); n != 3 {
		t.Errorf("expected 3 fetches, got %d", n)
	}
}

func TestSpotAt_Errors(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 11, 14, 15, 0, 0, 0, time.UTC)

	empty := NewResolver(NewMemoryStore(), &countingFetcher{}, ResolverConfig{}, zap.NewNop())
	if _, err := empty.SpotAt(ctx, "SPY", at); !errors.Is(err, ErrNoBars) {
		t.Errorf("expected ErrNoBars, got %v", err)
	}

	upstreamErr := errors.New("boom")
	failing := NewResolver(NewMemoryStore(), &countingFetcher{err: upstreamErr}, ResolverConfig{}, zap.NewNop())
	if _, err := failing.SpotAt(ctx, "SPY", at); !errors.Is(err, upstreamErr) {
		t.Errorf("expected wrapped fetch error, got %v", err)
	}
}

func TestResolver_LiveSessionUsesShortTTL(t *testing.T) {
	store := NewMemoryStore()
	clock := time.Date(2025, 11, 14, 15, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	fetcher := &countingFetcher{bars: minuteSeries(clock.Add(-time.Hour), 10, 11)}
	r := NewResolver(store, fetcher, ResolverConfig{TTL: 24 * time.Hour, LiveTTL: time.Minute}, zap.NewNop())
	r.now = func() time.Time { return clock }

	ctx := context.Background()
	r.SpotAt(ctx, "SPY", clock)
	r.SpotAt(ctx, "SPY", clock)
	if n := fetcher.calls.Load(); n != 1 {
		t.Fatalf("expected 1 fetch before expiry, got %d", n)
	}

	clock = clock.Add(2 * time.Minute)
	r.SpotAt(ctx, "SPY", clock)
	if n := fetcher.calls.Load(); n != 2 {
		t.Errorf("expected refetch after live ttl, got %d fetches", n)
	}

	// Yesterday's bars keep the long TTL.
	r.SpotAt(ctx, "SPY", clock.AddDate(0, 0, -1))
	clock = clock.Add(time.Hour)
	r.SpotAt(ctx, "SPY", clock.AddDate(0, 0, -1))
	if n := fetcher.calls.Load(); n != 3 {
		t.Errorf("expected historical bars to stay cached, got %d fetches", n)
	}
}

func TestMemoryStore_Purge(t *testing.T) {
	store := NewMemoryStore()
	clock := time.Now()
	store.now = func() time.Time { return clock }

	ctx := context.Background()
	store.Put(ctx, Key{"SPY", "2025-11-14"}, []Bar{{Close: 1}}, time.Minute)
	store.Put(ctx, Key{"QQQ", "2025-11-14"}, []Bar{{Close: 2}}, 0)

	clock = clock.Add(time.Hour)
	if n := store.Purge(); n != 1 {
		t.Errorf("expected 1 purged, got %d", n)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 remaining entry, got %d", store.Len())
	}
	if _, ok, _ := store.Get(ctx, Key{"QQQ", "2025-11-14"}); !ok {
		t.Error("entry without ttl should not expire")
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("OPTIONFLOW_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("OPTIONFLOW_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	store, err := NewRedisStore(ctx, RedisConfig{Addr: addr})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer store.Close()

	key := Key{Underlying: "TEST", Date: "2000-01-03"}
	defer store.Delete(ctx, key)

	if _, ok, err := store.Get(ctx, key); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	want := minuteSeries(time.Date(2000, 1, 3, 14, 30, 0, 0, time.UTC), 1.5, 2.5)
	if err := store.Put(ctx, key, want, time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if len(got) != 2 || got[1].Close != 2.5 || !got[0].Start.Equal(want[0].Start) {
		t.Errorf("unexpected bars: %+v", got)
	}
}
