package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestListContracts_FollowsCursor(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("apiKey") != "test-key" {
			t.Errorf("expected apiKey test-key, got %s", r.URL.Query().Get("apiKey"))
		}

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("cursor") == "" {
			if r.URL.Path != "/v3/reference/options/contracts" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if r.URL.Query().Get("underlying_ticker") != "SPY" {
				t.Errorf("expected underlying_ticker SPY, got %s", r.URL.Query().Get("underlying_ticker"))
			}
			json.NewEncoder(w).Encode(ContractsPage{
				Results: []ContractRef{{Ticker: "O:SPY251219C00500000", StrikePrice: 500, ContractType: "call"}},
				NextURL: server.URL + "/v3/reference/options/contracts?cursor=abc",
			})
			return
		}
		json.NewEncoder(w).Encode(ContractsPage{
			Results: []ContractRef{{Ticker: "O:SPY251219P00450000", StrikePrice: 450, ContractType: "put"}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", 10*time.Second, zap.NewNop())

	first, err := client.ListContracts(context.Background(), "SPY", nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first.Results) != 1 || first.NextURL == "" {
		t.Fatalf("unexpected first page: %+v", first)
	}

	second, err := client.ListContracts(context.Background(), "SPY", nil, first.NextURL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(second.Results) != 1 || second.Results[0].ContractType != "put" {
		t.Errorf("unexpected second page: %+v", second)
	}
	if second.NextURL != "" {
		t.Errorf("expected last page, got next_url %s", second.NextURL)
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, ErrNotFound},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusBadGateway, ErrTransient},
		{http.StatusUnauthorized, ErrAuthFailed},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		client := NewClient(server.URL, "test-key", 10*time.Second, zap.NewNop())
		_, err := client.LastPrice(context.Background(), "SPY")
		server.Close()

		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: expected %v, got %v", tt.status, tt.want, err)
		}
	}
}

func TestTimeoutIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", 10*time.Second, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.LastPrice(ctx, "SPY")
	if Classify(err) != ClassTransient {
		t.Errorf("expected transient classification, got %v", err)
	}
}

func TestMinuteBars(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expectedPath := "/v2/aggs/ticker/SPY/range/1/minute/2025-11-14/2025-11-14"
		if r.URL.Path != expectedPath {
			t.Errorf("expected path %s, got %s", expectedPath, r.URL.Path)
		}
		w.Write([]byte(`{"results":[{"t":1763130600000,"o":1,"h":2,"l":0.5,"c":1.5,"v":100}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", 10*time.Second, zap.NewNop())
	day := time.Date(2025, 11, 14, 0, 0, 0, 0, time.UTC)

	bars, err := client.MinuteBars(context.Background(), "SPY", day)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bars) != 1 || bars[0].Close != 1.5 {
		t.Errorf("unexpected bars: %+v", bars)
	}
}
