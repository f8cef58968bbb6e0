package scanner

import (
	"fmt"
	"strings"
	"time"

	"github.com/dgnsrekt/optionflow/internal/flow"
	"github.com/dgnsrekt/optionflow/internal/session"
)

// Request describes one batch scan.
type Request struct {
	Symbols    []string
	Expiration *time.Time
}

// NormalizeSymbols upper-cases, trims and de-duplicates symbols, keeping
// first-seen order.
func NormalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// UnderlyingResult is the outcome of scanning one underlying.
type UnderlyingResult struct {
	Symbol          string
	Spot            float64
	Contracts       int
	ContractsFailed int
	Prints          int
	SpotUnresolved  int
	Emitted         int
	Error           error
}

func (r UnderlyingResult) String() string {
	return fmt.Sprintf("%s spot=%.2f contracts=%d failed=%d prints=%d", r.Symbol, r.Spot, r.Contracts, r.ContractsFailed, r.Prints)
}

// BatchResult summarizes a scan. Per-item failures are reported here
// alongside the trades that were emitted.
type BatchResult struct {
	ID              string
	Window          session.Window
	Total           int
	Succeeded       int
	Failed          int
	Empty           int
	Contracts       int
	ContractsFailed int
	Prints          int
	SpotUnresolved  int
	Emitted         int
	Errors          []string
	Underlyings     []UnderlyingResult
	Duration        time.Duration
}

func (b *BatchResult) add(r UnderlyingResult) {
	b.Underlyings = append(b.Underlyings, r)
	b.Contracts += r.Contracts
	b.ContractsFailed += r.ContractsFailed
	b.Prints += r.Prints
	b.SpotUnresolved += r.SpotUnresolved

	switch {
	case r.Error != nil:
		b.Failed++
		b.Errors = append(b.Errors, fmt.Sprintf("%s: %v", r.Symbol, r.Error))
	case r.Contracts == 0:
		b.Empty++
		b.Succeeded++
	default:
		b.Succeeded++
	}
}

// Sink receives trades as they are normalized. Calls are serialized.
type Sink func(flow.Trade)

type event struct {
	trade  *flow.Trade
	result *UnderlyingResult
}
