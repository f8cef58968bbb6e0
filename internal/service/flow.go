// Package service runs flow scans end to end: scan, classify, pair
// combos and summarize.
package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dgnsrekt/optionflow/internal/flow"
	"github.com/dgnsrekt/optionflow/internal/scanner"
)

// Scanner is satisfied by *scanner.Scanner.
type Scanner interface {
	Execute(ctx context.Context, req scanner.Request, emit scanner.Sink) (*scanner.BatchResult, error)
}

// Report is the outcome of one scan request.
type Report struct {
	Trades  []flow.Flagged       `json:"trades"`
	Combos  []flow.Combo         `json:"combos"`
	Summary flow.Summary         `json:"summary"`
	Batch   *scanner.BatchResult `json:"-"`
}

type Flow struct {
	scanner    Scanner
	classifier *flow.Classifier
	combo      flow.ComboConfig
	logger     *zap.Logger
}

func NewFlow(s Scanner, classifier *flow.Classifier, combo flow.ComboConfig, logger *zap.Logger) *Flow {
	return &Flow{
		scanner:    s,
		classifier: classifier,
		combo:      combo,
		logger:     logger,
	}
}

// Scan collects every qualifying trade before returning.
func (f *Flow) Scan(ctx context.Context, req scanner.Request) (*Report, error) {
	return f.Stream(ctx, req, nil)
}

// Stream hands each qualifying trade to emit as soon as it is
// classified, then returns the full report. A batch-level failure still
// returns whatever report was built.
func (f *Flow) Stream(ctx context.Context, req scanner.Request, emit func(flow.Flagged)) (*Report, error) {
	var (
		mu      sync.Mutex
		flagged []flow.Flagged
	)

	batch, err := f.scanner.Execute(ctx, req, func(t flow.Trade) {
		tier, ok := f.classifier.Classify(t)
		if !ok {
			return
		}
		ft := flow.Flagged{Trade: t, Tier: tier}
		mu.Lock()
		flagged = append(flagged, ft)
		mu.Unlock()
		if emit != nil {
			emit(ft)
		}
	})

	trades := make([]flow.Trade, len(flagged))
	for i, ft := range flagged {
		trades[i] = ft.Trade
	}
	combos := flow.DetectCombos(trades, f.combo)

	report := &Report{
		Trades:  flagged,
		Combos:  combos,
		Summary: flow.Summarize(flagged, combos),
		Batch:   batch,
	}
	if report.Trades == nil {
		report.Trades = []flow.Flagged{}
	}
	if report.Combos == nil {
		report.Combos = []flow.Combo{}
	}

	if batch != nil {
		f.logger.Info("flow scan complete",
			zap.String("scan", batch.ID),
			zap.Int("emitted", batch.Emitted),
			zap.Int("qualifying", len(flagged)),
			zap.Int("combos", len(combos)),
			zap.Float64("premium", report.Summary.TotalPremium),
		)
	}
	return report, err
}
