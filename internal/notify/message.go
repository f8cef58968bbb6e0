package notify

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgnsrekt/optionflow/internal/service"
)

// FormatSuccessMessage creates a success notification body.
func FormatSuccessMessage(report *service.Report, duration time.Duration) string {
	var sb strings.Builder

	writeBatch(&sb, report)
	s := report.Summary
	sb.WriteString(fmt.Sprintf("Qualifying trades: %d\n", s.Trades))
	sb.WriteString(fmt.Sprintf("Premium: $%.0f (calls $%.0f / puts $%.0f)\n", s.TotalPremium, s.CallPremium, s.PutPremium))
	sb.WriteString(fmt.Sprintf("Combos: %d\n", s.Combos))
	if tiers := formatTiers(s.ByTier); tiers != "" {
		sb.WriteString(fmt.Sprintf("Tiers: %s\n", tiers))
	}
	sb.WriteString(fmt.Sprintf("Duration: %s", duration.Round(time.Second)))

	return sb.String()
}

// FormatFailureMessage creates a failure notification body.
func FormatFailureMessage(report *service.Report, duration time.Duration, err error) string {
	var sb strings.Builder

	writeBatch(&sb, report)
	sb.WriteString(fmt.Sprintf("Duration: %s", duration.Round(time.Second)))

	if err != nil {
		sb.WriteString(fmt.Sprintf("\n\nError: %v", err))
	}

	// Include first 3 error messages if available
	if report != nil && report.Batch != nil && len(report.Batch.Errors) > 0 {
		errs := report.Batch.Errors
		sb.WriteString("\n\nErrors:\n")
		limit := min(3, len(errs))
		for i := 0; i < limit; i++ {
			sb.WriteString(fmt.Sprintf("- %s\n", errs[i]))
		}
		if len(errs) > 3 {
			sb.WriteString(fmt.Sprintf("... and %d more errors", len(errs)-3))
		}
	}

	return sb.String()
}

func writeBatch(sb *strings.Builder, report *service.Report) {
	if report == nil || report.Batch == nil {
		return
	}
	b := report.Batch
	sb.WriteString(fmt.Sprintf("Underlyings: %d\n", b.Total))
	sb.WriteString(fmt.Sprintf("Succeeded: %d\n", b.Succeeded))
	sb.WriteString(fmt.Sprintf("Failed: %d\n", b.Failed))
	sb.WriteString(fmt.Sprintf("Contracts: %d\n", b.Contracts))
	sb.WriteString(fmt.Sprintf("Prints: %d\n", b.Prints))
}

func formatTiers(byTier map[int]int) string {
	levels := make([]int, 0, len(byTier))
	for l := range byTier {
		levels = append(levels, l)
	}
	sort.Ints(levels)

	parts := make([]string, 0, len(levels))
	for _, l := range levels {
		parts = append(parts, fmt.Sprintf("T%d=%d", l, byTier[l]))
	}
	return strings.Join(parts, " ")
}
