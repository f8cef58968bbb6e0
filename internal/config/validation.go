package config

import (
	"fmt"
	"strings"
)

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	InvalidTickers  []string
	InvalidSettings []string
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.InvalidTickers) > 0 || len(e.InvalidSettings) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")

	if len(e.InvalidTickers) > 0 {
		sb.WriteString("\nInvalid tickers:\n")
		for _, t := range e.InvalidTickers {
			sb.WriteString(fmt.Sprintf("  - %q\n", t))
		}
		sb.WriteString("\nTickers must be upper-case symbols like SPY or BRK.B\n")
	}

	if len(e.InvalidSettings) > 0 {
		sb.WriteString("\nInvalid settings:\n")
		for _, s := range e.InvalidSettings {
			sb.WriteString(fmt.Sprintf("  - %s\n", s))
		}
	}

	return sb.String()
}

func (e *ValidationErrors) add(format string, args ...any) {
	e.InvalidSettings = append(e.InvalidSettings, fmt.Sprintf(format, args...))
}

func (e *ValidationErrors) checkTickers(tickers []string) {
	for _, ticker := range tickers {
		if !ValidTicker(ticker) {
			e.InvalidTickers = append(e.InvalidTickers, ticker)
		}
	}
}

// ValidateTickers checks request-supplied symbols.
func ValidateTickers(tickers []string) error {
	errs := &ValidationErrors{}
	errs.checkTickers(tickers)
	if errs.HasErrors() {
		return errs
	}
	return nil
}
