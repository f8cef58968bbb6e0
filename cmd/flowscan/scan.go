package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/optionflow/internal/app"
	"github.com/dgnsrekt/optionflow/internal/config"
	"github.com/dgnsrekt/optionflow/internal/scanner"
	"github.com/dgnsrekt/optionflow/internal/scheduler"
	"github.com/dgnsrekt/optionflow/internal/service"
)

func scanCmd() *cobra.Command {
	var (
		expiration string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "scan [SYMBOLS...]",
		Short: "Scan option flow for the given symbols (default: configured tickers)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			symbols := scanner.NormalizeSymbols(args)
			if len(symbols) == 0 {
				symbols = cfg.Tickers
			}
			if err := config.ValidateTickers(symbols); err != nil {
				return err
			}

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			a.Start(ctx)

			req := scanner.Request{Symbols: symbols}
			if expiration != "" {
				exp, err := time.ParseInLocation(time.DateOnly, expiration, a.Calendar.Location())
				if err != nil {
					return fmt.Errorf("invalid expiration (use YYYY-MM-DD): %w", err)
				}
				req.Expiration = &exp
			}

			logger.Info("starting scan",
				zap.Strings("symbols", symbols),
				zap.String("expiration", expiration),
			)
			start := time.Now()

			report, err := a.Flow.Scan(scheduler.WithPriority(ctx, scheduler.Interactive), req)
			if report != nil {
				if asJSON {
					if werr := writeReportJSON(os.Stdout, report); werr != nil {
						return werr
					}
				} else {
					writeReportTable(os.Stdout, report)
				}
			}
			if err != nil {
				return err
			}

			logger.Info("scan complete",
				zap.Int("qualifying", len(report.Trades)),
				zap.Int("combos", len(report.Combos)),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&expiration, "expiration", "", "restrict to one expiration date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")

	return cmd
}

func writeReportJSON(w io.Writer, report *service.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func writeReportTable(w io.Writer, report *service.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "TIME\tCONTRACT\tSIDE\tSIZE\tPRICE\tPREMIUM\tSPOT\tDTE\tTIER")
	for _, f := range report.Trades {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.2f\t%.0f\t%.2f\t%d\t%d\n",
			f.Timestamp.Format("01-02 15:04:05"),
			f.Contract.Ticker,
			f.Side,
			f.Size,
			f.Price,
			f.Premium,
			f.Spot,
			f.DTE,
			f.Tier,
		)
	}

	if len(report.Combos) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "COMBO\tCALL\tPUT\tSTRIKE GAP\tTIME GAP")
		for _, c := range report.Combos {
			fmt.Fprintf(tw, "%s %s\t%s\t%s\t%.2f\t%.0fs\n",
				c.Underlying,
				c.Expiration.Format(time.DateOnly),
				c.Call.Contract.Ticker,
				c.Put.Contract.Ticker,
				c.StrikeGap,
				c.TimeGap,
			)
		}
	}

	s := report.Summary
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "trades: %d\tcontracts: %d\tpremium: $%.0f\tput/call: %.2f\n",
		s.Trades, s.Contracts, s.TotalPremium, s.PutCallRatio())
	fmt.Fprintf(tw, "bullish: %d\tbearish: %d\tcombos: %d\n", s.Bullish, s.Bearish, s.Combos)

	if b := report.Batch; b != nil {
		fmt.Fprintf(tw, "underlyings: %d/%d ok\tcontracts: %d\tprints: %d\n", b.Succeeded, b.Total, b.Contracts, b.Prints)
		for _, e := range b.Errors {
			fmt.Fprintf(tw, "error: %s\n", e)
		}
	}
}
