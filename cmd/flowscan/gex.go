package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/optionflow/internal/app"
	"github.com/dgnsrekt/optionflow/internal/config"
	"github.com/dgnsrekt/optionflow/internal/gex"
	"github.com/dgnsrekt/optionflow/internal/scheduler"
)

func gexCmd() *cobra.Command {
	var (
		liveOIFile string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "gex SYMBOL",
		Short: "Build the dealer gamma exposure profile for one underlying",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			symbol := strings.ToUpper(strings.TrimSpace(args[0]))
			if !config.ValidTicker(symbol) {
				return fmt.Errorf("invalid symbol %q", symbol)
			}

			var live gex.LiveOI
			if liveOIFile != "" {
				var err error
				live, err = readLiveOI(liveOIFile, symbol)
				if err != nil {
					return err
				}
			}

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			a.Start(ctx)

			profile, err := a.GEX.Profile(scheduler.WithPriority(ctx, scheduler.Interactive), symbol, live)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(profile)
			}
			writeProfile(os.Stdout, profile)
			return nil
		},
	}

	cmd.Flags().StringVar(&liveOIFile, "live-oi", "", `JSON file of open interest overrides ({"live_oi": [...]})`)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the profile as JSON")

	return cmd
}

func readLiveOI(path, symbol string) (gex.LiveOI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading live OI file: %w", err)
	}
	var body struct {
		LiveOI []gex.LiveOIEntry `json:"live_oi"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("parsing live OI file: %w", err)
	}
	return gex.BuildLiveOI(symbol, body.LiveOI)
}

func writeProfile(w io.Writer, p *gex.Profile) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "%s\tspot %.2f\t%s\n", p.Underlying, p.Spot, p.Environment)
	fmt.Fprintf(tw, "net\t%.0f\tcall %.0f\tput %.0f\n", p.NetGEX, p.TotalCall, p.TotalPut)
	if p.LandmarksAvailable {
		fmt.Fprintf(tw, "zero gamma\t%.2f\tflip %.2f\n", *p.ZeroGamma, *p.Flip)
		for _, wl := range p.CallWalls {
			fmt.Fprintf(tw, "call wall\t%.2f\t%.0f\n", wl.Strike, wl.Exposure)
		}
		for _, wl := range p.PutWalls {
			fmt.Fprintf(tw, "put wall\t%.2f\t%.0f\n", wl.Strike, wl.Exposure)
		}
	} else {
		fmt.Fprintln(tw, "landmarks unavailable: fewer than two strikes carry exposure")
	}
	fmt.Fprintf(tw, "contracts\t%d\tlive overrides %d\testimated gamma %d\tunavailable %d\n",
		p.Contracts, p.LiveOverrides, p.EstimatedGamma, p.GammaUnavailable)
}
