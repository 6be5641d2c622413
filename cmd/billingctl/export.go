package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/0gfoundation/0g-inference-billing/internal/history"
)

func newExportCmd(g *globals) *cobra.Command {
	var (
		f                history.ExportFilter
		format, out      string
		startDay, endDay string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a payer's inference history as JSON or CSV",
		Example: `  billingctl export --wallet 0xabc... --format csv --out history.csv
  billingctl export --wallet 0xabc... --start 2026-01-01 --end 2026-01-31`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmtKind, err := history.ParseFormat(format)
			if err != nil {
				return err
			}
			if startDay != "" {
				if f.Start, err = time.Parse(time.DateOnly, startDay); err != nil {
					return fmt.Errorf("--start: %w", err)
				}
			}
			if endDay != "" {
				end, err := time.Parse(time.DateOnly, endDay)
				if err != nil {
					return fmt.Errorf("--end: %w", err)
				}
				f.End = end.Add(24*time.Hour - time.Millisecond)
			}

			store, err := g.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.Export(cmd.Context(), f)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				file, err := os.Create(out)
				if err != nil {
					return err
				}
				defer file.Close()
				w = file
			}
			if fmtKind == history.FormatCSV {
				return history.WriteCSV(w, recs)
			}
			return printJSON(w, map[string]any{"ok": true, "wallet": f.Wallet, "count": len(recs), "data": recs})
		},
	}
	cmd.Flags().StringVar(&f.Wallet, "wallet", "", "Payer wallet to export (required)")
	cmd.Flags().StringVar(&f.ModelID, "model", "", "Only this model")
	cmd.Flags().IntVar(&f.Limit, "limit", history.DefaultExportLimit, "Maximum records (capped at 10000)")
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json or csv")
	cmd.Flags().StringVar(&out, "out", "", "Write to this file instead of stdout")
	cmd.Flags().StringVar(&startDay, "start", "", "First day, YYYY-MM-DD")
	cmd.Flags().StringVar(&endDay, "end", "", "Last day, YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("wallet")
	return cmd
}
