package main

import (
	"github.com/spf13/cobra"

	"github.com/0gfoundation/0g-inference-billing/internal/analytics"
	"github.com/0gfoundation/0g-inference-billing/internal/revenue"
)

func newStatsCmd(g *globals) *cobra.Command {
	var (
		marketplaceBps int
		days           int
		series         bool
	)
	service := func() (*analytics.Service, func(), error) {
		store, err := g.openStore()
		if err != nil {
			return nil, nil, err
		}
		return analytics.New(store, marketplaceBps, g.logger()), func() { store.Close() }, nil
	}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print creator, payer or model dashboards",
	}
	cmd.PersistentFlags().IntVar(&marketplaceBps, "marketplace-bps", revenue.DefaultMarketplaceBps, "Marketplace fee in basis points")
	cmd.PersistentFlags().IntVar(&days, "days", analytics.DefaultDays, "Time series window in days")
	cmd.PersistentFlags().BoolVar(&series, "time-series", false, "Include the daily time series")

	creator := &cobra.Command{
		Use:   "creator <wallet>",
		Short: "Revenue a wallet earned as owner or creator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, done, err := service()
			if err != nil {
				return err
			}
			defer done()
			stats, err := svc.CreatorStats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := map[string]any{"wallet": args[0], "stats": stats}
			if series {
				if out["timeSeries"], err = svc.TimeSeries(cmd.Context(), analytics.SeriesFilter{CreatorWallet: args[0], Days: days}); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	user := &cobra.Command{
		Use:   "user <wallet>",
		Short: "What a wallet has spent, per model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, done, err := service()
			if err != nil {
				return err
			}
			defer done()
			stats, err := svc.UserSpendingStats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := map[string]any{"wallet": args[0], "stats": stats}
			if series {
				if out["timeSeries"], err = svc.UserTimeSeries(cmd.Context(), args[0], days); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	var shareOf string
	model := &cobra.Command{
		Use:   "model <model-id>",
		Short: "Usage and revenue of one model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, done, err := service()
			if err != nil {
				return err
			}
			defer done()
			stats, err := svc.ModelStats(cmd.Context(), args[0], shareOf)
			if err != nil {
				return err
			}
			out := map[string]any{"modelId": args[0], "stats": stats}
			if series && stats != nil {
				if out["timeSeries"], err = svc.TimeSeries(cmd.Context(), analytics.SeriesFilter{ModelID: args[0], Days: days}); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	model.Flags().StringVar(&shareOf, "wallet", "", "Report this wallet's share instead of gross")

	cmd.AddCommand(creator, user, model)
	return cmd
}
