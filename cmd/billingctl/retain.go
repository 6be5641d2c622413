package main

import (
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/0gfoundation/0g-inference-billing/internal/history"
	"github.com/0gfoundation/0g-inference-billing/internal/retention"
)

func newRetainCmd(g *globals) *cobra.Command {
	var (
		days      int
		redisAddr string
	)
	cmd := &cobra.Command{
		Use:   "retain",
		Short: "Fold old inference history into daily aggregates",
		Long: `Aggregates every record older than --days into inference_aggregates and
deletes it. With --redis the run takes the same lock as the service's
scheduler, so it never overlaps a scheduled run.`,
		Example: `  billingctl retain --days 90
  billingctl retain --days 30 --redis localhost:6379`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := g.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var res history.RetainResult
			if redisAddr != "" {
				rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
				defer rdb.Close()
				res, err = retention.NewRunner(store, rdb, g.logger(), nil).Run(cmd.Context(), days)
			} else {
				res, err = store.Retain(cmd.Context(), days)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"ok":              true,
				"retentionDays":   res.RetentionDays,
				"deletedCount":    res.DeletedCount,
				"aggregatedCount": res.AggregatedCount,
				"timestamp":       time.Now().UTC().Format(time.RFC3339),
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", history.DefaultRetentionDays, "Keep this many days of granular history")
	cmd.Flags().StringVar(&redisAddr, "redis", "", "Redis address for the retention lock (empty runs unlocked)")
	return cmd
}
