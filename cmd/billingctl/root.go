package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-inference-billing/internal/history"
)

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	dbPath string
	debug  bool
}

func (g *globals) logger() *zap.Logger {
	if !g.debug {
		return zap.NewNop()
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func (g *globals) openStore() (*history.Store, error) {
	store, err := history.Open(g.dbPath, g.logger())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", g.dbPath, err)
	}
	return store, nil
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "billingctl",
		Short: "Operate the x402 inference billing service",
		Long: `billingctl works directly against the billing database and the payment
network. It compacts history, exports a payer's records, prints creator,
payer and model dashboards, and checks facilitator health and balances.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.dbPath, "db", getEnvOrDefault("DATABASE_PATH", "billing.db"), "Path to the billing SQLite database")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		newRetainCmd(g),
		newExportCmd(g),
		newStatsCmd(g),
		newModelCmd(g),
		newHealthCmd(g),
		newBalanceCmd(g),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
