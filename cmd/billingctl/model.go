package main

import (
	"fmt"
	"math/big"

	"github.com/spf13/cobra"

	"github.com/0gfoundation/0g-inference-billing/internal/history"
)

func newModelCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage the model catalog used for pricing and revenue splits",
	}

	var (
		m     history.Model
		price string
	)
	set := &cobra.Command{
		Use:     "set <model-id>",
		Short:   "Create or update a model's split and price",
		Example: `  billingctl model set m1 --name gpt2 --owner 0xA... --creator 0xB... --royalty-bps 1000 --price 10000`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m.ID = args[0]
			if m.Creator == "" {
				m.Creator = m.Owner
			}
			if price != "" {
				p, ok := new(big.Int).SetString(price, 10)
				if !ok {
					return fmt.Errorf("--price must be integer base units, got %q", price)
				}
				m.Price = p
			}
			store, err := g.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.UpsertModel(cmd.Context(), m); err != nil {
				return err
			}
			saved, err := store.GetModel(cmd.Context(), m.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), saved)
		},
	}
	set.Flags().StringVar(&m.Name, "name", "", "Display name, also the backend model path")
	set.Flags().StringVar(&m.Owner, "owner", "", "Owner wallet (required)")
	set.Flags().StringVar(&m.Creator, "creator", "", "Creator wallet (defaults to owner)")
	set.Flags().IntVar(&m.RoyaltyBps, "royalty-bps", 0, "Creator royalty in basis points (max 2000)")
	set.Flags().Int64Var(&m.AgentID, "agent-id", 0, "On-chain agent id")
	set.Flags().StringVar(&price, "price", "", "Price per call in USDC base units (empty uses the service default)")
	_ = set.MarkFlagRequired("owner")

	get := &cobra.Command{
		Use:   "get <model-id>",
		Short: "Show one model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := g.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			m, err := store.GetModel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		},
	}

	cmd.AddCommand(set, get)
	return cmd
}
