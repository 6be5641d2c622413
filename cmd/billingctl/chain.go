package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/0gfoundation/0g-inference-billing/internal/chain"
	"github.com/0gfoundation/0g-inference-billing/internal/facilitator"
	"github.com/0gfoundation/0g-inference-billing/internal/x402"
)

func newHealthCmd(g *globals) *cobra.Command {
	var cfg facilitator.Config
	var provider string
	var chainID int64
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the settlement facilitator is reachable",
		Example: `  billingctl health
  billingctl health --provider direct --rpc https://api.avax-test.network/ext/bc/C/rpc --key $PRIVATE_KEY`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := facilitator.ParseProvider(provider)
			if err != nil {
				return err
			}
			ch, err := x402.ChainByID(chainID)
			if err != nil {
				return err
			}
			cfg.Provider = p
			cfg.Network = ch.Network
			cfg.ChainID = ch.ID
			if cfg.RPCURL == "" && cfg.APIKey == "" {
				cfg.RPCURL = ch.RPCURL
			}
			fac, err := facilitator.New(cfg, g.logger())
			if err != nil {
				return err
			}
			healthy := fac.HealthCheck(cmd.Context())
			if err := printJSON(cmd.OutOrStdout(), map[string]any{
				"provider": fac.Provider(),
				"network":  ch.Network,
				"healthy":  healthy,
			}); err != nil {
				return err
			}
			if !healthy {
				return fmt.Errorf("facilitator %s is not healthy", fac.Provider())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", getEnvOrDefault("X402_FACILITATOR_PROVIDER", "remote"), "remote or direct")
	cmd.Flags().StringVar(&cfg.URL, "url", getEnvOrDefault("X402_FACILITATOR_URL", facilitator.DefaultRemoteURL), "Remote facilitator URL")
	cmd.Flags().StringVar(&cfg.APIKey, "api-key", getEnvOrDefault("THIRDWEB_SECRET_KEY", ""), "Direct provider RPC API key")
	cmd.Flags().StringVar(&cfg.RPCURL, "rpc", getEnvOrDefault("RPC_URL", ""), "Direct provider RPC URL")
	cmd.Flags().StringVar(&cfg.PrivateKey, "key", getEnvOrDefault("PRIVATE_KEY", ""), "Direct provider signing key")
	cmd.Flags().DurationVar(&cfg.HealthTimeout, "timeout", facilitator.DefaultHealthTimeout, "Health check timeout")
	cmd.Flags().Int64Var(&chainID, "chain-id", x402.ChainIDAvalancheFuji, "Payment chain id")
	return cmd
}

func newBalanceCmd(_ *globals) *cobra.Command {
	var (
		rpcURL  string
		chainID int64
		asset   string
	)
	cmd := &cobra.Command{
		Use:     "balance <address>",
		Short:   "Print an address's USDC and native balances",
		Example: `  billingctl balance 0x70997970C51812dc3A010C7d01b50e0d17dc79C8`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(args[0]) {
				return fmt.Errorf("not an address: %q", args[0])
			}
			who := common.HexToAddress(args[0])

			token := common.HexToAddress(asset)
			ch, err := x402.ChainByID(chainID)
			if err == nil {
				if asset == "" {
					token = ch.USDC
				}
				if rpcURL == "" {
					rpcURL = ch.RPCURL
				}
			} else if asset == "" || rpcURL == "" {
				return fmt.Errorf("%w: pass --asset and --rpc", err)
			}

			c, err := chain.Dial(rpcURL, chainID, token, "")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			usdc, err := c.BalanceOf(ctx, who)
			if err != nil {
				return err
			}
			native, err := c.NativeBalance(ctx, who)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"address":       who.Hex(),
				"chainId":       chainID,
				"usdc":          x402.FormatFixed(usdc, x402.USDCDecimals),
				"usdcBaseUnits": usdc.String(),
				"native":        x402.FormatFixed(native, 18),
			})
		},
	}
	cmd.Flags().StringVar(&rpcURL, "rpc", getEnvOrDefault("RPC_URL", ""), "RPC endpoint (defaults to the chain's public RPC)")
	cmd.Flags().Int64Var(&chainID, "chain-id", x402.ChainIDAvalancheFuji, "Chain id")
	cmd.Flags().StringVar(&asset, "asset", "", "Token address (defaults to the chain's USDC)")
	return cmd
}
