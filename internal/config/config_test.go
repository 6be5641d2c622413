package config

import (
	"testing"
	"time"

	"github.com/0gfoundation/0g-inference-billing/internal/facilitator"
	"github.com/0gfoundation/0g-inference-billing/internal/x402"
)

const payTo = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("X402_PAY_TO", payTo)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port: got %d want 8080", cfg.Server.Port)
	}
	if cfg.X402.ChainID != x402.ChainIDAvalancheFuji {
		t.Errorf("chain: got %d", cfg.X402.ChainID)
	}
	if cfg.X402.MarketplaceBps != 1000 {
		t.Errorf("marketplace bps: got %d want 1000", cfg.X402.MarketplaceBps)
	}
	if cfg.RateLimit.MaxRequests != 10 || cfg.RateLimit.WindowSec != 60 {
		t.Errorf("rate limit: got %+v", cfg.RateLimit)
	}
	if cfg.Retention.Days != 90 {
		t.Errorf("retention days: got %d", cfg.Retention.Days)
	}
	p, _ := cfg.DefaultPrice()
	if p.Int64() != 10_000 {
		t.Errorf("default price: got %s", p)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("X402_PAY_TO", payTo)
	t.Setenv("PORT", "9090")
	t.Setenv("APP_ENV", "development")
	t.Setenv("X402_FACILITATOR_PROVIDER", "thirdweb")
	t.Setenv("THIRDWEB_SECRET_KEY", "tw-key")
	t.Setenv("PRIVATE_KEY", "0xabc")
	t.Setenv("CRON_SECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 || !cfg.IsDevelopment() {
		t.Errorf("server: got %+v", cfg.Server)
	}
	if cfg.Retention.CronSecret != "s3cret" {
		t.Errorf("cron secret: got %q", cfg.Retention.CronSecret)
	}

	ch, err := cfg.Chain()
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	fc, err := cfg.FacilitatorSettings(ch)
	if err != nil {
		t.Fatalf("FacilitatorSettings: %v", err)
	}
	if fc.Provider != facilitator.ProviderDirect {
		t.Errorf("provider: got %s want direct", fc.Provider)
	}
	// with an API key and no RPC URL the direct provider picks its hosted RPC
	if fc.RPCURL != "" {
		t.Errorf("rpc: got %q want empty", fc.RPCURL)
	}
	if fc.HealthTimeout != 5*time.Second {
		t.Errorf("health timeout: got %v", fc.HealthTimeout)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"missing pay to":    {},
		"bad pay to":        {"X402_PAY_TO": "treasury"},
		"unknown chain":     {"X402_PAY_TO": payTo, "X402_CHAIN_ID": "1"},
		"network mismatch":  {"X402_PAY_TO": payTo, "X402_NETWORK": "base"},
		"bad price":         {"X402_PAY_TO": payTo, "X402_DEFAULT_PRICE": "0.01"},
		"bad provider":      {"X402_PAY_TO": payTo, "X402_FACILITATOR_PROVIDER": "stripe"},
		"bps too high":      {"X402_PAY_TO": payTo, "MARKETPLACE_BPS": "10001"},
		"zero interval":     {"X402_PAY_TO": payTo, "RETENTION_INTERVAL_SEC": "0"},
		"negative interval": {"X402_PAY_TO": payTo, "RETENTION_INTERVAL_SEC": "-5"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv("X402_PAY_TO", "")
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestChain_AssetOverride(t *testing.T) {
	cfg := &Config{X402: X402Config{ChainID: x402.ChainIDAvalancheFuji, Asset: payTo}}
	ch, err := cfg.Chain()
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if ch.USDC.Hex() != payTo {
		t.Errorf("asset: got %s want %s", ch.USDC.Hex(), payTo)
	}

	cfg.Facilitator.Provider = "direct"
	fc, err := cfg.FacilitatorSettings(ch)
	if err != nil {
		t.Fatalf("FacilitatorSettings: %v", err)
	}
	if fc.Asset.Hex() != payTo {
		t.Errorf("direct settlement asset: got %s want %s", fc.Asset.Hex(), payTo)
	}
}
