// Package facilitator settles x402 payments. A Facilitator is chosen once at
// startup from a provider flag and injected wherever settlement is needed.
package facilitator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-inference-billing/internal/x402"
)

type Provider string

const (
	ProviderRemote Provider = "remote"
	ProviderDirect Provider = "direct"

	DefaultHealthTimeout = 5 * time.Second
	DefaultRemoteURL     = "https://facilitator.ultravioletadao.xyz"
)

// ParseProvider accepts the provider names plus the legacy aliases
// "ultravioleta" (remote) and "thirdweb" (direct). Empty means remote.
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "remote", "ultravioleta":
		return ProviderRemote, nil
	case "direct", "thirdweb":
		return ProviderDirect, nil
	default:
		return "", fmt.Errorf("unknown facilitator provider %q", s)
	}
}

// Facilitator settles a signed payment against its requirement.
type Facilitator interface {
	Settle(ctx context.Context, payload *x402.PaymentPayload, req x402.PaymentRequirement) Result
	HealthCheck(ctx context.Context) bool
	Provider() Provider
}

// Result is the terminal outcome of one settlement attempt. Exactly one of
// (TxHash, Payer) or Err is set, depending on Success.
type Result struct {
	Success  bool
	TxHash   string
	Payer    string
	Err      *Error
	Provider Provider
}

func succeeded(p Provider, txHash, payer string) Result {
	return Result{Success: true, TxHash: txHash, Payer: payer, Provider: p}
}

func failed(p Provider, err *Error) Result {
	return Result{Success: false, Err: err, Provider: p}
}

// Response renders the result as the X-PAYMENT-RESPONSE body.
func (r Result) Response(network string) x402.SettlementResponse {
	resp := x402.SettlementResponse{
		Success:     r.Success,
		Transaction: r.TxHash,
		Network:     network,
		Payer:       r.Payer,
	}
	if r.Err != nil {
		resp.ErrorReason = string(r.Err.Kind)
		resp.Error = r.Err.Message
	}
	return resp
}

// Config selects and configures a provider.
type Config struct {
	Provider Provider
	Network  string
	ChainID  int64
	// Asset overrides the chain's USDC contract for direct settlement.
	Asset         common.Address
	URL           string
	APIKey        string
	RPCURL        string
	PrivateKey    string
	HealthTimeout time.Duration
}

// New builds the configured provider. A direct provider without a signing
// key is still returned; its Settle reports MissingSigningKey.
func New(cfg Config, log *zap.Logger) (Facilitator, error) {
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}
	switch cfg.Provider {
	case ProviderRemote, "":
		return NewRemote(cfg, log), nil
	case ProviderDirect:
		return NewDirect(cfg, log)
	default:
		return nil, fmt.Errorf("unknown facilitator provider %q", cfg.Provider)
	}
}
