package facilitator

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-inference-billing/internal/chain"
	"github.com/0gfoundation/0g-inference-billing/internal/x402"
)

// TokenSubmitter submits EIP-3009 authorizations to the token contract.
// *chain.Client implements it.
type TokenSubmitter interface {
	TransferWithAuthorization(ctx context.Context, a chain.TransferAuthorization) (common.Hash, error)
	AuthorizationUsed(ctx context.Context, authorizer common.Address, nonce [32]byte) (bool, error)
	GasBalance(ctx context.Context) (*big.Int, error)
	TokenAddress() common.Address
}

// Direct submits transferWithAuthorization itself and pays gas from the
// configured key.
type Direct struct {
	cfg   Config
	token TokenSubmitter
	log   *zap.Logger
}

// thirdwebRPC is used when only an API key is configured.
func thirdwebRPC(chainID int64, apiKey string) string {
	return fmt.Sprintf("https://%d.rpc.thirdweb.com/%s", chainID, apiKey)
}

// NewDirect dials the chain when a signing key and an RPC endpoint (or an
// API key for the hosted RPC) are available. Otherwise the provider is
// returned unarmed and Settle reports what is missing.
func NewDirect(cfg Config, log *zap.Logger) (*Direct, error) {
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}
	d := &Direct{cfg: cfg, log: log}
	if cfg.PrivateKey == "" {
		log.Warn("direct facilitator: no signing key configured")
		return d, nil
	}
	rpcURL := cfg.RPCURL
	if rpcURL == "" {
		if cfg.APIKey == "" {
			log.Warn("direct facilitator: no RPC URL or API key configured")
			return d, nil
		}
		rpcURL = thirdwebRPC(cfg.ChainID, cfg.APIKey)
	}
	token, err := tokenFor(cfg)
	if err != nil {
		return nil, err
	}
	client, err := chain.Dial(rpcURL, cfg.ChainID, token, cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("direct facilitator: %w", err)
	}
	log.Info("direct facilitator ready", zap.String("relayer", client.Address().Hex()))
	d.token = client
	return d, nil
}

// tokenFor returns the configured asset, or the chain's USDC when none is set.
func tokenFor(cfg Config) (common.Address, error) {
	if cfg.Asset != (common.Address{}) {
		return cfg.Asset, nil
	}
	c, err := x402.ChainByID(cfg.ChainID)
	if err != nil {
		return common.Address{}, err
	}
	return c.USDC, nil
}

// NewDirectWithSubmitter wires an existing submitter.
func NewDirectWithSubmitter(cfg Config, token TokenSubmitter, log *zap.Logger) *Direct {
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}
	return &Direct{cfg: cfg, token: token, log: log}
}

func (f *Direct) Provider() Provider { return ProviderDirect }

func (f *Direct) Settle(ctx context.Context, payload *x402.PaymentPayload, req x402.PaymentRequirement) Result {
	if f.cfg.PrivateKey == "" && f.token == nil {
		return failed(ProviderDirect, newError(KindMissingSigningKey, ""))
	}
	if f.token == nil {
		return failed(ProviderDirect, newError(KindMissingAPIKey, ""))
	}
	if f.cfg.Network != "" && payload.Network != f.cfg.Network {
		return failed(ProviderDirect, &Error{
			Kind:    KindNetworkMismatch,
			Message: fmt.Sprintf("Network mismatch: expected %s, got %s", f.cfg.Network, payload.Network),
		})
	}
	if !strings.EqualFold(req.Asset, f.token.TokenAddress().Hex()) {
		return failed(ProviderDirect, newError(KindInvalidPayload,
			fmt.Sprintf("asset %s is not the configured token %s", req.Asset, f.token.TokenAddress().Hex())))
	}

	v, r, s, err := x402.SplitSignature(payload.Payload.Signature)
	if err != nil {
		return failed(ProviderDirect, newError(KindInvalidPayload, err.Error()))
	}
	auth, err := payload.Payload.Authorization.Parse()
	if err != nil {
		return failed(ProviderDirect, newError(KindInvalidPayload, err.Error()))
	}

	domain, err := x402.USDCDomain(f.cfg.ChainID, f.token.TokenAddress().Hex())
	if err != nil {
		return failed(ProviderDirect, newError(KindInvalidPayload, err.Error()))
	}
	signer, err := x402.RecoverAuthorizationSigner(payload.Payload.Authorization, payload.Payload.Signature, domain)
	if err != nil {
		return failed(ProviderDirect, newError(KindInvalidPayload, err.Error()))
	}
	if signer != auth.From {
		return failed(ProviderDirect, newError(KindInvalidPayload,
			fmt.Sprintf("signature is from %s, not the authorizer %s", signer.Hex(), auth.From.Hex())))
	}

	// A consumed nonce would revert on chain after gas is spent.
	used, err := f.token.AuthorizationUsed(ctx, auth.From, auth.Nonce)
	switch {
	case chain.IsNoCode(err):
		f.log.Error("settle: no token contract at configured address",
			zap.String("token", f.token.TokenAddress().Hex()))
		return failed(ProviderDirect, newError(KindUnknown, "token contract not deployed on this chain"))
	case err != nil:
		f.log.Warn("settle: authorization state check failed, submitting anyway", zap.Error(err))
	case used:
		return failed(ProviderDirect, newError(KindNonceReused, "authorization is used"))
	}

	f.log.Info("settle: submitting transferWithAuthorization",
		zap.String("resource", req.Resource),
		zap.String("from", auth.From.Hex()),
		zap.String("to", auth.To.Hex()),
		zap.String("value", auth.Value.String()),
	)

	txHash, err := f.token.TransferWithAuthorization(ctx, chain.TransferAuthorization{
		From:        auth.From,
		To:          auth.To,
		Value:       auth.Value,
		ValidAfter:  auth.ValidAfter,
		ValidBefore: auth.ValidBefore,
		Nonce:       auth.Nonce,
		V:           v,
		R:           r,
		S:           s,
	})
	if err != nil {
		ferr := classifyChain(err)
		f.log.Warn("settle: on-chain submission failed",
			zap.String("kind", string(ferr.Kind)),
			zap.Error(err),
		)
		return failed(ProviderDirect, ferr)
	}

	return succeeded(ProviderDirect, txHash.Hex(), payload.Payer())
}

// HealthCheck reports whether the relayer is armed and its gas balance is
// readable and non-zero.
func (f *Direct) HealthCheck(ctx context.Context) bool {
	if f.token == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, f.cfg.HealthTimeout)
	defer cancel()
	bal, err := f.token.GasBalance(ctx)
	if err != nil {
		f.log.Warn("direct facilitator: gas balance check failed", zap.Error(err))
		return false
	}
	return bal.Sign() > 0
}
