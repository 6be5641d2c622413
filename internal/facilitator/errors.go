package facilitator

import (
	"fmt"
	"strings"
)

// Kind classifies a settlement failure so callers can show a uniform,
// actionable message regardless of which provider produced it.
type Kind string

const (
	KindNetworkMismatch        Kind = "NetworkMismatch"
	KindInsufficientBalance    Kind = "InsufficientBalance"
	KindAllowanceNotSet        Kind = "AllowanceNotSet"
	KindNonceReused            Kind = "NonceReused"
	KindInsufficientGas        Kind = "InsufficientGas"
	KindMissingSigningKey      Kind = "MissingSigningKey"
	KindMissingAPIKey          Kind = "MissingApiKey"
	KindFacilitatorUnreachable Kind = "FacilitatorUnreachable"
	KindInvalidPayload         Kind = "InvalidPayload"
	KindUnknown                Kind = "Unknown"
)

// Error is a classified settlement failure. Raw keeps the provider's
// original text for logs; Message is safe to show to the payer.
type Error struct {
	Kind    Kind
	Message string
	Raw     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches on Kind so errors.Is(err, ErrNonceReused) works for any message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNetworkMismatch        = &Error{Kind: KindNetworkMismatch}
	ErrInsufficientBalance    = &Error{Kind: KindInsufficientBalance}
	ErrAllowanceNotSet        = &Error{Kind: KindAllowanceNotSet}
	ErrNonceReused            = &Error{Kind: KindNonceReused}
	ErrInsufficientGas        = &Error{Kind: KindInsufficientGas}
	ErrMissingSigningKey      = &Error{Kind: KindMissingSigningKey}
	ErrMissingAPIKey          = &Error{Kind: KindMissingAPIKey}
	ErrFacilitatorUnreachable = &Error{Kind: KindFacilitatorUnreachable}
	ErrInvalidPayload         = &Error{Kind: KindInvalidPayload}
)

var messages = map[Kind]string{
	KindInsufficientBalance: "Insufficient USDC balance. Please fund your wallet with USDC.",
	KindAllowanceNotSet:     "USDC allowance not set. Please approve USDC spending first.",
	KindNonceReused:         "Payment nonce already used. Please sign a new payment.",
	KindInsufficientGas:     "Settlement wallet has insufficient funds for gas. Please fund it with AVAX.",
	KindMissingSigningKey:   "Settlement wallet not configured. Set PRIVATE_KEY.",
	KindMissingAPIKey:       "Settlement API key not configured. Set THIRDWEB_SECRET_KEY or RPC_URL.",
}

func newError(kind Kind, raw string) *Error {
	msg, ok := messages[kind]
	if !ok {
		msg = raw
	}
	if msg == "" {
		msg = "Settlement failed"
	}
	return &Error{Kind: kind, Message: msg, Raw: raw}
}

// classifyRemote maps a remote facilitator's free-text reason.
func classifyRemote(reason string) *Error {
	r := strings.ToLower(reason)
	switch {
	case strings.Contains(r, "insufficient") || strings.Contains(r, "balance"):
		return newError(KindInsufficientBalance, reason)
	case strings.Contains(r, "allowance"):
		return newError(KindAllowanceNotSet, reason)
	case strings.Contains(r, "nonce") || strings.Contains(r, "authorization is used"):
		return newError(KindNonceReused, reason)
	default:
		return newError(KindUnknown, reason)
	}
}

// classifyChain maps an RPC or revert error from the token contract.
func classifyChain(err error) *Error {
	raw := err.Error()
	r := strings.ToLower(raw)
	switch {
	case strings.Contains(r, "insufficient funds"):
		return newError(KindInsufficientGas, raw)
	case strings.Contains(r, "exceeds balance"):
		return newError(KindInsufficientBalance, raw)
	case strings.Contains(r, "authorization is used") || strings.Contains(r, "authorization used"):
		return newError(KindNonceReused, raw)
	default:
		// Includes the relayer's own transaction nonce errors.
		return newError(KindUnknown, raw)
	}
}
