package x402

import "math/big"

const (
	Version     = 1
	SchemeExact = "exact"

	// MaxTimeoutSeconds is how long a payer has to submit a signed payload
	// after receiving a requirement.
	MaxTimeoutSeconds = 60

	// DefaultPriceBaseUnits is 0.01 USDC.
	DefaultPriceBaseUnits = 10_000

	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
)

// PaymentRequirement is issued per request in a 402 response and identifies
// the resource, the required token, the payee and the expiry window.
type PaymentRequirement struct {
	Scheme            string         `json:"scheme" validate:"required"`
	Network           string         `json:"network" validate:"required"`
	MaxAmountRequired string         `json:"maxAmountRequired" validate:"required,number"`
	Resource          string         `json:"resource" validate:"required"`
	Description       string         `json:"description"`
	MimeType          string         `json:"mimeType,omitempty"`
	PayTo             string         `json:"payTo" validate:"required,eth_addr"`
	Asset             string         `json:"asset" validate:"required,eth_addr"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds" validate:"gt=0"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// MaxAmount parses MaxAmountRequired as base units.
func (r *PaymentRequirement) MaxAmount() (*big.Int, error) {
	return parseUint256("maxAmountRequired", r.MaxAmountRequired)
}

// PaymentPayload is the decoded X-PAYMENT header. The nonce inside the
// authorization is single-use per (from, asset); replay protection belongs
// to the token contract.
type PaymentPayload struct {
	X402Version int          `json:"x402Version" validate:"eq=1"`
	Scheme      string       `json:"scheme" validate:"required"`
	Network     string       `json:"network" validate:"required"`
	Payload     ExactPayload `json:"payload"`
}

type ExactPayload struct {
	Signature     string        `json:"signature" validate:"required,hexadecimal"`
	Authorization Authorization `json:"authorization"`
}

// Authorization mirrors the EIP-3009 TransferWithAuthorization message.
type Authorization struct {
	From        string `json:"from" validate:"required,eth_addr"`
	To          string `json:"to" validate:"required,eth_addr"`
	Value       string `json:"value" validate:"required,number"`
	ValidAfter  string `json:"validAfter" validate:"required,number"`
	ValidBefore string `json:"validBefore" validate:"required,number"`
	Nonce       string `json:"nonce" validate:"required,hexadecimal,len=66"`
}

// SettleRequest is the body POSTed to a remote facilitator's /settle.
type SettleRequest struct {
	X402Version         int                `json:"x402Version"`
	PaymentPayload      PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements PaymentRequirement `json:"paymentRequirements"`
}

// SettlementResponse is both the facilitator /settle reply and the
// X-PAYMENT-RESPONSE header body.
type SettlementResponse struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
	// Some facilitators put the reason in "error" instead.
	Error string `json:"error,omitempty"`
}

// PaymentRequired is the JSON body of a 402 response.
type PaymentRequired struct {
	X402Version int                  `json:"x402Version"`
	Accepts     []PaymentRequirement `json:"accepts"`
	Error       string               `json:"error,omitempty"`
}
