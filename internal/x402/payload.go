package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// PaymentError is a protocol-level rejection of a payload before settlement.
type PaymentError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

const (
	ErrCodeInvalidPayment  = "invalid_payment"
	ErrCodeSchemeMismatch  = "scheme_mismatch"
	ErrCodeNetworkMismatch = "network_mismatch"
	ErrCodeWrongRecipient  = "wrong_recipient"
	ErrCodeAmountTooLow    = "amount_too_low"
	ErrCodePaymentExpired  = "payment_expired"
	ErrCodeNotYetValid     = "payment_not_yet_valid"
)

func paymentErr(code, format string, args ...any) *PaymentError {
	return &PaymentError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewRequirement builds the requirement a caller must satisfy for resource.
func NewRequirement(chain Chain, resource, description, payTo string, price *big.Int) PaymentRequirement {
	return PaymentRequirement{
		Scheme:            SchemeExact,
		Network:           chain.Network,
		MaxAmountRequired: price.String(),
		Resource:          resource,
		Description:       description,
		MimeType:          "application/json",
		PayTo:             payTo,
		Asset:             chain.USDC.Hex(),
		MaxTimeoutSeconds: MaxTimeoutSeconds,
		Extra: map[string]any{
			"name":    "USD Coin",
			"version": "2",
		},
	}
}

// Validate checks the wire shape of the requirement.
func (r *PaymentRequirement) Validate() error {
	if err := validate.Struct(r); err != nil {
		return paymentErr(ErrCodeInvalidPayment, "requirement: %v", err)
	}
	return nil
}

// Validate checks the wire shape of the payload.
func (p *PaymentPayload) Validate() error {
	if err := validate.Struct(p); err != nil {
		return paymentErr(ErrCodeInvalidPayment, "payload: %v", err)
	}
	return nil
}

// Payer returns the address that signed the authorization.
func (p *PaymentPayload) Payer() string {
	return p.Payload.Authorization.From
}

// CheckAgainst verifies that the payload can satisfy r at time now. Network
// equality against the facilitator's own network is the facilitator's job.
func (p *PaymentPayload) CheckAgainst(r PaymentRequirement, now time.Time) error {
	if p.Scheme != r.Scheme {
		return paymentErr(ErrCodeSchemeMismatch, "expected %s, got %s", r.Scheme, p.Scheme)
	}
	if p.Network != r.Network {
		return paymentErr(ErrCodeNetworkMismatch, "expected %s, got %s", r.Network, p.Network)
	}
	auth, err := p.Payload.Authorization.Parse()
	if err != nil {
		return paymentErr(ErrCodeInvalidPayment, "%v", err)
	}
	if !strings.EqualFold(auth.To.Hex(), r.PayTo) {
		return paymentErr(ErrCodeWrongRecipient, "payment must go to %s", r.PayTo)
	}
	want, err := r.MaxAmount()
	if err != nil {
		return paymentErr(ErrCodeInvalidPayment, "%v", err)
	}
	if auth.Value.Cmp(want) < 0 {
		return paymentErr(ErrCodeAmountTooLow, "authorized %s, required %s", auth.Value, want)
	}
	ts := big.NewInt(now.Unix())
	if ts.Cmp(auth.ValidAfter) < 0 {
		return paymentErr(ErrCodeNotYetValid, "valid after %s", auth.ValidAfter)
	}
	if ts.Cmp(auth.ValidBefore) >= 0 {
		return paymentErr(ErrCodePaymentExpired, "expired at %s", auth.ValidBefore)
	}
	return nil
}

// EncodePaymentHeader serializes a payload for the X-PAYMENT header.
func EncodePaymentHeader(p PaymentPayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePaymentHeader parses and validates an X-PAYMENT header value.
func DecodePaymentHeader(header string) (*PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return nil, paymentErr(ErrCodeInvalidPayment, "header is not base64")
	}
	var p PaymentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, paymentErr(ErrCodeInvalidPayment, "header is not a JSON payload")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// EncodeSettlementHeader serializes a settlement for X-PAYMENT-RESPONSE.
func EncodeSettlementHeader(s SettlementResponse) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// NewAuthorization is a convenience for payers: it fills in a fresh nonce
// and a validity window of [now-5s, now+timeout).
func NewAuthorization(from, to string, value *big.Int, now time.Time, timeout time.Duration) (Authorization, error) {
	nonce, err := NewNonce()
	if err != nil {
		return Authorization{}, err
	}
	return Authorization{
		From:        from,
		To:          to,
		Value:       value.String(),
		ValidAfter:  strconv.FormatInt(now.Add(-5*time.Second).Unix(), 10),
		ValidBefore: strconv.FormatInt(now.Add(timeout).Unix(), 10),
		Nonce:       nonce,
	}, nil
}
