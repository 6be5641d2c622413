package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/0gfoundation/0g-inference-billing/internal/x402"
)

// Remote forwards settlement to an HTTP facilitator service.
type Remote struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

func NewRemote(cfg Config, log *zap.Logger) *Remote {
	if cfg.URL == "" {
		cfg.URL = DefaultRemoteURL
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}
	return &Remote{cfg: cfg, http: &http.Client{}, log: log}
}

func (f *Remote) Provider() Provider { return ProviderRemote }

func (f *Remote) Settle(ctx context.Context, payload *x402.PaymentPayload, req x402.PaymentRequirement) Result {
	if payload.Network != f.cfg.Network {
		return failed(ProviderRemote, &Error{
			Kind:    KindNetworkMismatch,
			Message: fmt.Sprintf("Network mismatch: expected %s, got %s", f.cfg.Network, payload.Network),
		})
	}

	body, err := json.Marshal(x402.SettleRequest{
		X402Version:         payload.X402Version,
		PaymentPayload:      *payload,
		PaymentRequirements: req,
	})
	if err != nil {
		return failed(ProviderRemote, newError(KindInvalidPayload, err.Error()))
	}

	f.log.Info("settle: forwarding to facilitator",
		zap.String("resource", req.Resource),
		zap.String("payer", payload.Payer()),
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.URL+"/settle", bytes.NewReader(body))
	if err != nil {
		return failed(ProviderRemote, newError(KindUnknown, err.Error()))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if f.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+f.cfg.APIKey)
	}

	resp, err := f.http.Do(httpReq)
	if err != nil {
		f.log.Warn("settle: facilitator unreachable", zap.Error(err))
		return failed(ProviderRemote, &Error{
			Kind:    KindFacilitatorUnreachable,
			Message: "Payment facilitator unreachable. Please try again.",
			Raw:     err.Error(),
		})
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var data x402.SettlementResponse
	decodeErr := json.Unmarshal(raw, &data)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := firstNonEmpty(data.ErrorReason, data.Error)
		if reason == "" {
			reason = fmt.Sprintf("Facilitator error: %d", resp.StatusCode)
		}
		f.log.Warn("settle: facilitator rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("reason", reason),
		)
		return failed(ProviderRemote, classifyRemote(reason))
	}
	if decodeErr != nil {
		return failed(ProviderRemote, newError(KindUnknown, "decode settle response: "+decodeErr.Error()))
	}
	if !data.Success {
		reason := firstNonEmpty(data.ErrorReason, data.Error, "Settlement failed")
		f.log.Warn("settle: settlement failed", zap.String("reason", reason))
		return failed(ProviderRemote, classifyRemote(reason))
	}
	if data.Transaction == "" {
		return failed(ProviderRemote, newError(KindUnknown, "facilitator reported success without a transaction"))
	}

	return succeeded(ProviderRemote, data.Transaction, payload.Payer())
}

// HealthCheck GETs {url}/health, bounded by the health timeout.
func (f *Remote) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.URL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
