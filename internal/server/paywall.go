package server

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-inference-billing/internal/facilitator"
	"github.com/0gfoundation/0g-inference-billing/internal/history"
	"github.com/0gfoundation/0g-inference-billing/internal/upstream"
	"github.com/0gfoundation/0g-inference-billing/internal/x402"
)

type inferenceRequest struct {
	Input string `json:"input" binding:"required"`
}

// paymentInfo is the settlement summary returned with a paid result.
type paymentInfo struct {
	TxHash          string  `json:"txHash"`
	Payer           string  `json:"payer"`
	Amount          string  `json:"amount"`
	AmountFormatted string  `json:"amountFormatted"`
	Network         string  `json:"network"`
	Provider        string  `json:"provider"`
	ExplorerURL     *string `json:"explorerUrl"`
}

// requirementFor prices model and names the resource being paid for.
func (s *Server) requirementFor(c *gin.Context, m *history.Model) x402.PaymentRequirement {
	price := s.opts.DefaultPrice
	if m.Price != nil && m.Price.Sign() > 0 {
		price = m.Price
	}
	name := m.Name
	if name == "" {
		name = "Model #" + m.ID
	}
	req := x402.NewRequirement(s.opts.Chain, c.Request.URL.Path, "Inference: "+name, s.opts.PayTo, price)
	if s.opts.MaxTimeoutSeconds > 0 {
		req.MaxTimeoutSeconds = s.opts.MaxTimeoutSeconds
	}
	return req
}

// paymentRequired answers 402 with the requirement the caller must satisfy.
func (s *Server) paymentRequired(c *gin.Context, req x402.PaymentRequirement, reason string) {
	s.deps.Metrics.IncPaymentRequired()
	c.JSON(http.StatusPaymentRequired, x402.PaymentRequired{
		X402Version: x402.Version,
		Accepts:     []x402.PaymentRequirement{req},
		Error:       reason,
	})
}

// settleStatus maps a failed settlement to an HTTP status. Payer-side
// problems stay 402 so the client can retry with a new payment; operator-side
// problems are 503.
func settleStatus(err *facilitator.Error) int {
	switch err.Kind {
	case facilitator.KindFacilitatorUnreachable, facilitator.KindMissingSigningKey,
		facilitator.KindMissingAPIKey, facilitator.KindInsufficientGas:
		return http.StatusServiceUnavailable
	default:
		return http.StatusPaymentRequired
	}
}

func (s *Server) handleInference(c *gin.Context) {
	ctx := c.Request.Context()
	modelID := c.Param("modelId")

	model, err := s.deps.Store.GetModel(ctx, modelID)
	if err != nil {
		s.storeFail(c, "model lookup", err)
		return
	}

	var body inferenceRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "input is required")
		return
	}

	req := s.requirementFor(c, model)

	header := c.GetHeader(x402.HeaderPayment)
	if header == "" {
		s.paymentRequired(c, req, "X-PAYMENT header is required")
		return
	}
	payload, err := x402.DecodePaymentHeader(header)
	if err != nil {
		s.paymentRequired(c, req, err.Error())
		return
	}
	if err := payload.CheckAgainst(req, time.Now()); err != nil {
		s.paymentRequired(c, req, err.Error())
		return
	}

	payer := payload.Payer()
	if ok, retry := s.limiter.Allow(ctx, payer); !ok {
		c.Header("Retry-After", strconv.Itoa(int(retry.Seconds())))
		fail(c, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	start := time.Now()
	res := s.deps.Facilitator.Settle(ctx, payload, req)
	s.observeSettlement(res, time.Since(start))

	if encoded, err := x402.EncodeSettlementHeader(res.Response(req.Network)); err == nil {
		c.Header(x402.HeaderPaymentResponse, encoded)
	}
	if !res.Success {
		s.log.Warn("settle: failed",
			zap.String("model", modelID),
			zap.String("payer", payer),
			zap.String("provider", string(res.Provider)),
			zap.String("kind", string(res.Err.Kind)),
			zap.String("raw", res.Err.Raw),
		)
		c.JSON(settleStatus(res.Err), gin.H{
			"x402Version": x402.Version,
			"accepts":     []x402.PaymentRequirement{req},
			"error":       res.Err.Message,
			"errorKind":   res.Err.Kind,
		})
		return
	}
	if res.Payer != "" {
		payer = res.Payer
	}

	// Record what the payer authorized, which may exceed the price.
	amount, _ := req.MaxAmount()
	if auth, err := payload.Payload.Authorization.Parse(); err == nil {
		amount = auth.Value
	}
	info := paymentInfo{
		TxHash:          res.TxHash,
		Payer:           payer,
		Amount:          amount.String(),
		AmountFormatted: x402.FormatUSDC(amount),
		Network:         req.Network,
		Provider:        string(res.Provider),
	}
	if u, err := x402.ExplorerTxURL(res.TxHash, s.opts.Chain.ID); err == nil {
		info.ExplorerURL = &u
	}

	target := model.Name
	if target == "" {
		target = model.ID
	}
	out, inferErr := s.deps.Backend.Infer(ctx, target, body.Input)

	ev := history.Event{
		ModelID:   model.ID,
		ModelName: model.Name,
		AgentID:   model.AgentID,
		Payer:     payer,
		TxHash:    res.TxHash,
		Amount:    new(big.Int).Set(amount),
		ChainID:   s.opts.Chain.ID,
		Input:     body.Input,
	}
	if inferErr != nil {
		// The payment has settled, so the record is still written.
		ev.Output = "error: " + inferErr.Error()
		s.deps.Recorder.RecordAsync(ev)
		s.log.Error("inference: upstream failed after settlement",
			zap.String("model", modelID), zap.String("tx", res.TxHash), zap.Error(inferErr))
		status := http.StatusBadGateway
		var se *upstream.StatusError
		if errors.As(inferErr, &se) && se.Code < 500 {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"ok": false, "error": "inference failed", "payment": info})
		return
	}

	ev.Output = upstream.Preview(out.Output)
	ev.LatencyMs = out.LatencyMs
	s.deps.Recorder.RecordAsync(ev)

	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"modelId":   model.ID,
		"result":    json.RawMessage(out.Output),
		"latencyMs": out.LatencyMs,
		"payment":   info,
	})
}

func (s *Server) handleFacilitatorHealth(c *gin.Context) {
	healthy := s.deps.Facilitator.HealthCheck(c.Request.Context())
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"ok":       healthy,
		"provider": s.deps.Facilitator.Provider(),
		"network":  s.opts.Chain.Network,
		"healthy":  healthy,
	})
}
