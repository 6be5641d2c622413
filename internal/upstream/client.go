// Package upstream calls the hosted inference backend that sits behind the
// paywall.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultURL        = "https://router.huggingface.co/hf-inference/models"
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 2

	maxBody = 4 << 20
)

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: status %d: %s", e.Code, e.Body)
}

// Result is one inference answer. Output is the backend's JSON verbatim.
type Result struct {
	Output    json.RawMessage
	LatencyMs int64
}

// Client is an authenticated inference REST client.
type Client struct {
	baseURL    string
	apiKey     string
	maxRetries int
	backoff    time.Duration
	http       *http.Client
	log        *zap.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		maxRetries: DefaultMaxRetries,
		backoff:    500 * time.Millisecond,
		http:       &http.Client{Timeout: timeout},
		log:        log,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

// Infer runs input against model. 5xx answers (cold model, overload) are
// retried up to maxRetries times; 4xx answers are returned immediately.
func (c *Client) Infer(ctx context.Context, model, input string) (*Result, error) {
	if model == "" {
		return nil, errors.New("upstream: empty model")
	}
	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}
		out, err := c.inferOnce(ctx, model, input)
		if err == nil {
			return &Result{Output: out, LatencyMs: time.Since(start).Milliseconds()}, nil
		}
		lastErr = err
		var se *StatusError
		if !errors.As(err, &se) || se.Code < 500 {
			return nil, err
		}
		c.log.Warn("upstream: retrying", zap.String("model", model), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return nil, lastErr
}

func (c *Client) inferOnce(ctx context.Context, model, input string) (json.RawMessage, error) {
	resp, err := c.do(ctx, http.MethodPost, "/"+model, map[string]string{"inputs": input})
	if err != nil {
		return nil, fmt.Errorf("upstream: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("upstream: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	if !json.Valid(body) {
		// plain-text backends
		quoted, _ := json.Marshal(string(body))
		return quoted, nil
	}
	return body, nil
}

// Preview flattens an inference output to text for the history record.
func Preview(out json.RawMessage) string {
	var s string
	if json.Unmarshal(out, &s) == nil {
		return s
	}
	var gen []struct {
		GeneratedText string `json:"generated_text"`
	}
	if json.Unmarshal(out, &gen) == nil && len(gen) > 0 && gen[0].GeneratedText != "" {
		return gen[0].GeneratedText
	}
	return string(out)
}
