package main

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/0gfoundation/0g-inference-billing/internal/config"
	"github.com/0gfoundation/0g-inference-billing/internal/history"
	"github.com/0gfoundation/0g-inference-billing/internal/x402"
)

func init() { gin.SetMode(gin.TestMode) }

const (
	treasury = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	owner    = "0x00000000000000000000000000000000000000aa"
	creator  = "0x00000000000000000000000000000000000000bb"
	settleTx = "0x2222222222222222222222222222222222222222222222222222222222222222"
)

// ── helpers ───────────────────────────────────────────────────────────────────

// mockFacilitator answers /settle and /health like a hosted x402 facilitator.
func mockFacilitator(t *testing.T, settles *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /settle", func(w http.ResponseWriter, r *http.Request) {
		settles.Add(1)
		var req x402.SettleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(x402.SettlementResponse{ //nolint:errcheck
			Success:     true,
			Transaction: settleTx,
			Network:     req.PaymentRequirements.Network,
			Payer:       req.PaymentPayload.Payer(),
		})
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func mockInference(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"generated_text":"the answer is 42"}]`)) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(facURL, upstreamURL, dbPath string) *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 0, Env: "production"},
		Database: config.DatabaseConfig{Path: dbPath},
		X402: config.X402Config{
			ChainID:        x402.ChainIDAvalancheFuji,
			PayTo:          treasury,
			DefaultPrice:   "10000",
			MarketplaceBps: 1000,
		},
		Facilitator: config.FacilitatorConfig{Provider: "remote", URL: facURL, HealthTimeoutSec: 5},
		Retention:   config.RetentionConfig{Days: 90, CronSecret: "s3cret"},
		Upstream:    config.UpstreamConfig{URL: upstreamURL, TimeoutSec: 5},
		RateLimit:   config.RateLimitConfig{MaxRequests: 10, WindowSec: 60},
	}
}

func xPayment(t *testing.T, value int64) string {
	t.Helper()
	key, _ := crypto.GenerateKey()
	from := crypto.PubkeyToAddress(key.PublicKey).Hex()
	a, err := x402.NewAuthorization(from, treasury, big.NewInt(value), time.Now(), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	domain, _ := x402.USDCDomain(x402.ChainIDAvalancheFuji, "")
	sig, err := x402.SignAuthorization(a, key, domain)
	if err != nil {
		t.Fatal(err)
	}
	h, _ := x402.EncodePaymentHeader(x402.PaymentPayload{
		X402Version: x402.Version,
		Scheme:      x402.SchemeExact,
		Network:     "avalanche-fuji",
		Payload:     x402.ExactPayload{Signature: sig, Authorization: a},
	})
	return h
}

// ── End to end ───────────────────────────────────────────────────────────────

// TestWire_PayInferAndReport drives the wired service over real HTTP: a 402
// challenge, a paid call settled by a remote facilitator, then the creator
// dashboard and the retention trigger.
func TestWire_PayInferAndReport(t *testing.T) {
	var settles atomic.Int32
	fac := mockFacilitator(t, &settles)
	inf := mockInference(t)

	log := zap.NewNop()
	store, err := history.Open(filepath.Join(t.TempDir(), "billing.db"), log)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.UpsertModel(context.Background(), history.Model{
		ID: "m1", Name: "gpt2", Owner: owner, Creator: creator, RoyaltyBps: 1000, Price: big.NewInt(1_000_000),
	}); err != nil {
		t.Fatal(err)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	a, err := wire(testConfig(fac.URL, inf.URL, ""), rdb, store, log)
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	srv := httptest.NewServer(a.api.Router())
	t.Cleanup(srv.Close)

	post := func(header string) *http.Response {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/inference/m1", strings.NewReader(`{"input":"what is the answer?"}`))
		req.Header.Set("Content-Type", "application/json")
		if header != "" {
			req.Header.Set(x402.HeaderPayment, header)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		return resp
	}

	// 1. unpaid call is challenged
	resp := post("")
	resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("unpaid: got %d want 402", resp.StatusCode)
	}

	// 2. paid call settles and runs
	resp = post(xPayment(t, 1_000_000))
	var paid map[string]any
	json.NewDecoder(resp.Body).Decode(&paid) //nolint:errcheck
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("paid: got %d want 200: %v", resp.StatusCode, paid)
	}
	if resp.Header.Get(x402.HeaderPaymentResponse) == "" {
		t.Error("missing X-PAYMENT-RESPONSE")
	}
	if settles.Load() != 1 {
		t.Errorf("settles: got %d want 1", settles.Load())
	}

	a.recorder.Close()

	// 3. the creator sees its royalty
	resp, err = http.Get(srv.URL + "/api/analytics/creator/" + creator)
	if err != nil {
		t.Fatal(err)
	}
	var dash struct {
		Stats struct {
			TotalRevenue    string `json:"totalRevenue"`
			TotalInferences int64  `json:"totalInferences"`
		} `json:"stats"`
	}
	json.NewDecoder(resp.Body).Decode(&dash) //nolint:errcheck
	resp.Body.Close()
	if dash.Stats.TotalRevenue != "0.100000" {
		t.Errorf("creator revenue: got %q want 0.100000", dash.Stats.TotalRevenue)
	}

	// 4. facilitator health goes through the configured provider
	resp, _ = http.Get(srv.URL + "/api/facilitator/health")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("facilitator health: got %d", resp.StatusCode)
	}

	// 5. retention trigger is bearer-guarded
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/cron/cleanup-history", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("cleanup: got %d", resp.StatusCode)
	}
	last, err := a.runner.Last(context.Background())
	if err != nil || last == nil || last.RetentionDays != 90 {
		t.Errorf("last run: got %+v err %v", last, err)
	}
}

func TestWire_RejectsBadConfig(t *testing.T) {
	cfg := testConfig("http://unused", "http://unused", "")
	cfg.X402.ChainID = 1
	if _, err := wire(cfg, nil, nil, zap.NewNop()); err == nil {
		t.Fatal("expected error for unknown chain")
	}
}

// ── Logger ───────────────────────────────────────────────────────────────────

func TestNewLogger(t *testing.T) {
	log, err := newLogger("debug")
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug level not enabled")
	}
	if _, err := newLogger("chatty"); err == nil {
		t.Error("expected error for unknown level")
	}
	log, _ = newLogger("")
	if log.Core().Enabled(zapcore.DebugLevel) {
		t.Error("default level should be info")
	}
}
