package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/0gfoundation/0g-inference-billing/internal/history"
)

const (
	owner   = "0x00000000000000000000000000000000000000aa"
	creator = "0x00000000000000000000000000000000000000bb"
	payer   = "0x00000000000000000000000000000000000000cc"
)

// ── helpers ───────────────────────────────────────────────────────────────────

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seededDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "billing.db")
	store, err := history.Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	if err := store.UpsertModel(ctx, history.Model{ID: "m1", Name: "gpt2", Owner: owner, Creator: creator, RoyaltyBps: 1000}); err != nil {
		t.Fatal(err)
	}
	for i, at := range []time.Time{time.Now().AddDate(0, 0, -120), time.Now()} {
		if _, err := store.Record(ctx, history.Event{
			ModelID: "m1", ModelName: "gpt2", Payer: payer, TxHash: "0x" + strings.Repeat(string(rune('1'+i)), 64),
			Amount: big.NewInt(1_000_000), ChainID: 43113, Input: "in", Output: "out", LatencyMs: 90, CreatedAt: at,
		}); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

// ── Commands ─────────────────────────────────────────────────────────────────

func TestModelSetAndGet(t *testing.T) {
	db := filepath.Join(t.TempDir(), "billing.db")
	out, err := run(t, "--db", db, "model", "set", "m9", "--name", "llama", "--owner", owner, "--royalty-bps", "500", "--price", "20000")
	if err != nil {
		t.Fatalf("model set: %v\n%s", err, out)
	}
	var m history.Model
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if m.Creator != owner || m.Price.Int64() != 20_000 {
		t.Errorf("model: got %+v", m)
	}

	if _, err := run(t, "--db", db, "model", "set", "bad", "--owner", owner, "--royalty-bps", "2500"); err == nil {
		t.Error("expected error for royalty above cap")
	}
	if _, err := run(t, "--db", db, "model", "get", "nope"); err == nil {
		t.Error("expected error for unknown model")
	}
}

func TestRetain(t *testing.T) {
	db := seededDB(t)
	out, err := run(t, "--db", db, "retain", "--days", "90")
	if err != nil {
		t.Fatalf("retain: %v\n%s", err, out)
	}
	var res map[string]any
	json.Unmarshal([]byte(out), &res) //nolint:errcheck
	if res["deletedCount"] != float64(1) || res["aggregatedCount"] != float64(1) {
		t.Errorf("retain result: got %v", res)
	}
}

func TestExportCSV(t *testing.T) {
	db := seededDB(t)
	file := filepath.Join(t.TempDir(), "out.csv")
	if out, err := run(t, "--db", db, "export", "--wallet", payer, "--format", "csv", "--out", file); err != nil {
		t.Fatalf("export: %v\n%s", err, out)
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("rows: got %d want 3 (header + 2)", len(rows))
	}
}

func TestExport_RequiresWallet(t *testing.T) {
	if _, err := run(t, "--db", seededDB(t), "export"); err == nil {
		t.Fatal("expected error without --wallet")
	}
}

func TestStatsCreator(t *testing.T) {
	db := seededDB(t)
	out, err := run(t, "--db", db, "stats", "creator", creator, "--time-series")
	if err != nil {
		t.Fatalf("stats: %v\n%s", err, out)
	}
	var body struct {
		Stats struct {
			TotalRevenue string `json:"totalRevenue"`
		} `json:"stats"`
		TimeSeries []any `json:"timeSeries"`
	}
	if err := json.Unmarshal([]byte(out), &body); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	// 10% royalty on 2 USDC gross
	if body.Stats.TotalRevenue != "0.200000" {
		t.Errorf("creator revenue: got %q want 0.200000", body.Stats.TotalRevenue)
	}
	if len(body.TimeSeries) != 1 {
		t.Errorf("series points in 30d: got %d want 1", len(body.TimeSeries))
	}
}

func TestHealth_Remote(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer up.Close()

	if out, err := run(t, "health", "--provider", "remote", "--url", up.URL); err != nil {
		t.Fatalf("healthy facilitator: %v\n%s", err, out)
	}
	up.Close()
	if _, err := run(t, "health", "--provider", "remote", "--url", up.URL, "--timeout", "200ms"); err == nil {
		t.Error("expected error for unreachable facilitator")
	}
}

func TestBalance_RejectsBadAddress(t *testing.T) {
	if _, err := run(t, "balance", "not-an-address"); err == nil {
		t.Fatal("expected error")
	}
}
