package auth

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ── WalletAuth ───────────────────────────────────────────────────────────────

func walletSetup(t *testing.T) (*miniredis.Miniredis, *gin.Engine) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := gin.New()
	r.GET("/export", WalletAuth(rdb, "export", zap.NewNop()), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"wallet": c.GetString(ContextWallet)})
	})
	return mr, r
}

func signedRequest(t *testing.T, action string, expiresOffset time.Duration, nonce string) (*http.Request, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	wallet := crypto.PubkeyToAddress(key.PublicKey).Hex()

	msg, _ := json.Marshal(SignedRequest{
		Action:    action,
		ExpiresAt: time.Now().Add(expiresOffset).Unix(),
		Nonce:     nonce,
		Wallet:    wallet,
	})
	sig, _ := crypto.Sign(HashMessage(msg), key)
	sig[64] += 27

	req := httptest.NewRequest(http.MethodGet, "/export", nil)
	req.Header.Set(HeaderWallet, wallet)
	req.Header.Set(HeaderMessage, base64.StdEncoding.EncodeToString(msg))
	req.Header.Set(HeaderSignature, "0x"+hex.EncodeToString(sig))
	return req, wallet
}

func serve(r http.Handler, req *http.Request) (int, map[string]any) {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w.Code, body
}

func TestWalletAuth_Valid(t *testing.T) {
	_, r := walletSetup(t)
	req, wallet := signedRequest(t, "export", 2*time.Minute, "n-valid")

	code, body := serve(r, req)
	if code != http.StatusOK {
		t.Fatalf("got %d want 200: %v", code, body)
	}
	if body["wallet"] != strings.ToLower(wallet) {
		t.Errorf("wallet: got %v want %s", body["wallet"], strings.ToLower(wallet))
	}
}

func TestWalletAuth_Rejections(t *testing.T) {
	_, r := walletSetup(t)

	cases := []struct {
		name    string
		req     func() *http.Request
		wantErr string
	}{
		{"missing headers", func() *http.Request {
			return httptest.NewRequest(http.MethodGet, "/export", nil)
		}, "missing auth headers"},
		{"expired", func() *http.Request {
			req, _ := signedRequest(t, "export", -time.Second, "n-exp")
			return req
		}, "request expired"},
		{"too far", func() *http.Request {
			req, _ := signedRequest(t, "export", 10*time.Minute, "n-far")
			return req
		}, "expires_at too far in future"},
		{"other action", func() *http.Request {
			req, _ := signedRequest(t, "delete", 2*time.Minute, "n-act")
			return req
		}, "signed for a different action"},
		{"other wallet", func() *http.Request {
			req, _ := signedRequest(t, "export", 2*time.Minute, "n-wallet")
			req.Header.Set(HeaderWallet, "0x000000000000000000000000000000000000dEaD")
			return req
		}, "signed for a different wallet"},
		{"bad encoding", func() *http.Request {
			req, _ := signedRequest(t, "export", 2*time.Minute, "n-enc")
			req.Header.Set(HeaderMessage, "%%%")
			return req
		}, "invalid X-Signed-Message encoding"},
		{"bad signature", func() *http.Request {
			req, _ := signedRequest(t, "export", 2*time.Minute, "n-sig")
			req.Header.Set(HeaderSignature, "0x"+strings.Repeat("11", 65))
			return req
		}, "invalid signature"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := serve(r, tc.req())
			if code != http.StatusUnauthorized {
				t.Fatalf("got %d want 401", code)
			}
			if body["error"] != tc.wantErr {
				t.Errorf("error: got %v want %q", body["error"], tc.wantErr)
			}
		})
	}
}

func TestWalletAuth_NonceReplay(t *testing.T) {
	mr, r := walletSetup(t)
	req1, _ := signedRequest(t, "export", 2*time.Minute, "n-replay")
	req2, _ := signedRequest(t, "export", 2*time.Minute, "n-replay")

	if code, body := serve(r, req1); code != http.StatusOK {
		t.Fatalf("first: got %d want 200: %v", code, body)
	}
	code, body := serve(r, req2)
	if code != http.StatusUnauthorized || body["error"] != "nonce already used" {
		t.Fatalf("replay: got %d %v", code, body)
	}
	if ttl := mr.TTL(noncePrefix + "n-replay"); ttl <= 0 || ttl > 2*time.Minute {
		t.Errorf("nonce ttl: got %v", ttl)
	}
}

func TestWalletAuth_RedisDown(t *testing.T) {
	mr, r := walletSetup(t)
	mr.Close()
	req, _ := signedRequest(t, "export", 2*time.Minute, "n-down")
	if code, _ := serve(r, req); code != http.StatusInternalServerError {
		t.Fatalf("got %d want 500", code)
	}
}

// ── CronAuth ─────────────────────────────────────────────────────────────────

func cronEngine(secret string, dev bool) *gin.Engine {
	r := gin.New()
	r.POST("/cron", CronAuth(secret, dev, zap.NewNop()), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func cronRequest(auth string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/cron", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	return req
}

func TestCronAuth(t *testing.T) {
	cases := []struct {
		name   string
		secret string
		dev    bool
		header string
		want   int
	}{
		{"correct bearer", "s3cret", false, "Bearer s3cret", http.StatusOK},
		{"wrong bearer", "s3cret", false, "Bearer nope", http.StatusUnauthorized},
		{"missing header", "s3cret", false, "", http.StatusUnauthorized},
		{"not bearer", "s3cret", false, "Basic s3cret", http.StatusUnauthorized},
		{"development skips", "s3cret", true, "", http.StatusOK},
		{"unset secret allows", "", false, "", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if code, _ := serve(cronEngine(tc.secret, tc.dev), cronRequest(tc.header)); code != tc.want {
				t.Fatalf("got %d want %d", code, tc.want)
			}
		})
	}
}
