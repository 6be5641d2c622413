// Package auth holds the request guards for the billing API: an EIP-191
// wallet signature for owner-only reads and a bearer secret for cron.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ContextWallet is the gin context key holding the verified, lowercased wallet.
const ContextWallet = "wallet_address"

const (
	HeaderWallet    = "X-Wallet-Address"
	HeaderMessage   = "X-Signed-Message"
	HeaderSignature = "X-Wallet-Signature"

	maxFutureWindow = 5 * time.Minute
	noncePrefix     = "auth:nonce:"
)

// SignedRequest is the JSON carried base64-encoded in X-Signed-Message.
type SignedRequest struct {
	Action    string `json:"action"`
	ExpiresAt int64  `json:"expires_at"`
	Nonce     string `json:"nonce"`
	Wallet    string `json:"wallet"`
}

// WalletAuth accepts a request only if it carries a fresh, unreplayed message
// for action signed by the wallet named in X-Wallet-Address.
func WalletAuth(rdb *redis.Client, action string, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		wallet := c.GetHeader(HeaderWallet)
		msgB64 := c.GetHeader(HeaderMessage)
		sigHex := c.GetHeader(HeaderSignature)
		if wallet == "" || msgB64 == "" || sigHex == "" {
			unauthorized(c, "missing auth headers")
			return
		}

		msg, err := base64.StdEncoding.DecodeString(msgB64)
		if err != nil {
			unauthorized(c, "invalid X-Signed-Message encoding")
			return
		}
		var req SignedRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			unauthorized(c, "invalid signed message JSON")
			return
		}
		if req.Action != action {
			unauthorized(c, "signed for a different action")
			return
		}
		if req.Nonce == "" {
			unauthorized(c, "missing nonce")
			return
		}
		if req.Wallet != "" && !strings.EqualFold(req.Wallet, wallet) {
			unauthorized(c, "signed for a different wallet")
			return
		}

		now := time.Now().Unix()
		if req.ExpiresAt <= now {
			unauthorized(c, "request expired")
			return
		}
		if req.ExpiresAt > now+int64(maxFutureWindow.Seconds()) {
			unauthorized(c, "expires_at too far in future")
			return
		}

		if err := VerifyWallet(msg, sigHex, wallet); err != nil {
			unauthorized(c, "invalid signature")
			return
		}

		ttl := time.Duration(req.ExpiresAt-now) * time.Second
		fresh, err := rdb.SetNX(c.Request.Context(), noncePrefix+req.Nonce, 1, ttl).Result()
		if err != nil {
			log.Error("auth: nonce dedup", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "internal error"})
			return
		}
		if !fresh {
			unauthorized(c, "nonce already used")
			return
		}

		c.Set(ContextWallet, strings.ToLower(wallet))
		c.Next()
	}
}

// CronAuth guards the retention trigger with "Authorization: Bearer <secret>".
// Development mode skips the check. An unset secret lets requests through
// with a warning so a fresh deployment is not locked out.
func CronAuth(secret string, development bool, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if development {
			c.Next()
			return
		}
		if secret == "" {
			log.Warn("cron: CRON_SECRET not set, allowing unauthenticated trigger")
			c.Next()
			return
		}
		token, err := bearer(c.GetHeader("Authorization"))
		if err != nil || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			unauthorized(c, "unauthorized")
			return
		}
		c.Next()
	}
}

func bearer(h string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", errors.New("no bearer token")
	}
	return strings.TrimSpace(h[len(prefix):]), nil
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": msg})
}
