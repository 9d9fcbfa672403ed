package handler

import (
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/paychan_backend/service"
)

const loginMessagePrefix = "PayChan login nonce: "

// AuthHandler 钱包签名登录：下发一次性登录 nonce，客户端 personal_sign
// 后回传，恢复地址匹配则签发 JWT。登录 nonce 与提现 nonce 无关。
type AuthHandler struct {
	ledger *service.LedgerService
	secret []byte
	ttl    time.Duration

	mu     sync.Mutex
	nonces map[string]loginNonce
}

type loginNonce struct {
	nonce    string
	issuedAt time.Time
}

func NewAuthHandler(ledger *service.LedgerService, secret string, ttl time.Duration) *AuthHandler {
	return &AuthHandler{
		ledger: ledger,
		secret: []byte(secret),
		ttl:    ttl,
		nonces: make(map[string]loginNonce),
	}
}

// GET /api/v1/auth/nonce?address=0x...
func (h *AuthHandler) GetNonce(c *gin.Context) {
	address := c.Query("address")
	if !common.IsHexAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}
	nonce := uuid.NewString()
	h.mu.Lock()
	h.nonces[strings.ToLower(address)] = loginNonce{nonce: nonce, issuedAt: time.Now()}
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"nonce":   nonce,
		"message": loginMessagePrefix + nonce,
	})
}

type verifyRequest struct {
	Address   string `json:"address" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// POST /api/v1/auth/verify
func (h *AuthHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !common.IsHexAddress(req.Address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}
	addrKey := strings.ToLower(req.Address)

	h.mu.Lock()
	entry, ok := h.nonces[addrKey]
	h.mu.Unlock()
	if !ok || time.Since(entry.issuedAt) > 5*time.Minute {
		c.JSON(http.StatusBadRequest, gin.H{"error": "login nonce expired, request a new one"})
		return
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(req.Signature, "0x"))
	if err != nil || len(sig) != 65 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed signature"})
		return
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	hash := accounts.TextHash([]byte(loginMessagePrefix + entry.nonce))
	pub, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature recovery failed"})
		return
	}
	if strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()) != addrKey {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "signature does not match address"})
		return
	}

	h.mu.Lock()
	delete(h.nonces, addrKey)
	h.mu.Unlock()

	account, err := h.ledger.AccountByWallet(c, addrKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": addrKey,
		"uid": account.UserID,
		"iat": now.Unix(),
		"exp": now.Add(h.ttl).Unix(),
	})
	signed, err := token.SignedString(h.secret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token signing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": signed, "user_id": account.UserID})
}

// Middleware 校验 Bearer token，往上下文注入 userID / wallet。
func (h *AuthHandler) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")
		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return h.secret, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			return
		}
		uid, ok := claims["uid"].(float64)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			return
		}
		c.Set("userID", uint64(uid))
		if sub, ok := claims["sub"].(string); ok {
			c.Set("wallet", sub)
		}
		c.Next()
	}
}

func userIDFrom(c *gin.Context) (uint64, bool) {
	v, ok := c.Get("userID")
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}
