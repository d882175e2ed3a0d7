package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const tokenTTL = 7 * 24 * time.Hour

type VerifyRequest struct {
	Code string `json:"code"`
}

// Auth 访问码校验，accessCode 为空时全部放行
type Auth struct {
	accessCode string
	secret     []byte
	now        func() time.Time
}

func NewAuth(accessCode, tokenSecret string) *Auth {
	return &Auth{accessCode: accessCode, secret: []byte(tokenSecret), now: time.Now}
}

// Enabled reports whether an access code is configured.
func (a *Auth) Enabled() bool {
	return a.accessCode != ""
}

// generateToken 生成token: timestamp.signature
func (a *Auth) generateToken() string {
	timestamp := strconv.FormatInt(a.now().Unix(), 10)
	return fmt.Sprintf("%s.%s", timestamp, a.sign(timestamp))
}

func (a *Auth) sign(timestamp string) string {
	h := hmac.New(sha256.New, a.secret)
	h.Write([]byte(timestamp))
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateToken 验证token签名与有效期
func (a *Auth) ValidateToken(token string) bool {
	timestamp, signature, ok := strings.Cut(token, ".")
	if !ok {
		return false
	}
	if !hmac.Equal([]byte(signature), []byte(a.sign(timestamp))) {
		return false
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	return a.now().Sub(time.Unix(ts, 0)) <= tokenTTL
}

// Verify 验证访问码并签发 token
func (a *Auth) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "invalid request body",
		})
		return
	}

	if a.Enabled() && !hmac.Equal([]byte(req.Code), []byte(a.accessCode)) {
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"message": "invalid access code",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "verified",
		"token":   a.generateToken(),
	})
}

// Middleware 认证中间件
func (a *Auth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}

		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if !a.ValidateToken(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token invalid or expired"})
			return
		}
		c.Next()
	}
}
