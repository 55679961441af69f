package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/soundbysound/apigateway/internal/core"
	"github.com/soundbysound/apigateway/internal/logger"
	"github.com/soundbysound/apigateway/internal/model"
)

const (
	// RequestIDKey gin.Context 中的请求 ID
	RequestIDKey = "request_id"
	// KeyRecordKey gin.Context 中已通过校验的 API Key 记录
	KeyRecordKey = "api_key_record"

	requestIDHeader = "X-Request-ID"
)

// RequestIDMiddleware 透传或生成 X-Request-ID
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.New().String()
		}
		c.Set(RequestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// RecoveryMiddleware 恢复中间件
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				abortWithError(c, core.NewError(core.KindInternal).Wrap(fmt.Errorf("panic: %v", rec)))
			}
		}()
		c.Next()
	}
}

// LoggerMiddleware 请求日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("http request",
			"status", c.Writer.Status(),
			"latencyMs", time.Since(start).Milliseconds(),
			"method", c.Request.Method,
			"path", path,
			"clientIp", c.ClientIP(),
			"requestId", requestIDFromContext(c),
		)
	}
}

// CORSMiddleware 跨域中间件，origins 含 "*" 时放行所有来源
func CORSMiddleware(origins []string) gin.HandlerFunc {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return cors.New(cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "Authorization", "x-api-key", "x-admin-key", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader, "RateLimit-Limit", "RateLimit-Remaining", "RateLimit-Reset"},
		AllowOriginFunc: func(origin string) bool {
			return allowAll || allowed[origin]
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// BodyLimitMiddleware 限制请求体大小
func BodyLimitMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil && maxBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// RateLimitMiddleware 按客户端 IP 的频率限制
func RateLimitMiddleware(rl *core.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := rl.Allow(c.ClientIP())

		reset := int(time.Until(d.ResetAt).Round(time.Second).Seconds())
		if reset < 0 {
			reset = 0
		}
		c.Header("RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Header("RateLimit-Reset", strconv.Itoa(reset))

		if !d.Allowed {
			c.Header("Retry-After", strconv.Itoa(reset))
			logger.Warn("rate limit exceeded", "clientIp", c.ClientIP(), "path", c.Request.URL.Path)
			abortWithError(c, core.NewError(core.KindRateLimitExceeded))
			return
		}
		c.Next()
	}
}

// RequireAPIKey 校验 x-api-key，并把密钥记录放入上下文
func RequireAPIKey(keys *core.KeyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("x-api-key")
		if key == "" {
			abortWithError(c, core.NewError(core.KindMissingAPIKey))
			return
		}

		res, err := keys.Resolve(key)
		if err != nil {
			abortWithError(c, err)
			return
		}

		switch res.Status {
		case core.KeyActive:
			c.Set(KeyRecordKey, res.Record)
			c.Next()
		case core.KeyExpired:
			logger.Info("expired api key removed", "keyPrefix", model.KeyPrefixOf(key))
			abortWithError(c, core.NewError(core.KindExpiredAPIKey))
		default:
			abortWithError(c, core.NewError(core.KindInvalidAPIKey))
		}
	}
}

// AdminAuthMiddleware 管理接口认证；adminKey 为空时不校验
func AdminAuthMiddleware(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.Next()
			return
		}

		token := c.GetHeader("x-admin-key")
		if token == "" {
			token = strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		}
		if token == "" {
			e := core.NewError(core.KindMissingAPIKey)
			e.Message = "Admin key required. Please include x-admin-key or Authorization header."
			abortWithError(c, e)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(adminKey)) != 1 {
			e := core.NewError(core.KindInvalidAPIKey)
			e.Message = "Invalid admin key"
			abortWithError(c, e)
			return
		}
		c.Next()
	}
}

// KeyRecordFromContext 取出已校验的密钥记录
func KeyRecordFromContext(c *gin.Context) *model.APIKeyRecord {
	if v, ok := c.Get(KeyRecordKey); ok {
		if rec, ok := v.(*model.APIKeyRecord); ok {
			return rec
		}
	}
	return nil
}

// requestIDFromContext gets request id from gin context (if present).
func requestIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	if v, ok := c.Get(RequestIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// readBody 读取请求体，超限时返回参数错误
func readBody(c *gin.Context) ([]byte, error) {
	body, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, core.InvalidParams(model.FieldViolation{
				Field:   "body",
				Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			})
		}
		return nil, core.InvalidParams(model.FieldViolation{Field: "body", Message: "unable to read request body"})
	}
	return body, nil
}
