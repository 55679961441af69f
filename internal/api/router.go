package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/soundbysound/apigateway/internal/config"
	"github.com/soundbysound/apigateway/internal/core"
	"github.com/soundbysound/apigateway/internal/logger"
	"github.com/soundbysound/apigateway/internal/model"
)

// ServiceName 服务名
const ServiceName = "Sound by Sound Slowly API Service"

// Version 服务版本，构建时可通过 -ldflags 覆盖
var Version = "1.0.0"

// Health 存活检查
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, model.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Service:   ServiceName,
		Version:   Version,
	})
}

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config, proxy *ProxyHandler, admin *AdminHandler, keys *core.KeyStore, limiter *core.RateLimiter) *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.Warn("invalid trusted proxies, trusting none", "error", err)
		_ = r.SetTrustedProxies(nil)
	}

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(BodyLimitMiddleware(int64(cfg.Server.BodyLimitMB) << 20))

	r.GET("/health", Health)

	// OpenAI 兼容接口：先限流，再校验 API Key
	v1 := r.Group("/v1")
	v1.Use(RateLimitMiddleware(limiter), RequireAPIKey(keys))
	{
		v1.GET("/models", proxy.ListModels)
		v1.POST("/chat/completions", proxy.ChatCompletions)
		v1.POST("/completions", proxy.Completions)
	}

	// 管理接口
	adm := r.Group("/admin")
	adm.Use(AdminAuthMiddleware(cfg.Server.AdminAPIKey))
	{
		adm.POST("/api-keys", admin.CreateKey)
		adm.GET("/api-keys", admin.ListKeys)
		adm.DELETE("/api-keys/:key", admin.RevokeKey)

		if admin.logs != nil {
			adm.GET("/usage/logs", admin.UsageLogs)
			adm.GET("/usage/stats", admin.UsageStats)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		abortWithError(c, core.NewError(core.KindRouteNotFound))
	})

	return r
}
