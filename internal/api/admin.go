package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/soundbysound/apigateway/internal/core"
	"github.com/soundbysound/apigateway/internal/logger"
	"github.com/soundbysound/apigateway/internal/model"
)

// AdminHandler 管理 API 处理器
type AdminHandler struct {
	keys      *core.KeyStore
	validator *core.RequestValidator
	logs      RequestLogStore
}

// NewAdminHandler 创建管理处理器
func NewAdminHandler(keys *core.KeyStore, validator *core.RequestValidator, logs RequestLogStore) *AdminHandler {
	return &AdminHandler{
		keys:      keys,
		validator: validator,
		logs:      logs,
	}
}

// === API Key 管理 ===

// CreateKey 签发 API Key
func (h *AdminHandler) CreateKey(c *gin.Context) {
	var req model.IssueKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, core.InvalidParams(model.FieldViolation{Field: "body", Message: err.Error()}))
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		abortWithError(c, err)
		return
	}

	rec, err := h.keys.Issue(req)
	if err != nil {
		abortWithError(c, err)
		return
	}

	logger.Info("api key issued", "keyPrefix", rec.KeyPrefix(), "app", rec.AppName, "expiry", req.Expiry)
	c.JSON(http.StatusOK, model.IssueKeyResponse{
		Success: true,
		APIKey:  rec.Key,
		KeyData: rec,
	})
}

// ListKeys 列出脱敏后的 API Key
func (h *AdminHandler) ListKeys(c *gin.Context) {
	views, err := h.keys.List()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.ListKeysResponse{Keys: views})
}

// RevokeKey 删除 API Key
func (h *AdminHandler) RevokeKey(c *gin.Context) {
	key := c.Param("key")
	if err := h.keys.Revoke(key); err != nil {
		abortWithError(c, err)
		return
	}
	logger.Info("api key revoked", "keyPrefix", model.KeyPrefixOf(key))
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "API key deleted successfully"})
}

// === 用量 ===

// UsageLogs 查询请求日志
func (h *AdminHandler) UsageLogs(c *gin.Context) {
	var query model.LogQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		abortWithError(c, core.InvalidParams(model.FieldViolation{Field: "query", Message: err.Error()}))
		return
	}

	logs, err := h.logs.QueryLogs(c.Request.Context(), &query)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": logs})
}

// UsageStats 每日及按应用统计
func (h *AdminHandler) UsageStats(c *gin.Context) {
	days := 7
	if v := c.Query("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 365 {
			abortWithError(c, core.InvalidParams(model.FieldViolation{Field: "days", Message: "days must be an integer between 1 and 365"}))
			return
		}
		days = n
	}

	daily, err := h.logs.GetDailyStats(c.Request.Context(), days)
	if err != nil {
		abortWithError(c, err)
		return
	}
	apps, err := h.logs.GetAppStats(c.Request.Context(), days)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"days":  days,
		"daily": daily,
		"apps":  apps,
	})
}
