package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/soundbysound/apigateway/internal/core"
	"github.com/soundbysound/apigateway/internal/logger"
	"github.com/soundbysound/apigateway/internal/model"
)

// RequestLogStore 请求日志存储
type RequestLogStore interface {
	SaveLog(ctx context.Context, log *model.RequestLog) error
	QueryLogs(ctx context.Context, query *model.LogQuery) ([]*model.RequestLog, error)
	GetDailyStats(ctx context.Context, days int) ([]*model.DailyStats, error)
	GetAppStats(ctx context.Context, days int) ([]*model.AppStats, error)
}

// ProxyHandler 代理处理器
type ProxyHandler struct {
	keys       *core.KeyStore
	validator  *core.RequestValidator
	translator *core.Translator
	upstream   *core.UpstreamGateway
	logs       RequestLogStore
}

// NewProxyHandler 创建代理处理器；logs 为 nil 时不记录请求日志
func NewProxyHandler(keys *core.KeyStore, validator *core.RequestValidator, translator *core.Translator, upstream *core.UpstreamGateway, logs RequestLogStore) *ProxyHandler {
	return &ProxyHandler{
		keys:       keys,
		validator:  validator,
		translator: translator,
		upstream:   upstream,
		logs:       logs,
	}
}

// ChatCompletions 聊天补全，成功时原样返回上游响应
func (h *ProxyHandler) ChatCompletions(c *gin.Context) {
	entry := h.newLog(c)

	body, err := readBody(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	req, err := h.validator.ValidateChat(body)
	if err != nil {
		abortWithError(c, err)
		return
	}
	entry.Model = req.Model

	h.recordUsage(c)

	out, upstreamModel, err := h.translator.TransformChat(body)
	if err != nil {
		abortWithError(c, core.NewError(core.KindInternal).Wrap(err))
		return
	}
	entry.UpstreamModel = upstreamModel

	res, err := h.upstream.ForwardChat(c.Request.Context(), out)
	if err != nil {
		h.finish(entry, nil, err)
		abortWithError(c, err)
		return
	}

	h.finish(entry, res, nil)
	c.Data(res.Status, "application/json; charset=utf-8", res.Body)
}

// Completions 旧版补全，转换为聊天请求后再转换回 text_completion
func (h *ProxyHandler) Completions(c *gin.Context) {
	entry := h.newLog(c)

	body, err := readBody(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	req, err := h.validator.ValidateCompletion(body)
	if err != nil {
		abortWithError(c, err)
		return
	}
	entry.Model = req.Model

	h.recordUsage(c)

	out, upstreamModel, err := h.translator.TransformCompletion(body)
	if err != nil {
		abortWithError(c, core.NewError(core.KindInternal).Wrap(err))
		return
	}
	entry.UpstreamModel = upstreamModel

	res, err := h.upstream.ForwardChat(c.Request.Context(), out)
	if err != nil {
		h.finish(entry, nil, err)
		abortWithError(c, err)
		return
	}

	legacy, err := core.ToLegacyCompletion(res.Body)
	if err != nil {
		h.finish(entry, nil, err)
		abortWithError(c, err)
		return
	}

	h.finish(entry, res, nil)
	c.JSON(http.StatusOK, legacy)
}

// ListModels 列出允许的模型
func (h *ProxyHandler) ListModels(c *gin.Context) {
	entry := h.newLog(c)

	models, err := h.upstream.ListModels(c.Request.Context())
	if err != nil {
		h.finish(entry, nil, err)
		abortWithError(c, err)
		return
	}

	h.finish(entry, &core.UpstreamResult{Status: http.StatusOK}, nil)
	c.JSON(http.StatusOK, model.ModelsResponse{
		Object: "list",
		Data:   models,
	})
}

// recordUsage 请求计数在转发上游之前更新
func (h *ProxyHandler) recordUsage(c *gin.Context) {
	rec := KeyRecordFromContext(c)
	if rec == nil {
		return
	}
	if err := h.keys.RecordUsage(rec.Key); err != nil {
		logger.Warn("record key usage failed", "keyPrefix", rec.KeyPrefix(), "error", err)
	}
}

func (h *ProxyHandler) newLog(c *gin.Context) *model.RequestLog {
	entry := &model.RequestLog{
		ID:         core.GenerateLogID(),
		RequestID:  requestIDFromContext(c),
		Timestamp:  time.Now(),
		Route:      c.FullPath(),
		ClientIP:   c.ClientIP(),
		ClientTool: core.DetectClient(c.Request.Header),
	}
	if rec := KeyRecordFromContext(c); rec != nil {
		entry.KeyPrefix = rec.KeyPrefix()
		entry.AppName = rec.AppName
	}
	return entry
}

// finish 补全并保存请求日志
func (h *ProxyHandler) finish(entry *model.RequestLog, res *core.UpstreamResult, err error) {
	if h.logs == nil {
		return
	}
	entry.LatencyMs = time.Since(entry.Timestamp).Milliseconds()

	if err != nil {
		gwErr := core.AsError(err)
		entry.StatusCode = gwErr.Status
		entry.Error = gwErr.Error()
	} else if res != nil {
		entry.Success = true
		entry.StatusCode = res.Status
		usage := core.UsageOf(res.Body)
		entry.PromptTokens = usage.PromptTokens
		entry.CompletionTokens = usage.CompletionTokens
		entry.TotalTokens = usage.TotalTokens
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.logs.SaveLog(ctx, entry); err != nil {
		logger.Warn("save request log failed", "requestId", entry.RequestID, "error", err)
	}
}
