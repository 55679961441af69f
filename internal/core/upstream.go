package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/soundbysound/apigateway/internal/logger"
)

// UpstreamOptions 上游连接参数，进程启动时确定
type UpstreamOptions struct {
	BaseURL       string
	APIKey        string
	Referer       string
	Title         string
	Timeout       time.Duration
	ModelFamilies []string
}

// UpstreamResult 上游成功响应
type UpstreamResult struct {
	Status int
	Body   []byte
}

// UpstreamGateway 单一上游转发，不做重试
type UpstreamGateway struct {
	opts   UpstreamOptions
	client *http.Client
}

// NewUpstreamGateway 创建上游网关
func NewUpstreamGateway(opts UpstreamOptions) *UpstreamGateway {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &UpstreamGateway{
		opts:   opts,
		client: &http.Client{},
	}
}

// ForwardChat 转发聊天请求；客户端断开不会取消上游调用
func (g *UpstreamGateway) ForwardChat(ctx context.Context, body []byte) (*UpstreamResult, error) {
	ctx, cancel := g.detach(ctx)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.opts.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, NewError(KindInternal).Wrap(err)
	}
	g.setHeaders(httpReq)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		logger.Error("upstream request failed", "endpoint", "chat/completions", "error", err)
		return nil, NewError(KindInternal).Wrap(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(KindInternal).Wrap(fmt.Errorf("read upstream body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Warn("upstream returned error",
			"status", resp.StatusCode,
			"body", truncateBody(respBody, 512),
		)
		return nil, upstreamError(resp.StatusCode, respBody)
	}

	return &UpstreamResult{Status: resp.StatusCode, Body: respBody}, nil
}

// ListModels 获取上游模型列表并按模型族过滤
func (g *UpstreamGateway) ListModels(ctx context.Context) ([]json.RawMessage, error) {
	ctx, cancel := g.detach(ctx)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.opts.BaseURL+"/models", nil)
	if err != nil {
		return nil, NewError(KindModelsFetch).Wrap(err)
	}
	g.setHeaders(httpReq)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		logger.Error("upstream models request failed", "error", err)
		return nil, NewError(KindModelsFetch).Wrap(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(KindModelsFetch).Wrap(err)
	}
	if resp.StatusCode != http.StatusOK {
		logger.Warn("upstream models returned error", "status", resp.StatusCode, "body", truncateBody(respBody, 512))
		return nil, NewError(KindModelsFetch).Wrap(fmt.Errorf("status %d", resp.StatusCode))
	}

	data := gjson.GetBytes(respBody, "data")
	if !data.IsArray() {
		return nil, NewError(KindModelsFetch).Wrap(fmt.Errorf("models response has no data array"))
	}

	models := make([]json.RawMessage, 0)
	data.ForEach(func(_, m gjson.Result) bool {
		if g.inFamilies(m.Get("id").String()) {
			models = append(models, json.RawMessage(m.Raw))
		}
		return true
	})
	return models, nil
}

func (g *UpstreamGateway) inFamilies(id string) bool {
	if len(g.opts.ModelFamilies) == 0 {
		return true
	}
	for _, family := range g.opts.ModelFamilies {
		if strings.Contains(id, family) {
			return true
		}
	}
	return false
}

// detach 断开与客户端请求的取消关联，只保留超时
func (g *UpstreamGateway) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), g.opts.Timeout)
}

// setHeaders 设置请求头
func (g *UpstreamGateway) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.opts.APIKey)
	if g.opts.Referer != "" {
		req.Header.Set("HTTP-Referer", g.opts.Referer)
	}
	if g.opts.Title != "" {
		req.Header.Set("X-Title", g.opts.Title)
	}
}

// upstreamError 从上游错误体中提取 error.message / error.code
func upstreamError(status int, body []byte) *Error {
	var message, code string
	if gjson.ValidBytes(body) {
		message = gjson.GetBytes(body, "error.message").String()
		code = gjson.GetBytes(body, "error.code").String()
	}
	return UpstreamErr(status, message, code).Wrap(fmt.Errorf("upstream status %d", status))
}
