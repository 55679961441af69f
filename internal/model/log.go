package model

import "time"

// RequestLog 请求日志
type RequestLog struct {
	ID            string    `json:"id"`
	RequestID     string    `json:"request_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Route         string    `json:"route"`
	Model         string    `json:"model"`
	UpstreamModel string    `json:"upstream_model,omitempty"`

	// 调用方信息
	KeyPrefix  string `json:"key_prefix,omitempty"`
	AppName    string `json:"app_name,omitempty"`
	ClientIP   string `json:"client_ip,omitempty"`
	ClientTool string `json:"client_tool,omitempty"`

	// 响应信息
	Success    bool  `json:"success"`
	StatusCode int   `json:"status_code"`
	LatencyMs  int64 `json:"latency_ms"`

	// Token 统计
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	Error string `json:"error,omitempty"`
}

// DailyStats 每日统计汇总
type DailyStats struct {
	Date          string  `json:"date"`
	TotalRequests int     `json:"total_requests"`
	SuccessRate   float64 `json:"success_rate"`
	TotalTokens   int64   `json:"total_tokens"`
	AvgLatency    float64 `json:"avg_latency_ms"`
}

// AppStats 按应用统计
type AppStats struct {
	AppName      string  `json:"app_name"`
	KeyPrefix    string  `json:"key_prefix"`
	RequestCount int     `json:"request_count"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatency   float64 `json:"avg_latency_ms"`
	TotalTokens  int64   `json:"total_tokens"`
}

// LogQuery 日志查询参数
type LogQuery struct {
	RequestID string `form:"request_id"`
	AppName   string `form:"app"`
	Model     string `form:"model"`
	Route     string `form:"route"`
	Success   *bool  `form:"success"`
	Limit     int    `form:"limit" binding:"omitempty,gte=0,lte=1000"`
	Offset    int    `form:"offset" binding:"omitempty,gte=0"`
}
