package model

import "encoding/json"

// ChatCompletionRequest OpenAI 兼容的聊天补全请求
// 只声明需要校验的字段，其余采样参数在原始 body 中原样透传
type ChatCompletionRequest struct {
	Model    string    `json:"model" validate:"required"`
	Messages []Message `json:"messages" validate:"required,min=1,dive"`
}

// Message 消息
type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required"`
}

// CompletionRequest 旧版单 prompt 补全请求
type CompletionRequest struct {
	Model  string `json:"model" validate:"required"`
	Prompt string `json:"prompt" validate:"required"`
}

// LegacyCompletion 旧版补全响应
type LegacyCompletion struct {
	ID      string          `json:"id"`
	Object  string          `json:"object"`
	Created int64           `json:"created"`
	Model   string          `json:"model"`
	Choices []LegacyChoice  `json:"choices"`
	Usage   json.RawMessage `json:"usage,omitempty"`
}

// LegacyChoice 旧版补全选项
type LegacyChoice struct {
	Text         string `json:"text"`
	Index        int64  `json:"index"`
	Logprobs     any    `json:"logprobs"`
	FinishReason string `json:"finish_reason"`
}

// Usage Token 使用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ModelsResponse 模型列表响应
type ModelsResponse struct {
	Object string            `json:"object"`
	Data   []json.RawMessage `json:"data"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail 错误详情
type ErrorDetail struct {
	Message string           `json:"message"`
	Type    string           `json:"type"`
	Code    string           `json:"code"`
	Details []FieldViolation `json:"details,omitempty"`
}

// FieldViolation 字段级校验错误
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
	Version   string `json:"version"`
}
