package core

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/soundbysound/apigateway/internal/model"
)

// Kind 网关错误分类
type Kind int

const (
	KindInternal Kind = iota
	KindMissingAPIKey
	KindInvalidAPIKey
	KindExpiredAPIKey
	KindInvalidParameters
	KindRateLimitExceeded
	KindUpstream
	KindMalformedUpstream
	KindModelsFetch
	KindNotFound
	KindRouteNotFound
)

type kindSpec struct {
	status  int
	typ     string
	code    string
	message string
}

var kindTable = map[Kind]kindSpec{
	KindInternal:          {http.StatusInternalServerError, "internal_error", "server_error", "Internal server error"},
	KindMissingAPIKey:     {http.StatusUnauthorized, "invalid_request_error", "missing_api_key", "API key required. Please include x-api-key header."},
	KindInvalidAPIKey:     {http.StatusUnauthorized, "invalid_request_error", "invalid_api_key", "Invalid API key"},
	KindExpiredAPIKey:     {http.StatusUnauthorized, "invalid_request_error", "expired_api_key", "API key has expired"},
	KindInvalidParameters: {http.StatusBadRequest, "invalid_request_error", "invalid_parameters", "Invalid request parameters"},
	KindRateLimitExceeded: {http.StatusTooManyRequests, "rate_limit_exceeded", "rate_limit_exceeded", "Too many requests from this IP, please try again later."},
	KindUpstream:          {http.StatusBadGateway, "api_error", "upstream_error", "Upstream API error"},
	KindMalformedUpstream: {http.StatusInternalServerError, "api_error", "malformed_upstream_response", "Malformed upstream response"},
	KindModelsFetch:       {http.StatusInternalServerError, "api_error", "models_fetch_error", "Failed to fetch models"},
	KindNotFound:          {http.StatusNotFound, "not_found", "key_not_found", "API key not found"},
	KindRouteNotFound:     {http.StatusNotFound, "invalid_request_error", "not_found", "Endpoint not found"},
}

func (k Kind) String() string {
	if s, ok := kindTable[k]; ok {
		return s.code
	}
	return "unknown"
}

// Error 网关统一错误
type Error struct {
	Kind    Kind
	Status  int
	Type    string
	Code    string
	Message string
	Details []model.FieldViolation

	cause error
}

// NewError 按分类构造错误，状态码、类型、错误码和默认信息均来自分类表
func NewError(kind Kind) *Error {
	spec, ok := kindTable[kind]
	if !ok {
		spec = kindTable[KindInternal]
		kind = KindInternal
	}
	return &Error{
		Kind:    kind,
		Status:  spec.status,
		Type:    spec.typ,
		Code:    spec.code,
		Message: spec.message,
	}
}

// InvalidParams 构造带字段明细的参数错误
func InvalidParams(details ...model.FieldViolation) *Error {
	e := NewError(KindInvalidParameters)
	e.Details = details
	return e
}

// UpstreamErr 构造镜像上游状态码的错误，message/code 为空时使用默认值；
// 非 2xx 状态原样返回，2xx 或非法状态码回落为 502
func UpstreamErr(status int, message, code string) *Error {
	e := NewError(KindUpstream)
	if status >= 300 && status <= 599 {
		e.Status = status
	}
	if message != "" {
		e.Message = message
	}
	if code != "" {
		e.Code = code
	}
	return e
}

// Wrap attaches an underlying cause for server-side logging.
func (e *Error) Wrap(cause error) *Error {
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches another *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// Response renders the uniform error envelope.
func (e *Error) Response() model.ErrorResponse {
	return model.ErrorResponse{
		Error: model.ErrorDetail{
			Message: e.Message,
			Type:    e.Type,
			Code:    e.Code,
			Details: e.Details,
		},
	}
}

// AsError 将任意错误归类为 *Error，未分类错误视为内部错误
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(KindInternal).Wrap(err)
}
