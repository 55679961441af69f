package core

import (
	"net/http"
	"strings"
)

// DetectClient 从 HTTP 头识别调用方客户端，用于请求日志
func DetectClient(headers http.Header) string {
	if v := headers.Get("X-Client-Name"); v != "" {
		return normalizeClientName(v)
	}

	ua := strings.ToLower(headers.Get("User-Agent"))
	if ua == "" {
		return "unknown"
	}

	patterns := []struct {
		pattern string
		name    string
	}{
		{"openai/python", "openai-sdk"},
		{"openai-python", "openai-sdk"},
		{"openai/js", "openai-sdk"},
		{"openai-node", "openai-sdk"},
		{"axios", "axios"},
		{"python-requests", "python-requests"},
		{"curl", "curl"},
		{"okhttp", "android"},
		{"cfnetwork", "ios"},
		{"mozilla", "browser"},
	}
	for _, p := range patterns {
		if strings.Contains(ua, p.pattern) {
			return p.name
		}
	}
	return "unknown"
}

func normalizeClientName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
