package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// NeverExpires 永不过期的 expiry 取值
const NeverExpires = "never"

// Expiry 过期时间，零值表示永不过期
type Expiry struct {
	At *time.Time
}

// ExpiryIn 返回 now 之后 days 天的过期时间，days <= 0 表示永不过期
func ExpiryIn(now time.Time, days int) Expiry {
	if days <= 0 {
		return Expiry{}
	}
	at := now.AddDate(0, 0, days)
	return Expiry{At: &at}
}

// Never reports whether the key has no expiry.
func (e Expiry) Never() bool { return e.At == nil }

// Expired reports whether the expiry lies strictly before now.
func (e Expiry) Expired(now time.Time) bool {
	return e.At != nil && now.After(*e.At)
}

func (e Expiry) MarshalJSON() ([]byte, error) {
	if e.At == nil {
		return json.Marshal(NeverExpires)
	}
	return json.Marshal(e.At.UTC().Format(time.RFC3339))
}

func (e *Expiry) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("expiry: %w", err)
	}
	if s == "" || s == NeverExpires {
		e.At = nil
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("expiry: %w", err)
	}
	e.At = &t
	return nil
}

// APIKeyRecord 已签发的 API Key 及其元数据
type APIKeyRecord struct {
	Key          string     `json:"key"`
	AppName      string     `json:"appName"`
	Developer    string     `json:"developer"`
	Email        string     `json:"email"`
	Purpose      string     `json:"purpose"`
	RateLimit    int        `json:"rateLimit"` // 仅记录，不强制执行
	Expiry       Expiry     `json:"expiry"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastUsedAt   *time.Time `json:"lastUsed"`
	RequestCount int64      `json:"requestCount"`
}

// Clone returns a deep copy safe to hand out of the store.
func (r *APIKeyRecord) Clone() *APIKeyRecord {
	cp := *r
	if r.Expiry.At != nil {
		at := *r.Expiry.At
		cp.Expiry.At = &at
	}
	if r.LastUsedAt != nil {
		t := *r.LastUsedAt
		cp.LastUsedAt = &t
	}
	return &cp
}

// KeyPrefix returns the first 8 characters of the key for display and logs.
func (r *APIKeyRecord) KeyPrefix() string {
	return KeyPrefixOf(r.Key)
}

// KeyPrefixOf returns the display prefix of a raw key.
func KeyPrefixOf(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8]
}

// ToView 生成不含原始密钥的列表视图
func (r *APIKeyRecord) ToView() APIKeyView {
	return APIKeyView{
		KeyPrefix:    r.KeyPrefix(),
		AppName:      r.AppName,
		Developer:    r.Developer,
		Email:        r.Email,
		Purpose:      r.Purpose,
		RateLimit:    r.RateLimit,
		Expiry:       r.Expiry,
		CreatedAt:    r.CreatedAt,
		LastUsedAt:   r.LastUsedAt,
		RequestCount: r.RequestCount,
	}
}

// APIKeyView 脱敏后的 API Key
type APIKeyView struct {
	KeyPrefix    string     `json:"keyPrefix"`
	AppName      string     `json:"appName"`
	Developer    string     `json:"developer"`
	Email        string     `json:"email"`
	Purpose      string     `json:"purpose"`
	RateLimit    int        `json:"rateLimit"`
	Expiry       Expiry     `json:"expiry"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastUsedAt   *time.Time `json:"lastUsed"`
	RequestCount int64      `json:"requestCount"`
}

// IssueKeyRequest 签发请求
type IssueKeyRequest struct {
	AppName   string `json:"appName"`
	Developer string `json:"developer"`
	Email     string `json:"email"`
	Purpose   string `json:"purpose"`
	RateLimit int    `json:"rateLimit" validate:"gte=0"`
	Expiry    int    `json:"expiry" validate:"gte=0"` // 天数，0 = 永不过期
}

// IssueKeyResponse 签发响应
type IssueKeyResponse struct {
	Success bool          `json:"success"`
	APIKey  string        `json:"apiKey"`
	KeyData *APIKeyRecord `json:"keyData"`
}

// ListKeysResponse 列表响应
type ListKeysResponse struct {
	Keys []APIKeyView `json:"keys"`
}
