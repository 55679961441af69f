package core

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// DefaultKeyPrefix 默认密钥前缀
const DefaultKeyPrefix = "sbs_"

// GenerateKey 生成 prefix + 32 位十六进制（128 bit）的密钥
func GenerateKey(prefix string) (string, error) {
	b := make([]byte, 16)
	if _, err := randRead(b); err != nil {
		return "", err
	}
	return prefix + hex.EncodeToString(b), nil
}

var (
	randRead = rand.Read
	logSeq   atomic.Uint64
)

// GenerateLogID 生成日志 ID；随机源不可用时退回进程内序号
func GenerateLogID() string {
	b := make([]byte, 8)
	if _, err := randRead(b); err != nil {
		binary.BigEndian.PutUint64(b, logSeq.Add(1))
	}
	return fmt.Sprintf("log_%d_%s", time.Now().UnixNano(), hex.EncodeToString(b))
}

// truncateBody 截断响应体用于日志
func truncateBody(b []byte, max int) string {
	if max <= 0 {
		return ""
	}
	s := strings.TrimSpace(string(b))
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "…"
}
