package core

import (
	"sync"
	"time"
)

// RateWindow 单个客户端 IP 的固定窗口计数
type RateWindow struct {
	Count int
	Start time.Time
}

// RateDecision Allow 的结果，用于设置 RateLimit-* 响应头
type RateDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter 按客户端 IP 的固定窗口频率限制器，与 API Key 无关
type RateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	windows map[string]*RateWindow
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter 创建频率限制器并启动过期窗口清理
func NewRateLimiter(window time.Duration, max int) *RateLimiter {
	rl := newRateLimiter(window, max, time.Now)
	go rl.cleanup(window)
	return rl
}

func newRateLimiter(window time.Duration, max int, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		window:  window,
		max:     max,
		windows: make(map[string]*RateWindow),
		now:     now,
		stop:    make(chan struct{}),
	}
}

// Allow 记录一次请求并判断是否放行；超限请求同样计数
func (r *RateLimiter) Allow(ip string) RateDecision {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w, ok := r.windows[ip]
	if !ok || !now.Before(w.Start.Add(r.window)) {
		w = &RateWindow{Start: now}
		r.windows[ip] = w
	}
	w.Count++

	remaining := r.max - w.Count
	if remaining < 0 {
		remaining = 0
	}
	return RateDecision{
		Allowed:   w.Count <= r.max,
		Limit:     r.max,
		Remaining: remaining,
		ResetAt:   w.Start.Add(r.window),
	}
}

// Sweep 删除已结束的窗口，返回删除数量
func (r *RateLimiter) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for ip, w := range r.windows {
		if !now.Before(w.Start.Add(r.window)) {
			delete(r.windows, ip)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked client windows.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}

// Stop 停止后台清理，可重复调用
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// cleanup periodically removes finished windows
func (r *RateLimiter) cleanup(every time.Duration) {
	if every < time.Minute {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-r.stop:
			return
		}
	}
}
