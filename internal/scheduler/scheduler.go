package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/soundbysound/apigateway/internal/logger"
)

// DefaultRetentionSpec 请求日志清理周期
const DefaultRetentionSpec = "@every 1h"

// LogCleaner 可按保留天数清理请求日志的存储
type LogCleaner interface {
	CleanOldLogs(ctx context.Context, retentionDays int) (int64, error)
}

// Scheduler 定时任务
type Scheduler struct {
	cleaner       LogCleaner
	retentionDays int
	c             *cron.Cron
}

// New 创建调度器
func New(cleaner LogCleaner, retentionDays int) *Scheduler {
	return &Scheduler{
		cleaner:       cleaner,
		retentionDays: retentionDays,
		c:             cron.New(),
	}
}

// Start 注册任务并启动
func (s *Scheduler) Start(spec string) error {
	if spec == "" {
		spec = DefaultRetentionSpec
	}
	if _, err := s.c.AddFunc(spec, func() { s.RunRetention() }); err != nil {
		return err
	}
	s.c.Start()
	logger.Info("scheduler started", "job", "retention", "spec", spec, "retentionDays", s.retentionDays)
	return nil
}

// RunRetention 执行一次日志清理
func (s *Scheduler) RunRetention() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := s.cleaner.CleanOldLogs(ctx, s.retentionDays)
	if err != nil {
		logger.Error("request log retention failed", "error", err)
		return 0, err
	}
	if n > 0 {
		logger.Info("request logs cleaned", "deleted", n, "retentionDays", s.retentionDays)
	}
	return n, nil
}

// Stop 停止调度并等待运行中的任务结束
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}
