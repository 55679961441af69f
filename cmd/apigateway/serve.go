package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/soundbysound/apigateway/internal/api"
	"github.com/soundbysound/apigateway/internal/config"
	"github.com/soundbysound/apigateway/internal/core"
	"github.com/soundbysound/apigateway/internal/logger"
	"github.com/soundbysound/apigateway/internal/scheduler"
	"github.com/soundbysound/apigateway/internal/store"
)

const shutdownTimeout = 15 * time.Second

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	})
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	defer logger.Sync()

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.Info("config loaded", "path", configPath, "upstream", cfg.Upstream.BaseURL, "database", cfg.Database.Driver)

	gin.SetMode(gin.ReleaseMode)

	// 请求日志存储，driver 为 none 时关闭
	var (
		db    *store.Store
		logs  api.RequestLogStore
		sched *scheduler.Scheduler
	)
	if cfg.Database.Driver != "none" {
		db, err = store.New(parent, cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("init database: %w", err)
		}
		defer db.Close()
		logs = db

		sched = scheduler.New(db, cfg.Database.RetentionDays)
		if err := sched.Start(""); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	keys := core.NewKeyStore(core.NewMemoryBackend(), core.WithKeyPrefix(cfg.Keys.Prefix))
	defer keys.Close()

	limiter := core.NewRateLimiter(cfg.RateLimit.Window(), cfg.RateLimit.MaxRequests)
	defer limiter.Stop()

	validator := core.NewRequestValidator()
	translator := core.NewTranslator(cfg.Upstream.ModelAliases)
	gateway := core.NewUpstreamGateway(core.UpstreamOptions{
		BaseURL:       cfg.Upstream.BaseURL,
		APIKey:        cfg.Upstream.APIKey,
		Referer:       cfg.Upstream.Referer,
		Title:         cfg.Upstream.Title,
		Timeout:       cfg.Upstream.RequestTimeout(),
		ModelFamilies: cfg.Upstream.ModelFamilies,
	})

	proxyHandler := api.NewProxyHandler(keys, validator, translator, gateway, logs)
	adminHandler := api.NewAdminHandler(keys, validator, logs)
	r := api.SetupRouter(cfg, proxyHandler, adminHandler, keys, limiter)

	if cfg.Server.AdminAPIKey == "" {
		logger.Warn("admin endpoints are unauthenticated; set ADMIN_API_KEY to protect them")
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "service", api.ServiceName, "version", api.Version, "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case err := <-srvErr:
		if err != nil {
			return fmt.Errorf("start server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining connections")
	}

	// 在途请求最多等待 15 秒
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	// 其余资源按 defer 逆序释放：限流器、密钥存储、调度器、数据库
	logger.Info("server stopped")
	return nil
}
