package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/gilito11/casaTevaLeads-sub001/internal/api"
	"github.com/gilito11/casaTevaLeads-sub001/internal/config"
	"github.com/gilito11/casaTevaLeads-sub001/internal/extract"
	"github.com/gilito11/casaTevaLeads-sub001/internal/fetch"
	"github.com/gilito11/casaTevaLeads-sub001/internal/pkg/dedup"
	"github.com/gilito11/casaTevaLeads-sub001/internal/pkg/logger"
	"github.com/gilito11/casaTevaLeads-sub001/internal/pkg/queue"
	"github.com/gilito11/casaTevaLeads-sub001/internal/portal"
	"github.com/gilito11/casaTevaLeads-sub001/internal/session"
	"github.com/gilito11/casaTevaLeads-sub001/internal/solver"
	"github.com/gilito11/casaTevaLeads-sub001/internal/store"
	"github.com/gilito11/casaTevaLeads-sub001/internal/watermark"
)

// main 是采集服务的入口函数。
//
// 它负责：
// 1. 加载配置
// 2. 初始化日志、存储与 Redis
// 3. 启动运行队列与运维 API
// 4. 优雅关闭
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		appLogger.Error("redis unreachable", slog.String("error", err.Error()))
		os.Exit(1)
	}

	st, err := store.New(cfg.MySQL.DSN)
	if err != nil {
		appLogger.Error("init store failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	deduper := dedup.NewDeduplicator(rdb, time.Duration(cfg.App.DedupWindow)*time.Second)
	registry := extract.NewRegistry()
	slv := solver.New(cfg.Solver, appLogger)
	wm := watermark.New(cfg.Watermark, appLogger)

	enabled := map[portal.Portal]bool{}
	for _, name := range cfg.Portals.Enabled {
		if p, ok := portal.Parse(name); ok {
			enabled[p] = true
		} else {
			appLogger.Warn("unknown portal in config, ignoring", slog.String("portal", name))
		}
	}

	// 一次运行 = 一个 (portal, zone) 会话。抓取器按运行创建按运行释放，
	// 浏览器实例不跨运行复用。
	runFn := func(ctx context.Context, p portal.Portal, zone string) error {
		if len(enabled) > 0 && !enabled[p] {
			return fmt.Errorf("portal %s not enabled", p)
		}
		prof, ok := portal.Lookup(p)
		if !ok {
			return fmt.Errorf("unknown portal %s", p)
		}
		extractor, ok := registry.Get(p)
		if !ok {
			return fmt.Errorf("no extractor for portal %s", p)
		}

		fetcher, err := fetch.NewForProfile(ctx, prof, cfg, rdb, slv, appLogger)
		if err != nil {
			return fmt.Errorf("build fetcher for %s: %w", p, err)
		}
		defer func() {
			if err := fetcher.Close(); err != nil {
				appLogger.Warn("fetcher close failed", slog.String("error", err.Error()))
			}
		}()

		s := session.New(prof, fetcher, extractor, deduper, st,
			cfg.Fetch.MaxPagesPerRun, cfg.Fetch.MaxItemsPerRun, appLogger).
			WithPhotoClassifier(wm)
		_, err = s.Run(ctx, zone)
		return err
	}

	q := queue.New(appLogger, cfg.App.WorkerPoolSize, cfg.App.QueueCapacity)
	q.Start(ctx)

	srv := api.NewServer(cfg, appLogger, st, rdb, q, runFn)
	httpServer := &http.Server{
		Addr:    cfg.App.HTTPAddr,
		Handler: srv.Router(),
	}
	go func() {
		appLogger.Info("acquirer api listening", slog.String("addr", cfg.App.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("api server stopped", slog.String("error", err.Error()))
		}
	}()

	// 独立的 metrics 端口，便于 Prometheus 只暴露内网
	metricsServer := &http.Server{
		Addr:    cfg.App.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		appLogger.Info("metrics server listening", slog.String("addr", cfg.App.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("metrics server stopped", slog.String("error", err.Error()))
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutting down acquirer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("http shutdown failed", slog.String("error", err.Error()))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("metrics shutdown failed", slog.String("error", err.Error()))
	}

	// 等待进行中的会话收尾，队列拒绝新任务
	if err := q.Shutdown(30 * time.Second); err != nil {
		appLogger.Error("queue shutdown error", slog.String("error", err.Error()))
	}
	if err := rdb.Close(); err != nil {
		appLogger.Error("close redis failed", slog.String("error", err.Error()))
	}
	appLogger.Info("acquirer stopped gracefully")
}
