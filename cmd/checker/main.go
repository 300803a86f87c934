package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/gilito11/casaTevaLeads-sub001/internal/config"
	"github.com/gilito11/casaTevaLeads-sub001/internal/extract"
	"github.com/gilito11/casaTevaLeads-sub001/internal/fetch"
	"github.com/gilito11/casaTevaLeads-sub001/internal/lifecycle"
	"github.com/gilito11/casaTevaLeads-sub001/internal/pkg/logger"
	"github.com/gilito11/casaTevaLeads-sub001/internal/pkg/notify"
	"github.com/gilito11/casaTevaLeads-sub001/internal/pkg/ratelimit"
	"github.com/gilito11/casaTevaLeads-sub001/internal/portal"
	"github.com/gilito11/casaTevaLeads-sub001/internal/quality"
	"github.com/gilito11/casaTevaLeads-sub001/internal/solver"
	"github.com/gilito11/casaTevaLeads-sub001/internal/store"
)

// fetcherPool 按门户懒加载抓取器，整个运行期间复用，结束时统一释放。
type fetcherPool struct {
	cfg    *config.Config
	rdb    *redis.Client
	slv    fetch.ChallengeSolver
	logger *slog.Logger

	mu    sync.Mutex
	cache map[portal.Portal]fetch.Fetcher
}

func newFetcherPool(cfg *config.Config, rdb *redis.Client, slv fetch.ChallengeSolver, logger *slog.Logger) *fetcherPool {
	return &fetcherPool{
		cfg:    cfg,
		rdb:    rdb,
		slv:    slv,
		logger: logger,
		cache:  map[portal.Portal]fetch.Fetcher{},
	}
}

func (fp *fetcherPool) fetch(ctx context.Context, prof portal.Profile, url string) (*fetch.PageResult, error) {
	fp.mu.Lock()
	f, ok := fp.cache[prof.ID]
	if !ok {
		var err error
		f, err = fetch.NewForProfile(ctx, prof, fp.cfg, fp.rdb, fp.slv, fp.logger)
		if err != nil {
			fp.mu.Unlock()
			return nil, fmt.Errorf("build fetcher for %s: %w", prof.ID, err)
		}
		fp.cache[prof.ID] = f
	}
	fp.mu.Unlock()
	return f.Fetch(ctx, url)
}

func (fp *fetcherPool) close() {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	for id, f := range fp.cache {
		if err := f.Close(); err != nil {
			fp.logger.Warn("fetcher close failed",
				slog.String("portal", string(id)),
				slog.String("error", err.Error()))
		}
	}
	fp.cache = map[portal.Portal]fetch.Fetcher{}
}

// main 是核查服务的入口函数，设计为 cron 周期拉起的一次性运行：
// 先做存量房源生命周期核查，再做抽样质检，结果汇总走邮件告警。
func main() {
	os.Exit(run())
}

// run 承载实际流程；defer 在 os.Exit 前得以执行。
func run() int {
	runLifecycle := flag.Bool("lifecycle", true, "run the listing lifecycle check")
	runQuality := flag.Bool("quality", true, "run the extraction quality audit")
	flag.Parse()

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
	defer rdb.Close()

	st, err := store.New(cfg.MySQL.DSN)
	if err != nil {
		appLogger.Error("init store failed", slog.String("error", err.Error()))
		return 1
	}

	notifier := notify.NewEmailNotifier(cfg.Email, appLogger)
	exitCode := 0

	if *runLifecycle {
		limiter := ratelimit.New(cfg.Fetch.MinDelay, cfg.Fetch.MaxDelay)
		if cfg.Fetch.SharedClockKey != "" {
			limiter = limiter.WithSharedClock(rdb, cfg.Fetch.SharedClockKey)
		}
		checker := lifecycle.NewChecker(cfg.Lifecycle, limiter, st, nil, appLogger)

		sum, err := checker.Run(ctx)
		if err != nil {
			appLogger.Error("lifecycle run failed", slog.String("error", err.Error()))
			exitCode = 1
		} else {
			appLogger.Info("lifecycle run finished",
				slog.Int("checked", sum.Checked),
				slog.Int("active", sum.Active),
				slog.Int("removed", sum.Removed),
				slog.Int("unknown", sum.Unknown))
			if err := notifier.Send(ctx, "[casateva] lifecycle check summary", notify.FormatLifecycleSummary(sum)); err != nil {
				appLogger.Warn("lifecycle notification failed", slog.String("error", err.Error()))
			}
		}
	}

	if *runQuality && ctx.Err() == nil {
		portals := portal.All()
		if len(cfg.Portals.Enabled) > 0 {
			portals = portals[:0]
			for _, name := range cfg.Portals.Enabled {
				if p, ok := portal.Parse(name); ok {
					portals = append(portals, p)
				}
			}
		}

		pool := newFetcherPool(cfg, rdb, solver.New(cfg.Solver, appLogger), appLogger)
		defer pool.close()

		auditor := quality.NewAuditor(cfg.Quality, extract.NewRegistry(), st, pool.fetch, appLogger)
		report, err := auditor.Run(ctx, portals)
		if err != nil {
			appLogger.Error("quality run failed", slog.String("error", err.Error()))
			exitCode = 1
		} else {
			bad := report.Unhealthy()
			appLogger.Info("quality run finished",
				slog.String("run_id", report.RunID),
				slog.Int("portals", len(report.Portals)),
				slog.Int("unhealthy", len(bad)))
			if len(bad) > 0 {
				subject := fmt.Sprintf("[casateva] quality audit: %d portal(s) unhealthy", len(bad))
				if err := notifier.Send(ctx, subject, notify.FormatQualityReport(report)); err != nil {
					appLogger.Warn("quality notification failed", slog.String("error", err.Error()))
				}
			}
		}
	}

	return exitCode
}
