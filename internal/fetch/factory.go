package fetch

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gilito11/casaTevaLeads-sub001/internal/config"
	"github.com/gilito11/casaTevaLeads-sub001/internal/pkg/cookiestore"
	"github.com/gilito11/casaTevaLeads-sub001/internal/pkg/ratelimit"
	"github.com/gilito11/casaTevaLeads-sub001/internal/portal"
)

// 浏览器会话 Cookie 的持久化期限。DataDome 等挑战 Cookie 的实际
// 有效期更短，过期条目由目标站点自己判定。
const cookieTTL = 30 * 24 * time.Hour

// NewForProfile 按门户既定策略构建抓取器。每个运行一个实例，
// 调用方负责 Close。
func NewForProfile(ctx context.Context, p portal.Profile, cfg *config.Config, rdb *redis.Client, slv ChallengeSolver, logger *slog.Logger) (Fetcher, error) {
	limiter := ratelimit.New(cfg.Fetch.MinDelay, cfg.Fetch.MaxDelay)
	if cfg.Fetch.SharedClockKey != "" {
		limiter = limiter.WithSharedClock(rdb, cfg.Fetch.SharedClockKey)
	}

	if p.Strategy == portal.StrategyBrowser {
		cookies := cookiestore.New(rdb, cookieTTL)
		return NewBrowserFetcher(ctx, p, cfg.Browser, limiter, slv, cookies, logger)
	}
	return NewImpersonationFetcher(p, cfg.Fetch, cfg.Browser.Locale, limiter, logger)
}
