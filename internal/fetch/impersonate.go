package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gilito11/casaTevaLeads-sub001/internal/config"
	"github.com/gilito11/casaTevaLeads-sub001/internal/pkg/metrics"
	"github.com/gilito11/casaTevaLeads-sub001/internal/pkg/ratelimit"
	"github.com/gilito11/casaTevaLeads-sub001/internal/portal"
)

const maxBodyBytes = 8 * 1024 * 1024 // 8MB 上限，异常大响应直接截断

// ImpersonationFetcher 协议级浏览器伪装抓取，不渲染页面。
//
// 针对反爬温和的门户：带一套自洽的浏览器身份头、Cookie 会话，以及
// 首次请求前对门户首页的 warm-up（先拿到基线 Cookie 再去拉内容页）。
// 拦截判定靠响应大小与挑战关键词，命中后标记 ErrBlocked，不盲目重试。
type ImpersonationFetcher struct {
	profile portal.Profile
	client  *http.Client
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	ident   clientProfile
	locale  string

	minBodyBytes int

	mu       sync.Mutex
	warmedUp bool
}

// NewImpersonationFetcher 创建协议伪装抓取器。
// 每个会话创建一个实例：Cookie jar 与浏览器身份在会话内保持一致。
func NewImpersonationFetcher(p portal.Profile, cfg config.FetchConfig, locale string, limiter *ratelimit.Limiter, logger *slog.Logger) (*ImpersonationFetcher, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	if locale == "" {
		locale = "es-ES"
	}

	return &ImpersonationFetcher{
		profile: p,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			Jar:       jar,
		},
		limiter:      limiter,
		logger:       logger,
		ident:        pickProfile(),
		locale:       locale,
		minBodyBytes: cfg.MinBodyBytes,
	}, nil
}

// UserAgent 返回本会话使用的 UA（挑战求解时需要与请求保持一致）。
func (f *ImpersonationFetcher) UserAgent() string {
	return f.ident.UserAgent
}

// Fetch 抓取一个页面。第一次调用会先访问门户首页做 warm-up。
func (f *ImpersonationFetcher) Fetch(ctx context.Context, pageURL string) (*PageResult, error) {
	if err := f.ensureWarmUp(ctx); err != nil {
		return nil, err
	}
	return f.do(ctx, pageURL)
}

// Close 释放连接池。
func (f *ImpersonationFetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

// ensureWarmUp 确保首页 warm-up 已完成。warm-up 本身也走限速器。
func (f *ImpersonationFetcher) ensureWarmUp(ctx context.Context) error {
	f.mu.Lock()
	warmed := f.warmedUp
	f.mu.Unlock()
	if warmed {
		return nil
	}

	f.logger.Debug("warming up session",
		slog.String("portal", string(f.profile.ID)),
		slog.String("url", f.profile.BaseURL))

	res, err := f.do(ctx, f.profile.BaseURL)
	if err != nil {
		return fmt.Errorf("warm-up %s: %w", f.profile.BaseURL, err)
	}
	if res.StatusCode >= 400 {
		return fmt.Errorf("warm-up %s: status %d: %w", f.profile.BaseURL, res.StatusCode, ErrBlocked)
	}

	f.mu.Lock()
	f.warmedUp = true
	f.mu.Unlock()
	return nil
}

func (f *ImpersonationFetcher) do(ctx context.Context, pageURL string) (*PageResult, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	f.applyHeaders(req)

	start := time.Now()
	resp, err := f.client.Do(req)
	elapsed := time.Since(start)
	metrics.FetchDuration.WithLabelValues(string(f.profile.ID), string(portal.StrategyImpersonation)).Observe(elapsed.Seconds())
	if err != nil {
		metrics.FetchRequestsTotal.WithLabelValues(string(f.profile.ID), string(portal.StrategyImpersonation), ClassifyResult(err)).Inc()
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		metrics.FetchRequestsTotal.WithLabelValues(string(f.profile.ID), string(portal.StrategyImpersonation), "read_error").Inc()
		return nil, fmt.Errorf("read body %s: %w", pageURL, err)
	}

	result := &PageResult{
		RequestURL: pageURL,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       body,
		Elapsed:    elapsed,
		Strategy:   portal.StrategyImpersonation,
	}

	if blockType := f.detectBlock(result); blockType != "" {
		metrics.BlockedPagesTotal.WithLabelValues(string(f.profile.ID), blockType).Inc()
		metrics.FetchRequestsTotal.WithLabelValues(string(f.profile.ID), string(portal.StrategyImpersonation), "blocked").Inc()
		f.logger.Warn("impersonation fetch blocked",
			slog.String("portal", string(f.profile.ID)),
			slog.String("url", pageURL),
			slog.String("block_type", blockType),
			slog.Int("status", resp.StatusCode),
			slog.Int("body_bytes", len(body)))
		return result, fmt.Errorf("fetch %s: %s: %w", pageURL, blockType, ErrBlocked)
	}

	metrics.FetchRequestsTotal.WithLabelValues(string(f.profile.ID), string(portal.StrategyImpersonation), "success").Inc()
	return result, nil
}

// applyHeaders 按真实浏览器的请求头集合伪装。
func (f *ImpersonationFetcher) applyHeaders(req *http.Request) {
	mobile := "?0"
	if f.ident.Mobile {
		mobile = "?1"
	}
	req.Header.Set("User-Agent", f.ident.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", f.locale+","+strings.Split(f.locale, "-")[0]+";q=0.9,en;q=0.8")
	req.Header.Set("Sec-Ch-Ua", f.ident.SecChUA)
	req.Header.Set("Sec-Ch-Ua-Mobile", mobile)
	req.Header.Set("Sec-Ch-Ua-Platform", f.ident.Platform)
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Sec-Fetch-User", "?1")
	req.Header.Set("Upgrade-Insecure-Requests", "1")

	// 内容页请求带上站内 Referer，warm-up 则像直接输入地址
	if u, err := url.Parse(req.URL.String()); err == nil && u.Path != "" && u.Path != "/" {
		req.Header.Set("Referer", f.profile.BaseURL+"/")
		req.Header.Set("Sec-Fetch-Site", "same-origin")
	}
}

// detectBlock 返回拦截类型，未拦截时返回空串。
func (f *ImpersonationFetcher) detectBlock(res *PageResult) string {
	if res.StatusCode == http.StatusForbidden {
		return "403_forbidden"
	}
	if res.StatusCode == http.StatusTooManyRequests {
		return "429_rate_limited"
	}
	if LooksLikeChallenge(res.Body) {
		return DetectBlockType("", string(res.Body))
	}
	// 正常房源页不可能只有几 KB；太小的 200 响应按拦截处理
	if res.StatusCode == http.StatusOK && f.minBodyBytes > 0 && len(res.Body) < f.minBodyBytes {
		return "suspicious_small_body"
	}
	return ""
}
