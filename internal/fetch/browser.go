package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/gilito11/casaTevaLeads-sub001/internal/config"
	"github.com/gilito11/casaTevaLeads-sub001/internal/pkg/cookiestore"
	"github.com/gilito11/casaTevaLeads-sub001/internal/pkg/metrics"
	"github.com/gilito11/casaTevaLeads-sub001/internal/pkg/ratelimit"
	"github.com/gilito11/casaTevaLeads-sub001/internal/portal"
)

const (
	pageCreateTimeout    = 15 * time.Second
	stealthScriptTimeout = 10 * time.Second
)

// 高带宽资源与追踪脚本一律屏蔽，降低流量与指纹暴露面。
// 注意：图片不屏蔽缩略图 CDN 以外的资源时商业门户会检测加载异常，
// 这里只屏蔽媒体与第三方追踪。
var blockedURLPatterns = []string{
	"*.woff", "*.woff2", "*.ttf", "*.eot", "*.otf",
	"*.mp4", "*.webm", "*.m4v", "*.mov", "*.avi",
	"*.mp3", "*.aac", "*.m4a", "*.ogg", "*.wav",

	"*google-analytics*",
	"*googletagmanager*",
	"*doubleclick*",
	"*criteo*",
	"*facebook*",
	"*hotjar*",
	"*sentry*",
	"*adsystem*",
}

// 挑战 iframe 的 src 提取（DataDome 把验证码放在 captcha-delivery 的 iframe 里）
var challengeFrameRe = regexp.MustCompile(`src=["'](https://[a-z]+\.captcha-delivery\.com/[^"']+)["']`)

// BrowserFetcher 完整浏览器会话抓取，用于反爬激进的门户。
//
// 每个实例持有一个浏览器进程，会话开始时从 Redis 恢复 Cookie，
// 结束时写回。遇到挑战页时把挑战交给外部求解服务，拿到 token 后
// 注入 Cookie 并重载一次；重载后仍是挑战页则判定封锁，不再重试。
type BrowserFetcher struct {
	profile  portal.Profile
	cfg      config.BrowserConfig
	browser  *rod.Browser
	launcher *launcher.Launcher
	limiter  *ratelimit.Limiter
	solver   ChallengeSolver
	cookies  *cookiestore.Store
	logger   *slog.Logger
	ident    clientProfile

	cookiesLoaded bool
}

// NewBrowserFetcher 启动浏览器并返回抓取器。调用方负责 Close。
func NewBrowserFetcher(ctx context.Context, p portal.Profile, cfg config.BrowserConfig, limiter *ratelimit.Limiter, slv ChallengeSolver, cookies *cookiestore.Store, logger *slog.Logger) (*BrowserFetcher, error) {
	bin := cfg.BinPath
	if bin == "" {
		logger.Info("no browser binary specified, downloading default...")
		path, err := launcher.NewBrowser().Get()
		if err != nil {
			return nil, fmt.Errorf("download browser: %w", err)
		}
		bin = path
	}

	// 针对 Docker/EC2 环境的 Flag 优化
	l := launcher.New().
		Headless(cfg.Headless).
		Bin(bin).
		NoSandbox(true).
		// 禁用 /dev/shm，防止容器内内存崩溃
		Set("disable-dev-shm-usage", "true").
		Set("disable-gpu", "true").
		Set("disable-software-rasterizer", "true").
		Set("remote-allow-origins", "*").
		Set("disk-cache-size", "1").
		Set("media-cache-size", "1").
		Set("disable-application-cache", "true").
		Set("lang", cfg.Locale).
		Set("js-flags", "--max_old_space_size=512")

	var proxyUser, proxyPass string
	if cfg.ProxyURL != "" {
		parsed, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("invalid proxy url: %s", cfg.ProxyURL)
		}
		l = l.Proxy(fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host))
		if parsed.User != nil {
			proxyUser = parsed.User.Username()
			if pass, ok := parsed.User.Password(); ok {
				proxyPass = pass
			}
		}
		logger.Info("using http proxy", slog.String("server", parsed.Host))
	}

	wsURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().Context(ctx).ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	if proxyUser != "" {
		go browser.MustHandleAuth(proxyUser, proxyPass)()
	}

	logger.Info("browser started",
		slog.String("portal", string(p.ID)),
		slog.String("bin", bin),
		slog.Bool("headless", cfg.Headless))

	return &BrowserFetcher{
		profile:  p,
		cfg:      cfg,
		browser:  browser,
		launcher: l,
		limiter:  limiter,
		solver:   slv,
		cookies:  cookies,
		logger:   logger,
		ident:    pickProfile(),
	}, nil
}

// UserAgent 返回本会话的 UA。
func (f *BrowserFetcher) UserAgent() string {
	return f.ident.UserAgent
}

// Fetch 在浏览器中加载页面并返回渲染后的 HTML。
func (f *BrowserFetcher) Fetch(ctx context.Context, pageURL string) (*PageResult, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	page, err := f.newPage(ctx)
	if err != nil {
		metrics.FetchRequestsTotal.WithLabelValues(string(f.profile.ID), string(portal.StrategyBrowser), "page_error").Inc()
		return nil, err
	}
	metrics.BrowserPagesActive.Inc()
	defer func() {
		metrics.BrowserPagesActive.Dec()
		_ = page.Close()
	}()

	start := time.Now()
	result, err := f.load(ctx, page, pageURL)
	elapsed := time.Since(start)
	metrics.FetchDuration.WithLabelValues(string(f.profile.ID), string(portal.StrategyBrowser)).Observe(elapsed.Seconds())
	if err != nil {
		metrics.FetchRequestsTotal.WithLabelValues(string(f.profile.ID), string(portal.StrategyBrowser), ClassifyResult(err)).Inc()
		return result, err
	}
	result.Elapsed = elapsed

	metrics.FetchRequestsTotal.WithLabelValues(string(f.profile.ID), string(portal.StrategyBrowser), "success").Inc()
	return result, nil
}

// Close 把会话 Cookie 写回 Redis，然后关闭浏览器。
func (f *BrowserFetcher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := f.persistCookies(ctx); err != nil {
		f.logger.Warn("persist cookies failed",
			slog.String("portal", string(f.profile.ID)),
			slog.String("error", err.Error()))
	}

	err := f.browser.Close()
	f.launcher.Kill()
	return err
}

// newPage 创建一个带反指纹补丁与区域伪装的页面。
//
// 页面创建与 stealth 注入都只用 select 做超时保护，不让页面对象
// 绑定短超时 context（页面对象会继承 context，后续操作都受它限制）。
func (f *BrowserFetcher) newPage(ctx context.Context) (*rod.Page, error) {
	type pageResult struct {
		page *rod.Page
		err  error
	}
	pageCh := make(chan pageResult, 1)
	go func() {
		page, pageErr := f.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: ""})
		select {
		case pageCh <- pageResult{page: page, err: pageErr}:
		default:
			// 主 goroutine 已超时退出，清理页面
			if page != nil {
				_ = page.Close()
			}
		}
	}()

	createTimer := time.NewTimer(pageCreateTimeout)
	defer createTimer.Stop()

	var page *rod.Page
	select {
	case res := <-pageCh:
		if res.err != nil {
			return nil, fmt.Errorf("create page: %w", res.err)
		}
		page = res.page
	case <-createTimer.C:
		return nil, fmt.Errorf("create page timeout after %v", pageCreateTimeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled during page creation: %w", ctx.Err())
	}

	stealthTimer := time.NewTimer(stealthScriptTimeout)
	defer stealthTimer.Stop()
	stealthDone := make(chan error, 1)
	go func() {
		_, evalErr := page.EvalOnNewDocument(stealth.JS)
		stealthDone <- evalErr
	}()

	select {
	case err := <-stealthDone:
		if err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("apply stealth script: %w", err)
		}
	case <-stealthTimer.C:
		_ = page.Close()
		return nil, fmt.Errorf("apply stealth script timeout after %v", stealthScriptTimeout)
	case <-ctx.Done():
		_ = page.Close()
		return nil, fmt.Errorf("context cancelled during stealth script: %w", ctx.Err())
	}

	if err := (proto.NetworkSetBlockedURLs{Urls: blockedURLPatterns}).Call(page); err != nil {
		f.logger.Warn("set blocked urls failed", slog.String("error", err.Error()))
	}

	// 区域伪装：语言 / 时区 / 地理位置必须与目标市场一致，
	// DataDome 会交叉校验这三者和 IP 的吻合度
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      f.ident.UserAgent,
		AcceptLanguage: f.cfg.Locale,
		Platform:       strings.Trim(f.ident.Platform, `"`),
	}); err != nil {
		f.logger.Warn("set user agent failed", slog.String("error", err.Error()))
	}
	if f.cfg.Timezone != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: f.cfg.Timezone}).Call(page); err != nil {
			f.logger.Warn("set timezone failed", slog.String("error", err.Error()))
		}
	}
	if f.cfg.Latitude != 0 || f.cfg.Longitude != 0 {
		lat, lng, acc := f.cfg.Latitude, f.cfg.Longitude, 80.0
		if err := (proto.EmulationSetGeolocationOverride{
			Latitude:  &lat,
			Longitude: &lng,
			Accuracy:  &acc,
		}).Call(page); err != nil {
			f.logger.Warn("set geolocation failed", slog.String("error", err.Error()))
		}
	}

	if err := f.restoreCookies(ctx); err != nil {
		f.logger.Warn("restore cookies failed",
			slog.String("portal", string(f.profile.ID)),
			slog.String("error", err.Error()))
	}

	return page.Timeout(f.cfg.PageTimeout), nil
}

// load 导航到目标页并处理可能出现的挑战。
func (f *BrowserFetcher) load(ctx context.Context, page *rod.Page, pageURL string) (*PageResult, error) {
	if err := f.navigate(ctx, page, pageURL); err != nil {
		return nil, err
	}
	f.humanize(page)

	html, finalURL, err := f.snapshot(page)
	if err != nil {
		return nil, err
	}

	if LooksLikeChallengeURL(finalURL) || LooksLikeChallenge([]byte(html)) {
		blockType := DetectBlockType("", html)
		metrics.BlockedPagesTotal.WithLabelValues(string(f.profile.ID), blockType).Inc()

		html, finalURL, err = f.solveChallenge(ctx, page, pageURL, finalURL, html)
		if err != nil {
			return nil, err
		}
	}

	return &PageResult{
		RequestURL: pageURL,
		FinalURL:   finalURL,
		StatusCode: 200, // 浏览器渲染路径拿不到可靠的状态码，封锁靠内容判定
		Body:       []byte(html),
		Strategy:   portal.StrategyBrowser,
	}, nil
}

// solveChallenge 提交挑战并注入返回的 Cookie，重载一次后复检。
func (f *BrowserFetcher) solveChallenge(ctx context.Context, page *rod.Page, pageURL, finalURL, html string) (string, string, error) {
	if f.solver == nil || f.profile.ChallengeCookie == "" {
		metrics.ChallengeSolvesTotal.WithLabelValues(string(f.profile.ID), "skipped").Inc()
		return "", "", fmt.Errorf("challenge on %s and no solver configured: %w", pageURL, ErrBlocked)
	}

	challengeURL := finalURL
	if !LooksLikeChallengeURL(challengeURL) {
		if m := challengeFrameRe.FindStringSubmatch(html); len(m) == 2 {
			challengeURL = m[1]
		}
	}

	f.logger.Info("challenge detected, delegating to solver",
		slog.String("portal", string(f.profile.ID)),
		slog.String("url", pageURL),
		slog.String("challenge_url", challengeURL))

	cookieValue, err := f.solver.Solve(ctx, pageURL, challengeURL, f.ident.UserAgent, f.cfg.ProxyURL)
	if err != nil {
		metrics.ChallengeSolvesTotal.WithLabelValues(string(f.profile.ID), "failed").Inc()
		return "", "", fmt.Errorf("solve challenge for %s: %w: %w", pageURL, ErrChallengeUnsolvable, err)
	}

	if err := f.injectChallengeCookie(pageURL, cookieValue); err != nil {
		metrics.ChallengeSolvesTotal.WithLabelValues(string(f.profile.ID), "failed").Inc()
		return "", "", err
	}

	if err := f.navigate(ctx, page, pageURL); err != nil {
		return "", "", err
	}
	f.humanize(page)

	html, finalURL, err = f.snapshot(page)
	if err != nil {
		return "", "", err
	}

	// 注入后仍是挑战页：token 无效或已被二次拦截，放弃
	if LooksLikeChallengeURL(finalURL) || LooksLikeChallenge([]byte(html)) {
		metrics.ChallengeSolvesTotal.WithLabelValues(string(f.profile.ID), "rejected").Inc()
		return "", "", fmt.Errorf("challenge persisted after solve on %s: %w", pageURL, ErrBlocked)
	}

	metrics.ChallengeSolvesTotal.WithLabelValues(string(f.profile.ID), "solved").Inc()
	f.logger.Info("challenge solved",
		slog.String("portal", string(f.profile.ID)),
		slog.String("url", pageURL))
	return html, finalURL, nil
}

func (f *BrowserFetcher) injectChallengeCookie(pageURL, value string) error {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return fmt.Errorf("parse page url: %w", err)
	}
	domain := parsed.Hostname()
	domain = strings.TrimPrefix(domain, "www.")

	err = f.browser.SetCookies([]*proto.NetworkCookieParam{{
		Name:   f.profile.ChallengeCookie,
		Value:  value,
		Domain: "." + domain,
		Path:   "/",
		Secure: true,
	}})
	if err != nil {
		return fmt.Errorf("inject challenge cookie: %w", err)
	}
	return nil
}

// navigate 用 select 包装 Navigate + WaitLoad，浏览器卡住也能及时返回。
func (f *BrowserFetcher) navigate(ctx context.Context, page *rod.Page, pageURL string) error {
	navCtx, cancel := context.WithTimeout(ctx, f.cfg.PageTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if err := page.Navigate(pageURL); err != nil {
			errCh <- err
			return
		}
		errCh <- page.WaitLoad()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("navigate %s: %w", pageURL, err)
		}
		return nil
	case <-navCtx.Done():
		return fmt.Errorf("navigate %s timeout: %w", pageURL, navCtx.Err())
	}
}

// humanize 模拟真人浏览节奏：短暂停顿 + 少量滚动。
func (f *BrowserFetcher) humanize(page *rod.Page) {
	time.Sleep(time.Duration(400+rand.Intn(800)) * time.Millisecond)
	for i := 0; i < 1+rand.Intn(2); i++ {
		if err := page.Mouse.Scroll(0, float64(300+rand.Intn(500)), 4+rand.Intn(4)); err != nil {
			return
		}
		time.Sleep(time.Duration(200+rand.Intn(400)) * time.Millisecond)
	}
}

func (f *BrowserFetcher) snapshot(page *rod.Page) (html, finalURL string, err error) {
	info, err := page.Info()
	if err != nil {
		return "", "", fmt.Errorf("page info: %w", err)
	}
	html, err = page.HTML()
	if err != nil {
		return "", "", fmt.Errorf("page html: %w", err)
	}
	return html, info.URL, nil
}

// restoreCookies 从 Redis 恢复上次会话的 Cookie（只做一次）。
func (f *BrowserFetcher) restoreCookies(ctx context.Context) error {
	if f.cookiesLoaded || f.cookies == nil {
		return nil
	}
	f.cookiesLoaded = true

	saved, err := f.cookies.Load(ctx, string(f.profile.ID), f.profile.Account)
	if err != nil {
		return err
	}
	if len(saved) == 0 {
		return nil
	}

	params := make([]*proto.NetworkCookieParam, 0, len(saved))
	for _, c := range saved {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  proto.TimeSinceEpoch(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	if err := f.browser.SetCookies(params); err != nil {
		return fmt.Errorf("set cookies: %w", err)
	}

	f.logger.Debug("session cookies restored",
		slog.String("portal", string(f.profile.ID)),
		slog.Int("count", len(params)))
	return nil
}

// persistCookies 把当前浏览器 Cookie 写回 Redis。
func (f *BrowserFetcher) persistCookies(ctx context.Context) error {
	if f.cookies == nil {
		return nil
	}

	current, err := f.browser.GetCookies()
	if err != nil {
		return fmt.Errorf("get cookies: %w", err)
	}

	snapshot := make([]cookiestore.Cookie, 0, len(current))
	for _, c := range current {
		snapshot = append(snapshot, cookiestore.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	return f.cookies.Save(ctx, string(f.profile.ID), f.profile.Account, snapshot)
}
