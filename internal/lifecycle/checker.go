// Package lifecycle 核查存量房源是否仍然在线。
//
// 门户不会提供权威的"已删除"信号：下架的详情页可能返回 404，也可能
// 302 到首页或搜索页，甚至返回 200 带一句"ya no está disponible"。
// 核查就是把这些间接证据梳理成 active / removed / unknown 三态结论，
// 反爬干扰与网络故障永远不当成下架证据。
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gilito11/casaTevaLeads-sub001/internal/config"
	"github.com/gilito11/casaTevaLeads-sub001/internal/model"
	"github.com/gilito11/casaTevaLeads-sub001/internal/pkg/metrics"
	"github.com/gilito11/casaTevaLeads-sub001/internal/pkg/ratelimit"
	"github.com/gilito11/casaTevaLeads-sub001/internal/portal"
)

// Candidate 待核查的存量房源。
type Candidate struct {
	Portal     string
	ExternalID string
	SourceURL  string
	CapturedAt time.Time
}

// Store 是核查依赖的持久化能力。
type Store interface {
	// LifecycleCandidates 返回待核查房源，按抓取时间从旧到新排序。
	LifecycleCandidates(ctx context.Context, portals []string, limit int) ([]Candidate, error)
	// SaveVerdict 追加一条核查结论。
	SaveVerdict(ctx context.Context, v *model.LifecycleVerdict) error
}

// ExclusionFilter 返回 true 时跳过该房源（已进入下游 CRM 终态）。
type ExclusionFilter func(portal, externalID string) bool

// Summary 一次核查运行的汇总。
type Summary struct {
	RunStarted time.Time
	Checked    int
	Active     int
	Removed    int
	Unknown    int
	Skipped    int
}

// Checker 顺序核查存量房源。
type Checker struct {
	cfg     config.LifecycleConfig
	client  *http.Client
	limiter *ratelimit.Limiter
	store   Store
	exclude ExclusionFilter
	logger  *slog.Logger
}

// NewChecker 创建核查器。exclude 可以为 nil（不排除任何房源）。
func NewChecker(cfg config.LifecycleConfig, limiter *ratelimit.Limiter, store Store, exclude ExclusionFilter, logger *slog.Logger) *Checker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Checker{
		cfg: cfg,
		// 普通客户端，不做伪装：核查只打"安全门户"，伪装反而引人注目
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		store:   store,
		exclude: exclude,
		logger:  logger,
	}
}

// allowedPortals 返回允许核查的门户集合：安全门户 + 显式开启的门户。
func (c *Checker) allowedPortals() []string {
	seen := make(map[string]bool)
	var out []string
	for _, lists := range [][]string{c.cfg.SafePortals, c.cfg.OptInPortals} {
		for _, p := range lists {
			if id, ok := portal.Parse(p); ok && !seen[string(id)] {
				seen[string(id)] = true
				out = append(out, string(id))
			}
		}
	}
	return out
}

// Run 加载候选并逐条核查，从最旧的抓取记录开始，受单次上限约束。
func (c *Checker) Run(ctx context.Context) (*Summary, error) {
	sum := &Summary{RunStarted: time.Now()}

	allowed := c.allowedPortals()
	if len(allowed) == 0 {
		c.logger.Warn("lifecycle check skipped: no portals allowed")
		return sum, nil
	}

	candidates, err := c.store.LifecycleCandidates(ctx, allowed, c.cfg.MaxPerRun)
	if err != nil {
		return nil, fmt.Errorf("load lifecycle candidates: %w", err)
	}

	c.logger.Info("lifecycle check started",
		slog.Int("candidates", len(candidates)),
		slog.Any("portals", allowed))

	for _, cand := range candidates {
		if ctx.Err() != nil {
			break
		}
		if c.exclude != nil && c.exclude(cand.Portal, cand.ExternalID) {
			sum.Skipped++
			continue
		}

		verdict, reason := c.checkOne(ctx, cand)
		sum.Checked++
		switch verdict {
		case model.VerdictActive:
			sum.Active++
		case model.VerdictRemoved:
			sum.Removed++
		default:
			sum.Unknown++
		}
		metrics.LifecycleVerdictsTotal.WithLabelValues(cand.Portal, verdict, reason).Inc()

		v := &model.LifecycleVerdict{
			Portal:     cand.Portal,
			ExternalID: cand.ExternalID,
			Verdict:    verdict,
			Reason:     reason,
			CheckedAt:  time.Now(),
		}
		if err := c.store.SaveVerdict(ctx, v); err != nil {
			c.logger.Error("save verdict failed",
				slog.String("portal", cand.Portal),
				slog.String("external_id", cand.ExternalID),
				slog.String("error", err.Error()))
		}
	}

	c.logger.Info("lifecycle check finished",
		slog.Int("checked", sum.Checked),
		slog.Int("active", sum.Active),
		slog.Int("removed", sum.Removed),
		slog.Int("unknown", sum.Unknown),
		slog.Int("skipped", sum.Skipped))
	return sum, nil
}

// checkOne 核查单条房源，绝不向上抛错。
func (c *Checker) checkOne(ctx context.Context, cand Candidate) (verdict, reason string) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return model.VerdictUnknown, model.ReasonNetworkError
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cand.SourceURL, nil)
	if err != nil {
		return model.VerdictUnknown, model.ReasonNetworkError
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// 超时 / 连接错误乐观按仍在线处理
		c.logger.Debug("lifecycle fetch failed",
			slog.String("url", cand.SourceURL),
			slog.String("error", err.Error()))
		return model.VerdictUnknown, model.ReasonNetworkError
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))

	prof, _ := portal.Lookup(portal.Portal(cand.Portal))
	return Classify(prof, cand.SourceURL, resp.Request.URL.String(), resp.StatusCode, body)
}

var listingIDRe = regexp.MustCompile(`\d{9,}`)

// Classify 把一次核查响应归类为结论 + 原因码。
//
// 判定顺序（先到先得）:
//  1. 404/410 ⇒ removed
//  2. 403/429 ⇒ unknown（反爬干扰不是下架证据）
//  3. 落到首页 / 根路径 ⇒ removed（下架后 302 回首页）
//  4. 原 URL 里的房源 ID 从同域终点 URL 消失 ⇒ removed（302 到搜索页）
//  5. 页面命中门户下架话术 ⇒ removed
//  6. 其余 200 ⇒ active
func Classify(prof portal.Profile, requestURL, finalURL string, status int, body []byte) (verdict, reason string) {
	switch status {
	case http.StatusNotFound:
		return model.VerdictRemoved, model.ReasonHTTP404
	case http.StatusGone:
		return model.VerdictRemoved, model.ReasonHTTP410
	case http.StatusForbidden, http.StatusTooManyRequests:
		return model.VerdictUnknown, model.ReasonBlocked
	}

	reqU, errReq := url.Parse(requestURL)
	finU, errFin := url.Parse(finalURL)

	if errReq == nil && errFin == nil && finalURL != requestURL {
		// 终点是门户首页或根路径
		if finU.Path == "" || finU.Path == "/" {
			return model.VerdictRemoved, model.ReasonRedirectedHome
		}
		if prof.BaseURL != "" && strings.TrimSuffix(finalURL, "/") == strings.TrimSuffix(prof.BaseURL, "/") {
			return model.VerdictRemoved, model.ReasonRedirectedHome
		}
		// 同域重定向丢失了房源 ID：典型的"下架 → 搜索页"模式
		if reqU.Host == finU.Host {
			if id := listingIDRe.FindString(reqU.Path); id != "" && !strings.Contains(finU.Path, id) {
				return model.VerdictRemoved, model.ReasonRedirectedSearch
			}
		}
	}

	lower := strings.ToLower(string(body))
	for _, phrase := range prof.RemovalPhrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return model.VerdictRemoved, model.ReasonContentMatch
		}
	}

	if status == http.StatusOK {
		return model.VerdictActive, model.ReasonOK
	}
	return model.VerdictUnknown, model.ReasonNetworkError
}
