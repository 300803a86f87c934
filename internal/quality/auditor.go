// Package quality 抽样复核已入库房源与线上页面的一致性。
//
// 审计独立于入库时的结构化数据：重新抓取详情页，用同一套解析规则
// 从新鲜 HTML 重推价格、面积与卖家类型，再与库内值比对。分数低于
// 阈值、或预期门户在窗口内一条都没采到，都会触发告警条件。
package quality

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/gilito11/casaTevaLeads-sub001/internal/config"
	"github.com/gilito11/casaTevaLeads-sub001/internal/extract"
	"github.com/gilito11/casaTevaLeads-sub001/internal/fetch"
	"github.com/gilito11/casaTevaLeads-sub001/internal/model"
	"github.com/gilito11/casaTevaLeads-sub001/internal/pkg/metrics"
	"github.com/gilito11/casaTevaLeads-sub001/internal/portal"
)

// Store 是审计依赖的持久化能力。
type Store interface {
	// RecentListings 返回窗口内最近入库的房源，最多 limit 条。
	RecentListings(ctx context.Context, portal string, since time.Time, limit int) ([]model.Listing, error)
	// SaveQualityResult 追加一条比对结果。
	SaveQualityResult(ctx context.Context, r *model.QualityCheckResult) error
}

// FetchFunc 按门户抓取一个在线页面。由组装层注入，审计不关心策略选择。
type FetchFunc func(ctx context.Context, prof portal.Profile, url string) (*fetch.PageResult, error)

// PortalReport 单个门户的审计结论。
type PortalReport struct {
	Portal       portal.Portal
	Sampled      int
	Passed       int
	Failed       int
	Inconclusive int
	Score        float64
	ZeroListings bool
	Flagged      bool
}

// Report 一次完整审计的结论。
type Report struct {
	RunID   string
	Portals []PortalReport
}

// Unhealthy 返回触发告警条件的门户列表。
func (r *Report) Unhealthy() []PortalReport {
	var out []PortalReport
	for _, p := range r.Portals {
		if p.Flagged {
			out = append(out, p)
		}
	}
	return out
}

// Auditor 抽样质检器。
type Auditor struct {
	cfg       config.QualityConfig
	registry  *extract.Registry
	store     Store
	fetchPage FetchFunc
	logger    *slog.Logger
}

func NewAuditor(cfg config.QualityConfig, registry *extract.Registry, store Store, fetchPage FetchFunc, logger *slog.Logger) *Auditor {
	return &Auditor{
		cfg:       cfg,
		registry:  registry,
		store:     store,
		fetchPage: fetchPage,
		logger:    logger,
	}
}

// Run 审计给定门户，逐个抽样比对并打分。
func (a *Auditor) Run(ctx context.Context, portals []portal.Portal) (*Report, error) {
	report := &Report{RunID: uuid.NewString()}

	since := time.Now().Add(-time.Duration(a.cfg.WindowHours) * time.Hour)
	for _, p := range portals {
		if ctx.Err() != nil {
			break
		}
		pr, err := a.auditPortal(ctx, report.RunID, p, since)
		if err != nil {
			return nil, err
		}
		report.Portals = append(report.Portals, *pr)
	}
	return report, nil
}

func (a *Auditor) auditPortal(ctx context.Context, runID string, p portal.Portal, since time.Time) (*PortalReport, error) {
	pr := &PortalReport{Portal: p}

	listings, err := a.store.RecentListings(ctx, string(p), since, a.cfg.SampleSize)
	if err != nil {
		return nil, fmt.Errorf("load sample for %s: %w", p, err)
	}

	// 预期门户窗口内零采集量：无论分数如何都必须告警
	if len(listings) == 0 {
		pr.ZeroListings = true
		pr.Flagged = true
		a.logger.Warn("no listings acquired in audit window", slog.String("portal", string(p)))
		return pr, nil
	}

	prof, _ := portal.Lookup(p)
	extractor, ok := a.registry.Get(p)
	if !ok {
		return nil, fmt.Errorf("no extractor for portal %s", p)
	}

	for i := range listings {
		stored := &listings[i]
		pr.Sampled++

		result := a.checkListing(ctx, prof, extractor, stored)
		result.RunID = runID
		for _, outcome := range []string{result.PriceOutcome, result.SurfaceOutcome, result.SellerOutcome} {
			switch outcome {
			case model.OutcomeMatch:
				pr.Passed++
			case model.OutcomeMismatch:
				pr.Failed++
			default:
				pr.Inconclusive++
			}
		}
		if err := a.store.SaveQualityResult(ctx, result); err != nil {
			a.logger.Error("save quality result failed",
				slog.String("portal", string(p)),
				slog.String("external_id", stored.ExternalID),
				slog.String("error", err.Error()))
		}
	}

	pr.Score = Score(pr.Passed, pr.Failed)
	pr.Flagged = pr.Passed+pr.Failed > 0 && pr.Score < a.cfg.ScoreThreshold
	metrics.QualityScore.WithLabelValues(string(p)).Set(pr.Score)

	a.logger.Info("portal audit finished",
		slog.String("portal", string(p)),
		slog.Int("sampled", pr.Sampled),
		slog.Float64("score", pr.Score),
		slog.Bool("flagged", pr.Flagged))
	return pr, nil
}

// checkListing 重抓详情页并比对。抓取 / 解析失败算三项 inconclusive。
func (a *Auditor) checkListing(ctx context.Context, prof portal.Profile, extractor extract.Extractor, stored *model.Listing) *model.QualityCheckResult {
	inconclusive := &model.QualityCheckResult{
		Portal:         stored.Portal,
		ExternalID:     stored.ExternalID,
		PriceOutcome:   model.OutcomeInconclusive,
		SurfaceOutcome: model.OutcomeInconclusive,
		SellerOutcome:  model.OutcomeInconclusive,
	}

	res, err := a.fetchPage(ctx, prof, stored.SourceURL)
	if err != nil {
		a.logger.Warn("audit refetch failed",
			slog.String("url", stored.SourceURL),
			slog.String("error", err.Error()))
		return inconclusive
	}

	fresh, err := extractor.ExtractDetail(res)
	if err != nil {
		a.logger.Warn("audit re-extraction failed",
			slog.String("url", stored.SourceURL),
			slog.String("error", err.Error()))
		return inconclusive
	}

	return a.compare(stored, fresh)
}

// compare 按容差逐字段比对库内值与线上重推值。
func (a *Auditor) compare(stored, fresh *model.Listing) *model.QualityCheckResult {
	r := &model.QualityCheckResult{
		Portal:     stored.Portal,
		ExternalID: stored.ExternalID,
	}

	r.PriceOutcome = model.OutcomeInconclusive
	if stored.Price != nil && fresh.Price != nil && *stored.Price > 0 {
		rel := math.Abs(float64(*stored.Price-*fresh.Price)) / float64(*stored.Price)
		r.PriceDivergence = rel
		if rel <= a.cfg.PriceTolerance {
			r.PriceOutcome = model.OutcomeMatch
		} else {
			r.PriceOutcome = model.OutcomeMismatch
		}
	}

	r.SurfaceOutcome = model.OutcomeInconclusive
	if stored.SurfaceM2 != nil && fresh.SurfaceM2 != nil {
		abs := math.Abs(*stored.SurfaceM2 - *fresh.SurfaceM2)
		r.SurfaceDivergence = abs
		if abs <= a.cfg.SurfaceTolerance {
			r.SurfaceOutcome = model.OutcomeMatch
		} else {
			r.SurfaceOutcome = model.OutcomeMismatch
		}
	}

	r.SellerOutcome = model.OutcomeInconclusive
	if stored.SellerType != string(model.SellerUnknown) && fresh.SellerType != string(model.SellerUnknown) &&
		stored.SellerType != "" && fresh.SellerType != "" {
		if stored.SellerType == fresh.SellerType {
			r.SellerOutcome = model.OutcomeMatch
		} else {
			r.SellerOutcome = model.OutcomeMismatch
		}
	}

	return r
}

// Score 计算质量分：passed / (passed + failed)，inconclusive 不进分母。
// 没有任何可判定比对时返回 0。
func Score(passed, failed int) float64 {
	total := passed + failed
	if total == 0 {
		return 0
	}
	return float64(passed) / float64(total)
}
