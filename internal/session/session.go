// Package session 把抓取、解析、限速与去重组合成一次完整的采集会话。
//
// 一个会话绑定一个 (portal, zone) 组合，内部严格串行：翻页、详情补全、
// 入库都在同一条流水线上，靠限速器维持拟人化的请求节奏。不同组合的
// 会话可以并行（由上层 worker 池调度）。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gilito11/casaTevaLeads-sub001/internal/extract"
	"github.com/gilito11/casaTevaLeads-sub001/internal/fetch"
	"github.com/gilito11/casaTevaLeads-sub001/internal/model"
	"github.com/gilito11/casaTevaLeads-sub001/internal/pkg/dedup"
	"github.com/gilito11/casaTevaLeads-sub001/internal/pkg/metrics"
	"github.com/gilito11/casaTevaLeads-sub001/internal/portal"
)

// Store 是会话依赖的持久化能力（幂等 upsert）。
type Store interface {
	UpsertListing(ctx context.Context, l *model.Listing) error
}

// PhotoClassifier 判断首图是否带中介水印（卖家类型的兜底信号）。
type PhotoClassifier interface {
	IsWatermarked(ctx context.Context, url string) bool
}

// Summary 一次会话运行的结构化汇总。部分失败不会让会话报错，
// 失败计数都在这里体现。
type Summary struct {
	RunID  string
	Portal portal.Portal
	Zone   string

	StartedAt  time.Time
	FinishedAt time.Time

	PagesFetched int
	PagesBlocked int
	ItemsSeen    int
	ItemsStored  int
	ItemsDuped   int
	ItemsFailed  int
}

// Session 一次 (portal, zone) 采集会话。
type Session struct {
	profile   portal.Profile
	fetcher   fetch.Fetcher
	extractor extract.Extractor
	dedup     *dedup.Deduplicator
	store     Store
	logger    *slog.Logger

	photos PhotoClassifier

	maxPages int
	maxItems int
}

// New 创建采集会话。fetcher 的生命周期由调用方管理。
func New(p portal.Profile, fetcher fetch.Fetcher, extractor extract.Extractor, d *dedup.Deduplicator, store Store, maxPages, maxItems int, logger *slog.Logger) *Session {
	if maxPages <= 0 {
		maxPages = 10
	}
	if maxItems <= 0 {
		maxItems = 300
	}
	return &Session{
		profile:   p,
		fetcher:   fetcher,
		extractor: extractor,
		dedup:     d,
		store:     store,
		logger:    logger,
		maxPages:  maxPages,
		maxItems:  maxItems,
	}
}

// WithPhotoClassifier 启用水印启发式。卖家类型仍为 unknown 的房源，
// 首图带中介水印时按中介处理（不入库）。
func (s *Session) WithPhotoClassifier(pc PhotoClassifier) *Session {
	s.photos = pc
	return s
}

// Run 执行采集：逐页抓取列表，补全并入库每条私人房源。
//
// 单条失败只记数不中断；列表页被拦截或门户改版（结构化负载缺失）
// 时提前结束本次会话。只有第一页就完全抓不到时才返回错误。
func (s *Session) Run(ctx context.Context, zone string) (*Summary, error) {
	sum := &Summary{
		RunID:     uuid.NewString(),
		Portal:    s.profile.ID,
		Zone:      zone,
		StartedAt: time.Now(),
	}
	metrics.ActiveSessions.Inc()
	defer func() {
		metrics.ActiveSessions.Dec()
		sum.FinishedAt = time.Now()
	}()

	s.logger.Info("acquisition session started",
		slog.String("run_id", sum.RunID),
		slog.String("portal", string(s.profile.ID)),
		slog.String("zone", zone))

	var fatal error

pages:
	for page := 1; page <= s.maxPages; page++ {
		if ctx.Err() != nil {
			break
		}
		pageURL := SearchURL(s.profile, zone, page)

		res, err := s.fetcher.Fetch(ctx, pageURL)
		switch {
		case err == nil:
			sum.PagesFetched++
		case errors.Is(err, fetch.ErrBlocked), errors.Is(err, fetch.ErrChallengeUnsolvable):
			sum.PagesBlocked++
			s.logger.Warn("list page blocked, ending session",
				slog.String("run_id", sum.RunID),
				slog.String("url", pageURL))
			break pages
		case fetch.IsTransient(err):
			s.logger.Warn("list page fetch failed, skipping",
				slog.String("run_id", sum.RunID),
				slog.String("url", pageURL),
				slog.String("error", err.Error()))
			continue
		default:
			if page == 1 {
				fatal = fmt.Errorf("fetch first page: %w", err)
			}
			break pages
		}

		listings, err := s.extractor.ExtractList(res)
		if err != nil {
			if errors.Is(err, extract.ErrExtractionMismatch) {
				// 门户健康信号：第一页就没有负载多半是改版，后续页没有则是翻到头了
				s.logger.Warn("extraction mismatch on list page",
					slog.String("run_id", sum.RunID),
					slog.String("url", pageURL),
					slog.Int("page", page))
				if page == 1 {
					fatal = err
				}
				break pages
			}
			s.logger.Error("list extraction failed",
				slog.String("run_id", sum.RunID),
				slog.String("error", err.Error()))
			break pages
		}

		for _, l := range listings {
			if ctx.Err() != nil {
				break pages
			}
			if sum.ItemsSeen >= s.maxItems {
				s.logger.Info("item cap reached",
					slog.String("run_id", sum.RunID),
					slog.Int("max_items", s.maxItems))
				break pages
			}
			sum.ItemsSeen++
			s.processItem(ctx, sum, l, zone)
		}
	}

	result := "ok"
	if fatal != nil {
		result = "failed"
	} else if sum.PagesBlocked > 0 {
		result = "blocked"
	}
	metrics.SessionRunsTotal.WithLabelValues(string(s.profile.ID), result).Inc()

	s.logger.Info("acquisition session finished",
		slog.String("run_id", sum.RunID),
		slog.String("portal", string(s.profile.ID)),
		slog.String("result", result),
		slog.Int("pages", sum.PagesFetched),
		slog.Int("stored", sum.ItemsStored),
		slog.Int("duplicates", sum.ItemsDuped),
		slog.Int("failed", sum.ItemsFailed))

	if fatal != nil {
		return sum, fatal
	}
	return sum, nil
}

// processItem 处理单条房源：去重、详情补全、入库。失败只计数。
func (s *Session) processItem(ctx context.Context, sum *Summary, l *model.Listing, zone string) {
	seen, err := s.dedup.Seen(ctx, l.Portal, l.ExternalID)
	if err != nil {
		// Redis 故障时放弃去重，按新数据处理（upsert 本身幂等）
		s.logger.Warn("dedup check failed",
			slog.String("run_id", sum.RunID),
			slog.String("error", err.Error()))
	}
	if seen {
		sum.ItemsDuped++
		metrics.ListingsExtractedTotal.WithLabelValues(l.Portal, "duplicate").Inc()
		return
	}

	// 列表页缺电话时抓详情页补全，补全失败不影响入库
	if l.Phone == "" && l.SourceURL != "" {
		s.enrich(ctx, sum, l)
	}

	// 水印兜底：详情页也定不出卖家类型时看首图有没有中介水印
	if s.photos != nil && l.SellerType == string(model.SellerUnknown) && len(l.PhotoURLs) > 0 {
		if s.photos.IsWatermarked(ctx, l.PhotoURLs[0]) {
			metrics.ListingsExtractedTotal.WithLabelValues(l.Portal, "agency_watermark").Inc()
			s.logger.Debug("lead photo watermarked, dropping listing",
				slog.String("run_id", sum.RunID),
				slog.String("external_id", l.ExternalID))
			return
		}
	}

	l.Zone = zone
	if err := s.store.UpsertListing(ctx, l); err != nil {
		sum.ItemsFailed++
		metrics.ListingsExtractedTotal.WithLabelValues(l.Portal, "failed").Inc()
		s.logger.Error("listing upsert failed",
			slog.String("run_id", sum.RunID),
			slog.String("external_id", l.ExternalID),
			slog.String("error", err.Error()))
		return
	}
	sum.ItemsStored++
	metrics.ListingsExtractedTotal.WithLabelValues(l.Portal, "stored").Inc()
}

// enrich 用详情页补全列表条目（电话、描述、图片）。
func (s *Session) enrich(ctx context.Context, sum *Summary, l *model.Listing) {
	res, err := s.fetcher.Fetch(ctx, l.SourceURL)
	if err != nil {
		if errors.Is(err, fetch.ErrBlocked) || errors.Is(err, fetch.ErrChallengeUnsolvable) {
			sum.PagesBlocked++
		}
		s.logger.Warn("detail enrichment fetch failed",
			slog.String("run_id", sum.RunID),
			slog.String("url", l.SourceURL),
			slog.String("error", err.Error()))
		return
	}

	detail, err := s.extractor.ExtractDetail(res)
	if err != nil {
		s.logger.Warn("detail extraction failed",
			slog.String("run_id", sum.RunID),
			slog.String("url", l.SourceURL),
			slog.String("error", err.Error()))
		return
	}

	if detail.Phone != "" {
		l.Phone = detail.Phone
	}
	if detail.Description != "" && l.Description == "" {
		l.Description = detail.Description
	}
	if len(detail.PhotoURLs) > len(l.PhotoURLs) {
		l.PhotoURLs = detail.PhotoURLs
	}
	if l.SurfaceM2 == nil {
		l.SurfaceM2 = detail.SurfaceM2
	}
	if l.RoomCount == nil {
		l.RoomCount = detail.RoomCount
	}
	// 详情页给出明确卖家信号时覆盖列表页的推断
	if detail.SellerType != string(model.SellerUnknown) {
		l.SellerType = detail.SellerType
	}
}
