package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 指标命名统一使用 casateva_ 前缀，label 维度保持低基数（portal / strategy / result）。
var (
	FetchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casateva_fetch_requests_total",
		Help: "Total fetch attempts by portal, strategy and result.",
	}, []string{"portal", "strategy", "result"})

	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "casateva_fetch_duration_seconds",
		Help:    "Fetch latency by portal and strategy.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"portal", "strategy"})

	BlockedPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casateva_blocked_pages_total",
		Help: "Pages flagged as blocked by anti-bot detection, by portal and block type.",
	}, []string{"portal", "block_type"})

	ChallengeSolvesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casateva_challenge_solves_total",
		Help: "Challenge solver outcomes (solved / unsolvable / timeout / error).",
	}, []string{"portal", "outcome"})

	ListingsExtractedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casateva_listings_extracted_total",
		Help: "Listings produced by extractors, by portal and disposition (new / duplicate / invalid).",
	}, []string{"portal", "disposition"})

	SessionRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casateva_session_runs_total",
		Help: "Acquisition session runs by portal and result.",
	}, []string{"portal", "result"})

	LifecycleVerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casateva_lifecycle_verdicts_total",
		Help: "Lifecycle checker verdicts by portal, verdict and reason.",
	}, []string{"portal", "verdict", "reason"})

	QualityScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "casateva_quality_score",
		Help: "Last audit quality score per portal (0..1).",
	}, []string{"portal"})

	RateLimitWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "casateva_ratelimit_wait_seconds",
		Help:    "Time spent waiting on the shared rate limiter.",
		Buckets: []float64{0.1, 0.5, 1, 2, 3, 5, 10, 30},
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "casateva_active_sessions",
		Help: "Acquisition sessions currently running.",
	})

	BrowserPagesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "casateva_browser_pages_active",
		Help: "Browser pages currently open.",
	})
)
