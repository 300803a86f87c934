package fetch

import (
	"context"
	"errors"
	"time"

	"github.com/gilito11/casaTevaLeads-sub001/internal/portal"
)

// 抓取层错误。单页失败绝不终止整个会话，调用方按类型决定跳过还是降级。
var (
	// ErrBlocked 反爬拦截（挑战页 / 403 / 可疑小响应）。
	ErrBlocked = errors.New("blocked by anti-bot")
	// ErrChallengeUnsolvable 打码服务放弃了本次挑战。
	ErrChallengeUnsolvable = errors.New("challenge unsolvable")
)

// PageResult 是一次抓取尝试的不可变结果。
type PageResult struct {
	RequestURL string          // 请求地址
	FinalURL   string          // 重定向后的最终地址
	StatusCode int             // HTTP 状态码
	Body       []byte          // 原始响应体（浏览器策略下为渲染后的 outerHTML）
	Elapsed    time.Duration   // 耗时
	Strategy   portal.Strategy // 实际使用的抓取策略
}

// Fetcher 是两种抓取策略的公共能力。
//
// 实现必须在真正发出请求前经过共享限速器，并把反爬拦截报告为 ErrBlocked
// 而不是盲目重试。
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*PageResult, error)
	// Close 释放底层资源（浏览器实例 / 连接池）。
	Close() error
}

// ChallengeSolver 由 solver 包实现；浏览器策略在遇到挑战页时委托它换取 token。
type ChallengeSolver interface {
	Solve(ctx context.Context, targetURL, challengeURL, userAgent, proxy string) (string, error)
}
