package ratelimit

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/gilito11/casaTevaLeads-sub001/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

// Limiter 是进程级请求节流器。
//
// Wait 保证距离上一次放行（进程内任意调用方）至少 minDelay，然后再附加
// [minDelay, maxDelay] 的均匀随机抖动。互斥锁天然提供 FIFO-ish 公平性；
// 高并发下的饥饿可以接受（实际每个门户同时只有一个会话在跑）。
type Limiter struct {
	mu       sync.Mutex
	last     time.Time
	minDelay time.Duration
	maxDelay time.Duration

	// 可选：跨进程共享时钟。多个进程从同一出口 IP 抓同一门户时，
	// 把"上次放行时间"放到 Redis，让节奏在进程间也成立。
	rdb      *redis.Client
	clockKey string
}

// New 创建限速器。maxDelay < minDelay 时取 minDelay。
func New(minDelay, maxDelay time.Duration) *Limiter {
	if minDelay <= 0 {
		minDelay = time.Second
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Limiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
	}
}

// WithSharedClock 启用 Redis 共享时钟。rdb 为 nil 或 key 为空时不生效。
func (l *Limiter) WithSharedClock(rdb *redis.Client, key string) *Limiter {
	l.rdb = rdb
	l.clockKey = key
	return l
}

// Wait 按默认区间节流。
func (l *Limiter) Wait(ctx context.Context) error {
	return l.WaitRange(ctx, l.minDelay, l.maxDelay)
}

// WaitRange 按指定区间节流，阻塞直到允许发起下一次请求。
//
// ctx 取消时立即返回 ctx.Err()，且不更新共享时钟。
func (l *Limiter) WaitRange(ctx context.Context, minDelay, maxDelay time.Duration) error {
	if l == nil {
		return nil
	}
	if minDelay <= 0 {
		minDelay = l.minDelay
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}

	start := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	last := l.lastRelease(ctx)

	// 先补足与上一次放行的最小间隔
	if !last.IsZero() {
		if since := time.Since(last); since < minDelay {
			if err := sleepCtx(ctx, minDelay-since); err != nil {
				return err
			}
		}
	}

	// 再附加随机抖动，打散请求节奏
	jitter := minDelay
	if maxDelay > minDelay {
		jitter += time.Duration(rand.Int63n(int64(maxDelay - minDelay + 1)))
	}
	if err := sleepCtx(ctx, jitter); err != nil {
		return err
	}

	now := time.Now()
	l.last = now
	l.storeRelease(ctx, now)
	metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
	return nil
}

// lastRelease 返回上一次放行时间，优先使用 Redis 共享时钟。
// Redis 出错时降级为本地时钟，不阻塞调用方。
func (l *Limiter) lastRelease(ctx context.Context) time.Time {
	if l.rdb == nil || l.clockKey == "" {
		return l.last
	}
	v, err := l.rdb.Get(ctx, l.clockKey).Result()
	if err != nil {
		return l.last
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return l.last
	}
	shared := time.UnixMilli(ms)
	if shared.After(l.last) {
		return shared
	}
	return l.last
}

func (l *Limiter) storeRelease(ctx context.Context, t time.Time) {
	if l.rdb == nil || l.clockKey == "" {
		return
	}
	// TTL 取两倍最大间隔，过期即视为无历史
	_ = l.rdb.Set(ctx, l.clockKey, strconv.FormatInt(t.UnixMilli(), 10), 2*l.maxDelay).Err()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
