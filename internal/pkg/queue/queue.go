package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Job 表示一次可执行的采集 / 核查运行。
type Job func(ctx context.Context) error

// Queue 是有界内存运行队列 + 固定 worker 池。
//
// 编排层通过运维 API 投递 (portal, zone) 运行请求；worker 之间相互独立，
// 单个运行内部仍然严格串行（节流由会话自身负责）。
type Queue struct {
	logger  *slog.Logger
	workers int
	jobs    chan Job

	wg     sync.WaitGroup
	closed atomic.Bool

	stats runStats
}

// runStats 队列内部统计（atomic 类型）。
type runStats struct {
	TotalEnqueued  atomic.Int64
	TotalProcessed atomic.Int64
	TotalSucceeded atomic.Int64
	TotalFailed    atomic.Int64
	TotalDropped   atomic.Int64
	TotalPanics    atomic.Int64
}

// Stats 统计信息快照（普通值类型，可安全拷贝）。
type Stats struct {
	TotalEnqueued  int64
	TotalProcessed int64
	TotalSucceeded int64
	TotalFailed    int64
	TotalDropped   int64
	TotalPanics    int64
	Pending        int
}

// New 创建运行队列。workers / capacity 至少为 1。
func New(logger *slog.Logger, workers, capacity int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		logger:  logger,
		workers: workers,
		jobs:    make(chan Job, capacity),
	}
}

// Start 启动 worker 池，直到 ctx 被取消或调用 Shutdown。
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			q.logger.Debug("run worker stopped", slog.Int("worker_id", id))
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			if job != nil {
				q.run(ctx, job, id)
			}
		}
	}
}

// run 执行单个运行，带 panic 恢复；单个运行的失败不影响 worker 本身。
func (q *Queue) run(ctx context.Context, job Job, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			q.stats.TotalPanics.Add(1)
			q.logger.Error("run panic recovered",
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	err := job(ctx)
	q.stats.TotalProcessed.Add(1)
	if err != nil {
		q.stats.TotalFailed.Add(1)
		q.logger.Warn("run failed",
			slog.Int("worker_id", workerID),
			slog.String("error", err.Error()))
		return
	}
	q.stats.TotalSucceeded.Add(1)
}

// Enqueue 非阻塞入队；队列已满或已关闭时返回 false。
func (q *Queue) Enqueue(job Job) bool {
	if job == nil || q.closed.Load() {
		return false
	}
	select {
	case q.jobs <- job:
		q.stats.TotalEnqueued.Add(1)
		return true
	default:
		q.stats.TotalDropped.Add(1)
		q.logger.Warn("run queue full, drop job",
			slog.Int("capacity", cap(q.jobs)),
			slog.Int("pending", len(q.jobs)))
		return false
	}
}

// Shutdown 优雅关闭：拒绝新任务，关闭通道，等待 worker 完成当前运行。
// 超过 timeout 仍未完成时返回错误（正在进行的抓取会随 ctx 自然结束）。
func (q *Queue) Shutdown(timeout time.Duration) error {
	if !q.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("queue already closed")
	}
	close(q.jobs)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout after %s", timeout)
	}
}

// Stats 返回统计快照。
func (q *Queue) Stats() Stats {
	return Stats{
		TotalEnqueued:  q.stats.TotalEnqueued.Load(),
		TotalProcessed: q.stats.TotalProcessed.Load(),
		TotalSucceeded: q.stats.TotalSucceeded.Load(),
		TotalFailed:    q.stats.TotalFailed.Load(),
		TotalDropped:   q.stats.TotalDropped.Load(),
		TotalPanics:    q.stats.TotalPanics.Load(),
		Pending:        len(q.jobs),
	}
}
