package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/gilito11/casaTevaLeads-sub001/internal/api/middleware"
	"github.com/gilito11/casaTevaLeads-sub001/internal/config"
	"github.com/gilito11/casaTevaLeads-sub001/internal/pkg/queue"
	"github.com/gilito11/casaTevaLeads-sub001/internal/portal"
)

// RunFunc 执行一次完整的采集运行（由组装层注入，内部负责选择
// 抓取策略、构建会话并入库）。
type RunFunc func(ctx context.Context, p portal.Portal, zone string) error

// StatsStore 运维接口所需的最小存储能力。
type StatsStore interface {
	Ping(ctx context.Context) error
	CountListings(ctx context.Context, portal string) (int64, error)
}

// Server 封装运维 API：手动触发采集运行、健康检查和运行统计。
//
// 它持有运行队列、存储与 Redis 客户端以及 Gin 路由引擎。
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	store  StatsStore
	rdb    *redis.Client
	queue  *queue.Queue
	run    RunFunc
	router *gin.Engine
}

// NewServer 初始化运维 API 服务器。
//
// 参数:
//
//	cfg: 配置对象
//	logger: 日志记录器
//	store: 存储层
//	rdb: Redis 客户端
//	q: 运行队列（需由调用方 Start）
//	run: 单次采集运行的执行函数
func NewServer(cfg *config.Config, logger *slog.Logger, store StatsStore, rdb *redis.Client, q *queue.Queue, run RunFunc) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:    cfg,
		logger: logger,
		store:  store,
		rdb:    rdb,
		queue:  q,
		run:    run,
		router: r,
	}
	s.registerRoutes()
	return s
}

// Run 启动 HTTP 服务器并开始监听请求。
func (s *Server) Run() error {
	s.logger.Info("ops api listening", slog.String("addr", s.cfg.App.HTTPAddr))
	return s.router.Run(s.cfg.App.HTTPAddr)
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	s.router.POST("/api/runs", s.handleCreateRun)
	s.router.GET("/api/stats", s.handleStats)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.store == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "component": "mysql"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "component": "redis"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// createRunRequest 触发采集运行的请求参数。
type createRunRequest struct {
	Portal string `json:"portal" binding:"required"`
	Zone   string `json:"zone"`
}

// handleCreateRun 处理手动触发采集运行的请求。
//
// POST /api/runs
func (s *Server) handleCreateRun(c *gin.Context) {
	var req createRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, ok := portal.Parse(strings.ToLower(strings.TrimSpace(req.Portal)))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown portal"})
		return
	}
	zone := strings.TrimSpace(req.Zone)

	if s.run == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "runs disabled"})
		return
	}
	job := func(ctx context.Context) error {
		return s.run(ctx, p, zone)
	}
	if !s.queue.Enqueue(job) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run queue full"})
		return
	}

	s.logger.Info("run enqueued", slog.String("portal", string(p)), slog.String("zone", zone))
	c.JSON(http.StatusAccepted, gin.H{"portal": string(p), "zone": zone, "status": "queued"})
}

// handleStats 返回队列统计和各门户的入库总量。
//
// GET /api/stats
func (s *Server) handleStats(c *gin.Context) {
	listings := map[string]int64{}
	for _, p := range portal.All() {
		n, err := s.store.CountListings(c.Request.Context(), string(p))
		if err != nil {
			s.logger.Warn("count listings failed",
				slog.String("portal", string(p)),
				slog.String("error", err.Error()))
			continue
		}
		listings[string(p)] = n
	}

	st := s.queue.Stats()
	c.JSON(http.StatusOK, gin.H{
		"queue": gin.H{
			"enqueued":  st.TotalEnqueued,
			"processed": st.TotalProcessed,
			"succeeded": st.TotalSucceeded,
			"failed":    st.TotalFailed,
			"dropped":   st.TotalDropped,
			"pending":   st.Pending,
		},
		"listings": listings,
	})
}
