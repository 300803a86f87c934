// Package solver 对接外部人机验证求解服务（2captcha 协议兼容）。
//
// DataDome 类挑战无法在进程内破解，只能提交给求解服务：把挑战页 URL、
// 目标页 URL、当前 UA 与代理交出去，对方返回一个可注入的 Cookie 值。
// 提交后轮询结果，间隔与总超时由配置控制。
package solver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gilito11/casaTevaLeads-sub001/internal/config"
)

// ErrNotReady 表示结果尚未就绪，继续轮询。
var ErrNotReady = errors.New("solver: result not ready")

// ErrUnsolvable 表示求解服务明确放弃了这个挑战。
var ErrUnsolvable = errors.New("solver: challenge unsolvable")

// Client 2captcha 协议兼容客户端。实现 fetch.ChallengeSolver。
type Client struct {
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	timeout      time.Duration
	httpClient   *http.Client
	logger       *slog.Logger
}

// New 创建求解客户端。apiKey 为空时 Solve 直接报错，不发请求。
func New(cfg config.SolverConfig, logger *slog.Logger) *Client {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://2captcha.com"
	}
	return &Client{
		baseURL:      baseURL,
		apiKey:       cfg.APIKey,
		pollInterval: pollInterval,
		timeout:      timeout,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		logger:       logger,
	}
}

// Solve 提交 DataDome 挑战并轮询直到拿到 Cookie 值或超时。
// userAgent 必须与触发挑战的请求一致，否则返回的 Cookie 无效。
func (c *Client) Solve(ctx context.Context, targetURL, challengeURL, userAgent, proxy string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("solver api key not configured: %w", ErrUnsolvable)
	}

	taskID, err := c.submit(ctx, targetURL, challengeURL, userAgent, proxy)
	if err != nil {
		return "", err
	}

	c.logger.Info("challenge submitted to solver",
		slog.String("task_id", taskID),
		slog.String("target_url", targetURL))

	deadline := time.Now().Add(c.timeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return "", fmt.Errorf("solver task %s timed out after %s: %w", taskID, c.timeout, ErrUnsolvable)
			}
			cookie, err := c.poll(ctx, taskID)
			if errors.Is(err, ErrNotReady) {
				continue
			}
			if err != nil {
				return "", err
			}
			return cookie, nil
		}
	}
}

// submit 提交任务，返回任务 ID。
func (c *Client) submit(ctx context.Context, targetURL, challengeURL, userAgent, proxy string) (string, error) {
	form := url.Values{}
	form.Set("key", c.apiKey)
	form.Set("method", "datadome")
	form.Set("captcha_url", challengeURL)
	form.Set("pageurl", targetURL)
	form.Set("userAgent", userAgent)
	if proxy != "" {
		form.Set("proxy", proxy)
		form.Set("proxytype", "HTTP")
	}

	body, err := c.post(ctx, c.baseURL+"/in.php", form)
	if err != nil {
		return "", err
	}

	// 响应格式：OK|taskID 或 ERROR_XXX
	if id, ok := strings.CutPrefix(body, "OK|"); ok {
		return id, nil
	}
	return "", fmt.Errorf("solver submit rejected: %s: %w", body, ErrUnsolvable)
}

// poll 查询任务结果。未就绪返回 ErrNotReady。
func (c *Client) poll(ctx context.Context, taskID string) (string, error) {
	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("action", "get")
	q.Set("id", taskID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/res.php?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build poll request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("poll solver: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("read solver response: %w", err)
	}
	body := strings.TrimSpace(string(raw))

	switch {
	case body == "CAPCHA_NOT_READY":
		return "", ErrNotReady
	case strings.HasPrefix(body, "OK|"):
		return strings.TrimPrefix(body, "OK|"), nil
	case strings.HasPrefix(body, "ERROR_CAPTCHA_UNSOLVABLE"):
		return "", fmt.Errorf("solver gave up on task %s: %w", taskID, ErrUnsolvable)
	default:
		return "", fmt.Errorf("solver poll failed: %s", body)
	}
}

func (c *Client) post(ctx context.Context, endpoint string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build solver request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post solver: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("read solver response: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
