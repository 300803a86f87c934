package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App       AppConfig       `json:"app"`
	MySQL     MySQLConfig     `json:"mysql"`
	Redis     RedisConfig     `json:"redis"`
	Browser   BrowserConfig   `json:"browser"`
	Fetch     FetchConfig     `json:"fetch"`
	Solver    SolverConfig    `json:"solver"`
	Lifecycle LifecycleConfig `json:"lifecycle"`
	Quality   QualityConfig   `json:"quality"`
	Watermark WatermarkConfig `json:"watermark"`
	Portals   PortalsConfig   `json:"portals"`
	Email     EmailConfig     `json:"email"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env            string `json:"env"`              // 运行环境: local / prod
	LogLevel       string `json:"log_level"`        // 日志级别: debug / info / warn / error
	HTTPAddr       string `json:"http_addr"`        // 运维 API 监听地址
	MetricsAddr    string `json:"metrics_addr"`     // Prometheus 监听地址
	WorkerPoolSize int    `json:"worker_pool_size"` // 会话 worker 数量（按 portal/zone 维度并行）
	QueueCapacity  int    `json:"queue_capacity"`   // 运行队列容量
	DedupWindow    int    `json:"dedup_window"`     // (portal, external_id) 去重窗口（秒）
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 配置（Cookie 持久化 / 去重 / 共享限速时钟）。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// BrowserConfig 浏览器抓取策略配置。
type BrowserConfig struct {
	BinPath     string        `json:"bin_path"`     // 浏览器可执行文件路径（为空则由 rod 自行定位）
	ProxyURL    string        `json:"proxy_url"`    // 代理服务器 URL
	Headless    bool          `json:"headless"`     // 是否使用无头模式
	PageTimeout time.Duration `json:"page_timeout"` // 单页导航超时（如 "60s"）
	Locale      string        `json:"locale"`       // Accept-Language / navigator.language
	Timezone    string        `json:"timezone"`     // 时区伪装（如 "Europe/Madrid"）
	Latitude    float64       `json:"latitude"`     // 地理位置伪装
	Longitude   float64       `json:"longitude"`
}

// FetchConfig 协议级抓取与全局节流配置。
type FetchConfig struct {
	Timeout        time.Duration `json:"timeout"`           // HTTP 抓取超时
	MinDelay       time.Duration `json:"min_delay"`         // 两次请求之间的最小间隔
	MaxDelay       time.Duration `json:"max_delay"`         // 抖动上限
	MinBodyBytes   int           `json:"min_body_bytes"`    // 小于该长度的响应按疑似封锁处理
	MaxPagesPerRun int           `json:"max_pages_per_run"` // 每次会话最多翻页数
	MaxItemsPerRun int           `json:"max_items_per_run"` // 每次会话最多采集条数
	SharedClockKey string        `json:"shared_clock_key"`  // 跨进程共享限速时钟的 Redis key（为空则仅进程内）
}

// SolverConfig 打码服务配置。
type SolverConfig struct {
	APIKey       string        `json:"api_key"`       // 外部打码服务 key（为空则禁用挑战求解）
	BaseURL      string        `json:"base_url"`      // 服务地址
	PollInterval time.Duration `json:"poll_interval"` // 轮询间隔（约 10s）
	Timeout      time.Duration `json:"timeout"`       // 总超时（约 180s）
}

// LifecycleConfig 存量房源生命周期核查配置。
type LifecycleConfig struct {
	SafePortals  []string      `json:"safe_portals"`   // 默认允许核查的门户（无激进反爬）
	OptInPortals []string      `json:"opt_in_portals"` // 显式开启核查的反爬门户
	MaxPerRun    int           `json:"max_per_run"`    // 单次运行核查上限
	Timeout      time.Duration `json:"timeout"`        // 单次请求超时
}

// QualityConfig 抽样质检配置。
type QualityConfig struct {
	SampleSize       int     `json:"sample_size"`       // 每个门户抽样条数
	ScoreThreshold   float64 `json:"score_threshold"`   // 低于该分数触发告警
	PriceTolerance   float64 `json:"price_tolerance"`   // 价格相对误差容忍（0.05 = 5%）
	SurfaceTolerance float64 `json:"surface_tolerance"` // 面积绝对误差容忍（m²）
	WindowHours      int     `json:"window_hours"`      // 审计窗口（小时）
}

// WatermarkConfig 首图水印启发式配置。
type WatermarkConfig struct {
	StripThreshold  float64       `json:"strip_threshold"`  // 底部横条边缘密度阈值
	CornerThreshold float64       `json:"corner_threshold"` // 右下角边缘密度阈值
	Timeout         time.Duration `json:"timeout"`          // 图片下载超时
}

// PortalsConfig 门户启用配置。
type PortalsConfig struct {
	Enabled []string `json:"enabled"` // 启用采集的门户列表
}

// EmailConfig 告警邮件配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
	ToEmail   string `json:"to_email"`
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
// 环境变量始终优先于文件内容。
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	// 如果配置文件不存在，使用默认配置
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault 加载配置，如果失败则返回默认配置（不报错）。
func LoadOrDefault(configPath ...string) *Config {
	cfg, err := Load(configPath...)
	if err != nil {
		fallback := getDefaultConfig()
		applyEnvOverrides(fallback)
		return fallback
	}
	return cfg
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:            "local",
			LogLevel:       "info",
			HTTPAddr:       ":8082",
			MetricsAddr:    ":2112",
			WorkerPoolSize: 4,
			QueueCapacity:  100,
			DedupWindow:    86400,
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/casateva?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Browser: BrowserConfig{
			BinPath:     "",
			ProxyURL:    "",
			Headless:    true,
			PageTimeout: 60 * time.Second,
			Locale:      "es-ES",
			Timezone:    "Europe/Madrid",
			Latitude:    41.3874, // Barcelona
			Longitude:   2.1686,
		},
		Fetch: FetchConfig{
			Timeout:        20 * time.Second,
			MinDelay:       1 * time.Second,
			MaxDelay:       3 * time.Second,
			MinBodyBytes:   2048,
			MaxPagesPerRun: 10,
			MaxItemsPerRun: 300,
			SharedClockKey: "",
		},
		Solver: SolverConfig{
			APIKey:       "",
			BaseURL:      "https://2captcha.com",
			PollInterval: 10 * time.Second,
			Timeout:      180 * time.Second,
		},
		Lifecycle: LifecycleConfig{
			SafePortals:  []string{"fotocasa", "habitaclia", "pisos"},
			OptInPortals: []string{},
			MaxPerRun:    200,
			Timeout:      15 * time.Second,
		},
		Quality: QualityConfig{
			SampleSize:       5,
			ScoreThreshold:   0.6,
			PriceTolerance:   0.05,
			SurfaceTolerance: 2.0,
			WindowHours:      24,
		},
		Watermark: WatermarkConfig{
			StripThreshold:  22,
			CornerThreshold: 28,
			Timeout:         10 * time.Second,
		},
		Portals: PortalsConfig{
			Enabled: []string{"fotocasa", "habitaclia", "milanuncios"},
		},
		Email: EmailConfig{
			SMTPHost:  "smtp.gmail.com",
			SMTPPort:  587,
			SMTPUser:  "",
			SMTPPass:  "",
			FromEmail: "",
			ToEmail:   "",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.MetricsAddr == "" {
		cfg.App.MetricsAddr = defaults.App.MetricsAddr
	}
	if cfg.App.WorkerPoolSize == 0 {
		cfg.App.WorkerPoolSize = defaults.App.WorkerPoolSize
	}
	if cfg.App.QueueCapacity == 0 {
		cfg.App.QueueCapacity = defaults.App.QueueCapacity
	}
	if cfg.App.DedupWindow == 0 {
		cfg.App.DedupWindow = defaults.App.DedupWindow
	}
	if cfg.MySQL.DSN == "" {
		cfg.MySQL.DSN = defaults.MySQL.DSN
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Browser.PageTimeout == 0 {
		cfg.Browser.PageTimeout = defaults.Browser.PageTimeout
	}
	if cfg.Browser.Locale == "" {
		cfg.Browser.Locale = defaults.Browser.Locale
	}
	if cfg.Browser.Timezone == "" {
		cfg.Browser.Timezone = defaults.Browser.Timezone
	}
	if cfg.Browser.Latitude == 0 && cfg.Browser.Longitude == 0 {
		cfg.Browser.Latitude = defaults.Browser.Latitude
		cfg.Browser.Longitude = defaults.Browser.Longitude
	}
	if cfg.Fetch.Timeout == 0 {
		cfg.Fetch.Timeout = defaults.Fetch.Timeout
	}
	if cfg.Fetch.MinDelay == 0 {
		cfg.Fetch.MinDelay = defaults.Fetch.MinDelay
	}
	if cfg.Fetch.MaxDelay == 0 {
		cfg.Fetch.MaxDelay = defaults.Fetch.MaxDelay
	}
	if cfg.Fetch.MinBodyBytes == 0 {
		cfg.Fetch.MinBodyBytes = defaults.Fetch.MinBodyBytes
	}
	if cfg.Fetch.MaxPagesPerRun == 0 {
		cfg.Fetch.MaxPagesPerRun = defaults.Fetch.MaxPagesPerRun
	}
	if cfg.Fetch.MaxItemsPerRun == 0 {
		cfg.Fetch.MaxItemsPerRun = defaults.Fetch.MaxItemsPerRun
	}
	if cfg.Solver.BaseURL == "" {
		cfg.Solver.BaseURL = defaults.Solver.BaseURL
	}
	if cfg.Solver.PollInterval == 0 {
		cfg.Solver.PollInterval = defaults.Solver.PollInterval
	}
	if cfg.Solver.Timeout == 0 {
		cfg.Solver.Timeout = defaults.Solver.Timeout
	}
	if len(cfg.Lifecycle.SafePortals) == 0 {
		cfg.Lifecycle.SafePortals = defaults.Lifecycle.SafePortals
	}
	if cfg.Lifecycle.MaxPerRun == 0 {
		cfg.Lifecycle.MaxPerRun = defaults.Lifecycle.MaxPerRun
	}
	if cfg.Lifecycle.Timeout == 0 {
		cfg.Lifecycle.Timeout = defaults.Lifecycle.Timeout
	}
	if cfg.Quality.SampleSize == 0 {
		cfg.Quality.SampleSize = defaults.Quality.SampleSize
	}
	if cfg.Quality.ScoreThreshold == 0 {
		cfg.Quality.ScoreThreshold = defaults.Quality.ScoreThreshold
	}
	if cfg.Quality.PriceTolerance == 0 {
		cfg.Quality.PriceTolerance = defaults.Quality.PriceTolerance
	}
	if cfg.Quality.SurfaceTolerance == 0 {
		cfg.Quality.SurfaceTolerance = defaults.Quality.SurfaceTolerance
	}
	if cfg.Quality.WindowHours == 0 {
		cfg.Quality.WindowHours = defaults.Quality.WindowHours
	}
	if cfg.Watermark.StripThreshold == 0 {
		cfg.Watermark.StripThreshold = defaults.Watermark.StripThreshold
	}
	if cfg.Watermark.CornerThreshold == 0 {
		cfg.Watermark.CornerThreshold = defaults.Watermark.CornerThreshold
	}
	if cfg.Watermark.Timeout == 0 {
		cfg.Watermark.Timeout = defaults.Watermark.Timeout
	}
	if len(cfg.Portals.Enabled) == 0 {
		cfg.Portals.Enabled = defaults.Portals.Enabled
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("solver_api_key", "SOLVER_API_KEY")
	_ = viper.BindEnv("chrome_bin", "CHROME_BIN")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_METRICS_ADDR"); v != "" {
		cfg.App.MetricsAddr = v
	}
	if v := os.Getenv("APP_WORKER_POOL_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.WorkerPoolSize = i
		}
	}
	if v := os.Getenv("APP_QUEUE_CAPACITY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.QueueCapacity = i
		}
	}
	if v := os.Getenv("APP_DEDUP_WINDOW"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.DedupWindow = i
		}
	}

	if v := os.Getenv("FETCH_MIN_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Fetch.MinDelay = d
		}
	}
	if v := os.Getenv("FETCH_MAX_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Fetch.MaxDelay = d
		}
	}
	if v := os.Getenv("FETCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Fetch.Timeout = d
		}
	}
	if v := os.Getenv("FETCH_MAX_PAGES_PER_RUN"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Fetch.MaxPagesPerRun = i
		}
	}
	if v := os.Getenv("FETCH_MAX_ITEMS_PER_RUN"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Fetch.MaxItemsPerRun = i
		}
	}
	if v := os.Getenv("FETCH_SHARED_CLOCK_KEY"); v != "" {
		cfg.Fetch.SharedClockKey = v
	}

	if v := viper.GetString("solver_api_key"); v != "" {
		cfg.Solver.APIKey = v
	}
	if v := os.Getenv("SOLVER_BASE_URL"); v != "" {
		cfg.Solver.BaseURL = v
	}
	if v := os.Getenv("SOLVER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Solver.Timeout = d
		}
	}

	if v := os.Getenv("LIFECYCLE_SAFE_PORTALS"); v != "" {
		cfg.Lifecycle.SafePortals = splitList(v)
	}
	if v := os.Getenv("LIFECYCLE_OPT_IN_PORTALS"); v != "" {
		cfg.Lifecycle.OptInPortals = splitList(v)
	}
	if v := os.Getenv("LIFECYCLE_MAX_PER_RUN"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Lifecycle.MaxPerRun = i
		}
	}

	if v := os.Getenv("QUALITY_SAMPLE_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Quality.SampleSize = i
		}
	}
	if v := os.Getenv("QUALITY_SCORE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Quality.ScoreThreshold = f
		}
	}

	if v := os.Getenv("WATERMARK_STRIP_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Watermark.StripThreshold = f
		}
	}
	if v := os.Getenv("WATERMARK_CORNER_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Watermark.CornerThreshold = f
		}
	}

	if v := os.Getenv("PORTALS_ENABLED"); v != "" {
		cfg.Portals.Enabled = splitList(v)
	}

	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.MySQL.DSN = v
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_password") != "" {
		parsed := parseMySQLDSN(cfg.MySQL.DSN)
		if v := os.Getenv("DB_HOST"); v != "" {
			port := getenvDefault("DB_PORT", parsed.Addr, "3306")
			parsed.Addr = v + ":" + port
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.MySQL.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := viper.GetString("chrome_bin"); v != "" {
		cfg.Browser.BinPath = v
	}
	if v := os.Getenv("BROWSER_PROXY_URL"); v != "" {
		cfg.Browser.ProxyURL = v
	}
	if v := os.Getenv("BROWSER_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.Headless = b
		}
	}
	if v := os.Getenv("BROWSER_PAGE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Browser.PageTimeout = d
		}
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
	if v := os.Getenv("SMTP_TO"); v != "" {
		cfg.Email.ToEmail = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	fallback := &mysql.Config{
		User:   "root",
		Passwd: "",
		Net:    "tcp",
		Addr:   "localhost:3306",
		DBName: "casateva",
		Params: map[string]string{
			"parseTime": "true",
			"loc":       "Local",
		},
	}
	if dsn == "" {
		return fallback
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fallback
	}
	return parsed
}
