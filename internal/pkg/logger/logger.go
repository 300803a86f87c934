package logger

import (
	"log/slog"
	"os"
	"strings"
)

// NewDefault 创建标准输出的 slog 日志记录器。
//
// level 支持 debug / info / warn / error，无法识别时回退为 info。
func NewDefault(level string) *slog.Logger {
	var lv slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lv = slog.LevelDebug
	case "warn", "warning":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: lv,
	})
	return slog.New(handler)
}
