// Package logging 按配置构造进程级 slog.Logger。
package logging

import (
	"io"
	"log/slog"
	"strings"

	"dreamGarden/internal/config"
)

// New 根据 LOG_FORMAT（json/text）与 LOG_LEVEL 构造 logger。未知取值回退为 text/info。
func New(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
