// Package logger 提供全局的格式化日志入口，底层使用 log/slog。
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var level atomic.Int32

var log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
	Level: slog.Level(-8), // 过滤交给自己的 level 原子变量
}))

// Init 根据配置设置全局日志级别：debug/info/warn/error，默认 info。
func Init(lv string) {
	switch strings.ToLower(strings.TrimSpace(lv)) {
	case "debug":
		level.Store(int32(slog.LevelDebug))
	case "warn":
		level.Store(int32(slog.LevelWarn))
	case "error":
		level.Store(int32(slog.LevelError))
	default:
		level.Store(int32(slog.LevelInfo))
	}
}

func enabled(lv slog.Level) bool { return lv >= slog.Level(level.Load()) }

func Debugf(format string, args ...any) {
	if enabled(slog.LevelDebug) {
		log.Debug(fmt.Sprintf(format, args...))
	}
}

func Infof(format string, args ...any) {
	if enabled(slog.LevelInfo) {
		log.Info(fmt.Sprintf(format, args...))
	}
}

func Warnf(format string, args ...any) {
	if enabled(slog.LevelWarn) {
		log.Warn(fmt.Sprintf(format, args...))
	}
}

func Errorf(format string, args ...any) {
	if enabled(slog.LevelError) {
		log.Error(fmt.Sprintf(format, args...))
	}
}
