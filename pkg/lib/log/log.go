// Package log 提供 netbridge 统一日志接口
//
// 基于 Go 标准库 log/slog 封装，每个组件持有一个 LazyLogger：
//
//	var logger = log.Logger("overlay")
//	logger.Debug("电路已创建", "circuit", id)
//
// 组件级别可通过环境变量 NETBRIDGE_LOG_LEVEL 单独配置，见 level.go。
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// 日志级别常量（从 slog 导出，方便使用）
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// 当前根 logger，LazyLogger 每次调用时读取
var root atomic.Pointer[slog.Logger]

// SetDefault 设置根 logger
func SetDefault(l *slog.Logger) {
	if l == nil {
		return
	}
	root.Store(l)
}

// Default 返回根 logger
func Default() *slog.Logger {
	if l := root.Load(); l != nil {
		return l
	}
	return slog.Default()
}

// New 创建文本格式 logger
func New(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewJSON 创建 JSON 格式 logger
func NewJSON(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// SetOutput 将日志重定向到指定 Writer，保持当前默认级别
//
// 示例：
//
//	file, _ := os.OpenFile("bridge.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
//	log.SetOutput(file)
func SetOutput(w io.Writer) {
	SetOutputWithLevel(w, levels().defaultLevel)
}

// SetOutputWithLevel 同时设置输出目标和默认级别
//
// handler 本身放行所有级别，过滤交给组件级别判断。
func SetOutputWithLevel(w io.Writer, level slog.Level) {
	SetDefaultLevel(level)
	SetDefault(newHandlerLogger(w, levels().format))
}

// SetLevel 设置默认级别（不影响已单独配置的组件）
func SetLevel(level slog.Level) {
	SetDefaultLevel(level)
}

func newHandlerLogger(w io.Writer, format Format) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	if format == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ============================================================================
//                              LazyLogger
// ============================================================================

// LazyLogger 懒加载 logger
//
// 每次日志调用时都读取当前根 logger，支持运行时切换输出目标；
// 级别按组件名从 level.go 的配置中查找。
type LazyLogger struct {
	component string
}

func (l *LazyLogger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if !Enabled(l.component, level) {
		return
	}
	Default().With("component", l.component).Log(ctx, level, msg, args...)
}

// Debug 输出 Debug 级别日志
func (l *LazyLogger) Debug(msg string, args ...any) {
	l.log(context.Background(), LevelDebug, msg, args...)
}

// Info 输出 Info 级别日志
func (l *LazyLogger) Info(msg string, args ...any) {
	l.log(context.Background(), LevelInfo, msg, args...)
}

// Warn 输出 Warn 级别日志
func (l *LazyLogger) Warn(msg string, args ...any) {
	l.log(context.Background(), LevelWarn, msg, args...)
}

// Error 输出 Error 级别日志
func (l *LazyLogger) Error(msg string, args ...any) {
	l.log(context.Background(), LevelError, msg, args...)
}

// DebugContext 带 context 的 Debug 日志
func (l *LazyLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelDebug, msg, args...)
}

// InfoContext 带 context 的 Info 日志
func (l *LazyLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelInfo, msg, args...)
}

// WarnContext 带 context 的 Warn 日志
func (l *LazyLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelWarn, msg, args...)
}

// With 返回附加属性的 slog.Logger
func (l *LazyLogger) With(args ...any) *slog.Logger {
	return Default().With("component", l.component).With(args...)
}

// Component 返回组件名
func (l *LazyLogger) Component() string {
	return l.component
}

// Logger 返回带组件名的 LazyLogger
func Logger(component string) *LazyLogger {
	return &LazyLogger{component: component}
}

// ============================================================================
//                              工具函数
// ============================================================================

// TruncateID 安全截取 ID 用于日志显示
//
// 避免在日志中直接使用 id[:8] 导致 slice bounds out of range。
func TruncateID(id string, maxLen int) string {
	if len(id) <= maxLen {
		return id
	}
	return id[:maxLen]
}

func init() {
	root.Store(newHandlerLogger(os.Stderr, levels().format))
}
