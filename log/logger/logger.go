// Package logger 组件使用的结构化日志接口及其 slog 实现
package logger

import (
	"context"
	"log/slog"
)

// Logger 组件通过 WithGroup 区分来源，如 schema、mutation、lock
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)

	// Enabled 级别未开启时调用方可以跳过构造日志参数
	Enabled(ctx context.Context, level slog.Level) bool

	With(args ...any) Logger
	WithGroup(name string) Logger
}
