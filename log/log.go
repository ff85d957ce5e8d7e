package log

import (
	"io"

	"github.com/hatlonely/cdcgen/log/logger"
)

var defaultLogger logger.Logger

func init() {
	slog, err := logger.NewSLogWithOptions(&logger.SLogOptions{
		Level:  "info",
		Format: "text",
	})
	if err != nil {
		panic("failed to initialize default logger: " + err.Error())
	}
	defaultLogger = slog
}

// Default 返回进程默认日志器，输出到 stderr
func Default() logger.Logger {
	return defaultLogger
}

// SetDefault 替换默认日志器，nil 忽略
func SetDefault(l logger.Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// Discard 返回丢弃所有输出的日志器，测试中使用
func Discard() logger.Logger {
	l, _ := logger.NewSLogWithWriter(io.Discard, &logger.SLogOptions{Level: "error"})
	return l
}
