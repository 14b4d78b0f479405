// Package logger 提供进程级的结构化日志与审计日志。
//
// 普通日志通过 L 或 Named 获取，输出目标与格式由 Init 决定；审计日志
// 通过 Audit 获取，始终以 JSON 写入并支持按大小轮转，用于记录风险裁决、
// 护栏拒绝等需要留痕的事件。未调用 Init 时两者都退化为标准输出。
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config 描述日志子系统的初始化参数。
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Audit       AuditConfig
}

// AuditConfig 描述审计日志的落盘与轮转策略。
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	mu        sync.Mutex
	base      *slog.Logger
	audit     *slog.Logger
	sinks     []io.Closer
	installed bool
)

// Init 安装全局日志实例，重复调用只有第一次生效。
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if installed {
		return nil
	}

	handler, err := newHandler(cfg)
	if err != nil {
		return err
	}
	base = slog.New(handler)
	audit = base

	if cfg.Audit.Enabled {
		auditHandler, err := newAuditHandler(cfg.Audit)
		if err != nil {
			return err
		}
		audit = slog.New(auditHandler)
	}
	installed = true
	return nil
}

func newHandler(cfg Config) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: true}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	writers := make([]io.Writer, 0, len(outputs))
	for _, out := range outputs {
		writer, err := resolveOutput(out)
		if err != nil {
			return nil, err
		}
		writers = append(writers, writer)
	}

	sink := writers[0]
	if len(writers) > 1 {
		sink = io.MultiWriter(writers...)
	}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.NewTextHandler(sink, opts), nil
	}
	return slog.NewJSONHandler(sink, opts), nil
}

// newAuditHandler 构造审计日志 handler。审计日志固定为 JSON，且不受
// 普通日志级别影响，INFO 及以上全部落盘。
func newAuditHandler(cfg AuditConfig) (slog.Handler, error) {
	if cfg.Path == "" {
		return nil, errors.New("启用审计日志时必须提供输出路径")
	}
	writer, err := newRotateFile(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, writer)
	return slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo}), nil
}

func resolveOutput(path string) (io.Writer, error) {
	switch strings.ToLower(path) {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件 %s 失败: %w", path, err)
	}
	sinks = append(sinks, file)
	return file, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L 返回全局结构化日志实例。
func L() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if base == nil {
		base = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return base
}

// Audit 返回审计日志实例，未单独配置时与普通日志共用输出。
func Audit() *slog.Logger {
	mu.Lock()
	if audit != nil {
		defer mu.Unlock()
		return audit
	}
	mu.Unlock()
	return L()
}

// Named 返回携带组件名属性的子日志。
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// Sync 关闭所有已打开的日志输出。
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	var err error
	for _, sink := range sinks {
		err = errors.Join(err, sink.Close())
	}
	sinks = nil
	return err
}
