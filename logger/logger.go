package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	once         sync.Once
)

type Config struct {
	Level    string   `json:"level" yaml:"level"`     // debug/info/warn/error
	Format   string   `json:"format" yaml:"format"`   // text/json
	Outputs  []string `json:"outputs" yaml:"outputs"` // stdout/stderr/file path
	Rotation Rotation `json:"rotation" yaml:"rotation"`
}

// Rotation 控制文件输出的切割，MaxSizeMB 为 0 时直接追加写文件
type Rotation struct {
	MaxSizeMB  int  `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int  `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int  `json:"max_age_days" yaml:"max_age_days"`
	Compress   bool `json:"compress" yaml:"compress"`
}

// Init 初始化全局 logger，只有第一次调用生效
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		var l *slog.Logger
		l, err = New(cfg)
		if err == nil {
			globalLogger = l
			slog.SetDefault(l)
		}
	})
	return err
}

// New 按配置创建 logger，不影响全局 logger
func New(cfg Config) (*slog.Logger, error) {
	// 创建多个输出writer
	var writers []io.Writer
	for _, output := range cfg.Outputs {
		w, err := openOutput(output, cfg.Rotation)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}

	// 如果没有指定输出，默认使用stdout
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}
	return slog.New(newHandler(io.MultiWriter(writers...), cfg)), nil
}

func newHandler(w io.Writer, cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel 解析日志级别，未知值按 info 处理
func ParseLevel(level string) slog.Level {
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

func openOutput(output string, rot Rotation) (io.Writer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}

	// 确保目录存在
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if rot.MaxSizeMB > 0 {
		return &lumberjack.Logger{
			Filename:   output,
			MaxSize:    rot.MaxSizeMB,
			MaxBackups: rot.MaxBackups,
			MaxAge:     rot.MaxAgeDays,
			Compress:   rot.Compress,
		}, nil
	}

	// 打开或创建日志文件
	file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

func Debug(msg string, args ...interface{}) {
	globalLogger.Debug(msg, args...)
}

func Info(msg string, args ...interface{}) {
	globalLogger.Info(msg, args...)
}

func Warn(msg string, args ...interface{}) {
	globalLogger.Warn(msg, args...)
}

func Error(msg string, args ...interface{}) {
	globalLogger.Error(msg, args...)
}

func Logger() *slog.Logger {
	return globalLogger
}
