// Package logging 基于 zerolog 构建进程级日志器。
//
// 组件不持有全局日志器，而是接收 zerolog.Logger 值并通过
// logger.With().Str("component", ...) 派生子日志器。
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config 是日志配置。
type Config struct {
	Level     string    `koanf:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	Format    string    `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller    bool      `koanf:"caller"`
	Timestamp bool      `koanf:"timestamp"`
	Output    io.Writer `koanf:"-"`
}

// DefaultConfig 返回默认日志配置：info 级别、JSON 输出到 stderr。
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Format:    "json",
		Timestamp: true,
		Output:    os.Stderr,
	}
}

// New 按配置创建日志器。
func New(cfg Config) (zerolog.Logger, error) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("logging: parse level %q: %w", cfg.Level, err)
	}

	var out io.Writer = cfg.Output
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(out).Level(level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	return ctx.Logger(), nil
}

// Component 派生带 component 字段的子日志器。
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
