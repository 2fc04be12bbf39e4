package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/pkg/metrics"
)

// BreakerConfig 是熔断配置。
type BreakerConfig struct {
	Name             string        `koanf:"name"`
	MaxRequests      uint32        `koanf:"max_requests"`      // 半开状态允许通过的请求数
	Interval         time.Duration `koanf:"interval"`          // 关闭状态下计数清零周期
	Timeout          time.Duration `koanf:"timeout"`           // 打开状态持续时间
	FailureThreshold uint32        `koanf:"failure_threshold"` // 连续失败次数达到后打开
}

// DefaultBreakerConfig 返回默认熔断配置。
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "embedding",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// BreakerEmbedder 为任意 Embedder 增加熔断：向量化服务持续不可用时快速失败（UNAVAILABLE），
// 让刷新任务尽早进入重试/失败，而不是每个内容都等待超时。
// 只有暂时性错误计入失败；数据类错误（INVALID_INPUT）不会触发熔断。
type BreakerEmbedder struct {
	next core.Embedder
	cb   *gobreaker.CircuitBreaker[[]float64]
}

// NewBreakerEmbedder 用熔断包装 next。
func NewBreakerEmbedder(next core.Embedder, cfg BreakerConfig, logger zerolog.Logger) *BreakerEmbedder {
	if cfg.Name == "" {
		cfg.Name = "embedding"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	metrics.BreakerState.WithLabelValues(cfg.Name).Set(stateValue(gobreaker.StateClosed))
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !core.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}
	return &BreakerEmbedder{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[[]float64](settings),
	}
}

// Embed 实现 core.Embedder。
func (b *BreakerEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vec, err := b.cb.Execute(func() ([]float64, error) {
		return b.next.Embed(ctx, text)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.EmbeddingCalls.WithLabelValues("rejected").Inc()
			return nil, core.Unavailable(core.ModuleEmbedding, err)
		}
		return nil, err
	}
	return vec, nil
}

// State 返回熔断器当前状态，用于健康检查。
func (b *BreakerEmbedder) State() string {
	return b.cb.State().String()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

var _ core.Embedder = (*BreakerEmbedder)(nil)
