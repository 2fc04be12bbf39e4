package refresh

import (
	"context"
	"time"

	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/pkg/metrics"
)

// RetryPolicy 是重算的重试策略：只重试暂时性错误，指数退避。
type RetryPolicy struct {
	// MaxAttempts 是最大尝试次数（含第一次），<=0 时使用 3
	MaxAttempts int

	// Backoff 是第一次重试前的等待时间，之后每次翻倍
	Backoff time.Duration

	// MaxBackoff 是单次等待上限，0 表示不限
	MaxBackoff time.Duration
}

// DefaultRetryPolicy 返回默认策略：3 次尝试，200ms 起指数退避，上限 5s。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     200 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 3
	}
	return p.MaxAttempts
}

// Do 执行 fn 直到成功、遇到非暂时性错误或尝试次数用尽，返回实际尝试次数和最后一次错误。
// 外层 ctx 取消时立即返回。
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	max := p.attempts()
	wait := p.Backoff
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if !core.IsTransient(err) || attempt == max {
			return attempt, err
		}
		if ctx.Err() != nil {
			return attempt, err
		}

		metrics.RefreshRetries.Inc()
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, err
			case <-timer.C:
			}
			wait *= 2
			if p.MaxBackoff > 0 && wait > p.MaxBackoff {
				wait = p.MaxBackoff
			}
		}
	}
	return max, err
}
