package recall

import (
	"context"

	"github.com/rushteam/reclearn/core"
)

// Source 表示一个可复用的召回源（内容/协同过滤/热门）。
// 你可以把它理解为“可并发 fan-out 的策略单元”。
type Source interface {
	Name() string
	Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Candidate, error)
}

// Adjustment 是一个纯的调权函数：输入候选分数，返回新分数和要追加的推荐理由。
// 多个 Adjustment 按固定顺序依次作用，保证数值结果可复现。
type Adjustment func(pref *core.UserPreferences, item *core.ContentItem, score float64) (float64, []string)
