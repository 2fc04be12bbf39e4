package filter

import (
	"context"

	"github.com/rushteam/reclearn/core"
)

// Filter 是过滤器的抽象接口，用于判断一个候选是否应该被过滤掉。
// 返回 true 表示应该过滤（移除），false 表示保留。
type Filter interface {
	// Name 返回过滤器名称
	Name() string

	// ShouldFilter 判断候选是否应该被过滤
	ShouldFilter(ctx context.Context, rctx *core.RecommendContext, item *core.Candidate) (bool, error)
}

// Preparer 是 Filter 的可选接口：在逐个判断前按请求加载一次数据
// （例如从存储读取用户的屏蔽列表），结果放在 rctx.Params 中，保证过滤器本身无状态、可并发复用。
type Preparer interface {
	Prepare(ctx context.Context, rctx *core.RecommendContext) error
}
