package filter

import (
	"context"
	"time"

	"github.com/rushteam/reclearn/core"
)

const paramDismissed = "filter.dismissed"

// DismissedFilter 过滤用户最近标记为不感兴趣（dismiss）的内容。
// 数据源是反馈记录，时间窗口以 rctx.Now 为基准。
type DismissedFilter struct {
	// Store 用于读取用户的 dismiss 反馈
	Store DismissedStore

	// WindowDays 是时间窗口（天数），<=0 表示不限
	WindowDays int
}

// DismissedStore 是 dismiss 反馈的存储接口。
type DismissedStore interface {
	// GetDismissedItems 获取用户在 since 之后 dismiss 的内容 ID 列表
	GetDismissedItems(ctx context.Context, userID string, since time.Time) ([]string, error)
}

// NewDismissedFilter 创建一个不感兴趣过滤器。
func NewDismissedFilter(store DismissedStore, windowDays int) *DismissedFilter {
	return &DismissedFilter{Store: store, WindowDays: windowDays}
}

func (f *DismissedFilter) Name() string {
	return "filter.dismissed"
}

func (f *DismissedFilter) Prepare(ctx context.Context, rctx *core.RecommendContext) error {
	if f.Store == nil || rctx == nil || rctx.UserID == "" {
		return nil
	}
	var since time.Time
	if f.WindowDays > 0 {
		now := rctx.Now
		if now.IsZero() {
			now = time.Now()
		}
		since = now.AddDate(0, 0, -f.WindowDays)
	}
	ids, err := f.Store.GetDismissedItems(ctx, rctx.UserID, since)
	if err != nil {
		return err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	if rctx.Params == nil {
		rctx.Params = make(map[string]any)
	}
	rctx.Params[paramDismissed] = set
	return nil
}

func (f *DismissedFilter) ShouldFilter(
	_ context.Context,
	rctx *core.RecommendContext,
	item *core.Candidate,
) (bool, error) {
	if item == nil || rctx == nil {
		return false, nil
	}
	set, _ := rctx.Params[paramDismissed].(map[string]struct{})
	_, ok := set[item.ID]
	return ok, nil
}
