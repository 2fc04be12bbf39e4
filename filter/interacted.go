package filter

import (
	"context"

	"github.com/rushteam/reclearn/core"
)

// InteractedFilter 过滤用户交互过的内容。
// 交互集合由调用方在 rctx.Interacted 中准备好（召回与过滤共用一份）。
type InteractedFilter struct{}

func (f *InteractedFilter) Name() string {
	return "filter.interacted"
}

func (f *InteractedFilter) ShouldFilter(
	_ context.Context,
	rctx *core.RecommendContext,
	item *core.Candidate,
) (bool, error) {
	if item == nil {
		return true, nil
	}
	return rctx.HasInteracted(item.ID), nil
}
