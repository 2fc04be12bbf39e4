package filter

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/pipeline"
	"github.com/rushteam/reclearn/pkg/utils"
)

// FilterNode 是过滤 Node，可以组合多个过滤器进行过滤。
// 如果任何一个过滤器返回 true，该候选就会被过滤掉。
// 过滤器出错（包括 Prepare 失败）只记录日志，不中断流程。
type FilterNode struct {
	Filters []Filter
	Logger  zerolog.Logger
}

func (n *FilterNode) Name() string {
	return "filter.node"
}

func (n *FilterNode) Kind() pipeline.Kind {
	return pipeline.KindFilter
}

func (n *FilterNode) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Candidate,
) ([]*core.Candidate, error) {
	if len(n.Filters) == 0 || len(items) == 0 {
		return items, nil
	}

	active := make([]Filter, 0, len(n.Filters))
	for _, f := range n.Filters {
		if p, ok := f.(Preparer); ok {
			if err := p.Prepare(ctx, rctx); err != nil {
				n.Logger.Warn().Err(err).Str("filter", f.Name()).Msg("filter prepare failed, skipping filter")
				continue
			}
		}
		active = append(active, f)
	}

	out := make([]*core.Candidate, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}

		filterReason := ""
		// 依次检查每个过滤器
		for _, f := range active {
			ok, err := f.ShouldFilter(ctx, rctx, item)
			if err != nil {
				n.Logger.Debug().Err(err).Str("filter", f.Name()).Str("item_id", item.ID).Msg("filter error, keeping item")
				continue
			}
			if ok {
				filterReason = f.Name()
				break
			}
		}

		if filterReason != "" {
			// 记录过滤原因（用于调试/观测）
			item.PutLabel("filtered", utils.Label{Value: "true", Source: filterReason})
			continue
		}
		out = append(out, item)
	}
	return out, nil
}
