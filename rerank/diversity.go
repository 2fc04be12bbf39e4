package rerank

import (
	"context"

	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/pipeline"
)

// Diversity 是多样性 ReRank：同一分组最多保留 MaxPerGroup 个候选（按输入顺序）。
// 分组来源优先级：
// - label[LabelKey].Value（LabelKey 非空时）
// - 候选的内容类型（course / resource / forum / quiz）
//
// 放在排序之后、截断之前使用，避免一屏都是同一类内容。
type Diversity struct {
	LabelKey    string
	MaxPerGroup int // <=0 时为 1
}

func (n *Diversity) Name() string {
	return "rerank.diversity"
}

func (n *Diversity) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *Diversity) Process(
	_ context.Context,
	_ *core.RecommendContext,
	items []*core.Candidate,
) ([]*core.Candidate, error) {
	if len(items) == 0 {
		return items, nil
	}
	limit := n.MaxPerGroup
	if limit <= 0 {
		limit = 1
	}

	counts := make(map[string]int, 8)
	out := make([]*core.Candidate, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		group := ""
		if n.LabelKey != "" && it.Labels != nil {
			if lbl, ok := it.Labels[n.LabelKey]; ok {
				group = lbl.Value
			}
		}
		if group == "" {
			group = string(it.Type)
		}
		if group == "" {
			out = append(out, it)
			continue
		}
		if counts[group] >= limit {
			continue
		}
		counts[group]++
		out = append(out, it)
	}
	return out, nil
}
