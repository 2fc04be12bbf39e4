package rerank

import (
	"context"

	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/pipeline"
)

// DefaultTopN 是推荐集合的默认条数。
const DefaultTopN = 30

// TopNNode 是一个 Top-N 截断节点，用于在排序后截取前 N 个候选。
//
// 示例：
//
//	pipeline := &pipeline.Pipeline{
//	    Nodes: []pipeline.Node{
//	        &recall.Fanout{...},        // 召回融合
//	        &filter.FilterNode{...},    // 过滤已交互
//	        &rerank.ScoreSortNode{},    // 排序
//	        &rerank.TopNNode{N: 30},    // 截取 Top 30
//	    },
//	}
type TopNNode struct {
	// N 要保留的候选数量（Top N）
	// 如果 N <= 0，则返回所有候选（不截断）
	N int
}

func (n *TopNNode) Name() string {
	return "rerank.topn"
}

func (n *TopNNode) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *TopNNode) Process(
	_ context.Context,
	_ *core.RecommendContext,
	items []*core.Candidate,
) ([]*core.Candidate, error) {
	if n.N <= 0 || len(items) <= n.N {
		return items, nil
	}
	return items[:n.N], nil
}

// ScoreSortNode 按分数降序排序，分数相同按 ID 升序，保证相同输入得到相同输出。
type ScoreSortNode struct{}

func (n *ScoreSortNode) Name() string {
	return "rerank.sort"
}

func (n *ScoreSortNode) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *ScoreSortNode) Process(
	_ context.Context,
	_ *core.RecommendContext,
	items []*core.Candidate,
) ([]*core.Candidate, error) {
	core.SortCandidates(items)
	return items, nil
}
