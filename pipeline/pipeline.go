package pipeline

import (
	"context"
	"fmt"

	"github.com/rushteam/reclearn/core"
)

// Hook 在每个 Node 执行前后被调用，用于日志、打点等横切逻辑。
type Hook interface {
	BeforeNode(ctx context.Context, rctx *core.RecommendContext, node Node, items []*core.Candidate)
	AfterNode(ctx context.Context, rctx *core.RecommendContext, node Node, items []*core.Candidate, err error)
}

// Pipeline 把推荐逻辑拆成可组合的 Node 链：召回 -> 过滤 -> 重排。
type Pipeline struct {
	Name  string
	Nodes []Node
	Hooks []Hook
}

func (p *Pipeline) Run(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Candidate,
) ([]*core.Candidate, error) {
	cur := items
	for _, node := range p.Nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, h := range p.Hooks {
			h.BeforeNode(ctx, rctx, node, cur)
		}
		next, err := node.Process(ctx, rctx, cur)
		for _, h := range p.Hooks {
			h.AfterNode(ctx, rctx, node, next, err)
		}
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", node.Name(), err)
		}
		cur = next
	}
	return cur, nil
}
