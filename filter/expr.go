package filter

import (
	"context"

	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/pkg/dsl"
)

// ExprFilter 是规则过滤器，按 CEL 表达式过滤候选。
// 默认表达式为 true 时过滤；Keep=true 时反过来，只保留表达式为 true 的候选。
//
// 示例：
//   - `item.type == "quiz" && rctx.cold_start` 冷启动用户不推测验
//   - `item.score < 0.2` 去掉低分候选
type ExprFilter struct {
	Expr string
	Keep bool
}

// NewExprFilter 创建规则过滤器，表达式在创建时编译校验。
func NewExprFilter(expr string, keep bool) (*ExprFilter, error) {
	if _, err := dsl.Compile(expr); err != nil {
		return nil, err
	}
	return &ExprFilter{Expr: expr, Keep: keep}, nil
}

func (f *ExprFilter) Name() string {
	return "filter.expr"
}

func (f *ExprFilter) ShouldFilter(
	_ context.Context,
	rctx *core.RecommendContext,
	item *core.Candidate,
) (bool, error) {
	if item == nil || f.Expr == "" {
		return false, nil
	}
	prg, err := dsl.Compile(f.Expr)
	if err != nil {
		return false, err
	}
	ok, err := prg.Eval(item, rctx)
	if err != nil {
		return false, err
	}
	if f.Keep {
		return !ok, nil
	}
	return ok, nil
}
