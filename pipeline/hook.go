package pipeline

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rushteam/reclearn/core"
)

// LogHook 在 debug 级别记录每个 Node 的输入输出条数。
type LogHook struct {
	Logger zerolog.Logger
}

func (h LogHook) BeforeNode(context.Context, *core.RecommendContext, Node, []*core.Candidate) {}

func (h LogHook) AfterNode(_ context.Context, rctx *core.RecommendContext, node Node, items []*core.Candidate, err error) {
	ev := h.Logger.Debug()
	if err != nil {
		ev = h.Logger.Warn().Err(err)
	}
	userID := ""
	if rctx != nil {
		userID = rctx.UserID
	}
	ev.Str("user_id", userID).
		Str("node", node.Name()).
		Str("kind", string(node.Kind())).
		Int("count", len(items)).
		Msg("pipeline node done")
}
