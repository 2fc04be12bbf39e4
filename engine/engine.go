// Package engine 是推荐引擎的对外入口：读取推荐集合、提交反馈、请求重算。
//
// 使用场景：
//   - api 包的 HTTP 处理函数
//   - refresh.Scheduler 通过 Recompute 重算用户集合
//   - 其他子系统（例如选课）在用户状态变化后调用 EnqueueRefresh
package engine

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/feedback"
	"github.com/rushteam/reclearn/recstore"
)

// Engine 组合推荐集合存储、反馈处理器与刷新队列。
type Engine struct {
	Recommender *Recommender
	Sets        *recstore.Store
	Feedback    *feedback.Processor
	Refresh     feedback.Enqueuer

	Logger zerolog.Logger
}

// New 创建 Engine。refresh 为空时 EnqueueRefresh 返回 NOT_SUPPORTED，阈值触发也不会生效。
func New(deps Deps, opts Options, refresh feedback.Enqueuer) *Engine {
	deps = deps.withDefaults()
	rec := NewRecommender(deps, opts)
	fb := feedback.NewProcessor(deps.Store, deps.Content, refresh)
	fb.Logger = deps.Logger
	return &Engine{
		Recommender: rec,
		Sets:        rec.Sets,
		Feedback:    fb,
		Refresh:     refresh,
		Logger:      deps.Logger,
	}
}

// GetActiveRecommendations 返回用户当前生效的推荐集合。
// 首次读取时把存储中的 isNew 置为 false，本次返回的副本仍是 true。
func (e *Engine) GetActiveRecommendations(ctx context.Context, userID string) (*core.RecommendationSet, error) {
	if userID == "" {
		return nil, core.InvalidInput(core.ModuleEngine, "userId is required")
	}
	set, err := e.Sets.GetActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if set.IsNew {
		if err := e.Sets.MarkSeen(ctx, userID, set.SetID); err != nil {
			e.Logger.Warn().Err(err).Str("user_id", userID).Msg("mark recommendation set seen")
		}
	}
	return set, nil
}

// SubmitFeedback 记录一次反馈。recommendationID 是被推荐内容的 ID。
func (e *Engine) SubmitFeedback(ctx context.Context, userID, recommendationID string, action core.FeedbackAction, relevant *bool) error {
	return e.Feedback.Process(ctx, &core.Feedback{
		UserID:           userID,
		RecommendationID: recommendationID,
		Action:           action,
		Relevant:         relevant,
	})
}

// EnqueueRefresh 请求一次重算，返回任务 ID。相同 (userId, reason) 的待处理任务会被复用。
func (e *Engine) EnqueueRefresh(ctx context.Context, userID string, priority core.Priority, reason string) (string, error) {
	if e.Refresh == nil {
		return "", core.NewDomainError(core.ModuleEngine, core.ErrorCodeNotSupported, "engine: refresh queue not configured")
	}
	return e.Refresh.EnqueueRefresh(ctx, userID, priority, reason)
}

// Recompute 同步重算用户的推荐集合。
func (e *Engine) Recompute(ctx context.Context, userID, taskID string) (int, error) {
	return e.Recommender.Recompute(ctx, userID, taskID)
}

// Metrics 读取用户当前统计桶的推荐质量指标。
func (e *Engine) Metrics(ctx context.Context, userID string, period core.Period) (*core.Metrics, error) {
	if userID == "" {
		return nil, core.InvalidInput(core.ModuleEngine, "userId is required")
	}
	return e.Feedback.Metrics(ctx, userID, period)
}
