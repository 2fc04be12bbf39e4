package core

import (
	"time"

	"github.com/rushteam/reclearn/pkg/utils"
)

// RecommendContext 承载用户/场景信息，贯穿整个 Pipeline 透传。
type RecommendContext struct {
	UserID string

	// Preferences 是用户声明的偏好，可能为空（用户文档缺失不是错误）
	Preferences *UserPreferences

	// Interacted 是用户交互过的物品集合，召回和过滤共用，避免重复读取
	Interacted map[string]struct{}

	// Recent 是窗口内最近的交互（按时间倒序），为空时走冷启动
	Recent []*Interaction

	// Now 是本次重算的时间基准
	Now time.Time

	// Labels 是用户级标签，例如 cold_start
	Labels map[string]utils.Label

	// Params 请求级参数，例如 rule 过滤表达式需要的动态值
	Params map[string]any
}

// NewRecommendContext 创建上下文。
func NewRecommendContext(userID string, now time.Time) *RecommendContext {
	return &RecommendContext{
		UserID:     userID,
		Now:        now,
		Interacted: make(map[string]struct{}),
		Labels:     make(map[string]utils.Label),
		Params:     make(map[string]any),
	}
}

// HasInteracted 判断用户是否交互过该物品。
func (rctx *RecommendContext) HasInteracted(itemID string) bool {
	if rctx == nil || rctx.Interacted == nil {
		return false
	}
	_, ok := rctx.Interacted[itemID]
	return ok
}

// ColdStart 表示用户窗口内没有交互。
func (rctx *RecommendContext) ColdStart() bool {
	return len(rctx.Recent) == 0
}

// PutLabel 写入用户级 Label。
func (rctx *RecommendContext) PutLabel(key string, lbl utils.Label) {
	if rctx.Labels == nil {
		rctx.Labels = make(map[string]utils.Label)
	}
	if old, ok := rctx.Labels[key]; ok {
		rctx.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	rctx.Labels[key] = lbl
}

// GetLabel 获取用户级 Label。
func (rctx *RecommendContext) GetLabel(key string) (utils.Label, bool) {
	if rctx.Labels == nil {
		return utils.Label{}, false
	}
	lbl, ok := rctx.Labels[key]
	return lbl, ok
}
