package recall

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/pkg/similarity"
	"github.com/rushteam/reclearn/pkg/utils"
)

const (
	ReasonSimilarContent  = "Similar to content you've engaged with"
	ReasonSkillLevel      = "Suitable for your skill level"
	ReasonPreferredLang   = "Available in your preferred language"
	reasonInterestsPrefix = "Matches your interests: "
)

// InterestAdjustment：每命中一个兴趣标签，分数 ×(1+0.1·命中数)。
func InterestAdjustment(pref *core.UserPreferences, item *core.ContentItem, score float64) (float64, []string) {
	if pref == nil || len(pref.Interests) == 0 {
		return score, nil
	}
	interests := make(map[string]struct{}, len(pref.Interests))
	for _, in := range pref.Interests {
		interests[strings.ToLower(in)] = struct{}{}
	}
	var matched []string
	for _, tag := range utils.UnionReasons(item.Tags) {
		if _, ok := interests[strings.ToLower(tag)]; ok {
			matched = append(matched, tag)
		}
	}
	if len(matched) == 0 {
		return score, nil
	}
	return score * (1 + 0.1*float64(len(matched))), []string{reasonInterestsPrefix + strings.Join(matched, ", ")}
}

// SkillAdjustment：难度与用户水平一致时 ×1.2。
func SkillAdjustment(pref *core.UserPreferences, item *core.ContentItem, score float64) (float64, []string) {
	if pref == nil || pref.SkillLevel == "" || !strings.EqualFold(pref.SkillLevel, item.SkillLevel) {
		return score, nil
	}
	return score * 1.2, []string{ReasonSkillLevel}
}

// LanguageAdjustment：内容语言属于用户偏好语言时 ×1.1。
func LanguageAdjustment(pref *core.UserPreferences, item *core.ContentItem, score float64) (float64, []string) {
	if pref == nil || item.Language == "" {
		return score, nil
	}
	for _, lang := range pref.PreferredLanguages {
		if strings.EqualFold(lang, item.Language) {
			return score * 1.1, []string{ReasonPreferredLang}
		}
	}
	return score, nil
}

// DefaultAdjustments 是内容召回的默认调权顺序：兴趣 -> 难度 -> 语言。
func DefaultAdjustments() []Adjustment {
	return []Adjustment{InterestAdjustment, SkillAdjustment, LanguageAdjustment}
}

// ContentRecall 是基于内容的召回源（Content-Based Recommendation）。
//
// 核心思想："用户喜欢具有某些特征的物品，推荐向量相似的其他物品"
//
// 算法流程：
//  1. 取最近 SampleSize 条交互，解析被交互内容的向量（优先用存量向量，否则调用 Embedder）
//  2. 对每个未交互过的候选：score = Σ cosine(候选向量, 交互向量) × 行为权重
//  3. 依次应用 Adjustments（兴趣、难度、语言）
//  4. 保留 score > MinScore，降序取 TopK
//
// 数据错误（内容缺失、无文本、维度不一致）只跳过对应物品；
// Embedder 的暂时性错误会中断本次召回，由刷新任务重试。
// 没有最近交互时返回空，走冷启动。
type ContentRecall struct {
	Interactions core.InteractionStore
	Content      core.ContentIndex
	Embedder     core.Embedder

	// Adjustments 为空时使用 DefaultAdjustments
	Adjustments []Adjustment

	WindowDays int
	SampleSize int
	TopK       int
	MinScore   float64

	// CandidateLimit 限制参与打分的候选内容数，<=0 不限
	CandidateLimit int

	// EmbedCandidates 为 true 时，没有存量向量的候选也调用 Embedder
	EmbedCandidates bool

	Logger zerolog.Logger
}

func (r *ContentRecall) Name() string {
	return "recall.content"
}

func (r *ContentRecall) Recall(
	ctx context.Context,
	rctx *core.RecommendContext,
) ([]*core.Candidate, error) {
	if r.Content == nil || rctx == nil || rctx.UserID == "" {
		return nil, nil
	}
	defaults := &core.DefaultRecallConfig{}
	sampleSize := r.SampleSize
	if sampleSize <= 0 {
		sampleSize = defaults.DefaultSampleSize()
	}
	topK := r.TopK
	if topK <= 0 {
		topK = defaults.DefaultTopKItems()
	}
	minScore := r.MinScore
	if minScore <= 0 {
		minScore = defaults.DefaultMinContentScore()
	}
	adjustments := r.Adjustments
	if adjustments == nil {
		adjustments = DefaultAdjustments()
	}

	// 1. 最近交互
	recent := rctx.Recent
	if recent == nil && r.Interactions != nil {
		windowDays := r.WindowDays
		if windowDays <= 0 {
			windowDays = defaults.DefaultWindowDays()
		}
		var err error
		recent, err = r.Interactions.GetRecentInteractions(ctx, rctx.UserID, windowDays, sampleSize)
		if err != nil {
			return nil, err
		}
	}
	if len(recent) > sampleSize {
		recent = recent[:sampleSize]
	}
	if len(recent) == 0 {
		return nil, nil
	}

	interacted := rctx.Interacted
	if len(interacted) == 0 && r.Interactions != nil {
		var err error
		interacted, err = r.Interactions.GetInteractedItemSet(ctx, rctx.UserID)
		if err != nil {
			return nil, err
		}
	}
	excluded := make(map[string]struct{}, len(interacted)+len(recent))
	for id := range interacted {
		excluded[id] = struct{}{}
	}
	for _, in := range recent {
		excluded[in.ItemID] = struct{}{}
	}

	vectors := make(map[string][]float64)
	type weighted struct {
		vec    []float64
		weight float64
	}
	sampled := make([]weighted, 0, len(recent))
	for _, in := range recent {
		vec, ok, err := r.resolveVector(ctx, vectors, in.ItemID, nil)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		sampled = append(sampled, weighted{vec: vec, weight: in.Action.Weight()})
	}
	if len(sampled) == 0 {
		return nil, nil
	}

	// 2. 候选打分
	items, err := r.Content.ListItems(ctx, r.CandidateLimit)
	if err != nil {
		return nil, err
	}
	out := make([]*core.Candidate, 0)
	for _, item := range items {
		if item == nil || item.ID == "" {
			continue
		}
		if _, ok := excluded[item.ID]; ok {
			continue
		}
		if len(item.Embedding) == 0 && !r.EmbedCandidates {
			continue
		}
		vec, ok, err := r.resolveVector(ctx, vectors, item.ID, item)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		score := 0.0
		mismatch := false
		for _, s := range sampled {
			sim, err := similarity.Cosine(vec, s.vec)
			if err != nil {
				mismatch = true
				break
			}
			score += sim * s.weight
		}
		if mismatch {
			r.Logger.Debug().Str("item_id", item.ID).Msg("skip candidate with mismatched embedding dimension")
			continue
		}

		// 3. 调权
		reasons := []string{ReasonSimilarContent}
		for _, adjust := range adjustments {
			var extra []string
			score, extra = adjust(rctx.Preferences, item, score)
			reasons = append(reasons, extra...)
		}

		// 4. 阈值
		if score <= minScore {
			continue
		}
		out = append(out, core.NewCandidate(item.ID, item.Type, score, reasons...))
	}
	return core.TopCandidates(out, topK), nil
}

// resolveVector 返回物品向量；ok=false 表示数据问题，应跳过该物品。
func (r *ContentRecall) resolveVector(ctx context.Context, cache map[string][]float64, itemID string, item *core.ContentItem) ([]float64, bool, error) {
	if vec, ok := cache[itemID]; ok {
		return vec, vec != nil, nil
	}
	if item == nil {
		var err error
		item, err = r.Content.GetItem(ctx, itemID)
		if err != nil {
			if core.IsNotFound(err) {
				cache[itemID] = nil
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("load content %s: %w", itemID, err)
		}
	}
	if len(item.Embedding) > 0 {
		cache[itemID] = item.Embedding
		return item.Embedding, true, nil
	}
	text := item.Text()
	if r.Embedder == nil || text == "" {
		cache[itemID] = nil
		return nil, false, nil
	}
	vec, err := r.Embedder.Embed(ctx, text)
	if err != nil {
		if core.IsTransient(err) {
			return nil, false, fmt.Errorf("embed content %s: %w", itemID, err)
		}
		r.Logger.Warn().Err(err).Str("item_id", itemID).Msg("skip content that failed to embed")
		cache[itemID] = nil
		return nil, false, nil
	}
	if len(vec) == 0 {
		cache[itemID] = nil
		return nil, false, nil
	}
	cache[itemID] = vec
	return vec, true, nil
}
