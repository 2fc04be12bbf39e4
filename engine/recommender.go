package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/filter"
	"github.com/rushteam/reclearn/pipeline"
	"github.com/rushteam/reclearn/pkg/metrics"
	"github.com/rushteam/reclearn/pkg/utils"
	"github.com/rushteam/reclearn/recall"
	"github.com/rushteam/reclearn/recstore"
	"github.com/rushteam/reclearn/rerank"
)

// 重算路径，用于日志与耗时打点。
const (
	PathPersonalized = "personalized"
	PathColdStart    = "cold_start"
	PathFallback     = "fallback"
)

// Recommender 重算单个用户的推荐集合并整体替换。
//
// 算法流程：
//  1. 构建 RecommendContext：声明偏好、交互过的物品集合、窗口内最近交互
//  2. 窗口内没有交互（冷启动）时走 Cold 流水线（热门），否则走 Warm 流水线
//     （内容召回 + 协同过滤 -> 均值融合 -> 过滤已交互/已 dismiss -> 排序 -> Top 30）
//  3. Warm 结果为空时回退到 Cold 流水线，目录非空时用户总能拿到非空集合
//  4. 写入 recstore；已有更新的集合时返回 STALE 错误
type Recommender struct {
	Interactions core.InteractionStore
	Sets         *recstore.Store

	// Users 是用户偏好来源（users 集合），为空时不加载偏好
	Users core.DocumentStore

	Warm *pipeline.Pipeline
	Cold *pipeline.Pipeline

	WindowDays int
	SampleSize int

	// Now 返回当前时间，测试时可替换
	Now func() time.Time

	Logger zerolog.Logger
}

// Deps 是构建默认流水线需要的协作者。
type Deps struct {
	Store        core.DocumentStore
	Interactions core.InteractionStore
	Content      core.ContentIndex
	Embedder     core.Embedder
	Logger       zerolog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Interactions == nil {
		d.Interactions = recall.NewStoreInteractionAdapter(d.Store)
	}
	if d.Content == nil {
		d.Content = recall.NewStoreContentIndex(d.Store)
	}
	return d
}

// NewRecommender 按 Options 组装默认的 Warm / Cold 流水线。
// Interactions / Content 为空时使用基于 Store 的默认实现。
func NewRecommender(deps Deps, opts Options) *Recommender {
	opts = opts.withDefaults()
	deps = deps.withDefaults()
	return &Recommender{
		Interactions: deps.Interactions,
		Sets:         recstore.New(deps.Store),
		Users:        deps.Store,
		Warm:         WarmPipeline(deps, opts),
		Cold:         ColdPipeline(deps, opts),
		WindowDays:   opts.WindowDays,
		SampleSize:   opts.SampleSize,
		Now:          time.Now,
		Logger:       deps.Logger,
	}
}

// WarmPipeline 返回有交互历史用户的默认流水线。
func WarmPipeline(deps Deps, opts Options) *pipeline.Pipeline {
	opts = opts.withDefaults()
	sources := []recall.Source{
		&recall.ContentRecall{
			Interactions:    deps.Interactions,
			Content:         deps.Content,
			Embedder:        deps.Embedder,
			WindowDays:      opts.WindowDays,
			SampleSize:      opts.SampleSize,
			TopK:            opts.TopKItems,
			MinScore:        opts.MinContentScore,
			EmbedCandidates: opts.EmbedCandidates,
			Logger:          deps.Logger,
		},
		&recall.UserBasedCF{
			Interactions:     deps.Interactions,
			WindowDays:       opts.WindowDays,
			TopKSimilarUsers: opts.TopKSimilarUsers,
			MinSimilarity:    opts.MinSimilarity,
			TopKItems:        opts.TopKItems,
			MaxPoolUsers:     opts.MaxPoolUsers,
			Logger:           deps.Logger,
		},
	}

	filters := []filter.Filter{&filter.InteractedFilter{}}
	if opts.DismissedWindowDays > 0 && deps.Store != nil {
		filters = append(filters, filter.NewDismissedFilter(filter.NewStoreAdapter(deps.Store), opts.DismissedWindowDays))
	}

	return &pipeline.Pipeline{
		Name: "warm",
		Nodes: []pipeline.Node{
			&recall.Fanout{
				Sources:            sources,
				Timeout:            opts.SourceTimeout,
				MergeStrategy:      recall.MeanMergeStrategy{},
				PropagateTransient: true,
				Logger:             deps.Logger,
			},
			&filter.FilterNode{Filters: filters, Logger: deps.Logger},
			&rerank.ScoreSortNode{},
			&rerank.TopNNode{N: opts.FusionTopN},
		},
		Hooks: []pipeline.Hook{pipeline.LogHook{Logger: deps.Logger}},
	}
}

// ColdPipeline 返回冷启动与兜底使用的热门流水线。
func ColdPipeline(deps Deps, opts Options) *pipeline.Pipeline {
	opts = opts.withDefaults()
	return &pipeline.Pipeline{
		Name: "cold",
		Nodes: []pipeline.Node{
			&recall.Hot{
				Content:           deps.Content,
				Limit:             opts.PopularLimit,
				Jitter:            opts.PopularJitter,
				Seed:              opts.PopularSeed,
				ExcludeInteracted: true,
			},
			&rerank.ScoreSortNode{},
		},
		Hooks: []pipeline.Hook{pipeline.LogHook{Logger: deps.Logger}},
	}
}

func (r *Recommender) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// BuildContext 加载用户的偏好与交互数据。用户文档缺失不是错误。
func (r *Recommender) BuildContext(ctx context.Context, userID string) (*core.RecommendContext, error) {
	rctx := core.NewRecommendContext(userID, r.now())

	if r.Users != nil {
		doc, err := r.Users.Get(ctx, core.CollectionUsers, userID)
		switch {
		case err == nil:
			rctx.Preferences = core.UserPreferencesFromDocument(userID, doc)
		case core.IsNotFound(err):
		default:
			return nil, fmt.Errorf("load preferences: %w", err)
		}
	}

	interacted, err := r.Interactions.GetInteractedItemSet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load interacted items: %w", err)
	}
	if interacted != nil {
		rctx.Interacted = interacted
	}

	windowDays := r.WindowDays
	if windowDays <= 0 {
		windowDays = (&core.DefaultRecallConfig{}).DefaultWindowDays()
	}
	sampleSize := r.SampleSize
	if sampleSize <= 0 {
		sampleSize = (&core.DefaultRecallConfig{}).DefaultSampleSize()
	}
	recent, err := r.Interactions.GetRecentInteractions(ctx, userID, windowDays, sampleSize)
	if err != nil {
		return nil, fmt.Errorf("load recent interactions: %w", err)
	}
	rctx.Recent = recent
	if rctx.Recent == nil {
		rctx.Recent = []*core.Interaction{}
	}
	if rctx.ColdStart() {
		rctx.PutLabel("cold_start", utils.Label{Value: "true", Source: "engine"})
	}
	return rctx, nil
}

// Recommend 计算推荐候选，不写入存储。返回实际使用的路径。
func (r *Recommender) Recommend(ctx context.Context, rctx *core.RecommendContext) ([]*core.Candidate, string, error) {
	if rctx.ColdStart() {
		items, err := r.Cold.Run(ctx, rctx, nil)
		return items, PathColdStart, err
	}
	items, err := r.Warm.Run(ctx, rctx, nil)
	if err != nil {
		return nil, PathPersonalized, err
	}
	if len(items) > 0 {
		return items, PathPersonalized, nil
	}
	items, err = r.Cold.Run(ctx, rctx, nil)
	return items, PathFallback, err
}

// Recompute 重算并整体替换用户的推荐集合，返回集合条数。实现 refresh.Recomputer。
func (r *Recommender) Recompute(ctx context.Context, userID, taskID string) (int, error) {
	if userID == "" {
		return 0, core.InvalidInput(core.ModuleEngine, "userId is required")
	}
	start := time.Now()
	rctx, err := r.BuildContext(ctx, userID)
	if err != nil {
		return 0, err
	}
	items, path, err := r.Recommend(ctx, rctx)
	if err != nil {
		return 0, fmt.Errorf("%s pipeline: %w", path, err)
	}

	set, err := r.Sets.ReplaceActiveSet(ctx, userID, items, rctx.Now, taskID)
	if err != nil {
		return len(items), err
	}
	metrics.ObserveRefresh(path, start)
	r.Logger.Debug().
		Str("user_id", userID).
		Str("task_id", taskID).
		Str("path", path).
		Int("count", len(set.Items)).
		Msg("recommendation set replaced")
	return len(set.Items), nil
}
