package recall

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/pipeline"
)

const ReasonPopular = "Popular among learners"

// Hot 是热门召回源，用于冷启动和兜底。
// 按浏览量取全局 TopN，score = min(viewCount/ViewNorm, 1)，推荐理由 "Popular among learners"。
//
// Jitter > 0 时对分数加 [-Jitter, +Jitter] 的随机扰动（结果仍截断在 [0, 1]），
// 用于在热门内容间轮换；Seed 固定时扰动可复现。默认不加扰动，结果确定。
// Hot 同时实现了 Source 和 Node 接口，可以直接在 Pipeline 中使用。
type Hot struct {
	Content core.ContentIndex

	// Limit 返回条数，<=0 使用 20
	Limit int

	// ViewNorm 归一化分母，<=0 使用 1000
	ViewNorm float64

	Jitter float64
	Seed   int64

	// ExcludeInteracted 为 true 时跳过用户交互过的内容
	ExcludeInteracted bool

	once sync.Once
	mu   sync.Mutex
	rng  *rand.Rand
}

func (r *Hot) Name() string        { return "recall.hot" }
func (r *Hot) Kind() pipeline.Kind { return pipeline.KindRecall }

// Process 实现 Node 接口，直接调用 Recall
func (r *Hot) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	_ []*core.Candidate,
) ([]*core.Candidate, error) {
	return r.Recall(ctx, rctx)
}

// Recall 实现 Source 接口
func (r *Hot) Recall(
	ctx context.Context,
	rctx *core.RecommendContext,
) ([]*core.Candidate, error) {
	if r.Content == nil {
		return nil, nil
	}
	limit := r.Limit
	if limit <= 0 {
		limit = 20
	}
	norm := r.ViewNorm
	if norm <= 0 {
		norm = 1000
	}

	fetch := limit
	if r.ExcludeInteracted && rctx != nil {
		fetch += len(rctx.Interacted)
	}
	items, err := r.Content.TopViewed(ctx, fetch)
	if err != nil {
		return nil, err
	}

	out := make([]*core.Candidate, 0, limit)
	for _, item := range items {
		if item == nil || item.ID == "" {
			continue
		}
		if r.ExcludeInteracted && rctx.HasInteracted(item.ID) {
			continue
		}
		score := math.Min(float64(item.ViewCount)/norm, 1)
		if r.Jitter > 0 {
			score = math.Max(0, math.Min(1, score+r.jitter()))
		}
		out = append(out, core.NewCandidate(item.ID, item.Type, score, ReasonPopular))
		if len(out) >= limit {
			break
		}
	}
	if r.Jitter > 0 {
		core.SortCandidates(out)
	}
	return out, nil
}

func (r *Hot) jitter() float64 {
	r.once.Do(func() {
		r.rng = rand.New(rand.NewSource(r.Seed))
	})
	r.mu.Lock()
	defer r.mu.Unlock()
	return (r.rng.Float64()*2 - 1) * r.Jitter
}
