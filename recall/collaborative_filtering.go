package recall

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/pkg/similarity"
)

const ReasonSimilarLearners = "Popular among similar learners"

// UserBasedCF 是基于用户的协同过滤召回源（User-based Collaborative Filtering, User-CF）。
//
// 核心思想："兴趣相似的用户，喜欢相似的物品"
//
// 算法流程：
//  1. 目标用户交互过的物品集合 U
//  2. 窗口内的活跃用户池（上限 MaxPoolUsers），每个用户窗口内交互的物品集合 V，Jaccard(U, V)
//  3. 取相似度 > MinSimilarity 的 TopKSimilarUsers 个用户
//  4. 对相似用户的每条交互累加 similarity × 行为权重（同一物品多次出现时相加）
//  5. 降序取 TopKItems，推荐理由 "Popular among similar learners"
//
// 工程特征：
//   - 计算复杂度：O(活跃用户数)，用户池必须有上限
//   - 单个用户读取失败只跳过该用户
//   - 相似度计算按 Concurrency 并发
type UserBasedCF struct {
	Interactions core.InteractionStore

	WindowDays       int
	TopKSimilarUsers int
	MinSimilarity    float64
	TopKItems        int

	// MaxPoolUsers 是参与比较的活跃用户上限，<=0 使用 500
	MaxPoolUsers int

	// MaxInteractionsPerUser 是每个候选用户读取的交互上限，<=0 不限
	MaxInteractionsPerUser int

	// Concurrency 是并发读取候选用户交互的数量，<=0 使用 8
	Concurrency int

	Logger zerolog.Logger
}

func (r *UserBasedCF) Name() string {
	return "recall.u2i" // 工业标准命名：u2i (User-to-Item)
}

type similarUser struct {
	userID       string
	similarity   float64
	interactions []*core.Interaction
}

func (r *UserBasedCF) Recall(
	ctx context.Context,
	rctx *core.RecommendContext,
) ([]*core.Candidate, error) {
	if r.Interactions == nil || rctx == nil || rctx.UserID == "" {
		return nil, nil
	}
	defaults := &core.DefaultRecallConfig{}
	windowDays := r.WindowDays
	if windowDays <= 0 {
		windowDays = defaults.DefaultWindowDays()
	}
	topKUsers := r.TopKSimilarUsers
	if topKUsers <= 0 {
		topKUsers = defaults.DefaultTopKSimilarUsers()
	}
	minSim := r.MinSimilarity
	if minSim <= 0 {
		minSim = defaults.DefaultMinSimilarity()
	}
	topKItems := r.TopKItems
	if topKItems <= 0 {
		topKItems = defaults.DefaultTopKItems()
	}
	poolSize := r.MaxPoolUsers
	if poolSize <= 0 {
		poolSize = 500
	}
	concurrency := r.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}

	// 1. 目标用户集合 U
	target := rctx.Interacted
	if len(target) == 0 {
		var err error
		target, err = r.Interactions.GetInteractedItemSet(ctx, rctx.UserID)
		if err != nil {
			return nil, err
		}
	}
	if len(target) == 0 {
		return nil, nil
	}

	// 2. 活跃用户池
	pool, err := r.Interactions.GetActiveUsers(ctx, windowDays, poolSize+1)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		similar []similarUser
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	for _, uid := range pool {
		if uid == rctx.UserID {
			continue
		}
		uid := uid
		eg.Go(func() error {
			interactions, err := r.Interactions.GetRecentInteractions(egCtx, uid, windowDays, r.MaxInteractionsPerUser)
			if err != nil {
				if egCtx.Err() != nil {
					return egCtx.Err()
				}
				r.Logger.Warn().Err(err).Str("peer_id", uid).Msg("skip peer whose interactions failed to load")
				return nil
			}
			if len(interactions) == 0 {
				return nil
			}
			set := make(map[string]struct{}, len(interactions))
			for _, in := range interactions {
				set[in.ItemID] = struct{}{}
			}
			sim := similarity.Jaccard(target, set)
			if sim <= minSim {
				return nil
			}
			mu.Lock()
			similar = append(similar, similarUser{userID: uid, similarity: sim, interactions: interactions})
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	// 3. TopK 相似用户
	sort.Slice(similar, func(i, j int) bool {
		if similar[i].similarity != similar[j].similarity {
			return similar[i].similarity > similar[j].similarity
		}
		return similar[i].userID < similar[j].userID
	})
	if len(similar) > topKUsers {
		similar = similar[:topKUsers]
	}

	// 4. 累加：score[itemID] += similarity × actionWeight
	scores := make(map[string]float64)
	types := make(map[string]core.ItemType)
	for _, su := range similar {
		for _, in := range su.interactions {
			if _, ok := target[in.ItemID]; ok {
				continue
			}
			scores[in.ItemID] = sumMerge(scores[in.ItemID], su.similarity*in.Action.Weight())
			if _, ok := types[in.ItemID]; !ok {
				types[in.ItemID] = in.ItemType
			}
		}
	}

	out := make([]*core.Candidate, 0, len(scores))
	for id, score := range scores {
		out = append(out, core.NewCandidate(id, types[id], score, ReasonSimilarLearners))
	}
	return core.TopCandidates(out, topKItems), nil
}

// sumMerge 是协同过滤的合并函数：同一物品的贡献相加。
func sumMerge(acc, v float64) float64 {
	return acc + v
}
