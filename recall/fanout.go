package recall

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/pipeline"
	"github.com/rushteam/reclearn/pkg/metrics"
	"github.com/rushteam/reclearn/pkg/utils"
)

// MergeStrategy 合并多个召回源的结果。groups 与 Fanout.Sources 顺序一致。
type MergeStrategy interface {
	Name() string
	Merge(groups [][]*core.Candidate) []*core.Candidate
}

// MeanMergeStrategy 按 ID 分组，分数取各来源分数的算术平均（不相加，避免多来源重复计分），
// 推荐理由按首次出现顺序去重合并，Label 合并。输出按分数降序、ID 升序。
type MeanMergeStrategy struct{}

func (MeanMergeStrategy) Name() string { return "mean" }

func (MeanMergeStrategy) Merge(groups [][]*core.Candidate) []*core.Candidate {
	type acc struct {
		cand  *core.Candidate
		sum   float64
		count int
	}
	byID := make(map[string]*acc)
	order := make([]string, 0)
	for _, group := range groups {
		for _, c := range group {
			if c == nil || c.ID == "" {
				continue
			}
			a, ok := byID[c.ID]
			if !ok {
				byID[c.ID] = &acc{cand: c.Clone(), sum: c.Score, count: 1}
				order = append(order, c.ID)
				continue
			}
			a.sum += c.Score
			a.count++
			a.cand.MatchReason = utils.UnionReasons(a.cand.MatchReason, c.MatchReason)
			if a.cand.Type == "" {
				a.cand.Type = c.Type
			}
			for k, v := range c.Labels {
				a.cand.PutLabel(k, v)
			}
		}
	}
	out := make([]*core.Candidate, 0, len(order))
	for _, id := range order {
		a := byID[id]
		a.cand.Score = a.sum / float64(a.count)
		out = append(out, a.cand)
	}
	core.SortCandidates(out)
	return out
}

// FirstMergeStrategy 按 ID 去重，保留第一个出现的（按 Sources 顺序），合并 Label。
type FirstMergeStrategy struct{}

func (FirstMergeStrategy) Name() string { return "first" }

func (FirstMergeStrategy) Merge(groups [][]*core.Candidate) []*core.Candidate {
	seen := make(map[string]*core.Candidate)
	out := make([]*core.Candidate, 0)
	for _, group := range groups {
		for _, c := range group {
			if c == nil {
				continue
			}
			if old, ok := seen[c.ID]; ok {
				for k, v := range c.Labels {
					old.PutLabel(k, v)
				}
				continue
			}
			cp := c.Clone()
			seen[c.ID] = cp
			out = append(out, cp)
		}
	}
	return out
}

// MergeStrategyByName 返回内置合并策略，未知名称返回 MeanMergeStrategy。
func MergeStrategyByName(name string) MergeStrategy {
	switch name {
	case "first", "priority":
		return FirstMergeStrategy{}
	default:
		return MeanMergeStrategy{}
	}
}

// Fanout 是一个 Recall Node：并发执行多个召回源，并合并结果。
// 支持超时、限流、合并策略。
//
// 错误处理：
//   - 普通错误或超时：该来源返回空结果，不中断其他召回源
//   - PropagateTransient=true 时，暂时性错误（依赖不可用、写冲突）会让整个节点失败，交由上层重试；
//     超过 Timeout 的来源仍然只返回空结果
type Fanout struct {
	Sources       []Source
	Timeout       time.Duration // 每个召回源的超时时间
	MaxConcurrent int           // 最大并发数（0 表示无限制）
	MergeStrategy MergeStrategy // 为空时使用 MeanMergeStrategy

	PropagateTransient bool

	Logger zerolog.Logger
}

func (n *Fanout) Name() string        { return "recall.fanout" }
func (n *Fanout) Kind() pipeline.Kind { return pipeline.KindRecall }

func (n *Fanout) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	_ []*core.Candidate,
) ([]*core.Candidate, error) {
	if len(n.Sources) == 0 {
		return nil, nil
	}

	groups := make([][]*core.Candidate, len(n.Sources))
	eg := new(errgroup.Group)
	if n.MaxConcurrent > 0 {
		eg.SetLimit(n.MaxConcurrent)
	}

	for i, src := range n.Sources {
		i, s := i, src
		eg.Go(func() error {
			// 超时控制
			recallCtx := ctx
			if n.Timeout > 0 {
				var cancel context.CancelFunc
				recallCtx, cancel = context.WithTimeout(ctx, n.Timeout)
				defer cancel()
			}

			items, err := s.Recall(recallCtx, rctx)
			if err != nil {
				metrics.RecallErrors.WithLabelValues(s.Name()).Inc()
				// 超过单个来源的 Timeout 按空结果处理
				localTimeout := recallCtx.Err() != nil
				if n.PropagateTransient && core.IsTransient(err) && ctx.Err() == nil && !localTimeout {
					return err
				}
				n.Logger.Warn().Err(err).Str("source", s.Name()).Str("user_id", rctx.UserID).Msg("recall source failed, using empty result")
				return nil
			}
			metrics.RecallCandidates.WithLabelValues(s.Name()).Observe(float64(len(items)))

			// 记录召回来源 label，方便 explain / 观测
			for _, it := range items {
				it.PutLabel("recall_source", utils.Label{Value: s.Name(), Source: "recall"})
				it.PutLabel("recall_priority", utils.Label{Value: strconv.Itoa(i), Source: "recall"})
			}
			groups[i] = items
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	strategy := n.MergeStrategy
	if strategy == nil {
		strategy = MeanMergeStrategy{}
	}
	return strategy.Merge(groups), nil
}
