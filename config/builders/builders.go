// Package builders 注册内置 Node 的配置构建逻辑，空导入即可生效。
package builders

import (
	"fmt"
	"time"

	"github.com/rushteam/reclearn/config"
	"github.com/rushteam/reclearn/filter"
	"github.com/rushteam/reclearn/pipeline"
	"github.com/rushteam/reclearn/pkg/conv"
	"github.com/rushteam/reclearn/recall"
	"github.com/rushteam/reclearn/rerank"
)

func init() {
	config.Register("recall.fanout", BuildFanoutNode)
	config.Register("recall.hot", BuildHotNode)
	config.Register("filter", BuildFilterNode)
	config.Register("rerank.sort", BuildSortNode)
	config.Register("rerank.topn", BuildTopNNode)
	config.Register("rerank.diversity", BuildDiversityNode)
}

// BuildFanoutNode 构建多路召回融合节点。
//
//	type: recall.fanout
//	config:
//	  merge_strategy: mean      # mean / first
//	  timeout_ms: 10000
//	  max_concurrent: 0
//	  propagate_transient: true
//	  sources:
//	    - type: content         # content / cf / hot
//	      top_k: 20
//	    - type: cf
func BuildFanoutNode(res *config.Resources, cfg map[string]any) (pipeline.Node, error) {
	sourcesConfig, ok := cfg["sources"].([]any)
	if !ok || len(sourcesConfig) == 0 {
		return nil, fmt.Errorf("sources not found or invalid")
	}
	sources := make([]recall.Source, 0, len(sourcesConfig))
	for _, sc := range sourcesConfig {
		sourceMap, ok := sc.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("invalid source config: %v", sc)
		}
		src, err := buildSource(res, sourceMap)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	fanout := &recall.Fanout{
		Sources:            sources,
		MergeStrategy:      recall.MergeStrategyByName(conv.ConfigGet(cfg, "merge_strategy", "mean")),
		PropagateTransient: conv.ConfigGet(cfg, "propagate_transient", true),
		Logger:             res.Logger,
	}
	if ms := conv.ConfigGetInt64(cfg, "timeout_ms", 0); ms > 0 {
		fanout.Timeout = time.Duration(ms) * time.Millisecond
	}
	if n := conv.ConfigGetInt64(cfg, "max_concurrent", 0); n > 0 {
		fanout.MaxConcurrent = int(n)
	}
	return fanout, nil
}

func buildSource(res *config.Resources, m map[string]any) (recall.Source, error) {
	switch sourceType := conv.ConfigGet(m, "type", ""); sourceType {
	case "content":
		if res.Content == nil {
			return nil, fmt.Errorf("content source requires a content index")
		}
		return &recall.ContentRecall{
			Interactions:    res.Interactions,
			Content:         res.Content,
			Embedder:        res.Embedder,
			WindowDays:      int(conv.ConfigGetInt64(m, "window_days", 0)),
			SampleSize:      int(conv.ConfigGetInt64(m, "sample_size", 0)),
			TopK:            int(conv.ConfigGetInt64(m, "top_k", 0)),
			MinScore:        conv.ConfigGetFloat64(m, "min_score", 0),
			CandidateLimit:  int(conv.ConfigGetInt64(m, "candidate_limit", 0)),
			EmbedCandidates: conv.ConfigGet(m, "embed_candidates", false),
			Logger:          res.Logger,
		}, nil
	case "cf", "u2i":
		if res.Interactions == nil {
			return nil, fmt.Errorf("cf source requires an interaction store")
		}
		return &recall.UserBasedCF{
			Interactions:     res.Interactions,
			WindowDays:       int(conv.ConfigGetInt64(m, "window_days", 0)),
			TopKSimilarUsers: int(conv.ConfigGetInt64(m, "top_k_users", 0)),
			MinSimilarity:    conv.ConfigGetFloat64(m, "min_similarity", 0),
			TopKItems:        int(conv.ConfigGetInt64(m, "top_k", 0)),
			MaxPoolUsers:     int(conv.ConfigGetInt64(m, "max_pool_users", 0)),
			Logger:           res.Logger,
		}, nil
	case "hot":
		return newHot(res, m), nil
	default:
		return nil, fmt.Errorf("unknown source type: %s", sourceType)
	}
}

func newHot(res *config.Resources, m map[string]any) *recall.Hot {
	return &recall.Hot{
		Content:           res.Content,
		Limit:             int(conv.ConfigGetInt64(m, "limit", 0)),
		ViewNorm:          conv.ConfigGetFloat64(m, "view_norm", 0),
		Jitter:            conv.ConfigGetFloat64(m, "jitter", 0),
		Seed:              conv.ConfigGetInt64(m, "seed", 0),
		ExcludeInteracted: conv.ConfigGet(m, "exclude_interacted", true),
	}
}

func BuildHotNode(res *config.Resources, cfg map[string]any) (pipeline.Node, error) {
	if res.Content == nil {
		return nil, fmt.Errorf("recall.hot requires a content index")
	}
	return newHot(res, cfg), nil
}

// BuildFilterNode 构建过滤节点。
//
//	type: filter
//	config:
//	  filters:
//	    - type: interacted
//	    - type: dismissed
//	      window_days: 30
//	    - type: blocklist
//	      item_ids: ["c9"]
//	      key: global
//	    - type: expr
//	      expr: 'item.type == "quiz" && rctx.cold_start'
func BuildFilterNode(res *config.Resources, cfg map[string]any) (pipeline.Node, error) {
	filtersConfig, ok := cfg["filters"].([]any)
	if !ok {
		return nil, fmt.Errorf("filters not found or invalid")
	}
	filters := make([]filter.Filter, 0, len(filtersConfig))
	for _, fc := range filtersConfig {
		filterMap, ok := fc.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("invalid filter config: %v", fc)
		}
		switch filterType := conv.ConfigGet(filterMap, "type", ""); filterType {
		case "interacted":
			filters = append(filters, &filter.InteractedFilter{})
		case "dismissed":
			if res.Store == nil {
				return nil, fmt.Errorf("dismissed filter requires a document store")
			}
			days := int(conv.ConfigGetInt64(filterMap, "window_days", 30))
			filters = append(filters, filter.NewDismissedFilter(filter.NewStoreAdapter(res.Store), days))
		case "blocklist":
			ids := conv.SliceAnyToString(filterMap["item_ids"])
			key := conv.ConfigGet(filterMap, "key", "")
			var store filter.BlocklistStore
			if key != "" && res.Store != nil {
				store = filter.NewStoreAdapter(res.Store)
			}
			filters = append(filters, filter.NewBlocklistFilter(ids, store, key))
		case "expr":
			f, err := filter.NewExprFilter(conv.ConfigGet(filterMap, "expr", ""), conv.ConfigGet(filterMap, "keep", false))
			if err != nil {
				return nil, fmt.Errorf("expr filter: %w", err)
			}
			filters = append(filters, f)
		default:
			return nil, fmt.Errorf("unknown filter type: %s", filterType)
		}
	}
	return &filter.FilterNode{Filters: filters, Logger: res.Logger}, nil
}

func BuildSortNode(_ *config.Resources, _ map[string]any) (pipeline.Node, error) {
	return &rerank.ScoreSortNode{}, nil
}

func BuildTopNNode(_ *config.Resources, cfg map[string]any) (pipeline.Node, error) {
	return &rerank.TopNNode{N: int(conv.ConfigGetInt64(cfg, "n", rerank.DefaultTopN))}, nil
}

func BuildDiversityNode(_ *config.Resources, cfg map[string]any) (pipeline.Node, error) {
	return &rerank.Diversity{
		LabelKey:    conv.ConfigGet(cfg, "label_key", ""),
		MaxPerGroup: int(conv.ConfigGetInt64(cfg, "max_per_group", 1)),
	}, nil
}
