package engine

import (
	"time"

	"github.com/rushteam/reclearn/core"
)

// Options 是推荐重算的调参项，零值字段使用 core.DefaultRecallConfig 的默认值。
type Options struct {
	WindowDays       int           `koanf:"window_days" validate:"min=0"`
	SampleSize       int           `koanf:"sample_size" validate:"min=0"`
	MinContentScore  float64       `koanf:"min_content_score" validate:"min=0"`
	TopKItems        int           `koanf:"top_k_items" validate:"min=0"`
	TopKSimilarUsers int           `koanf:"top_k_similar_users" validate:"min=0"`
	MinSimilarity    float64       `koanf:"min_similarity" validate:"min=0,max=1"`
	MaxPoolUsers     int           `koanf:"max_pool_users" validate:"min=0"`
	FusionTopN       int           `koanf:"fusion_top_n" validate:"min=0"`
	SourceTimeout    time.Duration `koanf:"source_timeout"`

	// EmbedCandidates 为 true 时，没有存量向量的候选内容也调用向量化服务
	EmbedCandidates bool `koanf:"embed_candidates"`

	PopularLimit  int     `koanf:"popular_limit" validate:"min=0"`
	PopularJitter float64 `koanf:"popular_jitter" validate:"min=0,max=1"`
	PopularSeed   int64   `koanf:"popular_seed"`

	// DismissedWindowDays 是 dismiss 反馈的屏蔽天数，0 表示不过滤
	DismissedWindowDays int `koanf:"dismissed_window_days" validate:"min=0"`
}

// DefaultOptions 返回默认调参。
func DefaultOptions() Options {
	d := &core.DefaultRecallConfig{}
	return Options{
		WindowDays:          d.DefaultWindowDays(),
		SampleSize:          d.DefaultSampleSize(),
		MinContentScore:     d.DefaultMinContentScore(),
		TopKItems:           d.DefaultTopKItems(),
		TopKSimilarUsers:    d.DefaultTopKSimilarUsers(),
		MinSimilarity:       d.DefaultMinSimilarity(),
		MaxPoolUsers:        500,
		FusionTopN:          d.DefaultFusionTopN(),
		SourceTimeout:       d.DefaultTimeout(),
		PopularLimit:        20,
		DismissedWindowDays: 30,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.WindowDays <= 0 {
		o.WindowDays = d.WindowDays
	}
	if o.SampleSize <= 0 {
		o.SampleSize = d.SampleSize
	}
	if o.MinContentScore <= 0 {
		o.MinContentScore = d.MinContentScore
	}
	if o.TopKItems <= 0 {
		o.TopKItems = d.TopKItems
	}
	if o.TopKSimilarUsers <= 0 {
		o.TopKSimilarUsers = d.TopKSimilarUsers
	}
	if o.MinSimilarity <= 0 {
		o.MinSimilarity = d.MinSimilarity
	}
	if o.MaxPoolUsers <= 0 {
		o.MaxPoolUsers = d.MaxPoolUsers
	}
	if o.FusionTopN <= 0 {
		o.FusionTopN = d.FusionTopN
	}
	if o.PopularLimit <= 0 {
		o.PopularLimit = d.PopularLimit
	}
	return o
}
