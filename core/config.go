package core

import "time"

// RecallConfig 是召回相关的配置接口，用于提供默认值。
type RecallConfig interface {
	// DefaultWindowDays 返回交互窗口天数
	DefaultWindowDays() int

	// DefaultSampleSize 返回内容召回采样的最近交互数
	DefaultSampleSize() int

	// DefaultTopKSimilarUsers 返回默认的 TopK 相似用户数
	DefaultTopKSimilarUsers() int

	// DefaultMinSimilarity 返回相似用户的最小 Jaccard 相似度（严格大于）
	DefaultMinSimilarity() float64

	// DefaultTopKItems 返回单个召回源默认的 TopK 物品数
	DefaultTopKItems() int

	// DefaultMinContentScore 返回内容召回的最低分（严格大于）
	DefaultMinContentScore() float64

	// DefaultFusionTopN 返回融合后保留的条数
	DefaultFusionTopN() int

	// DefaultTimeout 返回单个召回源的默认超时时间
	DefaultTimeout() time.Duration
}

// DefaultRecallConfig 是默认的召回配置实现。
type DefaultRecallConfig struct{}

func (c *DefaultRecallConfig) DefaultWindowDays() int {
	return 30
}

func (c *DefaultRecallConfig) DefaultSampleSize() int {
	return 10
}

func (c *DefaultRecallConfig) DefaultTopKSimilarUsers() int {
	return 10
}

func (c *DefaultRecallConfig) DefaultMinSimilarity() float64 {
	return 0.1
}

func (c *DefaultRecallConfig) DefaultTopKItems() int {
	return 20
}

func (c *DefaultRecallConfig) DefaultMinContentScore() float64 {
	return 0.5
}

func (c *DefaultRecallConfig) DefaultFusionTopN() int {
	return 30
}

func (c *DefaultRecallConfig) DefaultTimeout() time.Duration {
	return 10 * time.Second
}
