// Package service 提供 core.Embedder 的基础设施实现：OpenAI 兼容的向量化客户端、
// 熔断包装与内存缓存。
package service

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/reclearn/core"
)

// 向量化服务提供方。
const (
	ProviderNone   = "none"
	ProviderOpenAI = "openai"
)

// Config 是向量化服务配置。
type Config struct {
	Provider  string        `koanf:"provider" validate:"omitempty,oneof=none openai"`
	APIKey    string        `koanf:"api_key"`
	BaseURL   string        `koanf:"base_url" validate:"omitempty,url"`
	Model     string        `koanf:"model"`
	Timeout   time.Duration `koanf:"timeout"`
	RateLimit float64       `koanf:"rate_limit"` // 每秒请求数，0 不限
	RateBurst int           `koanf:"rate_burst"`
	CacheSize int           `koanf:"cache_size"`
	CacheTTL  time.Duration `koanf:"cache_ttl"`
	Breaker   BreakerConfig `koanf:"breaker"`
}

// DefaultConfig 返回默认配置：不启用向量化服务，只使用内容自带向量。
func DefaultConfig() Config {
	return Config{
		Provider:  ProviderNone,
		Model:     DefaultEmbeddingModel,
		Timeout:   10 * time.Second,
		RateLimit: 5,
		RateBurst: 10,
		CacheSize: 10000,
		CacheTTL:  24 * time.Hour,
		Breaker:   DefaultBreakerConfig(),
	}
}

// NewEmbedder 根据配置创建 Embedder（工厂方法）。
// provider 为 none 时返回 nil，召回只使用内容自带的向量。
// openai 时组装：缓存 -> 熔断 -> OpenAI 客户端。
func NewEmbedder(cfg Config, logger zerolog.Logger) (core.Embedder, error) {
	switch cfg.Provider {
	case "", ProviderNone:
		return nil, nil
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedding: api_key is required for provider %s", cfg.Provider)
		}
		opts := []OpenAIOption{
			WithOpenAITimeout(cfg.Timeout),
			WithOpenAIRateLimit(cfg.RateLimit, cfg.RateBurst),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, WithOpenAIBaseURL(cfg.BaseURL))
		}
		if cfg.Model != "" {
			opts = append(opts, WithOpenAIModel(cfg.Model))
		}
		client, err := NewOpenAIEmbedder(cfg.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		var e core.Embedder = client
		e = NewBreakerEmbedder(e, cfg.Breaker, logger)
		return NewCachedEmbedder(e, cfg.CacheSize, cfg.CacheTTL), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}
