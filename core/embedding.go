package core

import "context"

// Embedder 是向量化服务的领域接口。
//
// 设计原则：
//   - 定义在领域层（core），由基础设施层（service）实现
//   - 不绑定具体模型；失败时返回 UNAVAILABLE 类错误，调用方据此决定是否重试
//
// 实现：
//   - service.OpenAIEmbedder 调用 OpenAI Embeddings API
//   - service.BreakerEmbedder 为任意 Embedder 增加熔断
//   - service.CachedEmbedder 为任意 Embedder 增加 TTL 缓存
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// EmbedderFunc 将函数适配为 Embedder。
type EmbedderFunc func(ctx context.Context, text string) ([]float64, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float64, error) {
	return f(ctx, text)
}

// ErrEmbeddingUnavailable 表示没有配置向量化服务或服务暂不可用。
var ErrEmbeddingUnavailable = NewDomainError(ModuleEmbedding, ErrorCodeUnavailable, "embedding: service unavailable")

// ContentIndex 是可推荐内容的只读索引。
type ContentIndex interface {
	// GetItem 读取单个内容，不存在返回 ErrStoreNotFound
	GetItem(ctx context.Context, id string) (*ContentItem, error)

	// ListItems 返回可检索的候选内容，最多 limit 个（<=0 不限）
	ListItems(ctx context.Context, limit int) ([]*ContentItem, error)

	// TopViewed 按浏览量降序返回最多 limit 个内容
	TopViewed(ctx context.Context, limit int) ([]*ContentItem, error)
}
