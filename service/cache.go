package service

import (
	"context"
	"sync"
	"time"

	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/pkg/metrics"
)

// CachedEmbedder 是内存向量缓存，按文本缓存向量，采用 TTL + 近似 LRU 淘汰。
// 同一内容在多次重算中只调用一次向量化服务。错误结果不缓存。
type CachedEmbedder struct {
	next core.Embedder

	mu      sync.Mutex
	entries map[string]*cacheEntry
	maxSize int
	ttl     time.Duration

	// now 返回当前时间，测试时可替换
	now func() time.Time
}

type cacheEntry struct {
	vec        []float64
	expireTime time.Time
	accessTime time.Time
}

// NewCachedEmbedder 创建向量缓存。maxSize <= 0 使用 10000，ttl <= 0 使用 24h。
func NewCachedEmbedder(next core.Embedder, maxSize int, ttl time.Duration) *CachedEmbedder {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedEmbedder{
		next:    next,
		entries: make(map[string]*cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Embed 实现 core.Embedder。
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	now := c.now()
	c.mu.Lock()
	if e, ok := c.entries[text]; ok {
		if now.Before(e.expireTime) {
			e.accessTime = now
			vec := e.vec
			c.mu.Unlock()
			metrics.EmbeddingCalls.WithLabelValues("hit").Inc()
			return append([]float64(nil), vec...), nil
		}
		delete(c.entries, text)
	}
	c.mu.Unlock()

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxSize {
		c.evictLocked(now)
	}
	c.entries[text] = &cacheEntry{
		vec:        append([]float64(nil), vec...),
		expireTime: now.Add(c.ttl),
		accessTime: now,
	}
	return vec, nil
}

// evictLocked 先清理过期项，仍然满则淘汰最久未访问的一项。
func (c *CachedEmbedder) evictLocked(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expireTime) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) < c.maxSize {
		return
	}
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.accessTime.Before(oldest) {
			oldestKey, oldest, found = k, e.accessTime, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}

// Len 返回缓存条数。
func (c *CachedEmbedder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

var _ core.Embedder = (*CachedEmbedder)(nil)
