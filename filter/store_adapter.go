package filter

import (
	"context"
	"fmt"
	"time"

	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/pkg/conv"
)

// StoreAdapter 将 core.DocumentStore 适配为过滤器所需的存储接口。
//   - 屏蔽列表：blocklists/{key}，字段 itemIds
//   - 用户不感兴趣：feedback 集合中 action == dismiss 的记录
type StoreAdapter struct {
	store core.DocumentStore
}

// NewStoreAdapter 创建一个 core.DocumentStore 适配器。
func NewStoreAdapter(s core.DocumentStore) *StoreAdapter {
	return &StoreAdapter{store: s}
}

// GetBlocklist 从 Store 读取屏蔽列表，文档不存在时返回空列表。
func (a *StoreAdapter) GetBlocklist(ctx context.Context, key string) ([]string, error) {
	doc, err := a.store.Get(ctx, core.CollectionBlocklists, key)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get blocklist %s: %w", key, err)
	}
	return conv.SliceAnyToString(doc["itemIds"]), nil
}

// GetDismissedItems 返回用户在 since 之后标记为不感兴趣的内容 ID。
func (a *StoreAdapter) GetDismissedItems(ctx context.Context, userID string, since time.Time) ([]string, error) {
	q := core.Query{}.
		Where("userId", core.OpEq, userID).
		Where("action", core.OpEq, string(core.FeedbackDismiss))
	if !since.IsZero() {
		q = q.Where("timestamp", core.OpGte, core.TimeToMillis(since))
	}
	docs, err := a.store.Query(ctx, core.CollectionFeedback, q)
	if err != nil {
		return nil, fmt.Errorf("query dismissed items of %s: %w", userID, err)
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		if id, _ := conv.ToString(d["recommendationId"]); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

var (
	_ BlocklistStore = (*StoreAdapter)(nil)
	_ DismissedStore = (*StoreAdapter)(nil)
)
