package recall

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rushteam/reclearn/core"
)

// StoreInteractionAdapter 基于 core.DocumentStore 实现 core.InteractionStore。
// 交互存放在 interactions 集合，timestamp 为 unix 毫秒。
type StoreInteractionAdapter struct {
	store core.DocumentStore

	// Now 返回当前时间，测试时可替换
	Now func() time.Time
}

// NewStoreInteractionAdapter 创建交互存储适配器。
func NewStoreInteractionAdapter(s core.DocumentStore) *StoreInteractionAdapter {
	return &StoreInteractionAdapter{store: s, Now: time.Now}
}

func (a *StoreInteractionAdapter) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}

func (a *StoreInteractionAdapter) windowStart(windowDays int) int64 {
	if windowDays <= 0 {
		return 0
	}
	return a.now().AddDate(0, 0, -windowDays).UnixMilli()
}

func (a *StoreInteractionAdapter) GetRecentInteractions(ctx context.Context, userID string, windowDays, maxCount int) ([]*core.Interaction, error) {
	q := core.Query{
		OrderBy: []core.Order{{Field: "timestamp", Desc: true}},
		Limit:   maxCount,
	}.Where("userId", core.OpEq, userID)
	if start := a.windowStart(windowDays); start > 0 {
		q = q.Where("timestamp", core.OpGte, start)
	}
	docs, err := a.store.Query(ctx, core.CollectionInteractions, q)
	if err != nil {
		return nil, fmt.Errorf("query interactions of %s: %w", userID, err)
	}
	out := make([]*core.Interaction, 0, len(docs))
	for _, d := range docs {
		out = append(out, core.InteractionFromDocument("", d))
	}
	return out, nil
}

func (a *StoreInteractionAdapter) GetInteractedItemSet(ctx context.Context, userID string) (map[string]struct{}, error) {
	docs, err := a.store.Query(ctx, core.CollectionInteractions, core.Query{}.Where("userId", core.OpEq, userID))
	if err != nil {
		return nil, fmt.Errorf("query interacted items of %s: %w", userID, err)
	}
	set := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		if id, _ := d["itemId"].(string); id != "" {
			set[id] = struct{}{}
		}
	}
	return set, nil
}

// GetActiveUsers 返回窗口内有交互的用户，按最近一次交互时间倒序（相同时按 ID）。
func (a *StoreInteractionAdapter) GetActiveUsers(ctx context.Context, windowDays, limit int) ([]string, error) {
	q := core.Query{OrderBy: []core.Order{{Field: "timestamp", Desc: true}}}
	if start := a.windowStart(windowDays); start > 0 {
		q = q.Where("timestamp", core.OpGte, start)
	}
	docs, err := a.store.Query(ctx, core.CollectionInteractions, q)
	if err != nil {
		return nil, fmt.Errorf("query active users: %w", err)
	}
	seen := make(map[string]struct{})
	users := make([]string, 0)
	for _, d := range docs {
		uid, _ := d["userId"].(string)
		if uid == "" {
			continue
		}
		if _, ok := seen[uid]; ok {
			continue
		}
		seen[uid] = struct{}{}
		users = append(users, uid)
		if limit > 0 && len(users) >= limit {
			break
		}
	}
	return users, nil
}

// RecordInteraction 写入一条交互。交互通常由应用其他部分写入，这里供导入工具、沙箱接口和测试使用。
func (a *StoreInteractionAdapter) RecordInteraction(ctx context.Context, in *core.Interaction) (string, error) {
	if in.UserID == "" || in.ItemID == "" {
		return "", core.InvalidInput(core.ModuleRecall, "interaction requires userId and itemId")
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = a.now()
	}
	if err := a.store.Create(ctx, core.CollectionInteractions, in.ID, in.ToDocument()); err != nil {
		return "", fmt.Errorf("record interaction: %w", err)
	}
	return in.ID, nil
}

// StoreContentIndex 基于 core.DocumentStore 实现 core.ContentIndex（content 集合）。
type StoreContentIndex struct {
	store core.DocumentStore
}

// NewStoreContentIndex 创建内容索引适配器。
func NewStoreContentIndex(s core.DocumentStore) *StoreContentIndex {
	return &StoreContentIndex{store: s}
}

func (c *StoreContentIndex) GetItem(ctx context.Context, id string) (*core.ContentItem, error) {
	doc, err := c.store.Get(ctx, core.CollectionContent, id)
	if err != nil {
		return nil, err
	}
	return core.ContentItemFromDocument(id, doc), nil
}

func (c *StoreContentIndex) ListItems(ctx context.Context, limit int) ([]*core.ContentItem, error) {
	return c.query(ctx, core.Query{Limit: limit})
}

func (c *StoreContentIndex) TopViewed(ctx context.Context, limit int) ([]*core.ContentItem, error) {
	return c.query(ctx, core.Query{
		OrderBy: []core.Order{{Field: "viewCount", Desc: true}},
		Limit:   limit,
	})
}

func (c *StoreContentIndex) query(ctx context.Context, q core.Query) ([]*core.ContentItem, error) {
	docs, err := c.store.Query(ctx, core.CollectionContent, q)
	if err != nil {
		return nil, fmt.Errorf("query content: %w", err)
	}
	out := make([]*core.ContentItem, 0, len(docs))
	for _, d := range docs {
		out = append(out, core.ContentItemFromDocument("", d))
	}
	return out, nil
}

// PutItem 写入内容（内容发布不属于引擎职责，供导入工具和测试使用）。
func (c *StoreContentIndex) PutItem(ctx context.Context, item *core.ContentItem) error {
	if item.ID == "" {
		return core.InvalidInput(core.ModuleRecall, "content item requires id")
	}
	return c.store.Set(ctx, core.CollectionContent, item.ID, item.ToDocument())
}

var (
	_ core.InteractionStore = (*StoreInteractionAdapter)(nil)
	_ core.ContentIndex     = (*StoreContentIndex)(nil)
)
