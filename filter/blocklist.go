package filter

import (
	"context"

	"github.com/rushteam/reclearn/core"
)

const paramBlocklistPrefix = "filter.blocklist:"

// BlocklistFilter 是屏蔽列表过滤器，过滤掉运营下线或屏蔽的内容。
type BlocklistFilter struct {
	// ItemIDs 是内存中的屏蔽内容 ID 列表
	ItemIDs []string

	// Store 用于从存储中读取屏蔽列表（可选）
	Store BlocklistStore

	// Key 是 Store 中的屏蔽列表 key（可选）
	Key string
}

// BlocklistStore 是屏蔽列表存储接口。
type BlocklistStore interface {
	// GetBlocklist 获取屏蔽内容 ID 列表
	GetBlocklist(ctx context.Context, key string) ([]string, error)
}

// NewBlocklistFilter 创建一个屏蔽列表过滤器。
func NewBlocklistFilter(itemIDs []string, store BlocklistStore, key string) *BlocklistFilter {
	return &BlocklistFilter{
		ItemIDs: itemIDs,
		Store:   store,
		Key:     key,
	}
}

func (f *BlocklistFilter) Name() string {
	return "filter.blocklist"
}

// Prepare 每次请求读取一次 Store 中的屏蔽列表。
func (f *BlocklistFilter) Prepare(ctx context.Context, rctx *core.RecommendContext) error {
	if f.Store == nil || f.Key == "" || rctx == nil {
		return nil
	}
	ids, err := f.Store.GetBlocklist(ctx, f.Key)
	if err != nil {
		return err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	if rctx.Params == nil {
		rctx.Params = make(map[string]any)
	}
	rctx.Params[paramBlocklistPrefix+f.Key] = set
	return nil
}

func (f *BlocklistFilter) ShouldFilter(
	_ context.Context,
	rctx *core.RecommendContext,
	item *core.Candidate,
) (bool, error) {
	if item == nil {
		return true, nil
	}

	// 从内存列表检查
	for _, id := range f.ItemIDs {
		if item.ID == id {
			return true, nil
		}
	}

	// 从 Prepare 加载的列表检查
	if rctx != nil && f.Key != "" {
		if set, ok := rctx.Params[paramBlocklistPrefix+f.Key].(map[string]struct{}); ok {
			if _, hit := set[item.ID]; hit {
				return true, nil
			}
		}
	}
	return false, nil
}
