package core

import (
	"time"

	"github.com/rushteam/reclearn/pkg/conv"
)

// RecommendedItem 是推荐集合中的一项。
type RecommendedItem struct {
	ItemID      string   `json:"itemId"`
	Score       float64  `json:"score"`
	Type        ItemType `json:"type"`
	MatchReason []string `json:"matchReason"`
}

// RecommendationSet 是用户当前生效的推荐集合。每次重算整体替换，不做局部修改。
type RecommendationSet struct {
	UserID      string            `json:"userId"`
	Items       []RecommendedItem `json:"items"`
	GeneratedAt time.Time         `json:"generatedAt"`
	IsNew       bool              `json:"isNew"`
	TaskID      string            `json:"taskId,omitempty"`

	// SetID 是正文文档 ID，用于 MarkSeen 时确认仍是同一个集合
	SetID string `json:"setId,omitempty"`
}

// ItemsFromCandidates 将候选按当前顺序转为推荐项。
func ItemsFromCandidates(cands []*Candidate) []RecommendedItem {
	out := make([]RecommendedItem, 0, len(cands))
	for _, c := range cands {
		if c == nil {
			continue
		}
		out = append(out, RecommendedItem{
			ItemID:      c.ID,
			Score:       c.Score,
			Type:        c.Type,
			MatchReason: append([]string(nil), c.MatchReason...),
		})
	}
	return out
}

// ItemsToDocument 编码推荐项列表，用于集合正文文档。
func ItemsToDocument(items []RecommendedItem) []any {
	out := make([]any, 0, len(items))
	for _, it := range items {
		out = append(out, map[string]any{
			"itemId":      it.ItemID,
			"score":       it.Score,
			"type":        string(it.Type),
			"matchReason": conv.StringsToAny(it.MatchReason),
		})
	}
	return out
}

// ItemsFromDocument 解码推荐项列表，无法识别的元素被跳过。
func ItemsFromDocument(v any) []RecommendedItem {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]RecommendedItem, 0, len(raw))
	for _, e := range raw {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		id, _ := conv.ToString(m["itemId"])
		if id == "" {
			continue
		}
		score, _ := conv.ToFloat64(m["score"])
		typ, _ := conv.ToString(m["type"])
		out = append(out, RecommendedItem{
			ItemID:      id,
			Score:       score,
			Type:        ItemType(typ),
			MatchReason: conv.SliceAnyToString(m["matchReason"]),
		})
	}
	return out
}
