package core

import (
	"context"
	"time"

	"github.com/rushteam/reclearn/pkg/conv"
)

// Action 是用户对内容的行为。
type Action string

const (
	ActionView     Action = "view"
	ActionComplete Action = "complete"
	ActionLike     Action = "like"
	ActionBookmark Action = "bookmark"
	ActionEnroll   Action = "enroll"
)

// Weight 返回行为权重：complete=1.0, enroll=0.8, like=0.6, bookmark=0.4, view=0.2，其余 0.1。
func (a Action) Weight() float64 {
	switch a {
	case ActionComplete:
		return 1.0
	case ActionEnroll:
		return 0.8
	case ActionLike:
		return 0.6
	case ActionBookmark:
		return 0.4
	case ActionView:
		return 0.2
	default:
		return 0.1
	}
}

// Interaction 是一次用户行为，写入后不可变。
type Interaction struct {
	ID        string
	UserID    string
	ItemID    string
	ItemType  ItemType
	Action    Action
	Timestamp time.Time
}

func (in *Interaction) ToDocument() Document {
	return Document{
		"userId":    in.UserID,
		"itemId":    in.ItemID,
		"itemType":  string(in.ItemType),
		"action":    string(in.Action),
		"timestamp": TimeToMillis(in.Timestamp),
	}
}

func InteractionFromDocument(id string, doc Document) *Interaction {
	user, _ := conv.ToString(doc["userId"])
	item, _ := conv.ToString(doc["itemId"])
	typ, _ := conv.ToString(doc["itemType"])
	action, _ := conv.ToString(doc["action"])
	if id == "" {
		id = doc.ID()
	}
	return &Interaction{
		ID:        id,
		UserID:    user,
		ItemID:    item,
		ItemType:  ItemType(typ),
		Action:    Action(action),
		Timestamp: MillisToTime(doc["timestamp"]),
	}
}

// InteractionStore 是交互记录的只读接口。
//
// 交互由应用其他部分写入（完成课程、论坛活动等），推荐引擎只读取。
type InteractionStore interface {
	// GetRecentInteractions 返回窗口内最近的交互，按时间倒序，最多 maxCount 条（<=0 不限）
	GetRecentInteractions(ctx context.Context, userID string, windowDays, maxCount int) ([]*Interaction, error)

	// GetInteractedItemSet 返回用户交互过的全部物品 ID
	GetInteractedItemSet(ctx context.Context, userID string) (map[string]struct{}, error)

	// GetActiveUsers 返回窗口内至少有一次交互的用户，最多 limit 个（<=0 不限）
	GetActiveUsers(ctx context.Context, windowDays, limit int) ([]string, error)
}

// TimeToMillis 将时间编码为 unix 毫秒，零值编码为 0。
func TimeToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// MillisToTime 解码 unix 毫秒，无法解析或为 0 时返回零值时间。
func MillisToTime(v any) time.Time {
	ms, ok := conv.ToInt64(v)
	if !ok || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
