// Package recstore 保存每个用户当前生效的推荐集合。
//
// 存储布局：
//   - recommendations/{userId}：指针文档（setId、generatedAt、isNew、taskId、itemCount）
//   - recommendation_sets/{userId}:{unixNano}：集合正文（不可变）
//
// 替换在一个事务内完成：写新正文、切换指针、删除旧正文。
// 读取方先读指针再读正文，因此不会看到新旧混合的集合。
package recstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/pkg/conv"
	"github.com/rushteam/reclearn/pkg/metrics"
)

var (
	// ErrStaleWrite 表示待写入的集合比当前生效的集合更旧，写入被丢弃
	ErrStaleWrite = core.NewDomainError(core.ModuleRecStore, core.ErrorCodeStale, "recstore: stale write discarded")

	// ErrNoActiveSet 表示用户还没有推荐集合
	ErrNoActiveSet = core.NewDomainError(core.ModuleRecStore, core.ErrorCodeNotFound, "recstore: no active recommendation set")
)

const (
	fieldUserID      = "userId"
	fieldSetID       = "setId"
	fieldGeneratedAt = "generatedAt"
	fieldIsNew       = "isNew"
	fieldTaskID      = "taskId"
	fieldItemCount   = "itemCount"
	fieldItems       = "items"
)

// Store 是推荐集合存储（RecommendationStore）。
type Store struct {
	docs core.DocumentStore
}

// New 创建推荐集合存储。
func New(docs core.DocumentStore) *Store {
	return &Store{docs: docs}
}

func setID(userID string, generatedAt time.Time) string {
	return userID + ":" + strconv.FormatInt(generatedAt.UnixNano(), 10)
}

// ReplaceActiveSet 用新的候选整体替换用户的推荐集合，新集合 isNew=true。
// 若当前生效的集合生成时间晚于 generatedAt，返回 ErrStaleWrite 且不做任何修改。
func (s *Store) ReplaceActiveSet(ctx context.Context, userID string, cands []*core.Candidate, generatedAt time.Time, taskID string) (*core.RecommendationSet, error) {
	if userID == "" {
		return nil, core.InvalidInput(core.ModuleRecStore, "userId is required")
	}
	items := core.ItemsFromCandidates(cands)
	newSetID := setID(userID, generatedAt)
	generatedMillis := core.TimeToMillis(generatedAt)

	err := s.docs.RunTransaction(ctx, func(tx core.Tx) error {
		oldSetID := ""
		ptr, err := tx.Get(core.CollectionRecommendations, userID)
		switch {
		case err == nil:
			if cur, _ := conv.ToInt64(ptr[fieldGeneratedAt]); cur > generatedMillis {
				return ErrStaleWrite
			}
			oldSetID, _ = conv.ToString(ptr[fieldSetID])
		case core.IsNotFound(err):
		default:
			return err
		}

		tx.Set(core.CollectionRecommendationSets, newSetID, core.Document{
			fieldUserID:      userID,
			fieldItems:       core.ItemsToDocument(items),
			fieldGeneratedAt: generatedMillis,
			fieldTaskID:      taskID,
		})
		tx.Set(core.CollectionRecommendations, userID, core.Document{
			fieldUserID:      userID,
			fieldSetID:       newSetID,
			fieldGeneratedAt: generatedMillis,
			fieldIsNew:       true,
			fieldTaskID:      taskID,
			fieldItemCount:   int64(len(items)),
		})
		if oldSetID != "" && oldSetID != newSetID {
			tx.Delete(core.CollectionRecommendationSets, oldSetID)
		}
		return nil
	})
	if err != nil {
		if core.IsStale(err) {
			metrics.StaleWrites.Inc()
			return nil, err
		}
		return nil, fmt.Errorf("replace recommendation set of %s: %w", userID, err)
	}
	return &core.RecommendationSet{
		UserID:      userID,
		Items:       items,
		GeneratedAt: core.MillisToTime(generatedMillis),
		IsNew:       true,
		TaskID:      taskID,
		SetID:       newSetID,
	}, nil
}

// GetActive 读取用户当前生效的推荐集合，没有时返回 ErrNoActiveSet。
func (s *Store) GetActive(ctx context.Context, userID string) (*core.RecommendationSet, error) {
	// 指针与正文之间可能恰好发生一次替换（旧正文已删除），重读一次指针即可
	for attempt := 0; attempt < 2; attempt++ {
		ptr, err := s.docs.Get(ctx, core.CollectionRecommendations, userID)
		if err != nil {
			if core.IsNotFound(err) {
				return nil, ErrNoActiveSet
			}
			return nil, fmt.Errorf("get recommendation pointer of %s: %w", userID, err)
		}
		id, _ := conv.ToString(ptr[fieldSetID])
		body, err := s.docs.Get(ctx, core.CollectionRecommendationSets, id)
		if err != nil {
			if core.IsNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("get recommendation set %s: %w", id, err)
		}
		isNew, _ := conv.ToBool(ptr[fieldIsNew])
		taskID, _ := conv.ToString(ptr[fieldTaskID])
		return &core.RecommendationSet{
			UserID:      userID,
			Items:       core.ItemsFromDocument(body[fieldItems]),
			GeneratedAt: core.MillisToTime(ptr[fieldGeneratedAt]),
			IsNew:       isNew,
			TaskID:      taskID,
			SetID:       id,
		}, nil
	}
	return nil, ErrNoActiveSet
}

// MarkSeen 把集合标记为已读（isNew=false），只修改指针元数据。
// setID 非空时，只有指针仍指向该集合才修改，避免把刚替换的新集合误标为已读。
func (s *Store) MarkSeen(ctx context.Context, userID, setID string) error {
	return s.docs.RunTransaction(ctx, func(tx core.Tx) error {
		ptr, err := tx.Get(core.CollectionRecommendations, userID)
		if err != nil {
			if core.IsNotFound(err) {
				return nil
			}
			return err
		}
		if cur, _ := conv.ToString(ptr[fieldSetID]); setID != "" && cur != setID {
			return nil
		}
		if isNew, _ := conv.ToBool(ptr[fieldIsNew]); !isNew {
			return nil
		}
		ptr[fieldIsNew] = false
		delete(ptr, "id")
		tx.Set(core.CollectionRecommendations, userID, ptr)
		return nil
	})
}
