// Package refresh 调度用户推荐集合的重算：固定周期批量刷新活跃用户，
// 以及由反馈阈值等事件触发的高优先级刷新。
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rushteam/reclearn/core"
)

// DefaultDedupeWindow 是相同 (userId, reason) 的待处理任务去重窗口。
const DefaultDedupeWindow = time.Hour

// StoreQueue 是持久化的刷新任务队列。
//
// 任务文档保存在 refresh_tasks 集合，状态 pending -> running -> completed / error；
// 待执行任务 ID 通过两个缓冲 channel 分发，high 优先。
//
// 幂等：DedupeWindow 内已有相同 (userId, reason) 的 pending 任务时，直接返回已有任务 ID。
// channel 写满时任务保持 pending，由 Recover 在之后重新分发；
// 进程退出时仍为 running 的任务也由 Recover 退回 pending。
type StoreQueue struct {
	store core.DocumentStore

	DedupeWindow time.Duration

	// Now 返回当前时间，测试时可替换
	Now func() time.Time

	Logger zerolog.Logger

	mu     sync.Mutex
	high   chan string
	normal chan string
}

// NewStoreQueue 创建队列，buffer 是每个优先级 channel 的容量（<=0 使用 1024）。
func NewStoreQueue(store core.DocumentStore, buffer int) *StoreQueue {
	if buffer <= 0 {
		buffer = 1024
	}
	return &StoreQueue{
		store:        store,
		DedupeWindow: DefaultDedupeWindow,
		Now:          time.Now,
		Logger:       zerolog.Nop(),
		high:         make(chan string, buffer),
		normal:       make(chan string, buffer),
	}
}

func (q *StoreQueue) now() time.Time {
	if q.Now == nil {
		return time.Now()
	}
	return q.Now()
}

// EnqueueRefresh 创建（或复用）一个刷新任务并分发给 worker，返回任务 ID。
func (q *StoreQueue) EnqueueRefresh(ctx context.Context, userID string, priority core.Priority, reason string) (string, error) {
	task, created, err := q.enqueue(ctx, userID, priority, reason)
	if err != nil {
		return "", err
	}
	if created {
		q.dispatch(task)
	}
	return task.ID, nil
}

// enqueue 创建或复用任务但不分发，供批量刷新直接执行。
func (q *StoreQueue) enqueue(ctx context.Context, userID string, priority core.Priority, reason string) (*core.RefreshTask, bool, error) {
	if userID == "" {
		return nil, false, core.InvalidInput(core.ModuleRefresh, "userId is required")
	}
	if priority == "" {
		priority = core.PriorityNormal
	}
	if !priority.Valid() {
		return nil, false, core.InvalidInput(core.ModuleRefresh, "unknown priority %q", priority)
	}
	if reason == "" {
		reason = core.ReasonManual
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	window := q.DedupeWindow
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	existing, err := q.store.Query(ctx, core.CollectionRefreshTasks, core.Query{
		OrderBy: []core.Order{{Field: "createdAt", Desc: true}},
		Limit:   1,
	}.Where("userId", core.OpEq, userID).
		Where("reason", core.OpEq, reason).
		Where("status", core.OpEq, string(core.TaskPending)).
		Where("createdAt", core.OpGte, core.TimeToMillis(now.Add(-window))))
	if err != nil {
		return nil, false, fmt.Errorf("query pending tasks: %w", err)
	}
	if len(existing) > 0 {
		return core.RefreshTaskFromDocument("", existing[0]), false, nil
	}

	task := &core.RefreshTask{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    core.TaskPending,
		Priority:  priority,
		Reason:    reason,
		CreatedAt: now,
	}
	if err := q.store.Create(ctx, core.CollectionRefreshTasks, task.ID, task.ToDocument()); err != nil {
		return nil, false, fmt.Errorf("create refresh task: %w", err)
	}
	return task, true, nil
}

func (q *StoreQueue) dispatch(task *core.RefreshTask) {
	ch := q.normal
	if task.Priority == core.PriorityHigh {
		ch = q.high
	}
	select {
	case ch <- task.ID:
	default:
		q.Logger.Warn().Str("task_id", task.ID).Str("user_id", task.UserID).Msg("refresh queue full, task stays pending")
	}
}

// Next 阻塞直到有任务 ID 可取或 ctx 取消；high 优先于 normal。
func (q *StoreQueue) Next(ctx context.Context) (string, error) {
	select {
	case id := <-q.high:
		return id, nil
	default:
	}
	select {
	case id := <-q.high:
		return id, nil
	case id := <-q.normal:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Get 读取任务。
func (q *StoreQueue) Get(ctx context.Context, taskID string) (*core.RefreshTask, error) {
	doc, err := q.store.Get(ctx, core.CollectionRefreshTasks, taskID)
	if err != nil {
		return nil, fmt.Errorf("get refresh task %s: %w", taskID, err)
	}
	return core.RefreshTaskFromDocument(taskID, doc), nil
}

// Claim 原子地把 pending 任务改为 running；任务已被其他 worker 领取或已结束时返回 false。
func (q *StoreQueue) Claim(ctx context.Context, taskID string) (*core.RefreshTask, bool, error) {
	var claimed *core.RefreshTask
	err := q.store.RunTransaction(ctx, func(tx core.Tx) error {
		claimed = nil
		doc, err := tx.Get(core.CollectionRefreshTasks, taskID)
		if err != nil {
			return err
		}
		task := core.RefreshTaskFromDocument(taskID, doc)
		if task.Status != core.TaskPending {
			return nil
		}
		task.Status = core.TaskRunning
		tx.Set(core.CollectionRefreshTasks, taskID, task.ToDocument())
		claimed = task
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("claim refresh task %s: %w", taskID, err)
	}
	return claimed, claimed != nil, nil
}

// Complete 把任务标记为 completed 并记录推荐条数。
func (q *StoreQueue) Complete(ctx context.Context, task *core.RefreshTask, count, attempts int) error {
	task.Status = core.TaskCompleted
	task.CompletedAt = q.now()
	task.RecommendationCount = count
	task.Attempts = attempts
	task.Error = ""
	return q.finish(ctx, task)
}

// Fail 把任务标记为 error 并记录失败信息。
func (q *StoreQueue) Fail(ctx context.Context, task *core.RefreshTask, cause error, attempts int) error {
	task.Status = core.TaskError
	task.CompletedAt = q.now()
	task.Attempts = attempts
	task.Error = cause.Error()
	return q.finish(ctx, task)
}

func (q *StoreQueue) finish(ctx context.Context, task *core.RefreshTask) error {
	if err := q.store.Set(ctx, core.CollectionRefreshTasks, task.ID, task.ToDocument()); err != nil {
		return fmt.Errorf("finish refresh task %s: %w", task.ID, err)
	}
	return nil
}

// Recover 在调度器启动时调用：先把遗留的 running 任务（上次进程中途退出）退回 pending，
// 再重新分发所有 pending 任务，返回分发数量。多个调度器进程共享同一存储时不应调用。
func (q *StoreQueue) Recover(ctx context.Context) (int, error) {
	running, err := q.store.Query(ctx, core.CollectionRefreshTasks, core.Query{}.
		Where("status", core.OpEq, string(core.TaskRunning)))
	if err != nil {
		return 0, fmt.Errorf("query running tasks: %w", err)
	}
	for _, d := range running {
		task := core.RefreshTaskFromDocument("", d)
		if err := q.release(ctx, task.ID); err != nil {
			return 0, err
		}
		q.Logger.Info().Str("task_id", task.ID).Str("user_id", task.UserID).Msg("interrupted refresh task returned to pending")
	}

	docs, err := q.store.Query(ctx, core.CollectionRefreshTasks, core.Query{
		OrderBy: []core.Order{{Field: "createdAt"}},
	}.Where("status", core.OpEq, string(core.TaskPending)))
	if err != nil {
		return 0, fmt.Errorf("query pending tasks: %w", err)
	}
	for _, d := range docs {
		q.dispatch(core.RefreshTaskFromDocument("", d))
	}
	return len(docs), nil
}

// release 把仍处于 running 的任务改回 pending。
func (q *StoreQueue) release(ctx context.Context, taskID string) error {
	err := q.store.RunTransaction(ctx, func(tx core.Tx) error {
		doc, err := tx.Get(core.CollectionRefreshTasks, taskID)
		if err != nil {
			return err
		}
		task := core.RefreshTaskFromDocument(taskID, doc)
		if task.Status != core.TaskRunning {
			return nil
		}
		task.Status = core.TaskPending
		tx.Set(core.CollectionRefreshTasks, taskID, task.ToDocument())
		return nil
	})
	if err != nil {
		return fmt.Errorf("release refresh task %s: %w", taskID, err)
	}
	return nil
}
