package refresh

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/pkg/keylock"
	"github.com/rushteam/reclearn/pkg/metrics"
)

const (
	// DefaultInterval 是批量刷新周期
	DefaultInterval = 12 * time.Hour

	// DefaultWorkers 是并发重算的用户数上限
	DefaultWorkers = 20

	// DefaultUserTimeout 是单个用户单次重算的超时时间
	DefaultUserTimeout = 30 * time.Second

	// DefaultMaxBatchUsers 是单次批量刷新读取的活跃用户上限
	DefaultMaxBatchUsers = 10000
)

// Recomputer 重算单个用户的推荐集合，返回写入的条数。
type Recomputer interface {
	Recompute(ctx context.Context, userID, taskID string) (int, error)
}

// RecomputeFunc 是函数形式的 Recomputer。
type RecomputeFunc func(ctx context.Context, userID, taskID string) (int, error)

func (f RecomputeFunc) Recompute(ctx context.Context, userID, taskID string) (int, error) {
	return f(ctx, userID, taskID)
}

// UserLister 列出需要周期刷新的用户。
type UserLister interface {
	ListActiveUsers(ctx context.Context) ([]string, error)
}

// StoreUserLister 从 users 集合读取 active == true 的用户。
type StoreUserLister struct {
	Store core.DocumentStore
	Limit int
}

func (l *StoreUserLister) ListActiveUsers(ctx context.Context) ([]string, error) {
	limit := l.Limit
	if limit <= 0 {
		limit = DefaultMaxBatchUsers
	}
	docs, err := l.Store.Query(ctx, core.CollectionUsers, core.Query{Limit: limit}.
		Where("active", core.OpEq, true))
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		if id := d.ID(); id != "" {
			out = append(out, id)
		}
	}
	return out, nil
}

// BatchResult 汇总一次批量刷新。
type BatchResult struct {
	Users     int
	Completed int
	Failed    int
	Skipped   int
}

// Scheduler 是刷新调度器（Refresh Scheduler）。
//
// 两条入口：
//   - 周期批量：每 Interval 对全部活跃用户执行一次重算（RunBatch）
//   - 事件驱动：worker 从 StoreQueue 消费高/普通优先级任务
//
// 设计原则：
//   - 有界并发：批量与事件驱动共用同一个信号量，同时执行的重算不超过 Workers
//   - 用户隔离：单个用户失败只把该任务置为 error，不影响其他用户
//   - 同一用户的重算串行执行，任务通过 Claim 保证只被执行一次
//   - 暂时性错误按 Retry 重试，每次尝试单独计算 UserTimeout
//
// 推荐集合的写入由 Recomputer 负责；过期写入被拒绝视为任务完成。
type Scheduler struct {
	Queue      *StoreQueue
	Users      UserLister
	Recomputer Recomputer

	Interval    time.Duration
	Workers     int
	UserTimeout time.Duration
	Retry       RetryPolicy

	// RunOnStart 为 true 时 Serve 启动后立即执行一次批量刷新
	RunOnStart bool

	Logger zerolog.Logger

	locks   *keylock.KeyLock
	semOnce sync.Once
	sem     *semaphore.Weighted
}

// NewScheduler 创建调度器。
func NewScheduler(queue *StoreQueue, users UserLister, recomputer Recomputer) *Scheduler {
	return &Scheduler{
		Queue:       queue,
		Users:       users,
		Recomputer:  recomputer,
		Interval:    DefaultInterval,
		Workers:     DefaultWorkers,
		UserTimeout: DefaultUserTimeout,
		Retry:       DefaultRetryPolicy(),
		Logger:      zerolog.Nop(),
		locks:       keylock.New(),
	}
}

// String 用于 supervisor 日志。
func (s *Scheduler) String() string { return "refresh-scheduler" }

func (s *Scheduler) workers() int {
	if s.Workers <= 0 {
		return DefaultWorkers
	}
	return s.Workers
}

func (s *Scheduler) limiter() *semaphore.Weighted {
	s.semOnce.Do(func() { s.sem = semaphore.NewWeighted(int64(s.workers())) })
	return s.sem
}

// RunBatch 执行一次周期批量刷新。只有列出用户失败时返回错误。
func (s *Scheduler) RunBatch(ctx context.Context) (BatchResult, error) {
	users, err := s.Users.ListActiveUsers(ctx)
	if err != nil {
		return BatchResult{}, err
	}
	metrics.BatchUsers.Set(float64(len(users)))
	s.Logger.Info().Int("users", len(users)).Msg("scheduled refresh batch started")

	var completed, failed, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers())
	for _, userID := range users {
		g.Go(func() error {
			task, _, err := s.Queue.enqueue(gctx, userID, core.PriorityNormal, core.ReasonScheduled)
			if err != nil {
				failed.Add(1)
				s.Logger.Error().Err(err).Str("user_id", userID).Msg("enqueue scheduled refresh failed")
				return nil
			}
			done, err := s.processTask(gctx, task.ID)
			switch {
			case err != nil:
				failed.Add(1)
			case done == nil:
				skipped.Add(1)
			case done.Status == core.TaskCompleted:
				completed.Add(1)
			default:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := BatchResult{
		Users:     len(users),
		Completed: int(completed.Load()),
		Failed:    int(failed.Load()),
		Skipped:   int(skipped.Load()),
	}
	s.Logger.Info().
		Int("users", res.Users).
		Int("completed", res.Completed).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Msg("scheduled refresh batch finished")
	return res, nil
}

// ProcessTask 领取并执行一个任务。任务已被领取或已结束时返回 (nil, nil)。
func (s *Scheduler) ProcessTask(ctx context.Context, taskID string) (*core.RefreshTask, error) {
	return s.processTask(ctx, taskID)
}

func (s *Scheduler) processTask(ctx context.Context, taskID string) (*core.RefreshTask, error) {
	sem := s.limiter()
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer sem.Release(1)

	task, ok, err := s.Queue.Claim(ctx, taskID)
	if err != nil {
		s.Logger.Error().Err(err).Str("task_id", taskID).Msg("claim refresh task failed")
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	if s.locks == nil {
		s.locks = keylock.New()
	}
	unlock := s.locks.Lock(task.UserID)
	defer unlock()

	logger := s.Logger.With().
		Str("task_id", task.ID).
		Str("user_id", task.UserID).
		Str("reason", task.Reason).
		Logger()

	timeout := s.UserTimeout
	if timeout <= 0 {
		timeout = DefaultUserTimeout
	}

	var count int
	attempts, err := s.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		actx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		n, err := s.Recomputer.Recompute(actx, task.UserID, task.ID)
		count = n
		if err != nil && core.IsTransient(err) {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("refresh attempt failed")
		}
		return err
	})

	// 关闭阶段也要落下任务终态
	wctx := ctx
	if ctx.Err() != nil {
		wctx = context.WithoutCancel(ctx)
	}

	switch {
	case err == nil:
	case core.IsStale(err):
		logger.Info().Msg("newer recommendation set already active, stale write discarded")
		err = nil
	default:
		metrics.RefreshTasks.WithLabelValues(string(task.Priority), string(core.TaskError)).Inc()
		logger.Error().Err(err).Int("attempt", attempts).Msg("refresh failed, previous set kept")
		if ferr := s.Queue.Fail(wctx, task, err, attempts); ferr != nil {
			logger.Error().Err(ferr).Msg("record refresh failure")
		}
		return task, nil
	}

	metrics.RefreshTasks.WithLabelValues(string(task.Priority), string(core.TaskCompleted)).Inc()
	if cerr := s.Queue.Complete(wctx, task, count, attempts); cerr != nil {
		logger.Error().Err(cerr).Msg("record refresh completion")
		return task, cerr
	}
	logger.Debug().Int("count", count).Int("attempt", attempts).Msg("refresh completed")
	return task, nil
}

// Serve 运行 worker 与周期触发器直到 ctx 取消，实现 suture.Service。
func (s *Scheduler) Serve(ctx context.Context) error {
	if n, err := s.Queue.Recover(ctx); err != nil {
		s.Logger.Warn().Err(err).Msg("recover pending refresh tasks")
	} else if n > 0 {
		s.Logger.Info().Int("tasks", n).Msg("pending refresh tasks recovered")
	}

	var wg sync.WaitGroup
	for i := 0; i < s.workers(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.work(ctx)
		}()
	}

	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if s.RunOnStart {
		s.runBatchLogged(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-ticker.C:
			s.runBatchLogged(ctx)
		}
	}
}

func (s *Scheduler) runBatchLogged(ctx context.Context) {
	if _, err := s.RunBatch(ctx); err != nil && ctx.Err() == nil {
		s.Logger.Error().Err(err).Msg("scheduled refresh batch failed")
	}
}

func (s *Scheduler) work(ctx context.Context) {
	for {
		id, err := s.Queue.Next(ctx)
		if err != nil {
			return
		}
		_, _ = s.processTask(ctx, id)
	}
}
