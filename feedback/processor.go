// Package feedback 处理用户对推荐的反馈：记录反馈、累计推荐质量指标、
// 更新交互画像，并在短时间内反馈足够多时请求高优先级重算。
package feedback

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/pkg/conv"
	"github.com/rushteam/reclearn/pkg/keylock"
	"github.com/rushteam/reclearn/pkg/metrics"
)

const (
	// DefaultThreshold 是触发重算的反馈数量阈值
	DefaultThreshold = 10

	// DefaultWindow 是统计反馈数量的滑动窗口
	DefaultWindow = 24 * time.Hour
)

// Enqueuer 是刷新队列的写入接口，要求对相同 (userId, reason) 幂等。
type Enqueuer interface {
	EnqueueRefresh(ctx context.Context, userID string, priority core.Priority, reason string) (string, error)
}

// Processor 是反馈处理器（Feedback Processor）。
//
// 算法流程（同一用户严格串行）：
//  1. 追加写入反馈记录（processed=false）
//  2. 指标：按处理时刻定位日/周/月统计桶，桶文档不存在时以 0 计数创建后累加
//  3. 画像：按被推荐内容的类型、标签，以及反馈发生的小时、星期累加
//  4. 触发：统计最近 Window 内的反馈数，达到 Threshold 时请求高优先级重算
//  5. 标记 processed=true
//
// 步骤 2、3 在事务内读-改-写，并同时写入该步骤的完成标记。
// 被推荐内容不存在时只跳过类型与标签的累加。
type Processor struct {
	Store   core.DocumentStore
	Content core.ContentIndex
	Refresh Enqueuer

	Threshold int
	Window    time.Duration

	// Location 是统计桶与画像小时/星期使用的时区，为空时使用 UTC
	Location *time.Location

	// Now 返回当前时间，测试时可替换
	Now func() time.Time

	Logger zerolog.Logger

	locks *keylock.KeyLock
}

// NewProcessor 创建反馈处理器。
func NewProcessor(store core.DocumentStore, content core.ContentIndex, refresh Enqueuer) *Processor {
	return &Processor{
		Store:     store,
		Content:   content,
		Refresh:   refresh,
		Threshold: DefaultThreshold,
		Window:    DefaultWindow,
		Location:  time.UTC,
		Now:       time.Now,
		Logger:    zerolog.Nop(),
		locks:     keylock.New(),
	}
}

func (p *Processor) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

func (p *Processor) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// Validate 校验反馈字段。
func Validate(fb *core.Feedback) error {
	if fb == nil {
		return core.InvalidInput(core.ModuleFeedback, "feedback is required")
	}
	if fb.UserID == "" {
		return core.InvalidInput(core.ModuleFeedback, "userId is required")
	}
	if fb.RecommendationID == "" {
		return core.InvalidInput(core.ModuleFeedback, "recommendationId is required")
	}
	if !fb.Action.Valid() {
		return core.InvalidInput(core.ModuleFeedback, "unknown feedback action %q", fb.Action)
	}
	return nil
}

// 反馈记录上的处理进度字段。
const (
	// FieldProcessed 为 true 表示全部步骤已完成，重复投递直接忽略
	FieldProcessed = "processed"

	stepMetricsPrefix = "metrics_"
	stepProfile       = "profile"
)

func stepField(step string) string { return "applied_" + step }

// Process 处理一次反馈。
//
// 每个计数步骤与反馈记录上的完成标记在同一事务中提交。某一步失败后重新投递同一反馈 ID，
// 只补做未完成的步骤，已完成的步骤不会重复计数。
func (p *Processor) Process(ctx context.Context, fb *core.Feedback) error {
	if err := Validate(fb); err != nil {
		return err
	}
	if p.locks == nil {
		p.locks = keylock.New()
	}
	unlock := p.locks.Lock(fb.UserID)
	defer unlock()

	if fb.ID == "" {
		fb.ID = uuid.NewString()
	}
	if fb.Timestamp.IsZero() {
		fb.Timestamp = p.now()
	}
	logger := p.Logger.With().Str("user_id", fb.UserID).Str("feedback_id", fb.ID).Logger()

	// 1. 反馈记录
	doc := fb.ToDocument()
	doc[FieldProcessed] = false
	err := p.Store.Create(ctx, core.CollectionFeedback, fb.ID, doc)
	switch {
	case err == nil:
		metrics.FeedbackEvents.WithLabelValues(string(fb.Action)).Inc()
	case core.IsConflict(err):
		stored, err := p.Store.Get(ctx, core.CollectionFeedback, fb.ID)
		if err != nil {
			return fmt.Errorf("load feedback %s: %w", fb.ID, err)
		}
		if done, ok := conv.ToBool(stored[FieldProcessed]); !ok || done {
			logger.Info().Msg("duplicate feedback ignored")
			return nil
		}
		// 以已记录的反馈为准继续未完成的步骤
		userID := fb.UserID
		*fb = *core.FeedbackFromDocument(fb.ID, stored)
		if fb.UserID != userID {
			return core.InvalidInput(core.ModuleFeedback, "feedback %s belongs to another user", fb.ID)
		}
		logger.Info().Msg("resuming partially processed feedback")
	default:
		return fmt.Errorf("persist feedback: %w", err)
	}

	// 2. 指标
	for _, period := range core.Periods {
		if err := p.applyMetrics(ctx, fb, period); err != nil {
			return err
		}
	}

	// 3. 画像
	if err := p.applyProfile(ctx, fb, logger); err != nil {
		return err
	}

	// 4. 触发重算，Enqueuer 对相同原因幂等
	if err := p.checkThreshold(ctx, fb, logger); err != nil {
		return err
	}

	if err := p.Store.Update(ctx, core.CollectionFeedback, fb.ID, core.Document{FieldProcessed: true}); err != nil {
		return fmt.Errorf("mark feedback processed: %w", err)
	}
	return nil
}

// metricFields 返回一次反馈需要累加的指标字段。totalRecommendations 总是在内。
func metricFields(fb *core.Feedback) []string {
	fields := []string{core.MetricTotal}
	if fb.Action.Interacted() {
		fields = append(fields, core.MetricInteracted)
	}
	if fb.Action == core.FeedbackClick {
		fields = append(fields, core.MetricClickThrough)
	}
	if fb.Relevant != nil && *fb.Relevant {
		fields = append(fields, core.MetricRelevance)
	}
	if fb.Action == core.FeedbackSave {
		fields = append(fields, core.MetricConversion)
	}
	return fields
}

// applyMetrics 累加处理时刻所在的统计桶。桶由处理器时钟决定，
// 迟到或重投的反馈不会改动已经结束的桶。
func (p *Processor) applyMetrics(ctx context.Context, fb *core.Feedback, period core.Period) error {
	b := BucketFor(period, p.now(), p.location())
	id := MetricsDocID(fb.UserID, b)
	step := stepField(stepMetricsPrefix + string(period))
	fields := metricFields(fb)

	err := p.Store.RunTransaction(ctx, func(tx core.Tx) error {
		rec, done, err := loadStep(tx, fb.ID, step)
		if err != nil || done {
			return err
		}
		doc, err := tx.Get(core.CollectionMetrics, id)
		if core.IsNotFound(err) {
			doc, err = core.NewMetricsDocument(fb.UserID, period, b.Start, b.End), nil
		}
		if err != nil {
			return err
		}
		for _, f := range fields {
			if err := addField(doc, f, 1); err != nil {
				return err
			}
		}
		rec[step] = true
		tx.Set(core.CollectionMetrics, id, doc)
		tx.Set(core.CollectionFeedback, fb.ID, rec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update metrics %s: %w", id, err)
	}
	return nil
}

func (p *Processor) applyProfile(ctx context.Context, fb *core.Feedback, logger zerolog.Logger) error {
	local := fb.Timestamp.In(p.location())
	fields := []string{
		core.FieldPath(core.ProfileFieldActiveHours, core.HourKey(local)),
		core.FieldPath(core.ProfileFieldWeekdays, core.WeekdayKey(local)),
	}

	if p.Content != nil {
		item, err := p.Content.GetItem(ctx, fb.RecommendationID)
		switch {
		case err == nil:
			if item.Type != "" {
				fields = append(fields, core.FieldPath(core.ProfileFieldContentTypes, string(item.Type)))
			}
			for _, tag := range item.Tags {
				if tag == "" {
					continue
				}
				fields = append(fields, core.FieldPath(core.ProfileFieldContentTags, tag))
			}
		case core.IsNotFound(err):
			logger.Warn().Str("item_id", fb.RecommendationID).Msg("recommended item not found, skipping type and tag counters")
		default:
			logger.Warn().Err(err).Str("item_id", fb.RecommendationID).Msg("load recommended item failed, skipping type and tag counters")
		}
	}

	step := stepField(stepProfile)
	err := p.Store.RunTransaction(ctx, func(tx core.Tx) error {
		rec, done, err := loadStep(tx, fb.ID, step)
		if err != nil || done {
			return err
		}
		prof, err := tx.Get(core.CollectionProfiles, fb.UserID)
		if core.IsNotFound(err) {
			prof, err = core.Document{}, nil
		}
		if err != nil {
			return err
		}
		for _, f := range fields {
			if err := addField(prof, f, 1); err != nil {
				return err
			}
		}
		prof["userId"] = fb.UserID
		prof[core.ProfileFieldUpdatedAt] = core.TimeToMillis(p.now())
		rec[step] = true
		tx.Set(core.CollectionProfiles, fb.UserID, prof)
		tx.Set(core.CollectionFeedback, fb.ID, rec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update profile %s: %w", fb.UserID, err)
	}
	return nil
}

// loadStep 读取反馈记录并返回 step 是否已完成。
func loadStep(tx core.Tx, feedbackID, step string) (core.Document, bool, error) {
	rec, err := tx.Get(core.CollectionFeedback, feedbackID)
	if err != nil {
		return nil, false, err
	}
	done, _ := conv.ToBool(rec[step])
	return rec, done, nil
}

// addField 在文档内累加嵌套数值字段，路径不存在时从 0 开始。
func addField(doc core.Document, path string, delta float64) error {
	segments := core.SplitFieldPath(path)
	cur := map[string]any(doc)
	for _, seg := range segments[:len(segments)-1] {
		next, ok := cur[seg]
		if !ok {
			child := make(map[string]any)
			cur[seg] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return core.InvalidInput(core.ModuleFeedback, "field %q is not a map", seg)
		}
		cur = child
	}
	leaf := segments[len(segments)-1]
	v, _ := conv.ToFloat64(cur[leaf])
	cur[leaf] = v + delta
	return nil
}

func (p *Processor) checkThreshold(ctx context.Context, fb *core.Feedback, logger zerolog.Logger) error {
	if p.Refresh == nil {
		return nil
	}
	threshold := p.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	window := p.Window
	if window <= 0 {
		window = DefaultWindow
	}

	q := core.Query{}.
		Where("userId", core.OpEq, fb.UserID).
		Where("timestamp", core.OpGte, core.TimeToMillis(p.now().Add(-window)))
	docs, err := p.Store.Query(ctx, core.CollectionFeedback, q)
	if err != nil {
		return fmt.Errorf("count recent feedback: %w", err)
	}
	if len(docs) < threshold {
		return nil
	}

	taskID, err := p.Refresh.EnqueueRefresh(ctx, fb.UserID, core.PriorityHigh, core.ReasonThresholdReached)
	if err != nil {
		return fmt.Errorf("enqueue threshold refresh: %w", err)
	}
	metrics.ThresholdTriggers.Inc()
	logger.Info().Str("task_id", taskID).Int("recent_feedback", len(docs)).Str("reason", core.ReasonThresholdReached).Msg("interaction threshold reached")
	return nil
}

// Metrics 读取用户当前统计桶的指标，桶文档不存在时返回全 0 的指标。
func (p *Processor) Metrics(ctx context.Context, userID string, period core.Period) (*core.Metrics, error) {
	if !period.Valid() {
		return nil, core.InvalidInput(core.ModuleFeedback, "unknown period %q", period)
	}
	b := BucketFor(period, p.now(), p.location())
	id := MetricsDocID(userID, b)
	doc, err := p.Store.Get(ctx, core.CollectionMetrics, id)
	if err != nil {
		if core.IsNotFound(err) {
			return core.MetricsFromDocument(id, core.NewMetricsDocument(userID, period, b.Start, b.End)), nil
		}
		return nil, fmt.Errorf("get metrics %s: %w", id, err)
	}
	return core.MetricsFromDocument(id, doc), nil
}
