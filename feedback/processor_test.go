package feedback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/store"
)

func TestBucketFor(t *testing.T) {
	// 2026-05-20 是周三
	ts := time.Date(2026, 5, 20, 15, 30, 0, 0, time.UTC)
	tests := []struct {
		period     core.Period
		start, end string
	}{
		{core.PeriodDaily, "2026-05-20", "2026-05-21"},
		{core.PeriodWeekly, "2026-05-18", "2026-05-25"},
		{core.PeriodMonthly, "2026-05-01", "2026-06-01"},
	}
	for _, tt := range tests {
		t.Run(string(tt.period), func(t *testing.T) {
			b := BucketFor(tt.period, ts, nil)
			if got := b.Start.Format("2006-01-02"); got != tt.start {
				t.Errorf("Start = %s, want %s", got, tt.start)
			}
			if got := b.End.Format("2006-01-02"); got != tt.end {
				t.Errorf("End = %s, want %s", got, tt.end)
			}
		})
	}

	sunday := time.Date(2026, 5, 24, 23, 0, 0, 0, time.UTC)
	if got := BucketFor(core.PeriodWeekly, sunday, nil).Start.Format("2006-01-02"); got != "2026-05-18" {
		t.Errorf("Sunday belongs to week starting %s, want 2026-05-18", got)
	}

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err == nil {
		// UTC 15:30 在东京已是次日
		if got := BucketFor(core.PeriodDaily, ts, tokyo).Start.Format("2006-01-02"); got != "2026-05-21" {
			t.Errorf("Tokyo daily bucket = %s, want 2026-05-21", got)
		}
	}

	if got := MetricsDocID("u1", BucketFor(core.PeriodWeekly, ts, nil)); got != "u1_weekly_20260518" {
		t.Errorf("MetricsDocID() = %s", got)
	}
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	calls int
	tasks map[string]string
}

func (f *fakeEnqueuer) EnqueueRefresh(_ context.Context, userID string, priority core.Priority, reason string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.tasks == nil {
		f.tasks = make(map[string]string)
	}
	key := userID + "|" + string(priority) + "|" + reason
	if id, ok := f.tasks[key]; ok {
		return id, nil
	}
	id := fmt.Sprintf("task-%d", len(f.tasks)+1)
	f.tasks[key] = id
	return id, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newProcessor(t *testing.T) (*Processor, *store.MemoryStore, *fakeEnqueuer, *clock) {
	t.Helper()
	s := store.NewMemoryStore()
	content := &contentStub{items: map[string]*core.ContentItem{
		"c1": {ID: "c1", Type: core.ItemTypeCourse, Tags: []string{"node.js", "backend"}},
	}}
	enq := &fakeEnqueuer{}
	clk := &clock{now: time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC)}
	p := NewProcessor(s, content, enq)
	p.Now = clk.Now
	return p, s, enq, clk
}

type contentStub struct {
	items map[string]*core.ContentItem
}

func (c *contentStub) GetItem(_ context.Context, id string) (*core.ContentItem, error) {
	if it, ok := c.items[id]; ok {
		return it, nil
	}
	return nil, core.ErrStoreNotFound
}

func (c *contentStub) ListItems(context.Context, int) ([]*core.ContentItem, error) { return nil, nil }
func (c *contentStub) TopViewed(context.Context, int) ([]*core.ContentItem, error) { return nil, nil }

func boolPtr(b bool) *bool { return &b }

func TestProcessorMetrics(t *testing.T) {
	p, s, _, clk := newProcessor(t)
	ctx := context.Background()

	events := []struct {
		action   core.FeedbackAction
		relevant *bool
	}{
		{core.FeedbackClick, boolPtr(true)},
		{core.FeedbackSave, nil},
		{core.FeedbackIgnore, boolPtr(false)},
		{core.FeedbackDismiss, nil},
		{core.FeedbackClick, nil},
	}
	for i, ev := range events {
		fb := &core.Feedback{UserID: "u1", RecommendationID: "c1", Action: ev.action, Relevant: ev.relevant, Timestamp: clk.Now()}
		if err := p.Process(ctx, fb); err != nil {
			t.Fatalf("Process(%d) error = %v", i, err)
		}
		for _, period := range core.Periods {
			m, err := p.Metrics(ctx, "u1", period)
			if err != nil {
				t.Fatalf("Metrics() error = %v", err)
			}
			if m.InteractedRecommendations > m.TotalRecommendations {
				t.Fatalf("%s: interacted %v > total %v", period, m.InteractedRecommendations, m.TotalRecommendations)
			}
		}
	}

	m, err := p.Metrics(ctx, "u1", core.PeriodDaily)
	if err != nil {
		t.Fatalf("Metrics() error = %v", err)
	}
	want := core.Metrics{TotalRecommendations: 5, InteractedRecommendations: 3, ClickThroughRate: 2, AverageRelevanceScore: 1, ConversionRate: 1}
	if m.TotalRecommendations != want.TotalRecommendations ||
		m.InteractedRecommendations != want.InteractedRecommendations ||
		m.ClickThroughRate != want.ClickThroughRate ||
		m.AverageRelevanceScore != want.AverageRelevanceScore ||
		m.ConversionRate != want.ConversionRate {
		t.Errorf("daily metrics = %+v, want counters %+v", m, want)
	}
	if m.ID != "u1_daily_20260520" || m.Period != core.PeriodDaily {
		t.Errorf("metrics id/period = %s/%s", m.ID, m.Period)
	}
	if rates := m.Rates(); rates.ClickThroughRate != 0.4 {
		t.Errorf("read-time click through rate = %v, want 0.4", rates.ClickThroughRate)
	}

	weekly, _ := s.Get(ctx, core.CollectionMetrics, "u1_weekly_20260518")
	if weekly[core.MetricTotal] != 5.0 {
		t.Errorf("weekly total = %v, want 5", weekly[core.MetricTotal])
	}

	// 新的一天进入新的日桶，旧桶不再变化
	clk.Advance(24 * time.Hour)
	if err := p.Process(ctx, &core.Feedback{UserID: "u1", RecommendationID: "c1", Action: core.FeedbackClick}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	old, _ := s.Get(ctx, core.CollectionMetrics, "u1_daily_20260520")
	if old[core.MetricTotal] != 5.0 {
		t.Errorf("closed bucket changed: %v", old[core.MetricTotal])
	}
	today, _ := p.Metrics(ctx, "u1", core.PeriodDaily)
	if today.TotalRecommendations != 1 {
		t.Errorf("new bucket total = %v, want 1", today.TotalRecommendations)
	}
}

func TestProcessorProfile(t *testing.T) {
	p, s, _, clk := newProcessor(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fb := &core.Feedback{UserID: "u1", RecommendationID: "c1", Action: core.FeedbackClick, Timestamp: clk.Now()}
			if err := p.Process(ctx, fb); err != nil {
				t.Errorf("Process() error = %v", err)
			}
		}()
	}
	wg.Wait()
	// 内容不存在：只累加小时与星期
	if err := p.Process(ctx, &core.Feedback{UserID: "u1", RecommendationID: "missing", Action: core.FeedbackIgnore, Timestamp: clk.Now()}); err != nil {
		t.Fatalf("Process() with missing item error = %v", err)
	}

	doc, err := s.Get(ctx, core.CollectionProfiles, "u1")
	if err != nil {
		t.Fatalf("Get(profile) error = %v", err)
	}
	prof := core.InteractionPatternProfileFromDocument("u1", doc)
	if got := prof.PreferredContentTypes["course"]; got != 8 {
		t.Errorf("preferredContentTypes[course] = %v, want 8", got)
	}
	if got := prof.ContentTags["node.js"]; got != 8 {
		t.Errorf("contentTags[node.js] = %v, want 8", got)
	}
	if got := prof.ActiveHours["9"]; got != 9 {
		t.Errorf("activeHours[9] = %v, want 9", got)
	}
	if got := prof.WeekdayActivity["3"]; got != 9 {
		t.Errorf("weekdayActivity[3] = %v, want 9", got)
	}
	if prof.UpdatedAt.IsZero() {
		t.Error("updatedAt not set")
	}
}

func TestProcessorThreshold(t *testing.T) {
	p, _, enq, clk := newProcessor(t)
	ctx := context.Background()

	// 25 小时前的反馈不计入窗口
	if err := p.Process(ctx, &core.Feedback{UserID: "u1", RecommendationID: "c1", Action: core.FeedbackClick, Timestamp: clk.Now().Add(-25 * time.Hour)}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	for i := 0; i < 9; i++ {
		clk.Advance(time.Minute)
		if err := p.Process(ctx, &core.Feedback{UserID: "u1", RecommendationID: "c1", Action: core.FeedbackIgnore}); err != nil {
			t.Fatalf("Process() error = %v", err)
		}
	}
	if enq.calls != 0 {
		t.Fatalf("9 events enqueued %d refreshes, want 0", enq.calls)
	}

	clk.Advance(time.Minute)
	if err := p.Process(ctx, &core.Feedback{UserID: "u1", RecommendationID: "c1", Action: core.FeedbackClick}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(enq.tasks) != 1 {
		t.Fatalf("tasks = %v, want exactly one", enq.tasks)
	}
	if _, ok := enq.tasks["u1|high|"+core.ReasonThresholdReached]; !ok {
		t.Errorf("tasks = %v, want high priority %s", enq.tasks, core.ReasonThresholdReached)
	}

	// 继续反馈不会产生新的任务
	_ = p.Process(ctx, &core.Feedback{UserID: "u1", RecommendationID: "c1", Action: core.FeedbackClick})
	if len(enq.tasks) != 1 {
		t.Errorf("tasks after 11th event = %d, want 1", len(enq.tasks))
	}

	// 其他用户不受影响
	_ = p.Process(ctx, &core.Feedback{UserID: "u2", RecommendationID: "c1", Action: core.FeedbackClick})
	if len(enq.tasks) != 1 {
		t.Errorf("u2 should not trigger: %v", enq.tasks)
	}
}

func TestProcessorValidation(t *testing.T) {
	p, _, _, _ := newProcessor(t)
	tests := []*core.Feedback{
		nil,
		{RecommendationID: "c1", Action: core.FeedbackClick},
		{UserID: "u1", Action: core.FeedbackClick},
		{UserID: "u1", RecommendationID: "c1", Action: "like"},
	}
	for i, fb := range tests {
		if err := p.Process(context.Background(), fb); !core.IsInvalidInput(err) {
			t.Errorf("case %d: error = %v, want INVALID_INPUT", i, err)
		}
	}
	if _, err := p.Metrics(context.Background(), "u1", "yearly"); !core.IsInvalidInput(err) {
		t.Errorf("Metrics(yearly) error = %v", err)
	}
}

func TestProcessorDuplicateDelivery(t *testing.T) {
	p, _, _, _ := newProcessor(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		fb := &core.Feedback{ID: "fb-1", UserID: "u1", RecommendationID: "c1", Action: core.FeedbackClick}
		if err := p.Process(ctx, fb); err != nil {
			t.Fatalf("Process() error = %v", err)
		}
	}
	m, _ := p.Metrics(ctx, "u1", core.PeriodDaily)
	if m.TotalRecommendations != 1 {
		t.Errorf("duplicate delivery counted twice: total = %v", m.TotalRecommendations)
	}
}

func TestProcessorLateFeedback(t *testing.T) {
	p, s, _, clk := newProcessor(t)
	ctx := context.Background()
	yesterday := clk.Now()
	if err := p.Process(ctx, &core.Feedback{UserID: "u1", RecommendationID: "c1", Action: core.FeedbackClick, Timestamp: yesterday}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	// 次日才到达、时间戳仍是前一天的反馈计入当前桶
	clk.Advance(24 * time.Hour)
	if err := p.Process(ctx, &core.Feedback{UserID: "u1", RecommendationID: "c1", Action: core.FeedbackClick, Timestamp: yesterday}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	closed, err := s.Get(ctx, core.CollectionMetrics, "u1_daily_20260520")
	if err != nil {
		t.Fatalf("Get(closed bucket) error = %v", err)
	}
	if closed[core.MetricTotal] != 1.0 {
		t.Errorf("closed bucket total = %v, want 1", closed[core.MetricTotal])
	}
	today, err := p.Metrics(ctx, "u1", core.PeriodDaily)
	if err != nil {
		t.Fatalf("Metrics() error = %v", err)
	}
	if today.ID != "u1_daily_20260521" || today.TotalRecommendations != 1 {
		t.Errorf("current bucket = %s total %v, want u1_daily_20260521 total 1", today.ID, today.TotalRecommendations)
	}
}

// failingStore 让第 failAt 次事务返回不可用错误。
type failingStore struct {
	*store.MemoryStore
	failAt int
	calls  int
}

func (f *failingStore) RunTransaction(ctx context.Context, fn func(tx core.Tx) error) error {
	f.calls++
	if f.calls == f.failAt {
		return core.Unavailable(core.ModuleStore, errors.New("connection reset"))
	}
	return f.MemoryStore.RunTransaction(ctx, fn)
}

func TestProcessorResumeAfterFailure(t *testing.T) {
	// 事务顺序：日、周、月指标，然后画像
	tests := []struct {
		name   string
		failAt int
	}{
		{"daily metrics", 1},
		{"weekly metrics", 2},
		{"monthly metrics", 3},
		{"profile", 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, mem, _, clk := newProcessor(t)
			fs := &failingStore{MemoryStore: mem, failAt: tt.failAt}
			p.Store = fs
			ctx := context.Background()

			newFeedback := func() *core.Feedback {
				return &core.Feedback{ID: "fb-1", UserID: "u1", RecommendationID: "c1", Action: core.FeedbackClick, Timestamp: clk.Now()}
			}
			err := p.Process(ctx, newFeedback())
			if !core.IsTransient(err) {
				t.Fatalf("first delivery error = %v, want transient", err)
			}
			for i := 0; i < 2; i++ {
				if err := p.Process(ctx, newFeedback()); err != nil {
					t.Fatalf("redelivery %d error = %v", i, err)
				}
			}

			for _, id := range []string{"u1_daily_20260520", "u1_weekly_20260518", "u1_monthly_20260501"} {
				doc, err := mem.Get(ctx, core.CollectionMetrics, id)
				if err != nil {
					t.Fatalf("Get(%s) error = %v", id, err)
				}
				if doc[core.MetricTotal] != 1.0 || doc[core.MetricInteracted] != 1.0 {
					t.Errorf("%s total/interacted = %v/%v, want 1/1", id, doc[core.MetricTotal], doc[core.MetricInteracted])
				}
			}
			doc, err := mem.Get(ctx, core.CollectionProfiles, "u1")
			if err != nil {
				t.Fatalf("Get(profile) error = %v", err)
			}
			prof := core.InteractionPatternProfileFromDocument("u1", doc)
			if prof.ActiveHours["9"] != 1 || prof.ContentTags["backend"] != 1 {
				t.Errorf("profile counted %v hours / %v tags, want 1/1", prof.ActiveHours["9"], prof.ContentTags["backend"])
			}
			rec, err := mem.Get(ctx, core.CollectionFeedback, "fb-1")
			if err != nil {
				t.Fatalf("Get(feedback) error = %v", err)
			}
			if rec[FieldProcessed] != true {
				t.Errorf("feedback processed = %v, want true", rec[FieldProcessed])
			}
		})
	}
}

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type handlerFunc func(ctx context.Context, fb *core.Feedback) error

func (f handlerFunc) Process(ctx context.Context, fb *core.Feedback) error { return f(ctx, fb) }

func TestKafkaConsumer(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Value: []byte(`{"userId":"u1","recommendationId":"c1","action":"click","relevant":true,"timestamp":1779267600000}`)},
		{Offset: 2, Value: []byte(`not json`)},
		{Offset: 3, Value: []byte(`{"userId":"u1","recommendationId":"c1","action":"like"}`)},
		{Offset: 4, Value: []byte(`{"userId":"u2","recommendationId":"c2","action":"save"}`)},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []*core.Feedback
	c := &KafkaConsumer{
		Handler: handlerFunc(func(_ context.Context, fb *core.Feedback) error {
			got = append(got, fb)
			if err := Validate(fb); err != nil {
				return err
			}
			if len(got) == 3 {
				cancel()
			}
			return nil
		}),
		NewReader: func() MessageReader { return reader },
	}
	if err := c.Serve(ctx); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("handled %d events, want 3", len(got))
	}
	if got[0].Relevant == nil || !*got[0].Relevant || got[0].Timestamp.UnixMilli() != 1779267600000 {
		t.Errorf("decoded feedback = %+v", got[0])
	}
	if !reader.closed {
		t.Error("reader not closed")
	}
	if len(reader.committed) < 3 || reader.committed[0] != 1 || reader.committed[1] != 2 || reader.committed[2] != 3 {
		t.Errorf("committed = %v, want malformed and invalid messages committed", reader.committed)
	}
}

func TestKafkaConsumerTransientError(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		{Offset: 7, Value: []byte(`{"userId":"u1","recommendationId":"c1","action":"click"}`)},
	}}
	c := &KafkaConsumer{
		Handler: handlerFunc(func(context.Context, *core.Feedback) error {
			return core.Unavailable(core.ModuleStore, errors.New("connection reset"))
		}),
		NewReader: func() MessageReader { return reader },
	}
	err := c.Serve(context.Background())
	if !core.IsUnavailable(err) {
		t.Fatalf("Serve() error = %v, want UNAVAILABLE", err)
	}
	if len(reader.committed) != 0 {
		t.Errorf("transient failure must not commit, committed = %v", reader.committed)
	}
}
