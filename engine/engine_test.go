package engine

import (
	"context"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/recall"
	"github.com/rushteam/reclearn/store"
)

var testNow = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store        *store.MemoryStore
	interactions *recall.StoreInteractionAdapter
	content      *recall.StoreContentIndex
	refresh      *recordingEnqueuer
	engine       *Engine
}

type recordingEnqueuer struct {
	mu    sync.Mutex
	calls []string
}

func (e *recordingEnqueuer) EnqueueRefresh(_ context.Context, userID string, priority core.Priority, reason string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, userID+"|"+string(priority)+"|"+reason)
	return "task-1", nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	ia := recall.NewStoreInteractionAdapter(mem)
	ia.Now = func() time.Time { return testNow }
	f := &fixture{
		store:        mem,
		interactions: ia,
		content:      recall.NewStoreContentIndex(mem),
		refresh:      &recordingEnqueuer{},
	}
	f.engine = New(Deps{Store: mem, Interactions: ia, Content: f.content}, DefaultOptions(), f.refresh)
	f.engine.Recommender.Now = func() time.Time { return testNow }
	f.engine.Feedback.Now = func() time.Time { return testNow }
	return f
}

func (f *fixture) item(t *testing.T, id string, views int64, vec ...float64) {
	t.Helper()
	err := f.content.PutItem(context.Background(), &core.ContentItem{
		ID:        id,
		Type:      core.ItemTypeCourse,
		Title:     "course " + id,
		ViewCount: views,
		Embedding: vec,
	})
	if err != nil {
		t.Fatalf("PutItem: %v", err)
	}
}

func (f *fixture) interact(t *testing.T, user, item string, action core.Action, ago time.Duration) {
	t.Helper()
	_, err := f.interactions.RecordInteraction(context.Background(), &core.Interaction{
		UserID:    user,
		ItemID:    item,
		ItemType:  core.ItemTypeCourse,
		Action:    action,
		Timestamp: testNow.Add(-ago),
	})
	if err != nil {
		t.Fatalf("RecordInteraction: %v", err)
	}
}

func itemIDs(set *core.RecommendationSet) []string {
	out := make([]string, 0, len(set.Items))
	for _, it := range set.Items {
		out = append(out, it.ItemID)
	}
	return out
}

func TestRecomputeColdStart(t *testing.T) {
	f := newFixture(t)
	f.item(t, "a", 500)
	f.item(t, "b", 2000)
	f.item(t, "c", 100)
	ctx := context.Background()

	n, err := f.engine.Recompute(ctx, "u1", "t1")
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if n != 3 {
		t.Errorf("Recompute() = %d, want 3", n)
	}

	set, err := f.engine.GetActiveRecommendations(ctx, "u1")
	if err != nil {
		t.Fatalf("GetActiveRecommendations: %v", err)
	}
	if got, want := itemIDs(set), []string{"b", "a", "c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("items = %v, want %v", got, want)
	}
	if got := set.Items[1].Score; math.Abs(got-0.5) > 1e-9 {
		t.Errorf("score of a = %v, want 0.5", got)
	}
	if got := set.Items[0].Score; got != 1 {
		t.Errorf("score of b = %v, want capped 1", got)
	}
	for _, it := range set.Items {
		if !reflect.DeepEqual(it.MatchReason, []string{recall.ReasonPopular}) {
			t.Errorf("reasons of %s = %v", it.ItemID, it.MatchReason)
		}
	}
	if !set.IsNew || set.TaskID != "t1" {
		t.Errorf("first read = IsNew %v, TaskID %q", set.IsNew, set.TaskID)
	}

	again, err := f.engine.GetActiveRecommendations(ctx, "u1")
	if err != nil {
		t.Fatalf("GetActiveRecommendations: %v", err)
	}
	if again.IsNew {
		t.Error("second read still reports IsNew")
	}
}

func TestRecomputeExcludesInteracted(t *testing.T) {
	f := newFixture(t)
	f.item(t, "a", 10, 1, 0)
	f.item(t, "b", 10, 1, 0)
	f.item(t, "c", 10, 0.9, 0.1)
	f.item(t, "d", 10, 0, 1)
	f.interact(t, "u1", "a", core.ActionComplete, time.Hour)
	ctx := context.Background()

	if _, err := f.engine.Recompute(ctx, "u1", ""); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	set, err := f.engine.GetActiveRecommendations(ctx, "u1")
	if err != nil {
		t.Fatalf("GetActiveRecommendations: %v", err)
	}
	if got, want := itemIDs(set), []string{"b", "c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("items = %v, want %v", got, want)
	}
	if set.Items[0].MatchReason[0] != recall.ReasonSimilarContent {
		t.Errorf("reasons = %v", set.Items[0].MatchReason)
	}
}

func TestRecomputeFallsBackToPopular(t *testing.T) {
	f := newFixture(t)
	// 没有向量，个性化召回为空
	f.item(t, "a", 900)
	f.item(t, "b", 300)
	f.interact(t, "u1", "a", core.ActionView, time.Hour)
	ctx := context.Background()

	n, err := f.engine.Recompute(ctx, "u1", "")
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if n != 1 {
		t.Fatalf("Recompute() = %d, want 1", n)
	}
	set, _ := f.engine.GetActiveRecommendations(ctx, "u1")
	if got := itemIDs(set); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("items = %v, want [b]", got)
	}
}

func TestRecomputeColdStartExcludesOldInteractions(t *testing.T) {
	f := newFixture(t)
	f.item(t, "a", 900)
	f.item(t, "b", 300)
	// 窗口外的交互：冷启动，但仍要排除
	f.interact(t, "u1", "a", core.ActionComplete, 90*24*time.Hour)
	ctx := context.Background()

	rctx, err := f.engine.Recommender.BuildContext(ctx, "u1")
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if !rctx.ColdStart() {
		t.Fatal("user without recent interactions should be cold start")
	}
	items, path, err := f.engine.Recommender.Recommend(ctx, rctx)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if path != PathColdStart {
		t.Errorf("path = %s", path)
	}
	if len(items) != 1 || items[0].ID != "b" {
		t.Errorf("items = %v", items)
	}
}

func TestRecomputeStaleWrite(t *testing.T) {
	f := newFixture(t)
	f.item(t, "a", 500)
	ctx := context.Background()

	if _, err := f.engine.Recompute(ctx, "u1", "newer"); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	f.engine.Recommender.Now = func() time.Time { return testNow.Add(-time.Minute) }
	_, err := f.engine.Recompute(ctx, "u1", "older")
	if !core.IsStale(err) {
		t.Fatalf("older recompute err = %v, want STALE", err)
	}
	set, _ := f.engine.GetActiveRecommendations(ctx, "u1")
	if set.TaskID != "newer" {
		t.Errorf("active set from task %q, want newer", set.TaskID)
	}
}

func TestRecomputeLoadsPreferences(t *testing.T) {
	f := newFixture(t)
	pref := &core.UserPreferences{UserID: "u1", SkillLevel: "beginner", Interests: []string{"go"}, Active: true}
	if err := f.store.Set(context.Background(), core.CollectionUsers, "u1", pref.ToDocument()); err != nil {
		t.Fatalf("Set: %v", err)
	}
	rctx, err := f.engine.Recommender.BuildContext(context.Background(), "u1")
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if rctx.Preferences == nil || rctx.Preferences.SkillLevel != "beginner" {
		t.Errorf("preferences = %+v", rctx.Preferences)
	}

	rctx, err = f.engine.Recommender.BuildContext(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("BuildContext for unknown user: %v", err)
	}
	if rctx.Preferences != nil {
		t.Errorf("unknown user preferences = %+v", rctx.Preferences)
	}
}

func TestGetActiveRecommendationsErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.GetActiveRecommendations(ctx, ""); !core.IsInvalidInput(err) {
		t.Errorf("empty user: %v", err)
	}
	if _, err := f.engine.GetActiveRecommendations(ctx, "u1"); !core.IsNotFound(err) {
		t.Errorf("no set: %v", err)
	}
}

func TestSubmitFeedback(t *testing.T) {
	f := newFixture(t)
	f.item(t, "a", 10)
	ctx := context.Background()
	relevant := true

	if err := f.engine.SubmitFeedback(ctx, "u1", "a", core.FeedbackAction("share"), nil); !core.IsInvalidInput(err) {
		t.Errorf("unknown action: %v", err)
	}
	if err := f.engine.SubmitFeedback(ctx, "u1", "a", core.FeedbackClick, &relevant); err != nil {
		t.Fatalf("SubmitFeedback: %v", err)
	}
	m, err := f.engine.Metrics(ctx, "u1", core.PeriodDaily)
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if m.TotalRecommendations != 1 || m.ClickThroughRate != 1 || m.AverageRelevanceScore != 1 {
		t.Errorf("metrics = %+v", m)
	}

	for i := 0; i < 9; i++ {
		if err := f.engine.SubmitFeedback(ctx, "u1", "a", core.FeedbackIgnore, nil); err != nil {
			t.Fatalf("SubmitFeedback: %v", err)
		}
	}
	want := "u1|high|" + core.ReasonThresholdReached
	if len(f.refresh.calls) != 1 || f.refresh.calls[0] != want {
		t.Errorf("refresh calls = %v, want [%s]", f.refresh.calls, want)
	}
}

func TestEnqueueRefreshWithoutQueue(t *testing.T) {
	mem := store.NewMemoryStore()
	e := New(Deps{Store: mem}, DefaultOptions(), nil)
	_, err := e.EnqueueRefresh(context.Background(), "u1", core.PriorityHigh, core.ReasonManual)
	if !core.IsNotSupported(err) {
		t.Errorf("err = %v, want NOT_SUPPORTED", err)
	}
}
