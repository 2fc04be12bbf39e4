package recstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/store"
)

var t0 = time.Date(2026, 5, 20, 8, 0, 0, 0, time.UTC)

func cands(prefix string, n int) []*core.Candidate {
	out := make([]*core.Candidate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, core.NewCandidate(fmt.Sprintf("%s%d", prefix, i), core.ItemTypeCourse, 1-float64(i)/100, "Popular among learners"))
	}
	return out
}

func TestReplaceAndGet(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemoryStore()
	s := New(docs)

	if _, err := s.GetActive(ctx, "u1"); !errors.Is(err, ErrNoActiveSet) {
		t.Fatalf("GetActive() before write error = %v, want ErrNoActiveSet", err)
	}

	written, err := s.ReplaceActiveSet(ctx, "u1", cands("a", 3), t0, "task-1")
	if err != nil {
		t.Fatalf("ReplaceActiveSet() error = %v", err)
	}
	got, err := s.GetActive(ctx, "u1")
	if err != nil {
		t.Fatalf("GetActive() error = %v", err)
	}
	if len(got.Items) != 3 || got.Items[0].ItemID != "a0" || !got.IsNew || got.TaskID != "task-1" {
		t.Fatalf("GetActive() = %+v", got)
	}
	if !got.GeneratedAt.Equal(t0) || got.SetID != written.SetID {
		t.Errorf("GeneratedAt = %v, SetID = %q; want %v, %q", got.GeneratedAt, got.SetID, t0, written.SetID)
	}
	if got.Items[0].MatchReason[0] != "Popular among learners" {
		t.Errorf("reasons = %v", got.Items[0].MatchReason)
	}

	// 替换后旧正文被删除
	if _, err := s.ReplaceActiveSet(ctx, "u1", cands("b", 2), t0.Add(time.Hour), "task-2"); err != nil {
		t.Fatalf("ReplaceActiveSet() error = %v", err)
	}
	if _, err := docs.Get(ctx, core.CollectionRecommendationSets, written.SetID); !core.IsNotFound(err) {
		t.Errorf("old body still present, err = %v", err)
	}
	bodies, _ := docs.Query(ctx, core.CollectionRecommendationSets, core.Query{})
	if len(bodies) != 1 {
		t.Errorf("bodies = %d, want 1", len(bodies))
	}
	got, _ = s.GetActive(ctx, "u1")
	if len(got.Items) != 2 || got.Items[0].ItemID != "b0" {
		t.Errorf("GetActive() after replace = %+v", got.Items)
	}
}

func TestReplaceRejectsStaleWrite(t *testing.T) {
	ctx := context.Background()
	s := New(store.NewMemoryStore())

	if _, err := s.ReplaceActiveSet(ctx, "u1", cands("new", 2), t0.Add(time.Minute), "late-start"); err != nil {
		t.Fatalf("ReplaceActiveSet() error = %v", err)
	}
	_, err := s.ReplaceActiveSet(ctx, "u1", cands("old", 5), t0, "early-start")
	if !errors.Is(err, ErrStaleWrite) || !core.IsStale(err) {
		t.Fatalf("stale write error = %v, want ErrStaleWrite", err)
	}
	got, _ := s.GetActive(ctx, "u1")
	if got.TaskID != "late-start" || len(got.Items) != 2 {
		t.Errorf("stale write modified the active set: %+v", got)
	}
}

func TestReplaceIsAtomicForReaders(t *testing.T) {
	ctx := context.Background()
	s := New(store.NewMemoryStore())
	if _, err := s.ReplaceActiveSet(ctx, "u1", cands("g0-", 30), t0, "g0"); err != nil {
		t.Fatalf("ReplaceActiveSet() error = %v", err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			set, err := s.GetActive(ctx, "u1")
			if err != nil {
				errs <- err
				return
			}
			prefix := set.TaskID + "-"
			for _, it := range set.Items {
				if len(it.ItemID) < len(prefix) || it.ItemID[:len(prefix)] != prefix {
					errs <- fmt.Errorf("mixed set: task %s contains %s", set.TaskID, it.ItemID)
					return
				}
			}
		}
	}()

	for i := 1; i <= 50; i++ {
		gen := fmt.Sprintf("g%d", i)
		if _, err := s.ReplaceActiveSet(ctx, "u1", cands(gen+"-", 30), t0.Add(time.Duration(i)*time.Second), gen); err != nil {
			t.Fatalf("ReplaceActiveSet(%d) error = %v", i, err)
		}
	}
	close(stop)
	wg.Wait()
	select {
	case err := <-errs:
		t.Fatal(err)
	default:
	}
}

func TestMarkSeen(t *testing.T) {
	ctx := context.Background()
	s := New(store.NewMemoryStore())

	if err := s.MarkSeen(ctx, "nobody", ""); err != nil {
		t.Fatalf("MarkSeen() on missing user error = %v", err)
	}

	first, _ := s.ReplaceActiveSet(ctx, "u1", cands("a", 1), t0, "t1")
	second, _ := s.ReplaceActiveSet(ctx, "u1", cands("b", 1), t0.Add(time.Second), "t2")

	// 旧集合的 setId 不影响新集合
	if err := s.MarkSeen(ctx, "u1", first.SetID); err != nil {
		t.Fatalf("MarkSeen() error = %v", err)
	}
	if got, _ := s.GetActive(ctx, "u1"); !got.IsNew {
		t.Fatal("MarkSeen with an outdated setId flipped the new set")
	}

	if err := s.MarkSeen(ctx, "u1", second.SetID); err != nil {
		t.Fatalf("MarkSeen() error = %v", err)
	}
	got, _ := s.GetActive(ctx, "u1")
	if got.IsNew {
		t.Error("IsNew should be false after MarkSeen")
	}
	if len(got.Items) != 1 || got.Items[0].ItemID != "b0" {
		t.Errorf("MarkSeen changed items: %+v", got.Items)
	}
}
