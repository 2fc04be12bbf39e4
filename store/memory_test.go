package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rushteam/reclearn/core"
)

func TestMemoryStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.Get(ctx, "content", "c1"); !core.IsStoreNotFound(err) {
		t.Fatalf("Get missing: got %v, want not found", err)
	}
	if err := s.Create(ctx, "content", "c1", core.Document{"title": "Go", "viewCount": 3}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := s.Create(ctx, "content", "c1", core.Document{}); !core.IsConflict(err) {
		t.Errorf("Create existing: got %v, want conflict", err)
	}
	if err := s.Update(ctx, "content", "c1", core.Document{"title": "Go 101"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := s.Update(ctx, "content", "missing", core.Document{"x": 1}); !core.IsNotFound(err) {
		t.Errorf("Update missing: got %v, want not found", err)
	}

	doc, err := s.Get(ctx, "content", "c1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if doc["title"] != "Go 101" || doc["viewCount"] != int64(3) || doc.ID() != "c1" {
		t.Errorf("Get() = %v", doc)
	}

	doc["title"] = "mutated"
	again, _ := s.Get(ctx, "content", "c1")
	if again["title"] != "Go 101" {
		t.Errorf("returned document aliases stored data")
	}

	if err := s.Delete(ctx, "content", "c1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, "content", "c1"); !core.IsStoreNotFound(err) {
		t.Errorf("Get after delete: %v", err)
	}
}

func TestMemoryStoreQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for id, doc := range map[string]core.Document{
		"i1": {"userId": "u1", "timestamp": int64(100), "action": "view"},
		"i2": {"userId": "u1", "timestamp": int64(300), "action": "like"},
		"i3": {"userId": "u1", "timestamp": int64(200), "action": "complete"},
		"i4": {"userId": "u2", "timestamp": int64(400), "action": "view"},
	} {
		_ = s.Set(ctx, "interactions", id, doc)
	}

	tests := []struct {
		name string
		q    core.Query
		want []string
	}{
		{
			"user newest first",
			core.Query{OrderBy: []core.Order{{Field: "timestamp", Desc: true}}}.Where("userId", core.OpEq, "u1"),
			[]string{"i2", "i3", "i1"},
		},
		{
			"range and limit",
			core.Query{OrderBy: []core.Order{{Field: "timestamp"}}, Limit: 2}.Where("timestamp", core.OpGte, 200),
			[]string{"i3", "i2"},
		},
		{
			"in operator",
			core.Query{}.Where("action", core.OpIn, []string{"like", "complete"}),
			[]string{"i2", "i3"},
		},
		{
			"not equal",
			core.Query{}.Where("userId", core.OpNe, "u1"),
			[]string{"i4"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := s.Query(ctx, "interactions", tt.q)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if len(docs) != len(tt.want) {
				t.Fatalf("Query() returned %d docs, want %d", len(docs), len(tt.want))
			}
			for i, d := range docs {
				if d.ID() != tt.want[i] {
					t.Errorf("docs[%d] = %s, want %s", i, d.ID(), tt.want[i])
				}
			}
		})
	}
}

func TestMemoryStoreIncrementNested(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	field := core.FieldPath(core.ProfileFieldContentTags, "node.js")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Increment(ctx, "interaction_profiles", "u1", field, 1); err != nil {
				t.Errorf("Increment() error = %v", err)
			}
		}()
	}
	wg.Wait()

	doc, err := s.Get(ctx, "interaction_profiles", "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	p := core.InteractionPatternProfileFromDocument("u1", doc)
	if p.ContentTags["node.js"] != 20 {
		t.Errorf("contentTags[node.js] = %v, want 20", p.ContentTags["node.js"])
	}

	_ = s.Set(ctx, "c", "x", core.Document{"title": "text"})
	if err := s.Increment(ctx, "c", "x", "title", 1); !core.IsInvalidInput(err) {
		t.Errorf("Increment non-numeric: got %v, want invalid input", err)
	}
}

func TestMemoryStoreTransaction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Set(ctx, "recommendations", "u1", core.Document{"setId": "old"})
	_ = s.Set(ctx, "recommendation_sets", "old", core.Document{"n": 1})

	err := s.RunTransaction(ctx, func(tx core.Tx) error {
		ptr, err := tx.Get("recommendations", "u1")
		if err != nil {
			return err
		}
		tx.Set("recommendation_sets", "new", core.Document{"n": 2})
		tx.Set("recommendations", "u1", core.Document{"setId": "new"})
		tx.Delete("recommendation_sets", ptr["setId"].(string))
		if _, err := tx.Get("recommendation_sets", "old"); !core.IsStoreNotFound(err) {
			t.Errorf("tx should see its own delete, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunTransaction() error = %v", err)
	}
	if _, err := s.Get(ctx, "recommendation_sets", "old"); !core.IsStoreNotFound(err) {
		t.Errorf("old set should be deleted")
	}

	boom := errors.New("boom")
	err = s.RunTransaction(ctx, func(tx core.Tx) error {
		tx.Delete("recommendations", "u1")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunTransaction() error = %v, want boom", err)
	}
	if doc, err := s.Get(ctx, "recommendations", "u1"); err != nil || doc["setId"] != "new" {
		t.Errorf("failed transaction must not apply writes: %v %v", doc, err)
	}
}
