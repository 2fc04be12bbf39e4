package store

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/rushteam/reclearn/core"
)

func TestEncodeDecodeHash(t *testing.T) {
	doc := core.Document{
		"userId": "u1",
		"contentTags": map[string]float64{
			"node.js": 2,
			"go":      1,
		},
		"tags":  []string{"a", "b"},
		"count": 3,
	}
	fields, err := encodeDocument("p1", doc)
	if err != nil {
		t.Fatalf("encodeDocument() error = %v", err)
	}
	if _, ok := fields[`contentTags.node\.js`]; !ok {
		t.Fatalf("escaped field missing: %v", fields)
	}

	raw := make(map[string]string, len(fields))
	for k, v := range fields {
		raw[k] = v.(string)
	}
	got, err := decodeHash("p1", raw)
	if err != nil {
		t.Fatalf("decodeHash() error = %v", err)
	}
	p := core.InteractionPatternProfileFromDocument("p1", got)
	if p.ContentTags["node.js"] != 2 || p.ContentTags["go"] != 1 {
		t.Errorf("contentTags = %v", p.ContentTags)
	}
	if got["count"] != float64(3) || got.ID() != "p1" {
		t.Errorf("decoded = %v", got)
	}
}

// 需要真实 Redis：RECLEARN_TEST_REDIS_ADDR=localhost:6379
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("RECLEARN_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RECLEARN_TEST_REDIS_ADDR not set")
	}
	client, err := DialRedis(context.Background(), addr, "", 0)
	if err != nil {
		t.Fatalf("DialRedis() error = %v", err)
	}
	s := NewRedisStore(client, RedisOptions{Prefix: "reclearn_test_" + uuid.NewString()[:8]})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisStoreDocumentLifecycle(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, "interactions", "i1", core.Document{"userId": "u1", "timestamp": int64(10)}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := s.Create(ctx, "interactions", "i1", core.Document{"userId": "u1"}); !core.IsConflict(err) {
		t.Errorf("Create existing: %v", err)
	}
	_ = s.Set(ctx, "interactions", "i2", core.Document{"userId": "u1", "timestamp": int64(20)})
	_ = s.Set(ctx, "interactions", "i3", core.Document{"userId": "u2", "timestamp": int64(30)})

	docs, err := s.Query(ctx, "interactions", core.Query{OrderBy: []core.Order{{Field: "timestamp", Desc: true}}}.Where("userId", core.OpEq, "u1"))
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(docs) != 2 || docs[0].ID() != "i2" || docs[1].ID() != "i1" {
		t.Fatalf("Query() = %v", docs)
	}

	if err := s.Update(ctx, "interactions", "i2", core.Document{"userId": "u2"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	docs, _ = s.Query(ctx, "interactions", core.Query{}.Where("userId", core.OpEq, "u2"))
	if len(docs) != 2 {
		t.Errorf("secondary index not maintained on update: %v", docs)
	}

	if err := s.Delete(ctx, "interactions", "i1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, "interactions", "i1"); !core.IsStoreNotFound(err) {
		t.Errorf("Get after delete: %v", err)
	}
}

func TestRedisStoreIncrementAndTransaction(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	field := core.FieldPath(core.ProfileFieldContentTags, "node.js")
	for i := 0; i < 3; i++ {
		if err := s.Increment(ctx, "interaction_profiles", "u1", field, 1); err != nil {
			t.Fatalf("Increment() error = %v", err)
		}
	}
	doc, err := s.Get(ctx, "interaction_profiles", "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if p := core.InteractionPatternProfileFromDocument("u1", doc); p.ContentTags["node.js"] != 3 {
		t.Errorf("contentTags = %v", p.ContentTags)
	}

	err = s.RunTransaction(ctx, func(tx core.Tx) error {
		if _, err := tx.Get("recommendations", "u1"); err != nil && !core.IsStoreNotFound(err) {
			return err
		}
		tx.Set("recommendations", "u1", core.Document{"setId": "s1"})
		return nil
	})
	if err != nil {
		t.Fatalf("RunTransaction() error = %v", err)
	}
	if doc, err := s.Get(ctx, "recommendations", "u1"); err != nil || doc["setId"] != "s1" {
		t.Errorf("transaction write missing: %v %v", doc, err)
	}
}
