package builders_test

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/reclearn/config"
	_ "github.com/rushteam/reclearn/config/builders"
	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/pipeline"
	"github.com/rushteam/reclearn/recall"
	"github.com/rushteam/reclearn/store"
)

const pipelineYAML = `
pipeline:
  name: configured
  nodes:
    - type: recall.fanout
      config:
        merge_strategy: mean
        timeout_ms: 1000
        sources:
          - type: content
            top_k: 10
          - type: cf
    - type: filter
      config:
        filters:
          - type: interacted
          - type: blocklist
            item_ids: ["c"]
          - type: expr
            expr: 'item.score < 0.1'
    - type: rerank.sort
    - type: rerank.topn
      config:
        n: 5
`

func TestSupportedTypes(t *testing.T) {
	want := []string{"filter", "recall.fanout", "recall.hot", "rerank.diversity", "rerank.sort", "rerank.topn"}
	if got := config.SupportedTypes(); !reflect.DeepEqual(got, want) {
		t.Errorf("SupportedTypes() = %v, want %v", got, want)
	}
}

func TestBuildPipelineFromYAML(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	now := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
	interactions := recall.NewStoreInteractionAdapter(mem)
	interactions.Now = func() time.Time { return now }
	content := recall.NewStoreContentIndex(mem)

	for _, it := range []*core.ContentItem{
		{ID: "a", Type: core.ItemTypeCourse, Embedding: []float64{1, 0}},
		{ID: "b", Type: core.ItemTypeCourse, Embedding: []float64{1, 0}},
		{ID: "c", Type: core.ItemTypeQuiz, Embedding: []float64{1, 0.1}},
		{ID: "d", Type: core.ItemTypeForum, Embedding: []float64{0.8, 0.6}},
	} {
		if err := content.PutItem(ctx, it); err != nil {
			t.Fatalf("PutItem: %v", err)
		}
	}
	if _, err := interactions.RecordInteraction(ctx, &core.Interaction{
		UserID: "u1", ItemID: "a", Action: core.ActionComplete, Timestamp: now.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("RecordInteraction: %v", err)
	}

	cfg, err := pipeline.ParseYAML([]byte(pipelineYAML))
	if err != nil {
		t.Fatalf("ParseYAML: %v", err)
	}
	p, err := config.BuildPipeline(cfg, &config.Resources{
		Store:        mem,
		Interactions: interactions,
		Content:      content,
		Logger:       zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("BuildPipeline: %v", err)
	}
	if p.Name != "configured" || len(p.Nodes) != 4 {
		t.Fatalf("pipeline = %s with %d nodes", p.Name, len(p.Nodes))
	}

	rctx := core.NewRecommendContext("u1", now)
	rctx.Interacted = map[string]struct{}{"a": {}}
	items, err := p.Run(ctx, rctx, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := make([]string, 0, len(items))
	for _, it := range items {
		got = append(got, it.ID)
	}
	// c 在屏蔽列表，d 的余弦 0.8 > 0.5 保留
	if want := []string{"b", "d"}; !reflect.DeepEqual(got, want) {
		t.Errorf("items = %v, want %v", got, want)
	}
}

func TestBuildPipelineErrors(t *testing.T) {
	res := &config.Resources{Store: store.NewMemoryStore(), Logger: zerolog.Nop()}
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown node", "pipeline:\n  nodes:\n    - type: rank.lr\n", "unsupported node type"},
		{"empty", "pipeline:\n  name: x\n", "no nodes"},
		{"unknown source", "pipeline:\n  nodes:\n    - type: recall.fanout\n      config:\n        sources:\n          - type: ann\n", "unknown source type"},
		{"hot without content", "pipeline:\n  nodes:\n    - type: recall.hot\n", "content index"},
		{"bad expr", "pipeline:\n  nodes:\n    - type: filter\n      config:\n        filters:\n          - type: expr\n            expr: 'item.score <'\n", "expr filter"},
		{"unknown filter", "pipeline:\n  nodes:\n    - type: filter\n      config:\n        filters:\n          - type: exposed\n", "unknown filter type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := pipeline.ParseYAML([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("ParseYAML: %v", err)
			}
			_, err = config.BuildPipeline(cfg, res)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("BuildPipeline() error = %v, want %q", err, tt.want)
			}
		})
	}
}
