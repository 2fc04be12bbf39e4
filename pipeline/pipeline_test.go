package pipeline

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rushteam/reclearn/core"
)

type appendNode struct {
	id  string
	err error
}

func (n *appendNode) Name() string { return "append_" + n.id }
func (n *appendNode) Kind() Kind   { return KindRecall }

func (n *appendNode) Process(_ context.Context, _ *core.RecommendContext, items []*core.Candidate) ([]*core.Candidate, error) {
	if n.err != nil {
		return nil, n.err
	}
	return append(items, core.NewCandidate(n.id, core.ItemTypeCourse, 1)), nil
}

type countingHook struct {
	before, after []string
}

func (h *countingHook) BeforeNode(_ context.Context, _ *core.RecommendContext, node Node, _ []*core.Candidate) {
	h.before = append(h.before, node.Name())
}

func (h *countingHook) AfterNode(_ context.Context, _ *core.RecommendContext, node Node, _ []*core.Candidate, _ error) {
	h.after = append(h.after, node.Name())
}

func ids(items []*core.Candidate) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestPipelineRun(t *testing.T) {
	hook := &countingHook{}
	p := &Pipeline{
		Name:  "test",
		Nodes: []Node{&appendNode{id: "a"}, &appendNode{id: "b"}},
		Hooks: []Hook{hook},
	}
	rctx := core.NewRecommendContext("u1", time.Now())
	got, err := p.Run(context.Background(), rctx, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(ids(got), []string{"a", "b"}) {
		t.Errorf("items = %v", ids(got))
	}
	want := []string{"append_a", "append_b"}
	if !reflect.DeepEqual(hook.before, want) || !reflect.DeepEqual(hook.after, want) {
		t.Errorf("hooks before=%v after=%v", hook.before, hook.after)
	}
}

func TestPipelineRunError(t *testing.T) {
	boom := errors.New("boom")
	p := &Pipeline{Nodes: []Node{&appendNode{id: "a"}, &appendNode{id: "b", err: boom}, &appendNode{id: "c"}}}
	_, err := p.Run(context.Background(), core.NewRecommendContext("u1", time.Now()), nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if !strings.Contains(err.Error(), "append_b") {
		t.Errorf("err %q does not name the failing node", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Run(ctx, core.NewRecommendContext("u1", time.Now()), nil); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled run err = %v", err)
	}
}

func TestConfigBuildPipeline(t *testing.T) {
	cfg, err := ParseYAML([]byte(`
pipeline:
  name: demo
  nodes:
    - type: append
      config:
        id: x
    - type: append
      config:
        id: y
`))
	if err != nil {
		t.Fatalf("ParseYAML: %v", err)
	}
	f := NewNodeFactory()
	f.Register("append", func(c map[string]any) (Node, error) {
		id, _ := c["id"].(string)
		return &appendNode{id: id}, nil
	})
	if !f.Has("append") || f.Has("missing") {
		t.Fatal("Has reports wrong registrations")
	}
	p, err := cfg.BuildPipeline(f)
	if err != nil {
		t.Fatalf("BuildPipeline: %v", err)
	}
	if p.Name != "demo" || len(p.Nodes) != 2 {
		t.Fatalf("pipeline = %+v", p)
	}
	got, err := p.Run(context.Background(), core.NewRecommendContext("u1", time.Now()), nil)
	if err != nil || !reflect.DeepEqual(ids(got), []string{"x", "y"}) {
		t.Errorf("Run = %v, %v", ids(got), err)
	}

	cfg.Pipeline.Nodes = append(cfg.Pipeline.Nodes, NodeConfig{Type: "missing"})
	if _, err := cfg.BuildPipeline(f); err == nil {
		t.Error("unknown node type should fail")
	}
}
