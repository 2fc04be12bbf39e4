// Package store 提供 core.DocumentStore 的实现。
//
// 注意：此包只包含实现，接口定义在 core 包。
//
// 示例：
//
//	var docs core.DocumentStore = store.NewMemoryStore()
//	var docs core.DocumentStore = store.NewRedisStore(client, store.RedisOptions{Prefix: "reclearn"})
package store

import (
	"sort"
	"strings"

	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/pkg/conv"
)

// normalize 深拷贝文档值，并把常见的强类型容器统一为 map[string]any / []any。
func normalize(v any) any {
	switch val := v.(type) {
	case core.Document:
		return normalizeMap(val)
	case map[string]any:
		return normalizeMap(val)
	case map[string]float64:
		out := make(map[string]any, len(val))
		for k, f := range val {
			out[k] = f
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalize(e)
		}
		return out
	case []string:
		return conv.StringsToAny(val)
	case []float64:
		return conv.ConvertSlice(val, func(f float64) (any, bool) { return f, true })
	case []map[string]any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalizeMap(e)
		}
		return out
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}

func copyDocument(id string, doc core.Document) core.Document {
	out := core.Document(normalizeMap(doc))
	out["id"] = id
	return out
}

// lookup 按转义路径取嵌套字段。
func lookup(doc core.Document, field string) (any, bool) {
	var cur any = map[string]any(doc)
	for _, seg := range core.SplitFieldPath(field) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// compare 比较两个值：都能转为数字时按数值比较，否则都是字符串时按字典序比较。
func compare(a, b any) (int, bool) {
	if fa, ok := conv.ToFloat64(a); ok {
		fb, ok := conv.ToFloat64(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if !okA || !okB {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

func matches(doc core.Document, f core.Filter) bool {
	v, ok := lookup(doc, f.Field)
	if f.Op == core.OpIn {
		if !ok {
			return false
		}
		for _, candidate := range inValues(f.Value) {
			if c, ok := compare(v, candidate); ok && c == 0 {
				return true
			}
		}
		return false
	}
	if !ok {
		return f.Op == core.OpNe
	}
	c, ok := compare(v, f.Value)
	if !ok {
		return f.Op == core.OpNe
	}
	switch f.Op {
	case core.OpEq:
		return c == 0
	case core.OpNe:
		return c != 0
	case core.OpLt:
		return c < 0
	case core.OpLte:
		return c <= 0
	case core.OpGt:
		return c > 0
	case core.OpGte:
		return c >= 0
	}
	return false
}

func inValues(v any) []any {
	switch val := v.(type) {
	case []any:
		return val
	case []string:
		return conv.StringsToAny(val)
	default:
		return []any{v}
	}
}

// applyQuery 在内存中执行过滤、排序、截断；排序相同时按 id 升序，保证结果稳定。
func applyQuery(docs []core.Document, q core.Query) []core.Document {
	out := docs[:0]
	for _, d := range docs {
		keep := true
		for _, f := range q.Filters {
			if !matches(d, f) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		for _, o := range q.OrderBy {
			vi, _ := lookup(out[i], o.Field)
			vj, _ := lookup(out[j], o.Field)
			c, ok := compare(vi, vj)
			if !ok || c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return out[i].ID() < out[j].ID()
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
