package core

import (
	"sort"
	"strings"

	"github.com/rushteam/reclearn/pkg/conv"
	"github.com/rushteam/reclearn/pkg/utils"
)

// ItemType 是可推荐内容的类型。
type ItemType string

const (
	ItemTypeCourse   ItemType = "course"
	ItemTypeResource ItemType = "resource"
	ItemTypeForum    ItemType = "forum"
	ItemTypeQuiz     ItemType = "quiz"
)

// Valid 判断类型是否为已知取值。
func (t ItemType) Valid() bool {
	switch t {
	case ItemTypeCourse, ItemTypeResource, ItemTypeForum, ItemTypeQuiz:
		return true
	}
	return false
}

// ContentItem 是可推荐的内容单元（课程、资料、论坛帖、测验），对引擎只读。
// Embedding 由外部生成，可能为空；为空时召回会用 Text() 调用向量化服务。
type ContentItem struct {
	ID          string
	Type        ItemType
	Title       string
	Description string
	Tags        []string
	SkillLevel  string
	Language    string
	Embedding   []float64
	ViewCount   int64
}

// Text 返回用于向量化的文本（标题 + 描述）。
func (c *ContentItem) Text() string {
	return strings.TrimSpace(c.Title + "\n" + c.Description)
}

func (c *ContentItem) ToDocument() Document {
	doc := Document{
		"type":        string(c.Type),
		"title":       c.Title,
		"description": c.Description,
		"tags":        conv.StringsToAny(c.Tags),
		"skillLevel":  c.SkillLevel,
		"language":    c.Language,
		"viewCount":   c.ViewCount,
	}
	if len(c.Embedding) > 0 {
		doc["embedding"] = conv.ConvertSlice(c.Embedding, func(f float64) (any, bool) { return f, true })
	}
	return doc
}

// ContentItemFromDocument 解码内容文档；字段缺失时取零值。
func ContentItemFromDocument(id string, doc Document) *ContentItem {
	typ, _ := conv.ToString(doc["type"])
	title, _ := conv.ToString(doc["title"])
	desc, _ := conv.ToString(doc["description"])
	skill, _ := conv.ToString(doc["skillLevel"])
	lang, _ := conv.ToString(doc["language"])
	views, _ := conv.ToInt64(doc["viewCount"])
	if id == "" {
		id = doc.ID()
	}
	return &ContentItem{
		ID:          id,
		Type:        ItemType(typ),
		Title:       title,
		Description: desc,
		Tags:        conv.SliceAnyToString(doc["tags"]),
		SkillLevel:  skill,
		Language:    lang,
		Embedding:   conv.SliceAnyToFloat64(doc["embedding"]),
		ViewCount:   views,
	}
}

// Candidate 是一次打分运行中的推荐候选（RecommendationCandidate），不单独持久化。
// Labels 用于解释与追踪（例如 recall_source）；Score 用于排序决策。
type Candidate struct {
	ID          string
	Score       float64
	Type        ItemType
	MatchReason []string
	Labels      map[string]utils.Label
}

func NewCandidate(id string, typ ItemType, score float64, reasons ...string) *Candidate {
	return &Candidate{
		ID:          id,
		Type:        typ,
		Score:       score,
		MatchReason: utils.UnionReasons(reasons),
		Labels:      make(map[string]utils.Label),
	}
}

// PutLabel 写入 Label；若已存在同名 key，则按默认 Merge 规则累积。
func (c *Candidate) PutLabel(key string, lbl utils.Label) {
	if c.Labels == nil {
		c.Labels = make(map[string]utils.Label)
	}
	if old, ok := c.Labels[key]; ok {
		c.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	c.Labels[key] = lbl
}

// AddReason 追加推荐理由，已存在则忽略。
func (c *Candidate) AddReason(reasons ...string) {
	c.MatchReason = utils.UnionReasons(c.MatchReason, reasons)
}

// Clone 深拷贝候选。
func (c *Candidate) Clone() *Candidate {
	out := *c
	out.MatchReason = append([]string(nil), c.MatchReason...)
	out.Labels = make(map[string]utils.Label, len(c.Labels))
	for k, v := range c.Labels {
		out.Labels[k] = v
	}
	return &out
}

// SortCandidates 按分数降序排序，分数相同时按 ID 升序，保证结果确定。
func SortCandidates(items []*Candidate) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ID < items[j].ID
	})
}

// TopCandidates 排序后截断到 n 个（n <= 0 不截断）。
func TopCandidates(items []*Candidate, n int) []*Candidate {
	SortCandidates(items)
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
