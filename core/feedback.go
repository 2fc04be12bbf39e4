package core

import (
	"time"

	"github.com/rushteam/reclearn/pkg/conv"
)

// FeedbackAction 是用户对一条推荐的反应。
type FeedbackAction string

const (
	FeedbackClick   FeedbackAction = "click"
	FeedbackIgnore  FeedbackAction = "ignore"
	FeedbackDismiss FeedbackAction = "dismiss"
	FeedbackSave    FeedbackAction = "save"
)

// Valid 判断反馈动作是否为已知取值。
func (a FeedbackAction) Valid() bool {
	switch a {
	case FeedbackClick, FeedbackIgnore, FeedbackDismiss, FeedbackSave:
		return true
	}
	return false
}

// Interacted 表示该反馈算作一次有效互动（click / save）。
func (a FeedbackAction) Interacted() bool {
	return a == FeedbackClick || a == FeedbackSave
}

// Feedback 是一次反馈事件，只追加不修改。
// RecommendationID 是被推荐内容的 ID。
type Feedback struct {
	ID               string
	UserID           string
	RecommendationID string
	Action           FeedbackAction
	Relevant         *bool
	Timestamp        time.Time
}

func (f *Feedback) ToDocument() Document {
	doc := Document{
		"userId":           f.UserID,
		"recommendationId": f.RecommendationID,
		"action":           string(f.Action),
		"timestamp":        TimeToMillis(f.Timestamp),
	}
	if f.Relevant != nil {
		doc["relevant"] = *f.Relevant
	}
	return doc
}

func FeedbackFromDocument(id string, doc Document) *Feedback {
	user, _ := conv.ToString(doc["userId"])
	rec, _ := conv.ToString(doc["recommendationId"])
	action, _ := conv.ToString(doc["action"])
	if id == "" {
		id = doc.ID()
	}
	f := &Feedback{
		ID:               id,
		UserID:           user,
		RecommendationID: rec,
		Action:           FeedbackAction(action),
		Timestamp:        MillisToTime(doc["timestamp"]),
	}
	if b, ok := conv.ToBool(doc["relevant"]); ok {
		f.Relevant = &b
	}
	return f
}

// Period 是指标统计周期。
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Periods 是反馈处理时更新的全部周期。
var Periods = []Period{PeriodDaily, PeriodWeekly, PeriodMonthly}

// Valid 判断周期是否为已知取值。
func (p Period) Valid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return true
	}
	return false
}

// 指标文档中的计数字段。ClickThroughRate 等字段保存的是原始计数，比率在读取时计算。
const (
	MetricTotal        = "totalRecommendations"
	MetricInteracted   = "interactedRecommendations"
	MetricClickThrough = "clickThroughRate"
	MetricRelevance    = "averageRelevanceScore"
	MetricConversion   = "conversionRate"
)

// Metrics 是某用户在一个统计桶内的推荐质量计数。
type Metrics struct {
	ID                        string
	UserID                    string
	Period                    Period
	StartDate                 time.Time
	EndDate                   time.Time
	TotalRecommendations      float64
	InteractedRecommendations float64
	ClickThroughRate          float64
	AverageRelevanceScore     float64
	ConversionRate            float64
}

// Rates 是读取时计算出的比率。
type Rates struct {
	InteractionRate  float64 `json:"interactionRate"`
	ClickThroughRate float64 `json:"clickThroughRate"`
	RelevanceRate    float64 `json:"averageRelevanceScore"`
	ConversionRate   float64 `json:"conversionRate"`
}

// Rates 用计数除以 totalRecommendations，总数为 0 时全部为 0。
func (m *Metrics) Rates() Rates {
	if m.TotalRecommendations <= 0 {
		return Rates{}
	}
	total := m.TotalRecommendations
	return Rates{
		InteractionRate:  m.InteractedRecommendations / total,
		ClickThroughRate: m.ClickThroughRate / total,
		RelevanceRate:    m.AverageRelevanceScore / total,
		ConversionRate:   m.ConversionRate / total,
	}
}

// NewMetricsDocument 创建计数全为 0 的指标文档。
func NewMetricsDocument(userID string, period Period, start, end time.Time) Document {
	return Document{
		"userId":           userID,
		"period":           string(period),
		"startDate":        TimeToMillis(start),
		"endDate":          TimeToMillis(end),
		MetricTotal:        0.0,
		MetricInteracted:   0.0,
		MetricClickThrough: 0.0,
		MetricRelevance:    0.0,
		MetricConversion:   0.0,
	}
}

func MetricsFromDocument(id string, doc Document) *Metrics {
	user, _ := conv.ToString(doc["userId"])
	period, _ := conv.ToString(doc["period"])
	f := func(key string) float64 {
		v, _ := conv.ToFloat64(doc[key])
		return v
	}
	if id == "" {
		id = doc.ID()
	}
	return &Metrics{
		ID:                        id,
		UserID:                    user,
		Period:                    Period(period),
		StartDate:                 MillisToTime(doc["startDate"]),
		EndDate:                   MillisToTime(doc["endDate"]),
		TotalRecommendations:      f(MetricTotal),
		InteractedRecommendations: f(MetricInteracted),
		ClickThroughRate:          f(MetricClickThrough),
		AverageRelevanceScore:     f(MetricRelevance),
		ConversionRate:            f(MetricConversion),
	}
}
