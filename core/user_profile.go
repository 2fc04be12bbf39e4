package core

import (
	"strconv"
	"time"

	"github.com/rushteam/reclearn/pkg/conv"
)

// UserPreferences 是用户主动声明的偏好（"users" 集合），驱动内容召回的调权。
//
// 设计要点：
//
//	维度                 作用
//	Interests            兴趣匹配加权（每命中一个 ×(1+0.1)）
//	SkillLevel           难度匹配加权（×1.2）
//	PreferredLanguages   语言匹配加权（×1.1）
//	Active               定时刷新批次只扫描 active 用户
type UserPreferences struct {
	UserID             string
	Interests          []string
	SkillLevel         string
	PreferredLanguages []string
	Active             bool
}

func (p *UserPreferences) ToDocument() Document {
	return Document{
		"interests":          conv.StringsToAny(p.Interests),
		"skillLevel":         p.SkillLevel,
		"preferredLanguages": conv.StringsToAny(p.PreferredLanguages),
		"active":             p.Active,
	}
}

func UserPreferencesFromDocument(id string, doc Document) *UserPreferences {
	skill, _ := conv.ToString(doc["skillLevel"])
	active, _ := conv.ToBool(doc["active"])
	if id == "" {
		id = doc.ID()
	}
	return &UserPreferences{
		UserID:             id,
		Interests:          conv.SliceAnyToString(doc["interests"]),
		SkillLevel:         skill,
		PreferredLanguages: conv.SliceAnyToString(doc["preferredLanguages"]),
		Active:             active,
	}
}

// InteractionPatternProfile 是从反馈中学习到的用户偏好摘要。
//
// 首次反馈时惰性创建，之后只通过存储层的原子自增更新，不做应用层读改写。
// map 的 key 均为字符串：内容类型、小时（"0"-"23"）、星期（"0"=周日 ... "6"=周六）、标签。
type InteractionPatternProfile struct {
	UserID                string
	PreferredContentTypes map[string]float64
	ActiveHours           map[string]float64
	WeekdayActivity       map[string]float64
	ContentTags           map[string]float64
	UpdatedAt             time.Time
}

// 画像文档中的字段名。
const (
	ProfileFieldContentTypes = "preferredContentTypes"
	ProfileFieldActiveHours  = "activeHours"
	ProfileFieldWeekdays     = "weekdayActivity"
	ProfileFieldContentTags  = "contentTags"
	ProfileFieldUpdatedAt    = "updatedAt"
)

func InteractionPatternProfileFromDocument(id string, doc Document) *InteractionPatternProfile {
	if id == "" {
		id = doc.ID()
	}
	p := &InteractionPatternProfile{
		UserID:                id,
		PreferredContentTypes: conv.MapToFloat64(doc[ProfileFieldContentTypes]),
		ActiveHours:           conv.MapToFloat64(doc[ProfileFieldActiveHours]),
		WeekdayActivity:       conv.MapToFloat64(doc[ProfileFieldWeekdays]),
		ContentTags:           conv.MapToFloat64(doc[ProfileFieldContentTags]),
		UpdatedAt:             MillisToTime(doc[ProfileFieldUpdatedAt]),
	}
	if p.PreferredContentTypes == nil {
		p.PreferredContentTypes = make(map[string]float64)
	}
	if p.ActiveHours == nil {
		p.ActiveHours = make(map[string]float64)
	}
	if p.WeekdayActivity == nil {
		p.WeekdayActivity = make(map[string]float64)
	}
	if p.ContentTags == nil {
		p.ContentTags = make(map[string]float64)
	}
	return p
}

// HourKey 返回 activeHours 的 key。
func HourKey(t time.Time) string {
	return strconv.Itoa(t.Hour())
}

// WeekdayKey 返回 weekdayActivity 的 key。
func WeekdayKey(t time.Time) string {
	return strconv.Itoa(int(t.Weekday()))
}
