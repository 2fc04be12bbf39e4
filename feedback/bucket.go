package feedback

import (
	"time"

	"github.com/rushteam/reclearn/core"
)

// Bucket 是一个指标统计桶：[Start, End)。
type Bucket struct {
	Period core.Period
	Start  time.Time
	End    time.Time
}

// BucketFor 返回 t 所在的统计桶。日桶从当天零点开始，周桶从周一零点开始，月桶从 1 号零点开始。
// 桶边界按 loc 计算，loc 为空时使用 UTC。
func BucketFor(p core.Period, t time.Time, loc *time.Location) Bucket {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	switch p {
	case core.PeriodWeekly:
		// time.Weekday 以周日为 0，换算成周一为 0
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return Bucket{Period: p, Start: start, End: start.AddDate(0, 0, 7)}
	case core.PeriodMonthly:
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
		return Bucket{Period: p, Start: start, End: start.AddDate(0, 1, 0)}
	default:
		return Bucket{Period: core.PeriodDaily, Start: day, End: day.AddDate(0, 0, 1)}
	}
}

// MetricsDocID 返回指标文档 ID：{userId}_{period}_{YYYYMMDD}（桶起始日期）。
func MetricsDocID(userID string, b Bucket) string {
	return userID + "_" + string(b.Period) + "_" + b.Start.Format("20060102")
}
