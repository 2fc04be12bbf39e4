package core

import (
	"time"

	"github.com/rushteam/reclearn/pkg/conv"
)

// TaskStatus 是刷新任务状态。completed / error 为终态。
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskError     TaskStatus = "error"
)

// Terminal 判断是否为终态。
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskError
}

// Priority 是刷新任务优先级。
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// Valid 判断优先级是否为已知取值。
func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityNormal
}

// 常用刷新原因。
const (
	ReasonScheduled        = "scheduled_refresh"
	ReasonThresholdReached = "interaction_threshold_reached"
	ReasonManual           = "manual"
)

// RefreshTask 是一次用户推荐重算任务。
type RefreshTask struct {
	ID                  string
	UserID              string
	Status              TaskStatus
	Priority            Priority
	Reason              string
	CreatedAt           time.Time
	CompletedAt         time.Time
	RecommendationCount int
	Attempts            int
	Error               string
}

func (t *RefreshTask) ToDocument() Document {
	return Document{
		"userId":              t.UserID,
		"status":              string(t.Status),
		"priority":            string(t.Priority),
		"reason":              t.Reason,
		"createdAt":           TimeToMillis(t.CreatedAt),
		"completedAt":         TimeToMillis(t.CompletedAt),
		"recommendationCount": t.RecommendationCount,
		"attempts":            t.Attempts,
		"error":               t.Error,
	}
}

func RefreshTaskFromDocument(id string, doc Document) *RefreshTask {
	user, _ := conv.ToString(doc["userId"])
	status, _ := conv.ToString(doc["status"])
	priority, _ := conv.ToString(doc["priority"])
	reason, _ := conv.ToString(doc["reason"])
	count, _ := conv.ToInt(doc["recommendationCount"])
	attempts, _ := conv.ToInt(doc["attempts"])
	msg, _ := conv.ToString(doc["error"])
	if id == "" {
		id = doc.ID()
	}
	return &RefreshTask{
		ID:                  id,
		UserID:              user,
		Status:              TaskStatus(status),
		Priority:            Priority(priority),
		Reason:              reason,
		CreatedAt:           MillisToTime(doc["createdAt"]),
		CompletedAt:         MillisToTime(doc["completedAt"]),
		RecommendationCount: count,
		Attempts:            attempts,
		Error:               msg,
	}
}
