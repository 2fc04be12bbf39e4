package core

// 文档集合名称。
const (
	CollectionInteractions       = "interactions"
	CollectionContent            = "content"
	CollectionUsers              = "users"
	CollectionProfiles           = "interaction_profiles"
	CollectionFeedback           = "feedback"
	CollectionMetrics            = "metrics"
	CollectionRecommendations    = "recommendations"
	CollectionRecommendationSets = "recommendation_sets"
	CollectionRefreshTasks       = "refresh_tasks"
	CollectionBlocklists         = "blocklists" // 运营屏蔽列表，文档字段 itemIds
)
