// Package reclearn 是一个面向在线学习平台的个性化推荐引擎。
//
// 设计要点：
// - Pipeline-first: 召回、过滤、重排通过 Node 串联，流水线可由 YAML/JSON 配置
// - 集合整体替换: 每个用户只有一个生效的推荐集合，重算时原子替换，过期写入被拒绝
// - 反馈闭环: 反馈更新指标与行为画像，累计到阈值时触发高优先级重算
// - 后台刷新: 调度器定时批量重算活跃用户，单个用户失败不影响其他用户
package reclearn

import "github.com/rushteam/reclearn/pipeline"

// 轻量 facade：便于直接 import "reclearn" 使用核心抽象。
type Pipeline = pipeline.Pipeline
type Node = pipeline.Node
type Kind = pipeline.Kind

const (
	KindRecall      = pipeline.KindRecall
	KindFilter      = pipeline.KindFilter
	KindReRank      = pipeline.KindReRank
	KindPostProcess = pipeline.KindPostProcess
)
