// Package config 负责进程配置加载（koanf + validator）和配置驱动的 Pipeline 构建。
package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/pipeline"
)

// 使用配置驱动时，需在 main 或入口处 import _ "github.com/rushteam/reclearn/config/builders"
// 以触发内置 Node（recall.fanout、recall.hot、filter、rerank.sort、rerank.topn、rerank.diversity）的 init 注册。

// Resources 是构建 Node 时可注入的运行时依赖。
type Resources struct {
	Store        core.DocumentStore
	Interactions core.InteractionStore
	Content      core.ContentIndex
	Embedder     core.Embedder
	Logger       zerolog.Logger
}

// NodeBuilder 根据运行时依赖和 node 的 config 段构建 Node。
// 各组件在 init 中调用 Register(typeName, builder) 即可被配置驱动。
type NodeBuilder func(res *Resources, cfg map[string]any) (pipeline.Node, error)

var (
	defaultBuilders   = make(map[string]NodeBuilder)
	defaultBuildersMu sync.RWMutex
)

// Register 注册一种 Node 的构建逻辑，同名覆盖。
// 建议在各组件的 init 中调用，例如：func init() { config.Register("recall.hot", BuildHotNode) }
func Register(typeName string, builder NodeBuilder) {
	if typeName == "" || builder == nil {
		return
	}
	defaultBuildersMu.Lock()
	defer defaultBuildersMu.Unlock()
	defaultBuilders[typeName] = builder
}

// SupportedTypes 返回当前已注册的 Node 类型列表（排序），用于错误提示与校验。
func SupportedTypes() []string {
	defaultBuildersMu.RLock()
	defer defaultBuildersMu.RUnlock()
	types := make([]string, 0, len(defaultBuilders))
	for t := range defaultBuilders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// DefaultFactory 返回绑定了 res 的 NodeFactory，包含所有通过 Register 注册的 Node 类型。
func DefaultFactory(res *Resources) *pipeline.NodeFactory {
	if res == nil {
		res = &Resources{Logger: zerolog.Nop()}
	}
	defaultBuildersMu.RLock()
	defer defaultBuildersMu.RUnlock()
	f := pipeline.NewNodeFactory()
	for typeName, builder := range defaultBuilders {
		b := builder
		f.Register(typeName, func(cfg map[string]any) (pipeline.Node, error) {
			if cfg == nil {
				cfg = map[string]any{}
			}
			return b(res, cfg)
		})
	}
	return f
}

// ValidatePipelineConfig 校验 pipeline 配置中所有 node 类型均已注册；若有未支持类型则返回包含已支持列表的错误。
func ValidatePipelineConfig(cfg *pipeline.Config) error {
	if cfg == nil {
		return nil
	}
	if len(cfg.Pipeline.Nodes) == 0 {
		return fmt.Errorf("pipeline %q has no nodes", cfg.Pipeline.Name)
	}
	supported := SupportedTypes()
	defaultBuildersMu.RLock()
	defer defaultBuildersMu.RUnlock()
	for i, nc := range cfg.Pipeline.Nodes {
		if nc.Type == "" {
			return fmt.Errorf("node %d has no type", i)
		}
		if _, ok := defaultBuilders[nc.Type]; !ok {
			return fmt.Errorf("unsupported node type %q (supported: %v)", nc.Type, supported)
		}
	}
	return nil
}

// LoadPipeline 按扩展名读取 YAML / JSON 流水线配置，校验后构建。
func LoadPipeline(path string, res *Resources) (*pipeline.Pipeline, error) {
	var (
		cfg *pipeline.Config
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		cfg, err = pipeline.LoadFromJSON(path)
	default:
		cfg, err = pipeline.LoadFromYAML(path)
	}
	if err != nil {
		return nil, fmt.Errorf("load pipeline %s: %w", path, err)
	}
	return BuildPipeline(cfg, res)
}

// BuildPipeline 校验并构建流水线。
func BuildPipeline(cfg *pipeline.Config, res *Resources) (*pipeline.Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("pipeline config is nil")
	}
	if err := ValidatePipelineConfig(cfg); err != nil {
		return nil, err
	}
	return cfg.BuildPipeline(DefaultFactory(res))
}
