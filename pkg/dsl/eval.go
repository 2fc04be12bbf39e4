package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/reclearn/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once

	// programs 缓存编译后的表达式：expr -> *Program
	programs sync.Map
)

// initCELEnv 初始化 CEL 环境，定义变量
func initCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("item", cel.DynType),
		cel.Variable("label", cel.DynType),
		cel.Variable("rctx", cel.DynType),
	)
}

// getCELEnv 获取或创建 CEL 环境
func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = initCELEnv()
	})
	return celEnv, celEnvErr
}

// Program 是编译好的规则表达式，可并发执行。
type Program struct {
	expr string
	prg  cel.Program
}

// Compile 编译表达式并缓存；同一表达式只编译一次。
func Compile(expr string) (*Program, error) {
	if p, ok := programs.Load(expr); ok {
		return p.(*Program), nil
	}
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error: %w", err)
	}
	p := &Program{expr: expr, prg: prg}
	actual, _ := programs.LoadOrStore(expr, p)
	return actual.(*Program), nil
}

// String 返回原始表达式。
func (p *Program) String() string { return p.expr }

// Eval 对一个候选求值，表达式必须返回布尔值。
func (p *Program) Eval(item *core.Candidate, rctx *core.RecommendContext) (bool, error) {
	out, _, err := p.prg.Eval(buildInput(item, rctx))
	if err != nil {
		// 对于不存在的 key，CEL 会返回错误
		// 用户应该使用 has(label.key) 检查存在性
		return false, fmt.Errorf("eval error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression must return boolean, got %T", out.Value())
	}
	return result, nil
}

// Eval 是 Label DSL 解释器，使用 CEL (Common Expression Language) 实现。
//
// 表达式语法（CEL 标准语法）：
//   - 基础：label.recall_source == "recall.hot" / item.type != "quiz"
//   - 数值：item.score > 0.7 / item.score >= 0.5
//   - 逻辑：item.type == "course" && item.score > 0.8
//   - 存在性：has(label.recall_source)
//   - 包含：label.recall_source.contains("content") / "python" in rctx.interests
//
// 可用变量：
//   - item：id, score, type, reasons, labels
//   - label：label key -> value 的简写
//   - rctx：user_id, skill_level, interests, languages, cold_start, params
type Eval struct {
	item *core.Candidate
	rctx *core.RecommendContext
}

// NewEval 创建一个新的 DSL 解释器。
func NewEval(item *core.Candidate, rctx *core.RecommendContext) *Eval {
	return &Eval{item: item, rctx: rctx}
}

// Evaluate 解析并执行 DSL 表达式，返回布尔结果；空表达式恒为 true。
func (e *Eval) Evaluate(expr string) (bool, error) {
	if expr == "" {
		return true, nil
	}
	p, err := Compile(expr)
	if err != nil {
		return false, err
	}
	return p.Eval(e.item, e.rctx)
}

// buildInput 构建 CEL 表达式的输入数据
func buildInput(cand *core.Candidate, rctx *core.RecommendContext) map[string]any {
	labels := make(map[string]any)
	labelAccessor := make(map[string]any)
	item := map[string]any{}
	if cand != nil {
		for k, v := range cand.Labels {
			labels[k] = map[string]any{
				"value":  v.Value,
				"source": v.Source,
			}
			labelAccessor[k] = v.Value
		}
		reasons := cand.MatchReason
		if reasons == nil {
			reasons = []string{}
		}
		item = map[string]any{
			"id":      cand.ID,
			"score":   cand.Score,
			"type":    string(cand.Type),
			"reasons": reasons,
			"labels":  labels,
		}
	}

	user := map[string]any{
		"user_id":     "",
		"skill_level": "",
		"interests":   []string{},
		"languages":   []string{},
		"cold_start":  true,
		"params":      map[string]any{},
	}
	if rctx != nil {
		user["user_id"] = rctx.UserID
		user["cold_start"] = rctx.ColdStart()
		if rctx.Params != nil {
			user["params"] = rctx.Params
		}
		if p := rctx.Preferences; p != nil {
			user["skill_level"] = p.SkillLevel
			if p.Interests != nil {
				user["interests"] = p.Interests
			}
			if p.PreferredLanguages != nil {
				user["languages"] = p.PreferredLanguages
			}
		}
	}

	return map[string]any{
		"item":  item,
		"label": labelAccessor,
		"rctx":  user,
	}
}
