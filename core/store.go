package core

import (
	"context"
	"strings"
)

// Document 是文档存储中的一条记录：字段名 -> 值。
// 嵌套 map 表示子文档；时间统一编码为 unix 毫秒（int64）。
type Document map[string]any

// ID 返回文档 id（Query 结果会回填 "id" 字段）。
func (d Document) ID() string {
	s, _ := d["id"].(string)
	return s
}

// Op 是查询过滤操作符。
type Op string

const (
	OpEq  Op = "=="
	OpNe  Op = "!="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpIn  Op = "in"
)

// Filter 是单个字段条件，多个 Filter 之间为 AND。
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Order 是排序条件。
type Order struct {
	Field string
	Desc  bool
}

// Query 描述一次集合查询。Limit <= 0 表示不限制。
type Query struct {
	Filters []Filter
	OrderBy []Order
	Limit   int
}

// Where 追加一个过滤条件。
func (q Query) Where(field string, op Op, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: value})
	return q
}

// DocumentStore 是文档存储的领域接口。
//
// 设计原则：
//   - 定义在领域层（core），由基础设施层（store）实现
//   - 只提供推荐引擎需要的能力：按 id 读写、条件查询、原子自增、事务
//   - 事务内先读后写，写操作在提交时原子生效
//
// 实现：
//   - store.MemoryStore：进程内实现，用于测试和单机部署
//   - store.RedisStore：基于 Redis Hash + WATCH/MULTI
type DocumentStore interface {
	// Name 返回存储后端名称（用于日志/监控）
	Name() string

	// Get 读取单个文档，不存在返回 ErrStoreNotFound
	Get(ctx context.Context, collection, id string) (Document, error)

	// Query 条件查询，结果文档带 "id" 字段
	Query(ctx context.Context, collection string, q Query) ([]Document, error)

	// Create 新建文档，已存在返回 ErrStoreConflict
	Create(ctx context.Context, collection, id string, doc Document) error

	// Update 合并写入顶层字段，不存在返回 ErrStoreNotFound
	Update(ctx context.Context, collection, id string, fields Document) error

	// Set 整体覆盖写入（不存在则创建）
	Set(ctx context.Context, collection, id string, doc Document) error

	// Delete 删除文档，不存在时不报错
	Delete(ctx context.Context, collection, id string) error

	// Increment 原子自增字段（FieldPath 表示嵌套字段），文档或字段不存在时从 0 开始
	Increment(ctx context.Context, collection, id, field string, delta float64) error

	// RunTransaction 在事务中执行 fn；fn 返回错误时不提交任何写入
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error

	// Close 关闭连接/释放资源
	Close() error
}

// Tx 是事务句柄，只能在 RunTransaction 回调内使用。
type Tx interface {
	Get(collection, id string) (Document, error)
	Set(collection, id string, doc Document)
	Delete(collection, id string)
}

// Store 错误定义（使用统一的 DomainError）
var (
	// ErrStoreNotFound 表示文档不存在
	ErrStoreNotFound = NewDomainError(ModuleStore, ErrorCodeNotFound, "store: document not found")

	// ErrStoreConflict 表示并发写冲突或文档已存在
	ErrStoreConflict = NewDomainError(ModuleStore, ErrorCodeConflict, "store: write conflict")

	// ErrStoreNotSupported 表示操作不支持
	ErrStoreNotSupported = NewDomainError(ModuleStore, ErrorCodeNotSupported, "store: operation not supported")
)

// IsStoreNotFound 检查错误是否为文档不存在
func IsStoreNotFound(err error) bool {
	domainErr := GetDomainError(err)
	return domainErr != nil && domainErr.Module == ModuleStore && domainErr.Code == ErrorCodeNotFound
}

// 字段路径分隔与转义。字段名本身可能含 "."（例如标签 "node.js"）。
const (
	pathSep    = "."
	pathEscape = "\\"
)

var (
	segmentEscaper   = strings.NewReplacer(pathEscape, pathEscape+pathEscape, pathSep, pathEscape+pathSep)
	segmentUnescaper = strings.NewReplacer(pathEscape+pathEscape, pathEscape, pathEscape+pathSep, pathSep)
)

// EscapeSegment 转义单个字段名。
func EscapeSegment(s string) string {
	return segmentEscaper.Replace(s)
}

// FieldPath 拼接嵌套字段路径，每一段都会转义。
func FieldPath(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = EscapeSegment(s)
	}
	return strings.Join(escaped, pathSep)
}

// SplitFieldPath 按未转义的 "." 拆分路径并还原每一段。
func SplitFieldPath(path string) []string {
	var (
		out     []string
		current strings.Builder
		escaped bool
	)
	for _, r := range path {
		switch {
		case escaped:
			current.WriteString(pathEscape)
			current.WriteRune(r)
			escaped = false
		case string(r) == pathEscape:
			escaped = true
		case string(r) == pathSep:
			out = append(out, segmentUnescaper.Replace(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if escaped {
		current.WriteString(pathEscape)
	}
	out = append(out, segmentUnescaper.Replace(current.String()))
	return out
}
