package core

import (
	"context"
	"errors"
	"fmt"
)

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）和消息（Message）
//   - 可包装底层错误（Err），支持 errors.Is / errors.As
//
// 使用场景：
//   - Store 错误：NOT_FOUND, CONFLICT
//   - Embedding 错误：UNAVAILABLE
//   - 推荐集合写入：STALE（过期写入被拒绝）
type DomainError struct {
	Code    string // 错误代码（如 "NOT_FOUND", "UNAVAILABLE"）
	Message string // 错误消息
	Module  string // 模块名称（如 "store", "embedding", "recstore"）
	Err     error  // 底层错误，可为空
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is 按 Module + Code 判等，便于和哨兵错误比较。
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Module == t.Module
}

// IsDomainError 检查错误链中是否存在 DomainError
func IsDomainError(err error) bool {
	return GetDomainError(err) != nil
}

// GetDomainError 获取错误链中的 DomainError，如果没有则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// WrapDomainError 创建包装底层错误的领域错误
func WrapDomainError(module, code string, err error, format string, args ...any) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// Unavailable 将外部依赖的失败标记为 UNAVAILABLE（可重试）。
func Unavailable(module string, err error) *DomainError {
	return WrapDomainError(module, ErrorCodeUnavailable, err, "%s: unavailable", module)
}

// InvalidInput 创建 INVALID_INPUT 错误。
func InvalidInput(module, format string, args ...any) *DomainError {
	return NewDomainError(module, ErrorCodeInvalidInput, fmt.Sprintf(format, args...))
}

// 错误代码常量
const (
	ErrorCodeNotFound      = "NOT_FOUND"      // 资源不存在
	ErrorCodeNotSupported  = "NOT_SUPPORTED"  // 操作不支持
	ErrorCodeUnavailable   = "UNAVAILABLE"    // 服务不可用
	ErrorCodeInvalidInput  = "INVALID_INPUT"  // 输入无效
	ErrorCodeInternalError = "INTERNAL_ERROR" // 内部错误
	ErrorCodeConflict      = "CONFLICT"       // 并发写冲突
	ErrorCodeStale         = "STALE"          // 过期写入
)

// 模块名称常量
const (
	ModuleStore     = "store"     // 存储模块
	ModuleEmbedding = "embedding" // 向量化服务
	ModuleRecall    = "recall"    // 召回/打分
	ModuleRecStore  = "recstore"  // 推荐集合存储
	ModuleFeedback  = "feedback"  // 反馈处理
	ModuleRefresh   = "refresh"   // 刷新调度
	ModuleEngine    = "engine"    // 对外 API
)

func hasCode(err error, code string) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool {
	return hasCode(err, ErrorCodeNotFound)
}

// IsNotSupported 检查错误是否为 NOT_SUPPORTED
func IsNotSupported(err error) bool {
	return hasCode(err, ErrorCodeNotSupported)
}

// IsUnavailable 检查错误是否为 UNAVAILABLE
func IsUnavailable(err error) bool {
	return hasCode(err, ErrorCodeUnavailable)
}

// IsInvalidInput 检查错误是否为 INVALID_INPUT
func IsInvalidInput(err error) bool {
	return hasCode(err, ErrorCodeInvalidInput)
}

// IsConflict 检查错误是否为 CONFLICT
func IsConflict(err error) bool {
	return hasCode(err, ErrorCodeConflict)
}

// IsStale 检查错误是否为 STALE
func IsStale(err error) bool {
	return hasCode(err, ErrorCodeStale)
}

// IsTransient 判断错误是否值得重试：依赖不可用、写冲突、单次调用超时。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsUnavailable(err) || IsConflict(err) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
