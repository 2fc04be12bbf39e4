// Package keylock 提供按 key 串行化的互斥锁，用于同一用户的反馈处理与刷新互不交错。
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// KeyLock 为每个 key 维护一把互斥锁，无人持有时自动回收。
// 零值可直接使用。
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New 创建 KeyLock。
func New() *KeyLock {
	return &KeyLock{locks: make(map[string]*entry)}
}

// Lock 获取 key 对应的锁，返回解锁函数。
func (k *KeyLock) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*entry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			k.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}

// Len 返回当前被持有或等待中的 key 数量。
func (k *KeyLock) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
