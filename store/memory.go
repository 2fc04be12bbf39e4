package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/pkg/conv"
)

// MemoryStore 是内存实现的 DocumentStore，用于测试/开发/单机部署。
// 进程重启后数据丢失；读写都做深拷贝，调用方拿到的文档可以随意修改。
// 事务持有写锁执行，天然串行化。
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]core.Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]core.Document),
	}
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Get(ctx context.Context, collection, id string) (core.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(collection, id)
}

func (m *MemoryStore) getLocked(collection, id string) (core.Document, error) {
	doc, ok := m.collections[collection][id]
	if !ok {
		return nil, core.ErrStoreNotFound
	}
	return copyDocument(id, doc), nil
}

func (m *MemoryStore) Query(ctx context.Context, collection string, q core.Query) ([]core.Document, error) {
	m.mu.RLock()
	docs := make([]core.Document, 0, len(m.collections[collection]))
	for id, doc := range m.collections[collection] {
		docs = append(docs, copyDocument(id, doc))
	}
	m.mu.RUnlock()
	return applyQuery(docs, q), nil
}

func (m *MemoryStore) Create(ctx context.Context, collection, id string, doc core.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collection][id]; ok {
		return fmt.Errorf("create %s/%s: %w", collection, id, core.ErrStoreConflict)
	}
	m.setLocked(collection, id, doc)
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, collection, id string, fields core.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.collections[collection][id]
	if !ok {
		return fmt.Errorf("update %s/%s: %w", collection, id, core.ErrStoreNotFound)
	}
	for k, v := range fields {
		if k == "id" {
			continue
		}
		doc[k] = normalize(v)
	}
	return nil
}

func (m *MemoryStore) Set(ctx context.Context, collection, id string, doc core.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(collection, id, doc)
	return nil
}

func (m *MemoryStore) setLocked(collection, id string, doc core.Document) {
	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string]core.Document)
		m.collections[collection] = coll
	}
	coll[id] = copyDocument(id, doc)
}

func (m *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections[collection], id)
	return nil
}

func (m *MemoryStore) Increment(ctx context.Context, collection, id, field string, delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.collections[collection][id]
	if !ok {
		m.setLocked(collection, id, core.Document{})
		doc = m.collections[collection][id]
	}
	segments := core.SplitFieldPath(field)
	cur := map[string]any(doc)
	for _, seg := range segments[:len(segments)-1] {
		next, ok := cur[seg]
		if !ok {
			child := make(map[string]any)
			cur[seg] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return core.InvalidInput(core.ModuleStore, "increment %s/%s: %q is not a map", collection, id, seg)
		}
		cur = child
	}
	leaf := segments[len(segments)-1]
	old := 0.0
	if v, ok := cur[leaf]; ok {
		f, ok := conv.ToFloat64(v)
		if !ok {
			return core.InvalidInput(core.ModuleStore, "increment %s/%s: %q is not numeric", collection, id, field)
		}
		old = f
	}
	cur[leaf] = old + delta
	return nil
}

// RunTransaction 持有写锁执行 fn，fn 成功返回后一次性应用写入。
func (m *MemoryStore) RunTransaction(ctx context.Context, fn func(tx core.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{store: m, writes: make(map[txKey]*txWrite)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, k := range tx.order {
		w := tx.writes[k]
		if w.delete {
			delete(m.collections[k.collection], k.id)
			continue
		}
		m.setLocked(k.collection, k.id, w.doc)
	}
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

type txKey struct {
	collection string
	id         string
}

type txWrite struct {
	doc    core.Document
	delete bool
}

// memoryTx 缓冲写入；事务内读取能看到本事务已缓冲的写。
type memoryTx struct {
	store  *MemoryStore
	writes map[txKey]*txWrite
	order  []txKey
}

func (t *memoryTx) Get(collection, id string) (core.Document, error) {
	if w, ok := t.writes[txKey{collection, id}]; ok {
		if w.delete {
			return nil, core.ErrStoreNotFound
		}
		return copyDocument(id, w.doc), nil
	}
	return t.store.getLocked(collection, id)
}

func (t *memoryTx) Set(collection, id string, doc core.Document) {
	t.put(txKey{collection, id}, &txWrite{doc: copyDocument(id, doc)})
}

func (t *memoryTx) Delete(collection, id string) {
	t.put(txKey{collection, id}, &txWrite{delete: true})
}

func (t *memoryTx) put(k txKey, w *txWrite) {
	if _, ok := t.writes[k]; !ok {
		t.order = append(t.order, k)
	}
	t.writes[k] = w
}

// 确保 MemoryStore 实现了 core.DocumentStore 接口
var _ core.DocumentStore = (*MemoryStore)(nil)
