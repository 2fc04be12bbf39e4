package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/rushteam/reclearn/core"
)

// RedisOptions 是 RedisStore 的选项。
type RedisOptions struct {
	// Prefix 是所有 key 的前缀，默认 "reclearn"
	Prefix string

	// IndexedFields 维护二级索引的字段（等值查询走索引），默认 ["userId"]
	IndexedFields []string

	// MaxTxRetries 是乐观事务冲突时的最大重试次数，默认 5
	MaxTxRetries int
}

// RedisStore 是 Redis 实现的 DocumentStore。
//
// 存储布局：
//   - 文档：{prefix}:{collection}:{id} 的 Hash；嵌套 map 展开为转义后的点分字段，叶子值为 JSON
//   - 集合索引：{prefix}:{collection}:_ids（Set）
//   - 二级索引：{prefix}:{collection}:_by:{field}:{value}（Set）
//
// Increment 使用 HINCRBYFLOAT；事务使用 WATCH/MULTI 乐观并发，冲突重试耗尽后返回 ErrStoreConflict。
// Query 先按等值索引或集合索引取 id，再在进程内过滤/排序。
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	indexed map[string]struct{}
	retries int
}

// NewRedisStore 使用现有客户端创建 RedisStore。
func NewRedisStore(client redis.UniversalClient, opts RedisOptions) *RedisStore {
	if opts.Prefix == "" {
		opts.Prefix = "reclearn"
	}
	if opts.IndexedFields == nil {
		opts.IndexedFields = []string{"userId"}
	}
	if opts.MaxTxRetries <= 0 {
		opts.MaxTxRetries = 5
	}
	indexed := make(map[string]struct{}, len(opts.IndexedFields))
	for _, f := range opts.IndexedFields {
		indexed[f] = struct{}{}
	}
	return &RedisStore{client: client, prefix: opts.Prefix, indexed: indexed, retries: opts.MaxTxRetries}
}

// DialRedis 连接 Redis 并 Ping 确认可用。
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, core.Unavailable(core.ModuleStore, err)
	}
	return client, nil
}

func (r *RedisStore) Name() string { return "redis" }

func (r *RedisStore) docKey(collection, id string) string {
	return r.prefix + ":" + collection + ":" + id
}

func (r *RedisStore) idsKey(collection string) string {
	return r.prefix + ":" + collection + ":_ids"
}

func (r *RedisStore) indexKey(collection, field, value string) string {
	return r.prefix + ":" + collection + ":_by:" + field + ":" + value
}

func (r *RedisStore) Get(ctx context.Context, collection, id string) (core.Document, error) {
	vals, err := r.client.HGetAll(ctx, r.docKey(collection, id)).Result()
	if err != nil {
		return nil, wrapRedisErr(err)
	}
	if len(vals) == 0 {
		return nil, core.ErrStoreNotFound
	}
	return decodeHash(id, vals)
}

func (r *RedisStore) Query(ctx context.Context, collection string, q core.Query) ([]core.Document, error) {
	setKey := r.idsKey(collection)
	for _, f := range q.Filters {
		if _, ok := r.indexed[f.Field]; ok && f.Op == core.OpEq {
			if s, ok := f.Value.(string); ok {
				setKey = r.indexKey(collection, f.Field, s)
				break
			}
		}
	}
	ids, err := r.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, wrapRedisErr(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, r.docKey(collection, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, wrapRedisErr(err)
	}

	docs := make([]core.Document, 0, len(ids))
	for i, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue // 索引残留
		}
		doc, err := decodeHash(ids[i], vals)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return applyQuery(docs, q), nil
}

func (r *RedisStore) Create(ctx context.Context, collection, id string, doc core.Document) error {
	key := r.docKey(collection, id)
	return r.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("create %s/%s: %w", collection, id, core.ErrStoreConflict)
		}
		fields, err := encodeDocument(id, doc)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			r.queueSet(ctx, pipe, collection, id, nil, doc, fields)
			return nil
		})
		return err
	}, key)
}

func (r *RedisStore) Update(ctx context.Context, collection, id string, fields core.Document) error {
	key := r.docKey(collection, id)
	return r.watch(ctx, func(tx *redis.Tx) error {
		existing, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			return fmt.Errorf("update %s/%s: %w", collection, id, core.ErrStoreNotFound)
		}
		encoded := make(map[string]any)
		for k, v := range fields {
			if k == "id" {
				continue
			}
			flattenInto(encoded, core.EscapeSegment(k), normalize(v))
		}
		var stale []string
		for f := range existing {
			for k := range fields {
				top := core.EscapeSegment(k)
				if f == top || strings.HasPrefix(f, top+".") {
					stale = append(stale, f)
				}
			}
		}
		values, err := encodeLeaves(encoded)
		if err != nil {
			return err
		}
		old, _ := decodeHash(id, existing)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(stale) > 0 {
				pipe.HDel(ctx, key, stale...)
			}
			if len(values) > 0 {
				pipe.HSet(ctx, key, values)
			}
			for k, v := range fields {
				if _, ok := r.indexed[k]; !ok {
					continue
				}
				if prev, ok := old[k].(string); ok {
					pipe.SRem(ctx, r.indexKey(collection, k, prev), id)
				}
				if s, ok := v.(string); ok {
					pipe.SAdd(ctx, r.indexKey(collection, k, s), id)
				}
			}
			return nil
		})
		return err
	}, key)
}

func (r *RedisStore) Set(ctx context.Context, collection, id string, doc core.Document) error {
	key := r.docKey(collection, id)
	fields, err := encodeDocument(id, doc)
	if err != nil {
		return err
	}
	return r.watch(ctx, func(tx *redis.Tx) error {
		old, err := r.readIndexed(ctx, tx, key)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			r.queueSet(ctx, pipe, collection, id, old, doc, fields)
			return nil
		})
		return err
	}, key)
}

func (r *RedisStore) Delete(ctx context.Context, collection, id string) error {
	key := r.docKey(collection, id)
	return r.watch(ctx, func(tx *redis.Tx) error {
		old, err := r.readIndexed(ctx, tx, key)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			r.queueDelete(ctx, pipe, collection, id, old)
			return nil
		})
		return err
	}, key)
}

func (r *RedisStore) Increment(ctx context.Context, collection, id, field string, delta float64) error {
	key := r.docKey(collection, id)
	idJSON, err := json.Marshal(id)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrByFloat(ctx, key, field, delta)
		pipe.HSetNX(ctx, key, "id", string(idJSON))
		pipe.SAdd(ctx, r.idsKey(collection), id)
		return nil
	})
	return wrapRedisErr(err)
}

// RunTransaction 以 WATCH/MULTI 执行 fn。冲突时整个 fn 会被重新执行，fn 必须可重入。
func (r *RedisStore) RunTransaction(ctx context.Context, fn func(tx core.Tx) error) error {
	var fnErr error
	err := r.watch(ctx, func(rtx *redis.Tx) error {
		fnErr = nil
		tx := &redisTx{ctx: ctx, store: r, rtx: rtx, writes: make(map[txKey]*txWrite), old: make(map[txKey]map[string]string)}
		if err := fn(tx); err != nil {
			fnErr = err
			return err
		}
		if tx.err != nil {
			return tx.err
		}
		if len(tx.order) == 0 {
			return nil
		}
		encoded := make([]map[string]any, len(tx.order))
		for i, k := range tx.order {
			w := tx.writes[k]
			if w.delete {
				continue
			}
			fields, err := encodeDocument(k.id, w.doc)
			if err != nil {
				return err
			}
			encoded[i] = fields
		}
		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, k := range tx.order {
				w := tx.writes[k]
				old := tx.old[k]
				if w.delete {
					r.queueDelete(ctx, pipe, k.collection, k.id, old)
					continue
				}
				r.queueSet(ctx, pipe, k.collection, k.id, old, w.doc, encoded[i])
			}
			return nil
		})
		return err
	})
	if fnErr != nil {
		return fnErr
	}
	return err
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// watch 执行乐观事务，遇到 TxFailedErr 时重试。
func (r *RedisStore) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < r.retries; attempt++ {
		err := r.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return wrapRedisErr(err)
	}
	return core.ErrStoreConflict
}

func (r *RedisStore) readIndexed(ctx context.Context, tx *redis.Tx, key string) (map[string]string, error) {
	if len(r.indexed) == 0 {
		return nil, nil
	}
	fields := make([]string, 0, len(r.indexed))
	for f := range r.indexed {
		fields = append(fields, core.EscapeSegment(f))
	}
	vals, err := tx.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(fields))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[fields[i]] = s
		}
	}
	return out, nil
}

// queueSet 覆盖写入文档并维护索引；old 是旧文档中索引字段的原始 JSON 值。
func (r *RedisStore) queueSet(ctx context.Context, pipe redis.Pipeliner, collection, id string, old map[string]string, doc core.Document, fields map[string]any) {
	key := r.docKey(collection, id)
	r.queueUnindex(ctx, pipe, collection, id, old)
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	pipe.SAdd(ctx, r.idsKey(collection), id)
	for f := range r.indexed {
		if s, ok := doc[f].(string); ok {
			pipe.SAdd(ctx, r.indexKey(collection, f, s), id)
		}
	}
}

func (r *RedisStore) queueDelete(ctx context.Context, pipe redis.Pipeliner, collection, id string, old map[string]string) {
	r.queueUnindex(ctx, pipe, collection, id, old)
	pipe.Del(ctx, r.docKey(collection, id))
	pipe.SRem(ctx, r.idsKey(collection), id)
}

func (r *RedisStore) queueUnindex(ctx context.Context, pipe redis.Pipeliner, collection, id string, old map[string]string) {
	for f, raw := range old {
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err == nil {
			pipe.SRem(ctx, r.indexKey(collection, f, s), id)
		}
	}
}

// redisTx 在 WATCH 回调内执行：读取前先 WATCH 对应 key，写入缓冲到提交时统一 MULTI。
type redisTx struct {
	ctx    context.Context
	store  *RedisStore
	rtx    *redis.Tx
	writes map[txKey]*txWrite
	order  []txKey
	old    map[txKey]map[string]string
	err    error
}

func (t *redisTx) Get(collection, id string) (core.Document, error) {
	k := txKey{collection, id}
	if w, ok := t.writes[k]; ok {
		if w.delete {
			return nil, core.ErrStoreNotFound
		}
		return copyDocument(id, w.doc), nil
	}
	key := t.store.docKey(collection, id)
	if err := t.rtx.Watch(t.ctx, key).Err(); err != nil {
		t.err = wrapRedisErr(err)
		return nil, t.err
	}
	vals, err := t.rtx.HGetAll(t.ctx, key).Result()
	if err != nil {
		t.err = wrapRedisErr(err)
		return nil, t.err
	}
	if len(vals) == 0 {
		return nil, core.ErrStoreNotFound
	}
	t.old[k] = indexedRaw(vals, t.store.indexed)
	return decodeHash(id, vals)
}

func (t *redisTx) Set(collection, id string, doc core.Document) {
	t.put(collection, id, &txWrite{doc: copyDocument(id, doc)})
}

func (t *redisTx) Delete(collection, id string) {
	t.put(collection, id, &txWrite{delete: true})
}

func (t *redisTx) put(collection, id string, w *txWrite) {
	k := txKey{collection, id}
	if _, ok := t.writes[k]; !ok {
		t.order = append(t.order, k)
		if _, read := t.old[k]; !read && t.err == nil {
			key := t.store.docKey(collection, id)
			if err := t.rtx.Watch(t.ctx, key).Err(); err != nil {
				t.err = wrapRedisErr(err)
			} else if old, err := t.store.readIndexed(t.ctx, t.rtx, key); err != nil {
				t.err = wrapRedisErr(err)
			} else {
				t.old[k] = old
			}
		}
	}
	t.writes[k] = w
}

func indexedRaw(vals map[string]string, indexed map[string]struct{}) map[string]string {
	out := make(map[string]string)
	for f := range indexed {
		esc := core.EscapeSegment(f)
		if v, ok := vals[esc]; ok {
			out[esc] = v
		}
	}
	return out
}

// encodeDocument 展开文档并把叶子编码为 JSON。
func encodeDocument(id string, doc core.Document) (map[string]any, error) {
	flat := make(map[string]any)
	for k, v := range copyDocument(id, doc) {
		flattenInto(flat, core.EscapeSegment(k), v)
	}
	return encodeLeaves(flat)
}

func flattenInto(out map[string]any, prefix string, v any) {
	m, ok := v.(map[string]any)
	if !ok {
		out[prefix] = v
		return
	}
	for k, child := range m {
		flattenInto(out, prefix+"."+core.EscapeSegment(k), child)
	}
}

func encodeLeaves(flat map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("store: encode field %q: %w", k, err)
		}
		out[k] = string(b)
	}
	return out, nil
}

// decodeHash 把 Hash 字段还原为嵌套文档。
func decodeHash(id string, vals map[string]string) (core.Document, error) {
	doc := core.Document{}
	for field, raw := range vals {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("store: decode field %q of %s: %w", field, id, err)
		}
		segments := core.SplitFieldPath(field)
		cur := map[string]any(doc)
		for _, seg := range segments[:len(segments)-1] {
			child, ok := cur[seg].(map[string]any)
			if !ok {
				child = make(map[string]any)
				cur[seg] = child
			}
			cur = child
		}
		cur[segments[len(segments)-1]] = v
	}
	doc["id"] = id
	return doc, nil
}

func wrapRedisErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return core.ErrStoreNotFound
	}
	if core.IsDomainError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return core.Unavailable(core.ModuleStore, err)
}

// 确保 RedisStore 实现了 core.DocumentStore 接口
var _ core.DocumentStore = (*RedisStore)(nil)
