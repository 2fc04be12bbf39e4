// Package similarity 提供召回打分用到的相似度函数。
package similarity

import (
	"errors"
	"math"
)

// ErrDimensionMismatch 表示两个向量维度不一致。
var ErrDimensionMismatch = errors.New("similarity: vector dimension mismatch")

// Cosine 计算余弦相似度 (a·b)/(‖a‖·‖b‖)。
// 任一向量为零向量（或为空）时返回 0；维度不一致返回 ErrDimensionMismatch。
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Jaccard 计算集合相似度 |U∩V| / |U∪V|，两个集合都为空时返回 0。结果对称。
func Jaccard[K comparable](u, v map[K]struct{}) float64 {
	if len(u) == 0 && len(v) == 0 {
		return 0
	}
	small, large := u, v
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for k := range small {
		if _, ok := large[k]; ok {
			inter++
		}
	}
	union := len(u) + len(v) - inter
	return float64(inter) / float64(union)
}

// Set 由切片构建集合。
func Set[K comparable](keys ...K) map[K]struct{} {
	out := make(map[K]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out
}
