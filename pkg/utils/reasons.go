package utils

// UnionReasons 按首次出现顺序合并多组推荐理由，去掉空串和重复项。
func UnionReasons(groups ...[]string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, g := range groups {
		for _, r := range g {
			if r == "" {
				continue
			}
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}
