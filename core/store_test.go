package core

import (
	"reflect"
	"testing"
)

func TestFieldPathRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		segments []string
		path     string
	}{
		{"simple", []string{"contentTags", "go"}, "contentTags.go"},
		{"dot in segment", []string{"contentTags", "node.js"}, `contentTags.node\.js`},
		{"backslash in segment", []string{"a\\b"}, `a\\b`},
		{"single", []string{"viewCount"}, "viewCount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FieldPath(tt.segments...)
			if got != tt.path {
				t.Fatalf("FieldPath() = %q, want %q", got, tt.path)
			}
			if back := SplitFieldPath(got); !reflect.DeepEqual(back, tt.segments) {
				t.Errorf("SplitFieldPath(%q) = %q, want %q", got, back, tt.segments)
			}
		})
	}
}

func TestQueryWhereDoesNotAlias(t *testing.T) {
	base := Query{}.Where("userId", OpEq, "u1")
	a := base.Where("action", OpEq, "view")
	b := base.Where("action", OpEq, "like")
	if a.Filters[1].Value != "view" || b.Filters[1].Value != "like" {
		t.Fatalf("Where appended into shared backing array: %+v %+v", a, b)
	}
}
