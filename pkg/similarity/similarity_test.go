package similarity

import (
	"errors"
	"math"
	"testing"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 1}, []float64{-1, -1}, -1},
		{"zero vector", []float64{0, 0}, []float64{1, 2}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Cosine(tt.a, tt.b)
			if err != nil {
				t.Fatalf("Cosine() error = %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosineDimensionMismatch(t *testing.T) {
	if _, err := Cosine([]float64{1}, []float64{1, 2}); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		name string
		u, v map[string]struct{}
		want float64
	}{
		{"both empty", Set[string](), Set[string](), 0},
		{"one empty", Set("a"), Set[string](), 0},
		{"disjoint", Set("a", "b"), Set("c"), 0},
		{"half", Set("a", "b", "c"), Set("b", "c", "d"), 0.5},
		{"equal", Set("a", "b"), Set("b", "a"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Jaccard(tt.u, tt.v)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Jaccard() = %v, want %v", got, tt.want)
			}
			if back := Jaccard(tt.v, tt.u); back != got {
				t.Errorf("Jaccard not symmetric: %v vs %v", got, back)
			}
		})
	}
}
