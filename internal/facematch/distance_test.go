package facematch

import (
	"math"
	"testing"
)

func TestEuclideanDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b Encoding
		want float64
	}{
		{name: "identical", a: Encoding{1, 2, 3}, b: Encoding{1, 2, 3}, want: 0},
		{name: "unit axis", a: Encoding{0, 0}, b: Encoding{1, 0}, want: 1},
		{name: "3-4-5", a: Encoding{0, 0}, b: Encoding{3, 4}, want: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EuclideanDistance(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("EuclideanDistance() = %v, want %v", got, tt.want)
			}
		})
	}
}
