package facematch

import "math"

// DistanceFunc computes the distance between two encodings of equal length.
type DistanceFunc func(a, b Encoding) float64

// EuclideanDistance is the L2 distance between two encodings.
func EuclideanDistance(a, b Encoding) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
