package facematch

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is returned when observation sequences are malformed.
var ErrInvalidInput = errors.New("facematch: invalid input")

// Location is a face bounding box in pixel coordinates.
type Location struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// String renders the location as (top, right, bottom, left).
func (l Location) String() string {
	return fmt.Sprintf("(%d, %d, %d, %d)", l.Top, l.Right, l.Bottom, l.Left)
}

// Encoding is a fixed-length face feature vector.
type Encoding []float64

// Observation is one detected face: where it is and what it looks like.
type Observation struct {
	Location Location `json:"location"`
	Encoding Encoding `json:"encoding"`
}

// MatchResult describes whether a face of the first set matched the second set.
type MatchResult struct {
	Location         Location  `json:"location"`
	IsMatch          bool      `json:"is_match"`
	MatchingLocation *Location `json:"matching_location,omitempty"`
	Distance         float64   `json:"distance,omitempty"`
}

// Strategy selects how a match candidate is picked when several qualify.
type Strategy string

const (
	// StrategyLast records the last candidate within threshold in iteration order.
	StrategyLast Strategy = "last"
	// StrategyBest records the candidate with the smallest distance.
	StrategyBest Strategy = "best"
)

// ParseStrategy validates a strategy name. Empty means StrategyLast.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyLast:
		return StrategyLast, nil
	case StrategyBest:
		return StrategyBest, nil
	}
	return "", fmt.Errorf("%w: unknown strategy %q", ErrInvalidInput, s)
}

// Pair zips detector output into observations.
func Pair(locations []Location, encodings []Encoding) ([]Observation, error) {
	if len(locations) != len(encodings) {
		return nil, fmt.Errorf("%w: %d locations but %d encodings", ErrInvalidInput, len(locations), len(encodings))
	}
	out := make([]Observation, len(locations))
	for i := range locations {
		out[i] = Observation{Location: locations[i], Encoding: encodings[i]}
	}
	return out, nil
}

// MatchedLocations returns the locations of results that matched.
func MatchedLocations(results []MatchResult) []Location {
	var out []Location
	for _, r := range results {
		if r.IsMatch {
			out = append(out, r.Location)
		}
	}
	return out
}

// MatchingLocations returns the counterpart locations of results that matched.
func MatchingLocations(results []MatchResult) []Location {
	var out []Location
	for _, r := range results {
		if r.IsMatch && r.MatchingLocation != nil {
			out = append(out, *r.MatchingLocation)
		}
	}
	return out
}

// CountMatches returns how many results matched.
func CountMatches(results []MatchResult) int {
	n := 0
	for _, r := range results {
		if r.IsMatch {
			n++
		}
	}
	return n
}
