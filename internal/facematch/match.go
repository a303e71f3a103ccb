package facematch

import "fmt"

const (
	// DefaultThreshold is the tolerance used by the video and web pipelines.
	DefaultThreshold = 0.45
	// PhotoThreshold is the tolerance used by the two-photo pipeline.
	PhotoThreshold = 0.50
)

// Matcher bundles the parameters of a pairwise comparison.
// The zero value compares with threshold 0, last-match-wins and Euclidean distance.
type Matcher struct {
	Threshold float64
	Strategy  Strategy
	Distance  DistanceFunc
}

// Compare matches every face of a against b, last match wins.
func Compare(a, b []Observation, threshold float64) ([]MatchResult, error) {
	return Matcher{Threshold: threshold, Strategy: StrategyLast}.Match(a, b)
}

// CompareBest matches every face of a against b, closest match wins.
func CompareBest(a, b []Observation, threshold float64) ([]MatchResult, error) {
	return Matcher{Threshold: threshold, Strategy: StrategyBest}.Match(a, b)
}

// ComparePaired matches a[i] against b[i] only. Both sets must describe the
// same faces in the same order, e.g. two images encoded at identical locations.
func ComparePaired(a, b []Observation, threshold float64) ([]MatchResult, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: %d faces paired with %d", ErrInvalidInput, len(a), len(b))
	}
	if len(a) == 0 {
		return []MatchResult{}, nil
	}
	if err := validate(a, b); err != nil {
		return nil, err
	}

	results := make([]MatchResult, len(a))
	for i := range a {
		results[i] = MatchResult{Location: a[i].Location}
		if d := EuclideanDistance(a[i].Encoding, b[i].Encoding); d <= threshold {
			loc := b[i].Location
			results[i].IsMatch = true
			results[i].MatchingLocation = &loc
			results[i].Distance = d
		}
	}
	return results, nil
}

// Match produces one result per observation of a, in the order of a.
func (m Matcher) Match(a, b []Observation) ([]MatchResult, error) {
	dist := m.Distance
	if dist == nil {
		dist = EuclideanDistance
	}

	var pick func(Observation, []Observation) MatchResult
	switch m.Strategy {
	case "", StrategyLast:
		pick = func(o Observation, cands []Observation) MatchResult {
			return lastMatch(o, cands, m.Threshold, dist)
		}
	case StrategyBest:
		pick = func(o Observation, cands []Observation) MatchResult {
			return bestMatch(o, cands, m.Threshold, dist)
		}
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidInput, m.Strategy)
	}

	if len(a) == 0 {
		return []MatchResult{}, nil
	}
	if err := validate(a, b); err != nil {
		return nil, err
	}

	results := make([]MatchResult, 0, len(a))
	for _, o := range a {
		results = append(results, pick(o, b))
	}
	return results, nil
}

// lastMatch keeps scanning after a hit; a later hit overwrites an earlier one.
func lastMatch(o Observation, cands []Observation, threshold float64, dist DistanceFunc) MatchResult {
	res := MatchResult{Location: o.Location}
	for _, c := range cands {
		d := dist(o.Encoding, c.Encoding)
		if d <= threshold {
			loc := c.Location
			res.IsMatch = true
			res.MatchingLocation = &loc
			res.Distance = d
		}
	}
	return res
}

func bestMatch(o Observation, cands []Observation, threshold float64, dist DistanceFunc) MatchResult {
	res := MatchResult{Location: o.Location}
	for _, c := range cands {
		d := dist(o.Encoding, c.Encoding)
		if d > threshold {
			continue
		}
		if !res.IsMatch || d < res.Distance {
			loc := c.Location
			res.IsMatch = true
			res.MatchingLocation = &loc
			res.Distance = d
		}
	}
	return res
}

// validate requires every encoding to be non-empty and of one common length.
func validate(a, b []Observation) error {
	dim := -1
	check := func(set string, obs []Observation) error {
		for i, o := range obs {
			if len(o.Encoding) == 0 {
				return fmt.Errorf("%w: %s[%d] has an empty encoding", ErrInvalidInput, set, i)
			}
			if dim == -1 {
				dim = len(o.Encoding)
				continue
			}
			if len(o.Encoding) != dim {
				return fmt.Errorf("%w: %s[%d] encoding has %d dimensions, want %d", ErrInvalidInput, set, i, len(o.Encoding), dim)
			}
		}
		return nil
	}
	if err := check("a", a); err != nil {
		return err
	}
	return check("b", b)
}
