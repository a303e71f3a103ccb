package facematch

import (
	"errors"
	"math"
	"testing"
)

func obs(top, right, bottom, left int, enc ...float64) Observation {
	return Observation{Location: Location{Top: top, Right: right, Bottom: bottom, Left: left}, Encoding: enc}
}

func TestCompareEmptyFirstSet(t *testing.T) {
	b := []Observation{obs(1, 11, 11, 1, 0.1, 0.2)}

	results, err := Compare(nil, b, DefaultThreshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Fatalf("expected empty non-nil results, got %#v", results)
	}
}

func TestCompareEmptySecondSet(t *testing.T) {
	a := []Observation{obs(0, 10, 10, 0, 0.1, 0.2), obs(5, 15, 15, 5, 0.3, 0.4)}

	results, err := Compare(a, nil, DefaultThreshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != len(a) {
		t.Fatalf("expected %d results, got %d", len(a), len(results))
	}
	for i, r := range results {
		if r.IsMatch || r.MatchingLocation != nil {
			t.Fatalf("result %d: expected no match, got %+v", i, r)
		}
		if r.Location != a[i].Location {
			t.Fatalf("result %d: location %v, want %v", i, r.Location, a[i].Location)
		}
	}
}

func TestCompareIdenticalEncoding(t *testing.T) {
	a := []Observation{obs(0, 10, 10, 0, 0.5, 0.5, 0.5)}
	b := []Observation{obs(1, 11, 11, 1, 0.5, 0.5, 0.5)}

	results, err := Compare(a, b, 0.45)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	got := results[0]
	if !got.IsMatch {
		t.Fatal("expected a match")
	}
	want := Location{Top: 1, Right: 11, Bottom: 11, Left: 1}
	if got.MatchingLocation == nil || *got.MatchingLocation != want {
		t.Fatalf("matching location = %v, want %v", got.MatchingLocation, want)
	}
	if got.Location != (Location{Top: 0, Right: 10, Bottom: 10, Left: 0}) {
		t.Fatalf("unexpected location %v", got.Location)
	}
}

func TestComparePreservesOrder(t *testing.T) {
	a := []Observation{
		obs(0, 1, 1, 0, 0, 0),
		obs(0, 2, 2, 0, 5, 5),
		obs(0, 3, 3, 0, 9, 9),
	}
	b := []Observation{obs(7, 7, 7, 7, 5, 5.1)}

	results, err := Compare(a, b, DefaultThreshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantMatch := []bool{false, true, false}
	for i, r := range results {
		if r.Location != a[i].Location {
			t.Fatalf("result %d out of order: %v", i, r.Location)
		}
		if r.IsMatch != wantMatch[i] {
			t.Fatalf("result %d: is_match=%v, want %v", i, r.IsMatch, wantMatch[i])
		}
	}
}

func TestCompareLastMatchWins(t *testing.T) {
	a := []Observation{obs(0, 10, 10, 0, 0, 0)}
	b := []Observation{
		obs(1, 1, 1, 1, 0, 0),   // distance 0
		obs(2, 2, 2, 2, 9, 9),   // out of range
		obs(3, 3, 3, 3, 0.3, 0), // distance 0.3
	}

	results, err := Compare(a, b, DefaultThreshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := results[0].MatchingLocation
	if got == nil || got.Top != 3 {
		t.Fatalf("expected the later candidate to win, got %v", got)
	}
	if math.Abs(results[0].Distance-0.3) > 1e-9 {
		t.Fatalf("distance = %v, want 0.3", results[0].Distance)
	}
}

func TestCompareBestPicksClosest(t *testing.T) {
	a := []Observation{obs(0, 10, 10, 0, 0, 0)}
	b := []Observation{
		obs(1, 1, 1, 1, 0.1, 0),
		obs(2, 2, 2, 2, 0.4, 0),
		obs(3, 3, 3, 3, 0.1, 0),
	}

	results, err := CompareBest(a, b, PhotoThreshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := results[0].MatchingLocation
	if got == nil || got.Top != 1 {
		t.Fatalf("expected first of the closest candidates, got %v", got)
	}
}

func TestCompareThresholdIsInclusive(t *testing.T) {
	a := []Observation{obs(0, 0, 0, 0, 0, 0)}
	b := []Observation{obs(1, 1, 1, 1, 0.5, 0)}

	results, err := Compare(a, b, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !results[0].IsMatch {
		t.Fatal("expected distance equal to threshold to match")
	}

	results, err = Compare(a, b, 0.49)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].IsMatch {
		t.Fatal("expected distance above threshold not to match")
	}
}

func TestCompareRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		a    []Observation
		b    []Observation
	}{
		{
			name: "empty encoding in a",
			a:    []Observation{{Location: Location{}}},
			b:    []Observation{obs(0, 0, 0, 0, 1)},
		},
		{
			name: "dimension mismatch across sets",
			a:    []Observation{obs(0, 0, 0, 0, 1, 2)},
			b:    []Observation{obs(0, 0, 0, 0, 1, 2, 3)},
		},
		{
			name: "dimension mismatch inside b",
			a:    []Observation{obs(0, 0, 0, 0, 1)},
			b:    []Observation{obs(0, 0, 0, 0, 1), obs(0, 0, 0, 0, 1, 2)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compare(tt.a, tt.b, DefaultThreshold)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestComparePairedIgnoresOtherLocations(t *testing.T) {
	a := []Observation{obs(0, 10, 10, 0, 0, 0), obs(20, 30, 30, 20, 5, 5)}
	// Each face is closest to the other location's encoding.
	b := []Observation{obs(0, 10, 10, 0, 5, 5), obs(20, 30, 30, 20, 0.1, 0)}

	results, err := ComparePaired(a, b, PhotoThreshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, r := range results {
		if r.IsMatch {
			t.Fatalf("result %d: expected no match, got %+v", i, r)
		}
	}

	b[1].Encoding = Encoding{5, 5.3}
	results, err = ComparePaired(a, b, PhotoThreshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].IsMatch || !results[1].IsMatch || *results[1].MatchingLocation != b[1].Location {
		t.Fatalf("unexpected results %+v", results)
	}
	if math.Abs(results[1].Distance-0.3) > 1e-9 {
		t.Fatalf("distance = %v, want 0.3", results[1].Distance)
	}
}

func TestComparePairedRejectsUnevenSets(t *testing.T) {
	a := []Observation{obs(0, 10, 10, 0, 0, 0)}
	if _, err := ComparePaired(a, nil, PhotoThreshold); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	results, err := ComparePaired(nil, nil, PhotoThreshold)
	if err != nil || results == nil || len(results) != 0 {
		t.Fatalf("expected empty non-nil results, got %#v %v", results, err)
	}
}

func TestMatcherUnknownStrategy(t *testing.T) {
	m := Matcher{Threshold: 0.5, Strategy: "first"}
	_, err := m.Match([]Observation{obs(0, 0, 0, 0, 1)}, nil)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestMatcherCustomDistance(t *testing.T) {
	calls := 0
	m := Matcher{
		Threshold: 1,
		Distance: func(a, b Encoding) float64 {
			calls++
			return 0
		},
	}
	a := []Observation{obs(0, 0, 0, 0, 1), obs(1, 1, 1, 1, 2)}
	b := []Observation{obs(2, 2, 2, 2, 100), obs(3, 3, 3, 3, 200), obs(4, 4, 4, 4, 300)}

	if _, err := m.Match(a, b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != len(a)*len(b) {
		t.Fatalf("expected %d distance calls, got %d", len(a)*len(b), calls)
	}
}

func TestPair(t *testing.T) {
	locs := []Location{{Top: 1}, {Top: 2}}
	encs := []Encoding{{0.1}, {0.2}}

	got, err := Pair(locs, encs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[1].Location.Top != 2 || got[1].Encoding[0] != 0.2 {
		t.Fatalf("unexpected observations: %+v", got)
	}

	if _, err := Pair(locs, encs[:1]); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{in: "", want: StrategyLast},
		{in: "last", want: StrategyLast},
		{in: "best", want: StrategyBest},
		{in: "first", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseStrategy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseStrategy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLocationHelpers(t *testing.T) {
	results := []MatchResult{
		{Location: Location{Top: 1}, IsMatch: true, MatchingLocation: &Location{Top: 10}},
		{Location: Location{Top: 2}},
		{Location: Location{Top: 3}, IsMatch: true, MatchingLocation: &Location{Top: 30}},
	}

	if n := CountMatches(results); n != 2 {
		t.Fatalf("CountMatches = %d, want 2", n)
	}
	matched := MatchedLocations(results)
	if len(matched) != 2 || matched[0].Top != 1 || matched[1].Top != 3 {
		t.Fatalf("unexpected matched locations %v", matched)
	}
	matching := MatchingLocations(results)
	if len(matching) != 2 || matching[0].Top != 10 || matching[1].Top != 30 {
		t.Fatalf("unexpected matching locations %v", matching)
	}
	if s := (Location{Top: 0, Right: 10, Bottom: 10, Left: 0}).String(); s != "(0, 10, 10, 0)" {
		t.Fatalf("String() = %q", s)
	}
}
