package video

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/example/face-compare/internal/detector"
	"github.com/example/face-compare/internal/facematch"
)

type sliceSource struct {
	frames [][]byte
	err    error
	closed bool
}

func (s *sliceSource) Next() ([]byte, error) {
	if len(s.frames) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

func frames(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte(fmt.Sprintf("frame-%d", i+1))
	}
	return out
}

func TestSplitJPEG(t *testing.T) {
	jpeg1 := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
	jpeg2 := []byte{0xFF, 0xD8, 0x03, 0xFF, 0xD9}
	stream := append(append([]byte{0x00, 0x00}, jpeg1...), jpeg2...)
	stream = append(stream, 0xFF, 0xD8, 0x04) // truncated trailer

	scanner := bufio.NewScanner(bytes.NewReader(stream))
	scanner.Split(SplitJPEG)

	var got [][]byte
	for scanner.Scan() {
		got = append(got, append([]byte(nil), scanner.Bytes()...))
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scanner error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(got))
	}
	if !bytes.Equal(got[0], jpeg1) || !bytes.Equal(got[1], jpeg2) {
		t.Fatalf("unexpected frames %x", got)
	}
}

func TestParseProbe(t *testing.T) {
	out := []byte(`{"streams":[{"nb_frames":"1500","r_frame_rate":"30000/1001","width":1280,"height":720}]}`)

	md, err := parseProbe(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if md.Frames != 1500 || md.Width != 1280 || md.Height != 720 {
		t.Fatalf("unexpected metadata %+v", md)
	}
	if md.FPS < 29.96 || md.FPS > 29.98 {
		t.Fatalf("fps = %v, want ~29.97", md.FPS)
	}

	if _, err := parseProbe([]byte(`{"streams":[]}`)); err == nil {
		t.Fatal("expected error for missing stream")
	}
	if _, err := parseRate("25"); err != nil {
		t.Fatalf("parseRate(25): %v", err)
	}
	if _, err := parseRate("25/0"); err == nil {
		t.Fatal("expected error for zero denominator")
	}
}

func TestCheckLengths(t *testing.T) {
	if err := CheckLengths(Metadata{Frames: 10}, Metadata{Frames: 10}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := CheckLengths(Metadata{Frames: 10}, Metadata{Frames: 11})
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestReport(t *testing.T) {
	if got := Report(3, 66.6, nil); got != "No match found at frame number 3." {
		t.Fatalf("unexpected report %q", got)
	}
	got := Report(430, 17140, []string{"(0, 10, 10, 0)", "(5, 6, 7, 8)"})
	want := "There is a match at frame number 430, timestamp 17140 [ms], on frame locations: (0, 10, 10, 0), (5, 6, 7, 8)"
	if got != want {
		t.Fatalf("report = %q, want %q", got, want)
	}
}

func TestRunnerWindowAndReports(t *testing.T) {
	var compared []string
	runner := &Runner{
		StartFrame: 2,
		EndFrame:   3,
		FPS:        10,
		Compare: func(ctx context.Context, first, second []byte) ([]facematch.MatchResult, error) {
			compared = append(compared, string(first))
			if string(first) == "frame-3" {
				return []facematch.MatchResult{
					{Location: facematch.Location{Top: 1, Right: 2, Bottom: 3, Left: 4}, IsMatch: true},
					{Location: facematch.Location{Top: 9}},
				}, nil
			}
			return []facematch.MatchResult{{Location: facematch.Location{}}}, nil
		},
	}
	var out bytes.Buffer
	runner.Out = &out

	sum, err := runner.Run(context.Background(), &sliceSource{frames: frames(5)}, &sliceSource{frames: frames(5)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.Join(compared, ",") != "frame-2,frame-3" {
		t.Fatalf("compared frames %v", compared)
	}
	if sum.FramesCompared != 2 || sum.FramesMatched != 1 || sum.FramesRead != 4 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	want := []string{
		"No match found at frame number 2.",
		"There is a match at frame number 3, timestamp 200 [ms], on frame locations: (1, 2, 3, 4)",
	}
	if len(lines) != len(want) {
		t.Fatalf("output lines %q", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestRunnerStopsWhenEitherSourceEnds(t *testing.T) {
	calls := 0
	runner := &Runner{
		Out: io.Discard,
		Compare: func(ctx context.Context, first, second []byte) ([]facematch.MatchResult, error) {
			calls++
			return nil, nil
		},
	}

	sum, err := runner.Run(context.Background(), &sliceSource{frames: frames(5)}, &sliceSource{frames: frames(2)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 || sum.FramesRead != 2 {
		t.Fatalf("calls=%d summary=%+v", calls, sum)
	}
}

func TestRunnerPropagatesErrors(t *testing.T) {
	boom := errors.New("decoder died")
	runner := &Runner{
		Out: io.Discard,
		Compare: func(ctx context.Context, first, second []byte) ([]facematch.MatchResult, error) {
			return nil, nil
		},
	}
	_, err := runner.Run(context.Background(), &sliceSource{err: boom}, &sliceSource{frames: frames(1)})
	if !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}

	runner.Compare = func(ctx context.Context, first, second []byte) ([]facematch.MatchResult, error) {
		return nil, facematch.ErrInvalidInput
	}
	_, err = runner.Run(context.Background(), &sliceSource{frames: frames(1)}, &sliceSource{frames: frames(1)})
	if !errors.Is(err, facematch.ErrInvalidInput) {
		t.Fatalf("expected compare error, got %v", err)
	}
}

func TestRunnerReportsErrorWhenOtherSourceEnded(t *testing.T) {
	boom := errors.New("decode failure")
	runner := &Runner{
		Out: io.Discard,
		Compare: func(ctx context.Context, first, second []byte) ([]facematch.MatchResult, error) {
			return nil, nil
		},
	}

	sum, err := runner.Run(context.Background(), &sliceSource{frames: frames(2)}, &sliceSource{frames: frames(2), err: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("expected decode failure, got %v", err)
	}
	if sum.FramesCompared != 2 {
		t.Fatalf("expected 2 compared frames, got %d", sum.FramesCompared)
	}

	_, err = runner.Run(context.Background(), &sliceSource{err: boom}, &sliceSource{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected decode failure from the first source, got %v", err)
	}
}

func TestRunnerHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &Runner{
		Out: io.Discard,
		Compare: func(ctx context.Context, first, second []byte) ([]facematch.MatchResult, error) {
			cancel()
			return nil, nil
		},
	}

	sum, err := runner.Run(ctx, &sliceSource{frames: frames(5)}, &sliceSource{frames: frames(5)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if sum.FramesCompared != 1 {
		t.Fatalf("expected one compared frame, got %d", sum.FramesCompared)
	}
}

type frameDetector map[string][]facematch.Observation

func (d frameDetector) Detect(ctx context.Context, image []byte, method detector.Method) ([]facematch.Observation, error) {
	faces, ok := d[string(image)]
	if !ok {
		return nil, errors.New("unknown frame")
	}
	return faces, nil
}

func (d frameDetector) Encode(ctx context.Context, image []byte, locations []facematch.Location) ([]facematch.Encoding, error) {
	return nil, errors.New("not used")
}

func TestDetectorCompare(t *testing.T) {
	det := frameDetector{
		"a": {{Location: facematch.Location{Top: 1, Right: 2, Bottom: 3, Left: 4}, Encoding: facematch.Encoding{0, 0}}},
		"b": {{Location: facematch.Location{Top: 5, Right: 6, Bottom: 7, Left: 8}, Encoding: facematch.Encoding{0.3, 0}}},
	}
	compare := DetectorCompare(det, detector.MethodHOG, facematch.Matcher{Threshold: facematch.DefaultThreshold})

	results, err := compare(context.Background(), []byte("a"), []byte("b"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || !results[0].IsMatch || results[0].MatchingLocation.Top != 5 {
		t.Fatalf("unexpected results %+v", results)
	}

	if _, err := compare(context.Background(), []byte("a"), []byte("missing")); err == nil {
		t.Fatal("expected detector error")
	}
}
