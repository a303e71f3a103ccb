// Package video compares two videos frame by frame and reports face matches.
package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/example/face-compare/internal/detector"
	"github.com/example/face-compare/internal/facematch"
)

// ErrLengthMismatch is returned when the two videos differ in frame count.
var ErrLengthMismatch = errors.New("videos do not have the same length")

// CompareFunc matches the faces of two frames.
type CompareFunc func(ctx context.Context, first, second []byte) ([]facematch.MatchResult, error)

// DetectorCompare detects the faces of both frames and matches the first
// frame's faces against the second's.
func DetectorCompare(det detector.Detector, method detector.Method, m facematch.Matcher) CompareFunc {
	return func(ctx context.Context, first, second []byte) ([]facematch.MatchResult, error) {
		faces1, err := det.Detect(ctx, first, method)
		if err != nil {
			return nil, err
		}
		faces2, err := det.Detect(ctx, second, method)
		if err != nil {
			return nil, err
		}
		return m.Match(faces1, faces2)
	}
}

// Summary counts what a run did.
type Summary struct {
	FramesRead     int
	FramesCompared int
	FramesMatched  int
}

// Runner walks two frame sources in lockstep.
type Runner struct {
	Compare CompareFunc
	// StartFrame is the first 1-based frame number compared; earlier frames are skipped.
	StartFrame int
	// EndFrame is the last frame number compared; 0 means no limit.
	EndFrame int
	FPS      float64
	Out      io.Writer
	Logger   *zap.Logger
	// OnFrame, when set, is called after every frame read.
	OnFrame func(frame int)
}

// CheckLengths refuses to compare videos of different length.
func CheckLengths(first, second Metadata) error {
	if first.Frames != second.Frames {
		return fmt.Errorf("%w: %d vs %d frames", ErrLengthMismatch, first.Frames, second.Frames)
	}
	return nil
}

// Run compares frames until either source ends, the end frame is passed or ctx is done.
func (r *Runner) Run(ctx context.Context, first, second FrameSource) (Summary, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var sum Summary
	frameNumber := 0

	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		frame1, err1 := first.Next()
		frame2, err2 := second.Next()
		if err := errors.Join(readError(err1), readError(err2)); err != nil {
			return sum, err
		}
		if err1 != nil || err2 != nil {
			return sum, nil
		}
		frameNumber++
		sum.FramesRead++
		if r.OnFrame != nil {
			r.OnFrame(frameNumber)
		}

		if frameNumber < r.StartFrame {
			continue
		}
		if r.EndFrame > 0 && frameNumber > r.EndFrame {
			return sum, nil
		}

		results, err := r.Compare(ctx, frame1, frame2)
		if err != nil {
			return sum, fmt.Errorf("frame %d: %w", frameNumber, err)
		}
		sum.FramesCompared++

		matched := matchedLocations(results)
		if len(matched) > 0 {
			sum.FramesMatched++
		}
		logger.Debug("frame compared",
			zap.Int("frame", frameNumber),
			zap.Int("faces", len(results)),
			zap.Int("matches", len(matched)))

		if _, err := fmt.Fprintln(r.Out, Report(frameNumber, r.timestamp(frameNumber), matched)); err != nil {
			return sum, err
		}
	}
}

// readError drops io.EOF so a failing source is reported even when the other one ended.
func readError(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// timestamp is the presentation time of a 1-based frame in milliseconds.
func (r *Runner) timestamp(frame int) float64 {
	if r.FPS <= 0 {
		return 0
	}
	return float64(frame-1) * 1000 / r.FPS
}

func matchedLocations(results []facematch.MatchResult) []string {
	var out []string
	for _, res := range results {
		if res.IsMatch {
			out = append(out, res.Location.String())
		}
	}
	return out
}

// Report renders the per-frame line printed by the video pipeline.
func Report(frame int, timestampMs float64, matched []string) string {
	if len(matched) == 0 {
		return fmt.Sprintf("No match found at frame number %d.", frame)
	}
	return fmt.Sprintf("There is a match at frame number %d, timestamp %v [ms], on frame locations: %s",
		frame, timestampMs, strings.Join(matched, ", "))
}
