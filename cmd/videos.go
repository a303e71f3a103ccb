package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/face-compare/internal/config"
	"github.com/example/face-compare/internal/detector"
	"github.com/example/face-compare/internal/facematch"
	"github.com/example/face-compare/internal/video"
)

type videosOptions struct {
	first      string
	second     string
	startFrame int
	endFrame   int
	threshold  float64
	method     string
	strategy   string
	noProgress bool
}

func newVideosCmd(root *rootOptions) *cobra.Command {
	opts := &videosOptions{}

	cmd := &cobra.Command{
		Use:   "videos",
		Short: "Compare faces frame by frame between two videos of the same length",
		Long: `Decode both videos with ffmpeg, detect the faces of every frame pair in the
selected window and print, per frame, whether a face of the first video is
still recognised in the second one.`,
		Example: "  face-compare videos --first original.mp4 --second anonymized.mp4 --start-frame 429 --end-frame 529",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			cfg, logger, err := root.setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			settings, err := opts.resolve(cfg, cmd.Flags().Changed)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "Opening and starting processing %s\n", opts.first)
			meta1, err := video.Probe(ctx, opts.first)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Opening and starting processing %s\n", opts.second)
			meta2, err := video.Probe(ctx, opts.second)
			if err != nil {
				return err
			}
			if err := checkVideoLengths(out, meta1, meta2); err != nil {
				return err
			}
			logger.Debug("videos probed",
				zap.Int("frames", meta1.Frames),
				zap.Float64("fps", meta1.FPS),
				zap.Int("width", meta1.Width),
				zap.Int("height", meta1.Height))

			det, conn, err := dialDetector(ctx, cfg.Detector, logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			src1, err := video.OpenFFmpeg(ctx, opts.first)
			if err != nil {
				return err
			}
			src2, err := video.OpenFFmpeg(ctx, opts.second)
			if err != nil {
				_ = src1.Close()
				return err
			}

			runner := &video.Runner{
				Compare:    video.DetectorCompare(det, settings.method, settings.matcher),
				StartFrame: settings.startFrame,
				EndFrame:   settings.endFrame,
				FPS:        meta1.FPS,
				Out:        out,
				Logger:     logger,
			}
			if !opts.noProgress {
				bar := newFrameBar(meta1.Frames, settings.endFrame)
				defer bar.Finish() //nolint:errcheck
				runner.OnFrame = func(int) { _ = bar.Add(1) }
			}

			summary, err := runFrames(ctx, runner, src1, src2)
			logger.Info("video comparison finished",
				zap.Int("frames_read", summary.FramesRead),
				zap.Int("frames_compared", summary.FramesCompared),
				zap.Int("frames_matched", summary.FramesMatched))
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Execution time: %.4f seconds\n", time.Since(start).Seconds())
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.first, "first", "", "Original video file")
	cmd.Flags().StringVar(&opts.second, "second", "", "Video file to compare against, e.g. the anonymized copy")
	cmd.Flags().IntVar(&opts.startFrame, "start-frame", 0, "First frame number to compare, frames before it are skipped")
	cmd.Flags().IntVar(&opts.endFrame, "end-frame", 0, "Last frame number to compare (0 = until the end)")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", facematch.DefaultThreshold, "Maximum face distance considered a match")
	cmd.Flags().StringVar(&opts.method, "method", string(detector.MethodHOG), "Face detection model: hog or cnn")
	cmd.Flags().StringVar(&opts.strategy, "strategy", string(facematch.StrategyLast), "Match strategy: last or best")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable the progress bar")
	_ = cmd.MarkFlagRequired("first")
	_ = cmd.MarkFlagRequired("second")

	return cmd
}

type videoSettings struct {
	method     detector.Method
	matcher    facematch.Matcher
	startFrame int
	endFrame   int
}

// resolve fills every option the user did not set on the command line from cfg.
func (o videosOptions) resolve(cfg *config.Config, changed func(flag string) bool) (videoSettings, error) {
	if !changed("threshold") {
		o.threshold = cfg.Match.Threshold
	}
	if !changed("method") {
		o.method = cfg.Match.Method
	}
	if !changed("strategy") {
		o.strategy = cfg.Match.Strategy
	}
	if !changed("start-frame") {
		o.startFrame = cfg.Video.StartFrame
	}
	if !changed("end-frame") {
		o.endFrame = cfg.Video.EndFrame
	}

	method, err := detector.ParseMethod(o.method)
	if err != nil {
		return videoSettings{}, err
	}
	strategy, err := facematch.ParseStrategy(o.strategy)
	if err != nil {
		return videoSettings{}, err
	}
	if o.threshold <= 0 {
		return videoSettings{}, fmt.Errorf("threshold must be positive, got %v", o.threshold)
	}
	if o.startFrame < 0 || o.endFrame < 0 {
		return videoSettings{}, fmt.Errorf("frame window must not be negative, got %d-%d", o.startFrame, o.endFrame)
	}
	if o.endFrame > 0 && o.endFrame < o.startFrame {
		return videoSettings{}, fmt.Errorf("end frame %d is before start frame %d", o.endFrame, o.startFrame)
	}
	return videoSettings{
		method:     method,
		matcher:    facematch.Matcher{Threshold: o.threshold, Strategy: strategy},
		startFrame: o.startFrame,
		endFrame:   o.endFrame,
	}, nil
}

func checkVideoLengths(out io.Writer, first, second video.Metadata) error {
	err := video.CheckLengths(first, second)
	if errors.Is(err, video.ErrLengthMismatch) {
		fmt.Fprintln(out, "Two videos doesn't have the same length")
	}
	return err
}

// runFrames compares both sources, then closes them so decoder failures are not lost.
func runFrames(ctx context.Context, runner *video.Runner, first, second video.FrameSource) (video.Summary, error) {
	sum, err := runner.Run(ctx, first, second)
	return sum, errors.Join(err, first.Close(), second.Close())
}

// newFrameBar sizes the bar to the frames that will be read; an unknown count shows a spinner.
func newFrameBar(frames, endFrame int) *progressbar.ProgressBar {
	total := frames
	if endFrame > 0 && (total <= 0 || endFrame < total) {
		total = endFrame
	}
	if total <= 0 {
		total = -1
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Comparing frames"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
}
