package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/face-compare/internal/detector"
	"github.com/example/face-compare/internal/facematch"
	"github.com/example/face-compare/internal/render"
)

const (
	labelRecognised = "the same person recognised"
	labelUnknown    = "Unknown"
)

type photosOptions struct {
	original   string
	anonymized string
	output     string
	threshold  float64
	method     string
}

func newPhotosCmd(root *rootOptions) *cobra.Command {
	opts := &photosOptions{}

	cmd := &cobra.Command{
		Use:   "photos",
		Short: "Check whether the faces of a photo are still recognised in its anonymized copy",
		Long: `Detect the faces of the original photo, encode the anonymized photo at the
same locations and label every face on the anonymized photo with the outcome.`,
		Example: "  face-compare photos --original person1.png --anonymized person1_anon.png --output labelled.png",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if !cmd.Flags().Changed("threshold") {
				opts.threshold = cfg.Match.PhotoThreshold
			}
			if !cmd.Flags().Changed("method") {
				opts.method = cfg.Match.Method
			}
			method, err := detector.ParseMethod(opts.method)
			if err != nil {
				return err
			}
			if opts.threshold <= 0 {
				return fmt.Errorf("threshold must be positive, got %v", opts.threshold)
			}
			if opts.output == "" {
				opts.output = defaultLabelledPath(opts.anonymized)
			}

			original, err := os.ReadFile(opts.original)
			if err != nil {
				return fmt.Errorf("read original photo: %w", err)
			}
			anonymized, err := os.ReadFile(opts.anonymized)
			if err != nil {
				return fmt.Errorf("read anonymized photo: %w", err)
			}

			ctx := cmd.Context()
			det, conn, err := dialDetector(ctx, cfg.Detector, logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			results, err := comparePhotos(ctx, det, original, anonymized, method, opts.threshold)
			if err != nil {
				return err
			}
			logger.Info("photos compared",
				zap.Int("faces", len(results)),
				zap.Int("recognised", facematch.CountMatches(results)))

			printPhotoResults(cmd.OutOrStdout(), results)
			if err := writeLabelled(opts.output, anonymized, results); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Labelled photo written to %s\n", opts.output)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.original, "original", "", "Original photo")
	cmd.Flags().StringVar(&opts.anonymized, "anonymized", "", "Anonymized copy of the original photo")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Where to write the labelled photo (default: <anonymized>_labelled.<ext>)")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", facematch.PhotoThreshold, "Maximum face distance considered a match")
	cmd.Flags().StringVar(&opts.method, "method", string(detector.MethodHOG), "Face detection model: hog or cnn")
	_ = cmd.MarkFlagRequired("original")
	_ = cmd.MarkFlagRequired("anonymized")

	return cmd
}

// comparePhotos matches the faces of the original photo against the anonymized
// photo encoded at the very same locations. A face is recognised only when the
// anonymized encoding at its own location is within threshold.
func comparePhotos(ctx context.Context, det detector.Detector, original, anonymized []byte, method detector.Method, threshold float64) ([]facematch.MatchResult, error) {
	faces, err := det.Detect(ctx, original, method)
	if err != nil {
		return nil, fmt.Errorf("detect faces in original photo: %w", err)
	}
	if len(faces) == 0 {
		return []facematch.MatchResult{}, nil
	}

	locations := make([]facematch.Location, len(faces))
	for i, f := range faces {
		locations[i] = f.Location
	}
	encodings, err := det.Encode(ctx, anonymized, locations)
	if err != nil {
		return nil, fmt.Errorf("encode anonymized photo: %w", err)
	}
	anonFaces, err := facematch.Pair(locations, encodings)
	if err != nil {
		return nil, err
	}
	return facematch.ComparePaired(faces, anonFaces, threshold)
}

func photoLabel(r facematch.MatchResult) string {
	if r.IsMatch {
		return labelRecognised
	}
	return labelUnknown
}

func printPhotoResults(w io.Writer, results []facematch.MatchResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No faces found in the original photo.")
		return
	}
	for _, r := range results {
		fmt.Fprintf(w, "Face at %s: %s\n", r.Location, photoLabel(r))
	}
}

func writeLabelled(path string, anonymized []byte, results []facematch.MatchResult) error {
	img, _, err := render.Decode(anonymized)
	if err != nil {
		return fmt.Errorf("decode anonymized photo: %w", err)
	}

	boxes := make([]render.Box, len(results))
	for i, r := range results {
		boxes[i] = render.Box{Location: r.Location, Label: photoLabel(r), Color: render.Blue}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer f.Close()

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if err := render.Encode(f, render.Annotate(img, boxes), format); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func defaultLabelledPath(anonymized string) string {
	ext := filepath.Ext(anonymized)
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".png":
	default:
		ext = ".png"
	}
	return strings.TrimSuffix(anonymized, filepath.Ext(anonymized)) + "_labelled" + ext
}
