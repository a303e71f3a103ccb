package video

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

const megabyte = 1024 * 1024

var (
	jpegSOI = []byte{0xFF, 0xD8} // start of image
	jpegEOI = []byte{0xFF, 0xD9} // end of image
)

// Metadata describes the first video stream of a file.
type Metadata struct {
	Frames int
	FPS    float64
	Width  int
	Height int
}

// FrameSource yields encoded frames until io.EOF.
type FrameSource interface {
	Next() ([]byte, error)
	Close() error
}

// Probe reads stream metadata with ffprobe.
func Probe(ctx context.Context, path string) (Metadata, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return Metadata{}, fmt.Errorf("ffprobe not found: %w", err)
	}
	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=nb_frames,r_frame_rate,width,height", "-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		return Metadata{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseProbe(out)
}

type ffprobeOutput struct {
	Streams []struct {
		NbFrames  string `json:"nb_frames"`
		FrameRate string `json:"r_frame_rate"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

func parseProbe(out []byte) (Metadata, error) {
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return Metadata{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(res.Streams) == 0 {
		return Metadata{}, errors.New("no video stream found")
	}
	s := res.Streams[0]

	md := Metadata{Width: s.Width, Height: s.Height}
	if n, err := strconv.Atoi(s.NbFrames); err == nil {
		md.Frames = n
	}
	fps, err := parseRate(s.FrameRate)
	if err != nil {
		return Metadata{}, err
	}
	md.FPS = fps
	return md, nil
}

// parseRate turns "30000/1001" or "25" into frames per second.
func parseRate(rate string) (float64, error) {
	num, den, ok := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q", rate)
	}
	if !ok {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0, fmt.Errorf("invalid frame rate %q", rate)
	}
	return n / d, nil
}

// SplitJPEG is a bufio.SplitFunc that yields complete JPEG images.
func SplitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], jpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// FFmpegSource decodes a video file into JPEG frames.
type FFmpegSource struct {
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  *bytes.Buffer
	scanner *bufio.Scanner
	drained bool
}

// OpenFFmpeg starts ffmpeg writing MJPEG frames of path to a pipe.
func OpenFFmpeg(ctx context.Context, path string) (*FFmpegSource, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error",
		"-i", path, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "2", "-")
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	return &FFmpegSource{
		cmd:     cmd,
		stdout:  stdout,
		stderr:  stderr,
		scanner: NewFrameScanner(stdout),
	}, nil
}

// NewFrameScanner splits an MJPEG byte stream into frames.
func NewFrameScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(SplitJPEG)
	return scanner
}

// Next returns a copy of the next frame, or io.EOF.
func (s *FFmpegSource) Next() ([]byte, error) {
	if s.scanner.Scan() {
		frame := make([]byte, len(s.scanner.Bytes()))
		copy(frame, s.scanner.Bytes())
		return frame, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}
	s.drained = true
	return nil, io.EOF
}

// Close stops ffmpeg and reports its diagnostics on failure.
// A source closed before the end of the stream kills the decoder.
func (s *FFmpegSource) Close() error {
	if !s.drained {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
		return nil
	}
	s.stdout.Close()
	if err := s.cmd.Wait(); err != nil {
		if s.stderr.Len() > 0 {
			return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(s.stderr.String()))
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}
