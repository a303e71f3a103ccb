package detector

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/face-compare/internal/facematch"
)

// Method selects the face detection model.
type Method string

const (
	// MethodHOG is less accurate but fast on CPUs.
	MethodHOG Method = "hog"
	// MethodCNN is the more accurate deep-learning model, GPU accelerated when available.
	MethodCNN Method = "cnn"
)

// ParseMethod validates a detection method name. Empty means MethodHOG.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case "", MethodHOG:
		return MethodHOG, nil
	case MethodCNN:
		return MethodCNN, nil
	}
	return "", fmt.Errorf("unknown detection method %q", s)
}

// Detector exposes the face-recognition operations used by the comparison flows.
type Detector interface {
	// Detect locates and encodes every face in an encoded image.
	Detect(ctx context.Context, image []byte, method Method) ([]facematch.Observation, error)
	// Encode computes encodings for faces at known locations, in the same order.
	Encode(ctx context.Context, image []byte, locations []facematch.Location) ([]facematch.Encoding, error)
}
