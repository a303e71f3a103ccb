package grpcclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/example/face-compare/internal/detector"
	"github.com/example/face-compare/internal/facematch"
	"github.com/example/face-compare/internal/logging"
)

// DialDetector returns a ready-to-use gRPC client for the face detector service.
func DialDetector(ctx context.Context, addr string, timeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) (detector.Detector, *grpc.ClientConn, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_detector", "", err)
		logger.Error("failed to dial face detector", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewDetector(conn, logger), conn, nil
}

// NewDetector wraps an existing connection.
func NewDetector(conn grpc.ClientConnInterface, logger *zap.Logger) detector.Detector {
	return &grpcDetector{conn: conn, logger: logger}
}

type grpcDetector struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

func (g *grpcDetector) Detect(ctx context.Context, image []byte, method detector.Method) ([]facematch.Observation, error) {
	resp := new(DetectResponse)
	err := g.conn.Invoke(ctx, detectMethod, &DetectRequest{Image: image, Method: string(method)}, resp, grpc.CallContentSubtype(codecName))
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.detect", "", translate(err))
		g.logger.Error("face detector call failed", zap.Error(wrapped), zap.String("method", string(method)))
		return nil, wrapped
	}

	locations := make([]facematch.Location, len(resp.Locations))
	for i, box := range resp.Locations {
		locations[i] = box.Location()
	}
	encodings := make([]facematch.Encoding, len(resp.Encodings))
	for i, enc := range resp.Encodings {
		encodings[i] = enc
	}

	observations, err := facematch.Pair(locations, encodings)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.detect", "", err)
	}
	return observations, nil
}

func (g *grpcDetector) Encode(ctx context.Context, image []byte, locations []facematch.Location) ([]facematch.Encoding, error) {
	req := &EncodeRequest{Image: image, Locations: make([]Box, len(locations))}
	for i, loc := range locations {
		req.Locations[i] = BoxFromLocation(loc)
	}

	resp := new(EncodeResponse)
	if err := g.conn.Invoke(ctx, encodeMethod, req, resp, grpc.CallContentSubtype(codecName)); err != nil {
		wrapped := logging.NewOperationError("grpcclient.encode", "", translate(err))
		g.logger.Error("face detector call failed", zap.Error(wrapped), zap.Int("locations", len(locations)))
		return nil, wrapped
	}
	if len(resp.Encodings) != len(locations) {
		err := fmt.Errorf("%w: %d locations but %d encodings", facematch.ErrInvalidInput, len(locations), len(resp.Encodings))
		return nil, logging.NewOperationError("grpcclient.encode", "", err)
	}

	encodings := make([]facematch.Encoding, len(resp.Encodings))
	for i, enc := range resp.Encodings {
		encodings[i] = enc
	}
	return encodings, nil
}

// Location converts the wire box into a facematch location.
func (b Box) Location() facematch.Location {
	return facematch.Location{Top: b[0], Right: b[1], Bottom: b[2], Left: b[3]}
}

// BoxFromLocation converts a facematch location into its wire form.
func BoxFromLocation(l facematch.Location) Box {
	return Box{l.Top, l.Right, l.Bottom, l.Left}
}

// translate maps detector status codes onto package sentinel errors.
func translate(err error) error {
	if status.Code(err) == codes.InvalidArgument {
		return fmt.Errorf("%w: %s", facematch.ErrInvalidInput, status.Convert(err).Message())
	}
	return err
}
