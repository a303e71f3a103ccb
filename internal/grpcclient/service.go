package grpcclient

import (
	"context"

	"google.golang.org/grpc"
)

const (
	serviceName  = "facecompare.v1.FaceDetector"
	detectMethod = "/" + serviceName + "/Detect"
	encodeMethod = "/" + serviceName + "/Encode"
)

// Box is a face location on the wire, ordered top, right, bottom, left.
type Box [4]int

// DetectRequest asks the detector to locate and encode faces in an image.
type DetectRequest struct {
	Image  []byte `json:"image"`
	Method string `json:"method"`
}

// DetectResponse carries parallel location and encoding lists.
type DetectResponse struct {
	Locations []Box       `json:"locations"`
	Encodings [][]float64 `json:"encodings"`
}

// EncodeRequest asks the detector to encode faces at known locations.
type EncodeRequest struct {
	Image     []byte `json:"image"`
	Locations []Box  `json:"locations"`
}

// EncodeResponse carries one encoding per requested location.
type EncodeResponse struct {
	Encodings [][]float64 `json:"encodings"`
}

// DetectorServer is implemented by face detector sidecars.
type DetectorServer interface {
	Detect(context.Context, *DetectRequest) (*DetectResponse, error)
	Encode(context.Context, *EncodeRequest) (*EncodeResponse, error)
}

// RegisterDetectorServer exposes srv on a gRPC server.
func RegisterDetectorServer(s *grpc.Server, srv DetectorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the detector service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*DetectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Detect", Handler: detectHandler},
		{MethodName: "Encode", Handler: encodeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "facecompare/v1/detector",
}

func detectHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DetectRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DetectorServer).Detect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: detectMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DetectorServer).Detect(ctx, req.(*DetectRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func encodeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(EncodeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DetectorServer).Encode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: encodeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DetectorServer).Encode(ctx, req.(*EncodeRequest))
	}
	return interceptor(ctx, in, info, handler)
}
