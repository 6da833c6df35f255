// Package transcoder implements the gRPC client filter that hands raw
// elementary-stream Frames to an external streamforge-ffmpegd daemon for
// encode/decode and receives encoded Frames back, per the "encode/decode
// stays an opaque collaborator, reached over gRPC" design.
package transcoder

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// serviceName is the gRPC service path this filter dials. There is no
// .proto/protoc-gen-go-grpc step behind it: the wire messages are
// wrapperspb.BytesValue (an already-compiled message type shipped by
// google.golang.org/protobuf itself) carrying JSON-encoded
// ffmpegd/types.ESSampleBatch payloads, and the grpc.ServiceDesc below is
// written by hand in exactly the shape protoc-gen-go-grpc would emit for a
// single bidirectional-streaming RPC. This sidesteps needing a code
// generator at build time while still exercising the real grpc/protobuf
// wire stack end to end.
const serviceName = "streamforge.ffmpegd.Transcoder"

// TranscoderServer is the daemon-side interface: it receives a stream of
// source sample batches and sends back a stream of encoded sample batches.
type TranscoderServer interface {
	Transcode(TranscoderTranscodeServer) error
}

// TranscoderTranscodeServer is the server's view of the bidi stream.
type TranscoderTranscodeServer interface {
	Send(*wrapperspb.BytesValue) error
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ServerStream
}

type transcoderTranscodeServer struct {
	grpc.ServerStream
}

func (x *transcoderTranscodeServer) Send(m *wrapperspb.BytesValue) error {
	return x.ServerStream.SendMsg(m)
}

func (x *transcoderTranscodeServer) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func transcodeHandler(srv any, stream grpc.ServerStream) error {
	return srv.(TranscoderServer).Transcode(&transcoderTranscodeServer{ServerStream: stream})
}

// ServiceDesc registers TranscoderServer implementations with a grpc.Server
// and is the lookup target for client streams dialed via NewTranscoderClient.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TranscoderServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Transcode",
			Handler:       transcodeHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "streamforge/ffmpegd/transcoder",
}

// TranscoderClient is the coordinator-side stub.
type TranscoderClient interface {
	Transcode(ctx context.Context, opts ...grpc.CallOption) (TranscoderTranscodeClient, error)
}

// TranscoderTranscodeClient is the client's view of the bidi stream.
type TranscoderTranscodeClient interface {
	Send(*wrapperspb.BytesValue) error
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ClientStream
}

type transcoderTranscodeClient struct {
	grpc.ClientStream
}

func (x *transcoderTranscodeClient) Send(m *wrapperspb.BytesValue) error {
	return x.ClientStream.SendMsg(m)
}

func (x *transcoderTranscodeClient) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

type transcoderClient struct {
	cc grpc.ClientConnInterface
}

// NewTranscoderClient builds a TranscoderClient over an already-dialed
// connection to a streamforge-ffmpegd daemon.
func NewTranscoderClient(cc grpc.ClientConnInterface) TranscoderClient {
	return &transcoderClient{cc: cc}
}

func (c *transcoderClient) Transcode(ctx context.Context, opts ...grpc.CallOption) (TranscoderTranscodeClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], "/"+serviceName+"/Transcode", opts...)
	if err != nil {
		return nil, err
	}
	return &transcoderTranscodeClient{ClientStream: stream}, nil
}
