// Package codecsvc exposes a codec over gRPC so pixel work can run in a
// separate worker process. The protobuf schema is declared below and messages
// are built with dynamicpb, so calls use grpc's default proto codec.
package codecsvc

import (
	"context"
	"fmt"

	"github.com/you-humble/imgpress/internal/infra/codec"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

const (
	ServiceName     = "imgpress.codec.v1.Codec"
	ProbeMethod     = "/" + ServiceName + "/Probe"
	TranscodeMethod = "/" + ServiceName + "/Transcode"

	// DefaultMaxMessageBytes leaves headroom over the 50MB per-file ceiling.
	DefaultMaxMessageBytes = 96 << 20
)

// schema is imgpress/codec/v1/codec.proto:
//
//	message ProbeRequest      { bytes data = 1; }
//	message ProbeResponse     { int32 width = 1; int32 height = 2; string format = 3; }
//	message TranscodeRequest  { bytes data = 1; string format = 2; int32 quality = 3; int32 width = 4; int32 height = 5; }
//	message TranscodeResponse { bytes data = 1; }
var schema = &descriptorpb.FileDescriptorProto{
	Name:    proto.String("imgpress/codec/v1/codec.proto"),
	Package: proto.String("imgpress.codec.v1"),
	Syntax:  proto.String("proto3"),
	MessageType: []*descriptorpb.DescriptorProto{
		message("ProbeRequest",
			field("data", 1, descriptorpb.FieldDescriptorProto_TYPE_BYTES),
		),
		message("ProbeResponse",
			field("width", 1, descriptorpb.FieldDescriptorProto_TYPE_INT32),
			field("height", 2, descriptorpb.FieldDescriptorProto_TYPE_INT32),
			field("format", 3, descriptorpb.FieldDescriptorProto_TYPE_STRING),
		),
		message("TranscodeRequest",
			field("data", 1, descriptorpb.FieldDescriptorProto_TYPE_BYTES),
			field("format", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			field("quality", 3, descriptorpb.FieldDescriptorProto_TYPE_INT32),
			field("width", 4, descriptorpb.FieldDescriptorProto_TYPE_INT32),
			field("height", 5, descriptorpb.FieldDescriptorProto_TYPE_INT32),
		),
		message("TranscodeResponse",
			field("data", 1, descriptorpb.FieldDescriptorProto_TYPE_BYTES),
		),
	},
}

var (
	probeRequestDesc      protoreflect.MessageDescriptor
	probeResponseDesc     protoreflect.MessageDescriptor
	transcodeRequestDesc  protoreflect.MessageDescriptor
	transcodeResponseDesc protoreflect.MessageDescriptor
)

func init() {
	fd, err := protodesc.NewFile(schema, nil)
	if err != nil {
		panic(fmt.Sprintf("codecsvc: invalid schema: %v", err))
	}
	msgs := fd.Messages()
	probeRequestDesc = msgs.ByName("ProbeRequest")
	probeResponseDesc = msgs.ByName("ProbeResponse")
	transcodeRequestDesc = msgs.ByName("TranscodeRequest")
	transcodeResponseDesc = msgs.ByName("TranscodeResponse")
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func field(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		JsonName: proto.String(name),
		Number:   proto.Int32(number),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     typ.Enum(),
	}
}

type ProbeRequest struct {
	Data []byte
}

type ProbeResponse struct {
	Info codec.Info
}

type TranscodeRequest struct {
	Data    []byte
	Options codec.Options
}

type TranscodeResponse struct {
	Data []byte
}

func set(m *dynamicpb.Message, name string, v protoreflect.Value) {
	m.Set(m.Descriptor().Fields().ByName(protoreflect.Name(name)), v)
}

func get(m *dynamicpb.Message, name string) protoreflect.Value {
	return m.Get(m.Descriptor().Fields().ByName(protoreflect.Name(name)))
}

func (r *ProbeRequest) message() *dynamicpb.Message {
	m := dynamicpb.NewMessage(probeRequestDesc)
	set(m, "data", protoreflect.ValueOfBytes(r.Data))
	return m
}

func probeRequestFrom(m *dynamicpb.Message) *ProbeRequest {
	return &ProbeRequest{Data: get(m, "data").Bytes()}
}

func (r *ProbeResponse) message() *dynamicpb.Message {
	m := dynamicpb.NewMessage(probeResponseDesc)
	set(m, "width", protoreflect.ValueOfInt32(int32(r.Info.Width)))
	set(m, "height", protoreflect.ValueOfInt32(int32(r.Info.Height)))
	set(m, "format", protoreflect.ValueOfString(string(r.Info.Format)))
	return m
}

func probeResponseFrom(m *dynamicpb.Message) *ProbeResponse {
	return &ProbeResponse{Info: codec.Info{
		Width:  int(get(m, "width").Int()),
		Height: int(get(m, "height").Int()),
		Format: codec.Format(get(m, "format").String()),
	}}
}

func (r *TranscodeRequest) message() *dynamicpb.Message {
	m := dynamicpb.NewMessage(transcodeRequestDesc)
	set(m, "data", protoreflect.ValueOfBytes(r.Data))
	set(m, "format", protoreflect.ValueOfString(string(r.Options.Format)))
	set(m, "quality", protoreflect.ValueOfInt32(int32(r.Options.Quality)))
	set(m, "width", protoreflect.ValueOfInt32(int32(r.Options.Width)))
	set(m, "height", protoreflect.ValueOfInt32(int32(r.Options.Height)))
	return m
}

func transcodeRequestFrom(m *dynamicpb.Message) *TranscodeRequest {
	return &TranscodeRequest{
		Data: get(m, "data").Bytes(),
		Options: codec.Options{
			Format:  codec.Format(get(m, "format").String()),
			Quality: int(get(m, "quality").Int()),
			Width:   int(get(m, "width").Int()),
			Height:  int(get(m, "height").Int()),
		},
	}
}

func (r *TranscodeResponse) message() *dynamicpb.Message {
	m := dynamicpb.NewMessage(transcodeResponseDesc)
	set(m, "data", protoreflect.ValueOfBytes(r.Data))
	return m
}

func transcodeResponseFrom(m *dynamicpb.Message) *TranscodeResponse {
	return &TranscodeResponse{Data: get(m, "data").Bytes()}
}

// CodecServer is the service implementation registered with RegisterCodecServer.
type CodecServer interface {
	Probe(ctx context.Context, req *ProbeRequest) (*ProbeResponse, error)
	Transcode(ctx context.Context, req *TranscodeRequest) (*TranscodeResponse, error)
}

func RegisterCodecServer(s grpc.ServiceRegistrar, srv CodecServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CodecServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Probe", Handler: probeHandler},
		{MethodName: "Transcode", Handler: transcodeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "imgpress/codec/v1/codec.proto",
}

// Interceptors see the decoded Go request; the handler hands grpc a proto
// message to encode.
func probeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := dynamicpb.NewMessage(probeRequestDesc)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		resp, err := srv.(CodecServer).Probe(ctx, req.(*ProbeRequest))
		if err != nil {
			return nil, err
		}
		return resp.message(), nil
	}
	req := probeRequestFrom(in)
	if interceptor == nil {
		return handler(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ProbeMethod}
	return interceptor(ctx, req, info, handler)
}

func transcodeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := dynamicpb.NewMessage(transcodeRequestDesc)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		resp, err := srv.(CodecServer).Transcode(ctx, req.(*TranscodeRequest))
		if err != nil {
			return nil, err
		}
		return resp.message(), nil
	}
	req := transcodeRequestFrom(in)
	if interceptor == nil {
		return handler(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: TranscodeMethod}
	return interceptor(ctx, req, info, handler)
}
