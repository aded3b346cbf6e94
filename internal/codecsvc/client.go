package codecsvc

import (
	"context"
	"fmt"

	"github.com/you-humble/imgpress/internal/infra/codec"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/dynamicpb"
)

func NewConnection(addr string, maxMessageBytes int) (*grpc.ClientConn, error) {
	if maxMessageBytes <= 0 {
		maxMessageBytes = DefaultMaxMessageBytes
	}
	conn, err := grpc.NewClient(
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMessageBytes),
			grpc.MaxCallSendMsgSize(maxMessageBytes),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("dial codec worker %s: %w", addr, err)
	}
	return conn, nil
}

// remoteCodec satisfies the engine's codec contract by calling a worker.
type remoteCodec struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *remoteCodec {
	return &remoteCodec{conn: conn}
}

func (c *remoteCodec) Probe(ctx context.Context, data []byte) (codec.Info, error) {
	req := &ProbeRequest{Data: data}
	resp := dynamicpb.NewMessage(probeResponseDesc)
	if err := c.conn.Invoke(ctx, ProbeMethod, req.message(), resp); err != nil {
		return codec.Info{}, fromStatus("probe", err)
	}
	return probeResponseFrom(resp).Info, nil
}

func (c *remoteCodec) Transcode(ctx context.Context, data []byte, o codec.Options) ([]byte, error) {
	req := &TranscodeRequest{Data: data, Options: o}
	resp := dynamicpb.NewMessage(transcodeResponseDesc)
	if err := c.conn.Invoke(ctx, TranscodeMethod, req.message(), resp); err != nil {
		return nil, fromStatus("transcode", err)
	}
	return transcodeResponseFrom(resp).Data, nil
}

// fromStatus turns wire statuses back into the sentinels the engine checks
// with errors.Is.
func fromStatus(op string, err error) error {
	st := status.Convert(err)
	switch st.Code() {
	case codes.DeadlineExceeded:
		return fmt.Errorf("remote %s: %s: %w", op, st.Message(), context.DeadlineExceeded)
	case codes.Canceled:
		return fmt.Errorf("remote %s: %s: %w", op, st.Message(), context.Canceled)
	case codes.InvalidArgument:
		return fmt.Errorf("remote %s: %s: %w", op, st.Message(), codec.ErrUnknownFormat)
	default:
		return fmt.Errorf("remote %s: %w", op, err)
	}
}
