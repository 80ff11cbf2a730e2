package robot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/teslashibe/go-sslteam/internal/log"
)

// CommandStreamMethod is the full method name of the radio's
// client-streaming RPC:
//
//	service Radio { rpc CommandStream(stream RobotCommands) returns (Empty); }
const CommandStreamMethod = "/ssl.Radio/CommandStream"

var commandStreamDesc = grpc.StreamDesc{
	StreamName:    "CommandStream",
	ClientStreams: true,
}

// rawCodec passes already encoded protobuf bytes through unchanged. It is
// registered under the "proto" name so peers see a normal protobuf call.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case []byte:
		return m, nil
	case *[]byte:
		return *m, nil
	}
	return nil, fmt.Errorf("robot: cannot marshal %T", v)
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	p, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("robot: cannot unmarshal into %T", v)
	}
	*p = append((*p)[:0], data...)
	return nil
}

func (rawCodec) Name() string { return "proto" }

// GRPCRadio opens CommandStream calls on a gRPC connection.
type GRPCRadio struct {
	conn *grpc.ClientConn
	log  *slog.Logger
}

// DialGRPC creates a client for target. Without extra options the
// connection is plaintext.
func DialGRPC(target string, logger *slog.Logger, opts ...grpc.DialOption) (*GRPCRadio, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("robot: dial radio %s: %w", target, err)
	}
	return NewGRPCRadio(conn, logger), nil
}

// NewGRPCRadio uses an existing connection and takes ownership of it.
func NewGRPCRadio(conn *grpc.ClientConn, logger *slog.Logger) *GRPCRadio {
	return &GRPCRadio{conn: conn, log: log.Or(logger, "radio").With("transport", "grpc", "target", conn.Target())}
}

// OpenCommandStream starts a CommandStream call bound to ctx.
func (r *GRPCRadio) OpenCommandStream(ctx context.Context) (CommandStream, error) {
	s, err := r.conn.NewStream(ctx, &commandStreamDesc, CommandStreamMethod, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		return nil, err
	}
	r.log.Debug("command stream opened")
	return &grpcStream{stream: s}, nil
}

// Close closes the underlying connection.
func (r *GRPCRadio) Close() error {
	return r.conn.Close()
}

type grpcStream struct {
	stream grpc.ClientStream
}

func (g *grpcStream) Send(msg []byte) error {
	err := g.stream.SendMsg(msg)
	if errors.Is(err, io.EOF) {
		// The call has ended; the real status is only available from RecvMsg.
		var ack []byte
		if rerr := g.stream.RecvMsg(&ack); rerr != nil && !errors.Is(rerr, io.EOF) {
			return fmt.Errorf("%w: %v", ErrStreamClosed, rerr)
		}
		return ErrStreamClosed
	}
	return err
}

func (g *grpcStream) Close() error {
	if err := g.stream.CloseSend(); err != nil {
		return err
	}
	var ack []byte
	err := g.stream.RecvMsg(&ack)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	case status.Code(err) == codes.Canceled:
		return context.Canceled
	}
	return err
}
