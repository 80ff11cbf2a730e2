package robot

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/teslashibe/go-sslteam/internal/log"
	"github.com/teslashibe/go-sslteam/pkg/ssl"
)

// radioServer is a minimal ssl.Radio server that records every command set.
type radioServer struct {
	mu       sync.Mutex
	received []ssl.RobotCommands
	methods  []string
}

func (s *radioServer) handle(srv any, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)
	s.mu.Lock()
	s.methods = append(s.methods, method)
	s.mu.Unlock()

	for {
		var msg []byte
		err := stream.RecvMsg(&msg)
		if errors.Is(err, io.EOF) {
			return stream.SendMsg([]byte{})
		}
		if err != nil {
			return err
		}
		rc, err := ssl.DecodeRobotCommands(msg)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.received = append(s.received, rc)
		s.mu.Unlock()
	}
}

func (s *radioServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func startRadioServer(t *testing.T) (*radioServer, *GRPCRadio) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	rs := &radioServer{}
	srv := grpc.NewServer(
		grpc.ForceServerCodec(rawCodec{}),
		grpc.UnknownServiceHandler(rs.handle),
	)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	radio, err := DialGRPC("passthrough:///bufnet", log.Discard(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { radio.Close() })
	return rs, radio
}

func TestGRPCRadio_CommandStream(t *testing.T) {
	rs, radio := startRadioServer(t)

	stream, err := radio.OpenCommandStream(context.Background())
	require.NoError(t, err)

	msg := ssl.RobotCommands{Commands: map[uint32]ssl.RobotCommand{
		0: {WheelVelocity: [4]int8{1, 1, 1, 1}},
	}}.Marshal()
	for i := 0; i < 3; i++ {
		require.NoError(t, stream.Send(msg))
	}
	require.NoError(t, stream.Close())

	require.Equal(t, 3, rs.count())
	assert.Equal(t, [4]int8{1, 1, 1, 1}, rs.received[2].Commands[0].WheelVelocity)
	assert.Equal(t, []string{CommandStreamMethod}, rs.methods)
}

func TestGRPCRadio_WithDispatcher(t *testing.T) {
	rs, radio := startRadioServer(t)
	d := NewDispatcher(radio, 5*time.Millisecond, log.Discard())
	require.NoError(t, d.SetAction(Action{RobotID: 4, Wheels: [4]float64{-0.01, 0, 0, 0.01}}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return rs.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, rc := range rs.received {
		assert.Equal(t, [4]int8{-1, 0, 0, 1}, rc.Commands[4].WheelVelocity)
	}
}

func TestRawCodec(t *testing.T) {
	var c rawCodec
	b, err := c.Marshal([]byte{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, b)

	_, err = c.Marshal("nope")
	assert.Error(t, err)

	var out []byte
	require.NoError(t, c.Unmarshal([]byte{3}, &out))
	assert.Equal(t, []byte{3}, out)
	assert.Error(t, c.Unmarshal([]byte{3}, out))
}
