// Package robot dispatches wheel commands to the robot radio.
//
// The Dispatcher owns the command buffer and streams it to a Radio at a
// fixed period. Radios are small interfaces so transports can be swapped:
// GRPCRadio speaks the ssl.Radio/CommandStream client-streaming RPC and
// WebSocketRadio sends the same payload as binary websocket messages.
package robot

import (
	"context"
	"errors"
)

// ErrStreamClosed reports that the command stream can no longer be used.
// A Send returning it ends the dispatcher's run loop.
var ErrStreamClosed = errors.New("robot: command stream closed")

// CommandStream is an open outbound stream of encoded ssl.RobotCommands.
type CommandStream interface {
	// Send transmits one encoded message. Errors wrapping ErrStreamClosed
	// or io.EOF are permanent; any other error is treated as transient.
	Send(msg []byte) error
	// Close finishes the stream and waits for the peer to acknowledge.
	Close() error
}

// Radio opens command streams.
type Radio interface {
	OpenCommandStream(ctx context.Context) (CommandStream, error)
}

// Ensure transports implement Radio
var (
	_ Radio = (*GRPCRadio)(nil)
	_ Radio = (*WebSocketRadio)(nil)
)
