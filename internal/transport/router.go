package transport

import (
	"context"
	"fmt"

	"github.com/go-zeromq/zmq4"

	"netsync/server/internal/wire"
)

// RequestSocket is the ingress side: a ROUTER socket receiving two-frame
// units (room id, payload) per client message, addressed behind an
// automatically-prepended ZeroMQ identity frame.
type RequestSocket struct {
	sck zmq4.Socket
}

// NewRequestSocket binds a ROUTER socket to addr (e.g. "tcp://*:5555").
func NewRequestSocket(ctx context.Context, addr string) (*RequestSocket, error) {
	sck := zmq4.NewRouter(ctx)
	if err := sck.Listen(addr); err != nil {
		return nil, fmt.Errorf("transport: bind request socket %s: %w", addr, err)
	}
	return &RequestSocket{sck: sck}, nil
}

// Recv blocks until one two-frame unit arrives, returning the room-id frame
// and the payload frame. The ROUTER socket's identity frame is discarded —
// replies are never sent back to clients on this path (spec.md describes
// the request socket as asynchronous, fire-and-forget ingress).
func (r *RequestSocket) Recv() (roomID, payload []byte, err error) {
	msg, err := r.sck.Recv()
	if err != nil {
		return nil, nil, fmt.Errorf("transport: recv: %w", err)
	}
	// frames[0] is the ROUTER-prepended identity; frames[1:3] are the
	// application's two-frame unit.
	frames := msg.Frames
	if len(frames) < 3 {
		return nil, nil, wire.ErrMalformedFrame
	}
	return frames[1], frames[2], nil
}

// Close closes the underlying socket.
func (r *RequestSocket) Close() error {
	return r.sck.Close()
}
