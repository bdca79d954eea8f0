// Package rpc implements the three RPC_* dispatch behaviors: broadcast
// re-emit, an in-process server sink, and targeted client re-emit.
package rpc

import (
	"netsync/server/internal/metrics"
	"netsync/server/internal/wire"
)

// Publisher is the egress side of the publish socket, the same shape as
// broadcast.Publisher — defined separately here so this package does not
// depend on internal/broadcast.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Sink receives RPC_SERVER messages. The caller decides what a "server-side
// RPC handler" does with Function/Args; the router only handles dispatch.
type Sink func(msg wire.RPCMsg)

// Router implements spec.md §4.5's three dispatch behaviors.
type Router struct {
	pub   Publisher
	drops *metrics.Drops
	sink  Sink
}

// NewRouter builds a Router with no server sink registered. drops may be
// nil if metrics are disabled.
func NewRouter(pub Publisher, drops *metrics.Drops) *Router {
	return &Router{pub: pub, drops: drops}
}

// SetSink registers the in-process RPC_SERVER handler. Passing nil
// unregisters it, causing subsequent RPC_SERVER messages to be dropped.
func (r *Router) SetSink(sink Sink) {
	r.sink = sink
}

// Dispatch decodes payload as an RPC_BROADCAST, RPC_SERVER, or RPC_CLIENT
// message and applies the matching behavior. roomID is the topic the
// message arrived under (frame 0) and, for broadcast/client messages, the
// topic it is re-emitted under.
func (r *Router) Dispatch(roomID string, payload []byte) error {
	msg, err := wire.DecodeRPC(payload)
	if err != nil {
		return err
	}

	switch msg.Type {
	case wire.MsgRPCBroadcast, wire.MsgRPCClient:
		// No deserialization beyond framing: re-emit the bytes verbatim
		// under the room's topic so fan-out is not charged for a
		// re-encode. The target client-number for RPC_CLIENT is carried
		// inside the payload already; filtering happens client-side.
		return r.pub.Publish(roomID, payload)
	case wire.MsgRPCServer:
		if r.sink == nil {
			if r.drops != nil {
				r.drops.RPCDropped.Inc()
			}
			return nil
		}
		r.sink(msg)
		return nil
	default:
		return wire.ErrMalformedFrame
	}
}
