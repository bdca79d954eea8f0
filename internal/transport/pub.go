package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-zeromq/zmq4"
)

// PublishHWM is the configured high-water mark for the publish socket: once
// this many outbound messages are queued, further sends are dropped rather
// than blocking the broadcaster (spec.md §6: "dropping when full").
const PublishHWM = 1000

// Publisher wraps a ZeroMQ PUB socket with a bounded, drop-on-full send
// queue and a single background writer goroutine — callers call Publish
// from any goroutine, but the socket itself is only ever touched by the
// writer loop, honoring spec.md §5's "never written to from more than one
// thread concurrently" rule without relying on the underlying library's own
// HWM enforcement.
type Publisher struct {
	sck   zmq4.Socket
	log   *slog.Logger
	queue chan pubMsg
	done  chan struct{}

	onDrop func()
}

type pubMsg struct {
	topic   []byte
	payload []byte
}

// NewPublisher binds a PUB socket to addr (e.g. "tcp://*:5556") and starts
// its writer goroutine. onDrop, if non-nil, is called once per message
// dropped because the send queue was full.
func NewPublisher(ctx context.Context, addr string, log *slog.Logger, onDrop func()) (*Publisher, error) {
	sck := zmq4.NewPub(ctx)
	if err := sck.Listen(addr); err != nil {
		return nil, fmt.Errorf("transport: bind publish socket %s: %w", addr, err)
	}

	p := &Publisher{
		sck:    sck,
		log:    log,
		queue:  make(chan pubMsg, PublishHWM),
		done:   make(chan struct{}),
		onDrop: onDrop,
	}
	go p.writeLoop()
	return p, nil
}

// Publish queues topic/payload for send, dropping the message if the queue
// is already at PublishHWM. Satisfies broadcast.Publisher and rpc.Publisher.
func (p *Publisher) Publish(topic string, payload []byte) error {
	select {
	case p.queue <- pubMsg{topic: []byte(topic), payload: payload}:
		return nil
	default:
		if p.onDrop != nil {
			p.onDrop()
		}
		return nil
	}
}

func (p *Publisher) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case m := <-p.queue:
			msg := zmq4.NewMsgFrom(m.topic, m.payload)
			if err := p.sck.Send(msg); err != nil {
				p.log.Warn("publish socket send failed", "err", err)
			}
		}
	}
}

// Close stops the writer goroutine and closes the underlying socket.
func (p *Publisher) Close() error {
	close(p.done)
	return p.sck.Close()
}
