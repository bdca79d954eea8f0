package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
)

// discoverRequest is the exact ASCII payload a client sends to find a relay.
const discoverRequest = "STYLY-NETSYNC-DISCOVER"

// Beacon answers UDP discovery probes with the relay's connection info.
type Beacon struct {
	conn       *net.UDPConn
	log        *slog.Logger
	dealerPort int
	pubPort    int
	serverName string
}

// NewBeacon binds a UDP socket on port and returns a Beacon ready to Run.
func NewBeacon(port, dealerPort, pubPort int, serverName string, log *slog.Logger) (*Beacon, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("transport: bind discovery beacon on :%d: %w", port, err)
	}
	return &Beacon{conn: conn, log: log, dealerPort: dealerPort, pubPort: pubPort, serverName: serverName}, nil
}

// Run answers discovery probes until ctx is canceled.
func (b *Beacon) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		b.conn.Close()
	}()

	buf := make([]byte, 256)
	for {
		n, addr, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				b.log.Warn("discovery beacon read failed", "err", err)
				continue
			}
		}
		if string(buf[:n]) != discoverRequest {
			continue
		}

		reply := fmt.Sprintf("STYLY-NETSYNC|%d|%d|%s", b.dealerPort, b.pubPort, b.serverName)
		if _, err := b.conn.WriteToUDP([]byte(reply), addr); err != nil {
			b.log.Warn("discovery beacon reply failed", "err", err, "peer", addr)
		}
	}
}

// Close closes the UDP socket.
func (b *Beacon) Close() error {
	return b.conn.Close()
}
