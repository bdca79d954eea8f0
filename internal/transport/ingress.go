package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"netsync/server/internal/metrics"
	"netsync/server/internal/room"
	"netsync/server/internal/rpc"
	"netsync/server/internal/varstore"
	"netsync/server/internal/wire"
)

// Receiver is the minimal ingress-socket contract Ingress needs, letting
// tests drive the dispatch logic without a real ZeroMQ socket.
type Receiver interface {
	Recv() (roomID, payload []byte, err error)
}

// JoinNotifier is implemented by *broadcast.Scheduler; kept as a narrow
// local interface so this package does not import internal/broadcast.
type JoinNotifier interface {
	NotifyJoin(roomID string, clientNo uint16)
}

// Ingress is the single consumer loop described in spec.md §4.3: it reads
// two-frame units from the request socket and dispatches each by message
// type, dropping and counting anything malformed without ever stopping the
// loop.
type Ingress struct {
	sock  Receiver
	reg   *room.Registry
	vars  *varstore.Store
	rpc   *rpc.Router
	sched JoinNotifier
	drops *metrics.Drops
	log   *slog.Logger

	roomFullMu     sync.Mutex
	roomFullLogged map[string]time.Time
}

// NewIngress builds an Ingress. drops may be nil if metrics are disabled.
func NewIngress(sock Receiver, reg *room.Registry, vars *varstore.Store, router *rpc.Router, sched JoinNotifier, drops *metrics.Drops, log *slog.Logger) *Ingress {
	return &Ingress{
		sock: sock, reg: reg, vars: vars, rpc: router, sched: sched, drops: drops, log: log,
		roomFullLogged: make(map[string]time.Time),
	}
}

// Run consumes units until ctx is canceled or the socket reports it is
// closed.
func (in *Ingress) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		roomID, payload, err := in.sock.Recv()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			in.countMalformed()
			continue
		}

		in.handleUnit(roomID, payload)
	}
}

func (in *Ingress) handleUnit(roomIDBytes, payload []byte) {
	if err := wire.ValidateRoomID(roomIDBytes); err != nil {
		in.countMalformed()
		return
	}
	roomID := string(roomIDBytes)

	msgType, err := wire.PeekType(payload)
	if err != nil {
		in.countMalformed()
		return
	}

	switch msgType {
	case wire.MsgClientPose:
		in.handleClientPose(roomID, payload)
	case wire.MsgRPCBroadcast, wire.MsgRPCServer, wire.MsgRPCClient:
		if err := in.rpc.Dispatch(roomID, payload); err != nil {
			in.countMalformed()
		}
	case wire.MsgGlobalVarSet:
		in.handleGlobalVarSet(roomID, payload)
	case wire.MsgClientVarSet:
		in.handleClientVarSet(roomID, payload)
	default:
		// RoomPose, DeviceIDMapping, GlobalVarSync, ClientVarSync are
		// server-to-client only; receiving one inbound is malformed.
		in.countMalformed()
	}
}

func (in *Ingress) handleClientPose(roomID string, payload []byte) {
	msg, err := wire.DecodeClientPose(payload)
	if err != nil {
		in.countMalformed()
		return
	}

	clientNo, isNew, err := in.reg.UpsertClient(roomID, msg.DeviceID)
	if err != nil {
		in.countRoomFull(roomID)
		return
	}

	in.reg.TouchClient(roomID, clientNo, time.Now())

	// Body is a subslice of payload, which the socket may reuse for the
	// next Recv — copy before caching, per spec.md §4.3 "copy the payload
	// body portion into the cache".
	body := make([]byte, len(msg.Body))
	copy(body, msg.Body)
	in.reg.CachePoseBody(roomID, clientNo, body, msg.Pose.Stealth)

	if isNew && in.sched != nil {
		in.sched.NotifyJoin(roomID, clientNo)
	}
}

func (in *Ingress) handleGlobalVarSet(roomID string, payload []byte) {
	msg, err := wire.DecodeGlobalVarSet(payload)
	if err != nil {
		in.countMalformed()
		return
	}
	in.countVarWrite(in.vars.SetGlobal(roomID, msg.Name, msg.Value, msg.Timestamp, msg.Sender))
}

func (in *Ingress) handleClientVarSet(roomID string, payload []byte) {
	msg, err := wire.DecodeClientVarSet(payload)
	if err != nil {
		in.countMalformed()
		return
	}
	in.countVarWrite(in.vars.SetClient(roomID, msg.Target, msg.Name, msg.Value, msg.Timestamp, msg.Sender))
}

func (in *Ingress) countVarWrite(err error) {
	switch {
	case err == nil:
	case errors.Is(err, varstore.ErrCapacityExceeded):
		if in.drops != nil {
			in.drops.CapacityExceeded.Inc()
		}
	case errors.Is(err, varstore.ErrStale):
		if in.drops != nil {
			in.drops.Stale.Inc()
		}
	default:
		in.countMalformed()
	}
}

func (in *Ingress) countMalformed() {
	if in.drops != nil {
		in.drops.MalformedFrame.Inc()
	}
}

// countRoomFull counts every occurrence but logs at most once per room per
// minute, per spec.md §7's RoomFull throttling rule.
func (in *Ingress) countRoomFull(roomID string) {
	if in.drops != nil {
		in.drops.RoomFull.Inc()
	}

	in.roomFullMu.Lock()
	last, logged := in.roomFullLogged[roomID]
	now := time.Now()
	shouldLog := !logged || now.Sub(last) >= time.Minute
	if shouldLog {
		in.roomFullLogged[roomID] = now
	}
	in.roomFullMu.Unlock()

	if shouldLog {
		in.log.Warn("room full, client rejected", "room", roomID)
	}
}
