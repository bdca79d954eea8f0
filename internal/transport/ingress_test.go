package transport

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"netsync/server/internal/metrics"
	"netsync/server/internal/room"
	"netsync/server/internal/rpc"
	"netsync/server/internal/varstore"
	"netsync/server/internal/wire"
)

func testRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func testCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	return testutil.ToFloat64(c)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeReceiver replays a fixed queue of units, then reports context
// cancellation once exhausted, mimicking a closed socket.
type fakeReceiver struct {
	mu    sync.Mutex
	units [][2][]byte
	pos   int
}

func newFakeReceiver(units ...[2][]byte) *fakeReceiver {
	return &fakeReceiver{units: units}
}

func (f *fakeReceiver) Recv() (roomID, payload []byte, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pos >= len(f.units) {
		return nil, nil, context.Canceled
	}
	u := f.units[f.pos]
	f.pos++
	return u[0], u[1], nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	joins []string
}

func (n *fakeNotifier) NotifyJoin(roomID string, clientNo uint16) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.joins = append(n.joins, roomID)
}

func samplePoseBody(t *testing.T) []byte {
	t.Helper()
	return wire.EncodePose(wire.Pose{
		Head:         wire.Vec3{X: 1, Y: 2, Z: 3},
		HeadRotation: wire.Quaternion{X: 0, Y: 0, Z: 0, W: 1},
	})
}

func newTestIngress(recv Receiver, reg *room.Registry, vars *varstore.Store, router *rpc.Router, sched JoinNotifier, drops *metrics.Drops) *Ingress {
	return NewIngress(recv, reg, vars, router, sched, drops, discardLogger())
}

func TestHandleClientPoseUpsertsAndNotifiesJoin(t *testing.T) {
	reg := room.NewRegistry()
	vars := varstore.NewStore()
	notifier := &fakeNotifier{}
	in := newTestIngress(nil, reg, vars, rpc.NewRouter(nil, nil), notifier, nil)

	payload := wire.EncodeClientPose([]byte("device-a"), 1, samplePoseBody(t))
	in.handleUnit([]byte("room-1"), payload)

	entries, ok := reg.Members("room-1")
	if !ok || len(entries) != 1 {
		t.Fatalf("expected one member in room-1, got ok=%v entries=%v", ok, entries)
	}
	notifier.mu.Lock()
	joins := append([]string(nil), notifier.joins...)
	notifier.mu.Unlock()
	if len(joins) != 1 || joins[0] != "room-1" {
		t.Fatalf("expected join notification for room-1, got %v", joins)
	}

	hadActivity, _, total, ok := reg.Snapshot("room-1", func(no uint16, rec room.ClientRecord) {})
	if !ok || !hadActivity || total != 1 {
		t.Fatalf("expected activity and one client, got hadActivity=%v total=%v ok=%v", hadActivity, total, ok)
	}
}

func TestHandleClientPoseSecondMessageDoesNotRenotify(t *testing.T) {
	reg := room.NewRegistry()
	vars := varstore.NewStore()
	notifier := &fakeNotifier{}
	in := newTestIngress(nil, reg, vars, rpc.NewRouter(nil, nil), notifier, nil)

	payload := wire.EncodeClientPose([]byte("device-a"), 1, samplePoseBody(t))
	in.handleUnit([]byte("room-1"), payload)
	in.handleUnit([]byte("room-1"), payload)

	notifier.mu.Lock()
	count := len(notifier.joins)
	notifier.mu.Unlock()
	if count != 1 {
		t.Fatalf("expected exactly one join notification across two messages, got %d", count)
	}
}

func TestHandleUnitRejectsMalformedRoomID(t *testing.T) {
	reg := room.NewRegistry()
	vars := varstore.NewStore()
	drops := metrics.NewDrops(testRegistry())
	in := newTestIngress(nil, reg, vars, rpc.NewRouter(nil, drops), nil, drops)

	payload := wire.EncodeClientPose([]byte("device-a"), 1, samplePoseBody(t))
	in.handleUnit([]byte(""), payload)

	if v := testCounterValue(t, drops.MalformedFrame); v != 1 {
		t.Fatalf("MalformedFrame = %v, want 1", v)
	}
}

func TestHandleUnitRejectsServerOnlyMessageType(t *testing.T) {
	reg := room.NewRegistry()
	vars := varstore.NewStore()
	drops := metrics.NewDrops(testRegistry())
	in := newTestIngress(nil, reg, vars, rpc.NewRouter(nil, drops), nil, drops)

	payload := wire.EncodeDeviceMapping(nil)
	in.handleUnit([]byte("room-1"), payload)

	if v := testCounterValue(t, drops.MalformedFrame); v != 1 {
		t.Fatalf("MalformedFrame = %v, want 1", v)
	}
}

func TestHandleUnitForwardsRPCBroadcast(t *testing.T) {
	reg := room.NewRegistry()
	vars := varstore.NewStore()
	pub := &recordingPublisher{}
	router := rpc.NewRouter(pub, nil)
	in := newTestIngress(nil, reg, vars, router, nil, nil)

	payload := wire.EncodeRPCBroadcast(wire.MsgRPCBroadcast, 7, []byte("Ping"), []byte("{}"))
	in.handleUnit([]byte("room-1"), payload)

	if len(pub.calls) != 1 || pub.calls[0].topic != "room-1" {
		t.Fatalf("expected one publish under room-1, got %v", pub.calls)
	}
}

func TestHandleGlobalVarSetCountsCapacityExceeded(t *testing.T) {
	reg := room.NewRegistry()
	vars := varstore.NewStore()
	drops := metrics.NewDrops(testRegistry())
	in := newTestIngress(nil, reg, vars, rpc.NewRouter(nil, drops), nil, drops)

	for i := 0; i < 100; i++ {
		name := []byte{byte(i), byte(i >> 8)}
		payload := wire.EncodeGlobalVarSet(1, name, []byte("v"), float64(i))
		in.handleUnit([]byte("room-1"), payload)
	}
	overflow := wire.EncodeGlobalVarSet(1, []byte("overflow"), []byte("v"), 1000)
	in.handleUnit([]byte("room-1"), overflow)

	if v := testCounterValue(t, drops.CapacityExceeded); v != 1 {
		t.Fatalf("CapacityExceeded = %v, want 1", v)
	}
}

func TestHandleGlobalVarSetCountsStale(t *testing.T) {
	reg := room.NewRegistry()
	vars := varstore.NewStore()
	drops := metrics.NewDrops(testRegistry())
	in := newTestIngress(nil, reg, vars, rpc.NewRouter(nil, drops), nil, drops)

	in.handleUnit([]byte("room-1"), wire.EncodeGlobalVarSet(5, []byte("score"), []byte("10"), 100))
	in.handleUnit([]byte("room-1"), wire.EncodeGlobalVarSet(9, []byte("score"), []byte("5"), 50))

	if v := testCounterValue(t, drops.Stale); v != 1 {
		t.Fatalf("Stale = %v, want 1", v)
	}
}

func TestCountRoomFullThrottledToOncePerMinute(t *testing.T) {
	reg := room.NewRegistry()
	vars := varstore.NewStore()
	drops := metrics.NewDrops(testRegistry())
	in := newTestIngress(nil, reg, vars, rpc.NewRouter(nil, drops), nil, drops)

	in.countRoomFull("packed-room")
	in.countRoomFull("packed-room")
	in.countRoomFull("packed-room")

	if v := testCounterValue(t, drops.RoomFull); v != 3 {
		t.Fatalf("RoomFull counter = %v, want 3 (every occurrence still counted)", v)
	}
	in.roomFullMu.Lock()
	n := len(in.roomFullLogged)
	in.roomFullMu.Unlock()
	if n != 1 {
		t.Fatalf("expected one tracked room in roomFullLogged, got %d", n)
	}
}

func TestRunDrainsQueuedUnitsThenStopsOnCancel(t *testing.T) {
	reg := room.NewRegistry()
	vars := varstore.NewStore()
	notifier := &fakeNotifier{}
	payload := wire.EncodeClientPose([]byte("device-a"), 1, samplePoseBody(t))
	recv := newFakeReceiver([2][]byte{[]byte("room-1"), payload})

	in := newTestIngress(recv, reg, vars, rpc.NewRouter(nil, nil), notifier, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := in.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	entries, ok := reg.Members("room-1")
	if !ok || len(entries) != 1 {
		t.Fatalf("expected client registered from queued unit, got ok=%v entries=%v", ok, entries)
	}
}

type recordingPublisher struct {
	mu    sync.Mutex
	calls []publishCall
}

type publishCall struct {
	topic   string
	payload []byte
}

func (p *recordingPublisher) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, publishCall{topic: topic, payload: payload})
	return nil
}
