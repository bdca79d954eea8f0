// Package broadcast runs the adaptive-rate broadcaster: it assembles
// ROOM_POSE, DEVICE_ID_MAPPING, and variable-sync messages from room and
// variable-store state and publishes them on the egress socket.
package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"netsync/server/internal/metrics"
	"netsync/server/internal/room"
	"netsync/server/internal/varstore"
	"netsync/server/internal/wire"
)

// Publisher is the egress side of the publish socket. This package calls it
// only from the goroutine running Scheduler.Run, but the relay hands the same
// Publisher to the RPC router, which calls it from the ingress goroutine, so
// implementations must accept concurrent callers (transport.Publisher does,
// by funnelling every send through its own single writer goroutine).
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Config bounds the adaptive broadcast period and the DEVICE_ID_MAPPING
// cadence.
type Config struct {
	MinPeriod         time.Duration // floor, 20 Hz default
	MaxPeriod         time.Duration // ceiling, 2 Hz default
	MappingEveryTicks int           // emit DEVICE_ID_MAPPING every Nth tick at a room's current period
	InactivityTimeout time.Duration
}

type roomState struct {
	period         time.Duration
	sinceLastTick  time.Duration
	ticksToMapping int
	mappingForced  bool
}

// joinNotice asks the scheduler to push an immediate full variable sync to
// a newly joined client, ahead of the next scheduled tick.
type joinNotice struct {
	roomID   string
	clientNo uint16
}

// Scheduler owns the single goroutine that reads room/variable state and
// writes to the publish socket.
type Scheduler struct {
	reg  *room.Registry
	vars *varstore.Store
	pub  Publisher
	cfg  Config
	log  *slog.Logger

	drops *metrics.Drops

	joins chan joinNotice

	mu     sync.Mutex
	states map[string]*roomState
}

// NewScheduler constructs a Scheduler. drops may be nil if metrics are
// disabled.
func NewScheduler(reg *room.Registry, vars *varstore.Store, pub Publisher, cfg Config, drops *metrics.Drops, log *slog.Logger) *Scheduler {
	return &Scheduler{
		reg:    reg,
		vars:   vars,
		pub:    pub,
		cfg:    cfg,
		log:    log,
		drops:  drops,
		joins:  make(chan joinNotice, 256),
		states: make(map[string]*roomState),
	}
}

// NotifyJoin requests an out-of-band full variable sync for clientNo as soon
// as the scheduler goroutine can get to it. Best-effort: if the internal
// queue is full, the client still converges via the room's next periodic
// DEVICE_ID_MAPPING and any subsequent variable writes.
func (s *Scheduler) NotifyJoin(roomID string, clientNo uint16) {
	select {
	case s.joins <- joinNotice{roomID: roomID, clientNo: clientNo}:
	default:
	}
}

// Run processes ticks and join notices until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.MinPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.tick(now)
		case j := <-s.joins:
			// A join changes room membership just as a reap does, so it
			// forces the next DEVICE_ID_MAPPING the same way.
			s.stateFor(j.roomID).mappingForced = true
			s.sendFullSync(j.roomID, j.clientNo)
		}
	}
}

func (s *Scheduler) stateFor(roomID string) *roomState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[roomID]
	if !ok {
		st = &roomState{period: s.cfg.MaxPeriod}
		s.states[roomID] = st
	}
	return st
}

func (s *Scheduler) forgetRoom(roomID string) {
	s.mu.Lock()
	delete(s.states, roomID)
	s.mu.Unlock()
}

func (s *Scheduler) tick(now time.Time) {
	reaped := s.reg.ReapStale(now, s.cfg.InactivityTimeout)
	reapedRooms := make(map[string]bool, len(reaped))
	for _, r := range reaped {
		reapedRooms[r.Room] = true
	}
	for roomID := range reapedRooms {
		s.stateFor(roomID).mappingForced = true
	}

	liveRooms := make(map[string]bool)
	for _, roomID := range s.reg.RoomIDs() {
		liveRooms[roomID] = true
		st := s.stateFor(roomID)
		st.sinceLastTick += s.cfg.MinPeriod
		// A forced mapping (join or reap) fires this tick even if the
		// room's adaptive period hasn't elapsed yet, so a room that just
		// lost its last client still gets to broadcast that before
		// DestroyEmpty removes it below.
		if st.sinceLastTick < st.period && !st.mappingForced {
			continue
		}
		st.sinceLastTick = 0
		s.processRoomTick(roomID, st)
	}

	// Only now destroy rooms left with no clients — after they've had
	// this tick's chance to publish their final DEVICE_ID_MAPPING above.
	destroyed := s.reg.DestroyEmpty()
	for _, roomID := range destroyed {
		s.vars.DropRoom(roomID)
	}

	// Drop adaptive-rate state for rooms the registry destroyed or that
	// otherwise dropped out of the live set, so a later room with the same
	// identifier starts fresh.
	s.mu.Lock()
	for _, roomID := range destroyed {
		delete(s.states, roomID)
	}
	for roomID := range s.states {
		if !liveRooms[roomID] {
			delete(s.states, roomID)
		}
	}
	s.mu.Unlock()
}

func (s *Scheduler) processRoomTick(roomID string, st *roomState) {
	var entries []wire.RoomPoseEntry
	hadActivity, moved, total, ok := s.reg.Snapshot(roomID, func(no uint16, rec room.ClientRecord) {
		entries = append(entries, wire.RoomPoseEntry{ClientNumber: no, Body: rec.Body})
	})
	if !ok {
		return
	}

	s.adaptPeriod(st, moved, total)

	if hadActivity {
		payload := wire.EncodeRoomPose([]byte(roomID), entries)
		if err := s.pub.Publish(roomID, payload); err != nil {
			s.log.Warn("publish ROOM_POSE failed", "room", roomID, "err", err)
		}
	}

	st.ticksToMapping--
	if st.ticksToMapping <= 0 || st.mappingForced {
		s.sendMapping(roomID)
		st.ticksToMapping = s.cfg.MappingEveryTicks
		st.mappingForced = false
	}

	s.sendDirtySync(roomID)
}

// adaptPeriod applies the halve/double rule: >=50% of clients moved this
// tick halves the period (floored), <10% doubles it (capped); otherwise the
// period is held.
func (s *Scheduler) adaptPeriod(st *roomState, moved, total int) {
	if total == 0 {
		return
	}
	ratio := float64(moved) / float64(total)
	switch {
	case ratio >= 0.5:
		st.period /= 2
		if st.period < s.cfg.MinPeriod {
			st.period = s.cfg.MinPeriod
		}
	case ratio < 0.1:
		st.period *= 2
		if st.period > s.cfg.MaxPeriod {
			st.period = s.cfg.MaxPeriod
		}
	}
}

func (s *Scheduler) sendMapping(roomID string) {
	members, ok := s.reg.Members(roomID)
	if !ok {
		return
	}
	entries := make([]wire.DeviceMappingEntry, len(members))
	for i, m := range members {
		entries[i] = wire.DeviceMappingEntry{ClientNumber: m.ClientNumber, Stealth: m.Stealth, DeviceID: m.DeviceID}
	}
	payload := wire.EncodeDeviceMapping(entries)
	if err := s.pub.Publish(roomID, payload); err != nil {
		s.log.Warn("publish DEVICE_ID_MAPPING failed", "room", roomID, "err", err)
	}
}

func (s *Scheduler) sendDirtySync(roomID string) {
	if dirty := s.vars.ConsumeDirtyGlobal(roomID); len(dirty) > 0 {
		payload := wire.EncodeGlobalVarSync(toVarEntries(dirty))
		if err := s.pub.Publish(roomID, payload); err != nil {
			s.log.Warn("publish GLOBAL_VAR_SYNC failed", "room", roomID, "err", err)
		}
	}

	if dirty := s.vars.ConsumeDirtyClient(roomID); len(dirty) > 0 {
		blocks := make([]wire.ClientVarBlock, len(dirty))
		for i, cd := range dirty {
			blocks[i] = wire.ClientVarBlock{ClientNumber: cd.ClientNumber, Vars: toVarEntries(cd.Entries)}
		}
		payload := wire.EncodeClientVarSync(blocks)
		if err := s.pub.Publish(roomID, payload); err != nil {
			s.log.Warn("publish CLIENT_VAR_SYNC failed", "room", roomID, "err", err)
		}
	}
}

// sendFullSync pushes every currently stored global and per-client variable
// for one client, bypassing dirty tracking — used right after a client's
// first pose so it converges without waiting on future writes.
func (s *Scheduler) sendFullSync(roomID string, clientNo uint16) {
	globals := s.vars.FullGlobalSync(roomID)
	if len(globals) > 0 {
		payload := wire.EncodeGlobalVarSync(toVarEntries(globals))
		if err := s.pub.Publish(roomID, payload); err != nil {
			s.log.Warn("publish full GLOBAL_VAR_SYNC failed", "room", roomID, "err", err)
		}
	}

	clientVars := s.vars.FullClientSync(roomID, clientNo)
	if len(clientVars) > 0 {
		payload := wire.EncodeClientVarSync([]wire.ClientVarBlock{{ClientNumber: clientNo, Vars: toVarEntries(clientVars)}})
		if err := s.pub.Publish(roomID, payload); err != nil {
			s.log.Warn("publish full CLIENT_VAR_SYNC failed", "room", roomID, "err", err)
		}
	}
}

func toVarEntries(in []varstore.Entry) []wire.VarEntry {
	out := make([]wire.VarEntry, len(in))
	for i, e := range in {
		out[i] = wire.VarEntry{Name: e.Name, Value: e.Value, Timestamp: e.Timestamp, Writer: e.Writer}
	}
	return out
}

// Stats implements metrics.StatsSource.
func (s *Scheduler) Stats() []metrics.RoomStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]metrics.RoomStats, 0, len(s.states))
	for roomID, st := range s.states {
		members, ok := s.reg.Members(roomID)
		if !ok {
			continue
		}
		out = append(out, metrics.RoomStats{
			RoomID:           roomID,
			ClientCount:      len(members),
			BroadcastPeriodS: st.period.Seconds(),
		})
	}
	return out
}
