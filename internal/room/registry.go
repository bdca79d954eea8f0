package room

import (
	"sort"
	"sync"
	"time"
)

// Registry is the top-level "set of rooms" map. Its own lock guards only
// room creation and destruction; all per-client mutation is serialized by
// the individual Room's own lock, so two clients in different rooms never
// contend with each other.
type Registry struct {
	globalMu sync.RWMutex
	rooms    map[string]*Room
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

func (reg *Registry) lookup(id string) *Room {
	reg.globalMu.RLock()
	rm := reg.rooms[id]
	reg.globalMu.RUnlock()
	return rm
}

func (reg *Registry) getOrCreate(id string) *Room {
	if rm := reg.lookup(id); rm != nil {
		return rm
	}
	reg.globalMu.Lock()
	defer reg.globalMu.Unlock()
	if rm, ok := reg.rooms[id]; ok {
		return rm
	}
	rm := newRoom(id)
	reg.rooms[id] = rm
	return rm
}

// UpsertClient assigns or reuses a client-number for deviceID within room,
// creating the room on first use.
func (reg *Registry) UpsertClient(roomID string, deviceID []byte) (clientNo uint16, isNew bool, err error) {
	rm := reg.getOrCreate(roomID)
	return rm.upsertClient(deviceID)
}

// TouchClient updates a client's last-seen time. Returns false if the room
// or client-number is unknown (e.g. already reaped).
func (reg *Registry) TouchClient(roomID string, clientNo uint16, now time.Time) bool {
	rm := reg.lookup(roomID)
	if rm == nil {
		return false
	}
	return rm.touch(clientNo, now)
}

// CachePoseBody installs a client's latest cached pose body and marks the
// room active. Returns false if the room or client-number is unknown.
func (reg *Registry) CachePoseBody(roomID string, clientNo uint16, body []byte, stealth bool) bool {
	rm := reg.lookup(roomID)
	if rm == nil {
		return false
	}
	return rm.cachePoseBody(clientNo, body, stealth)
}

// Room returns the named room, or nil if it doesn't exist. The returned
// pointer is safe to retain and call across goroutines: every Room method
// manages its own locking.
func (reg *Registry) Room(roomID string) *Room {
	return reg.lookup(roomID)
}

// RoomIDs returns a snapshot of every currently live room identifier, in no
// particular order — the broadcaster iterates this once per tick.
func (reg *Registry) RoomIDs() []string {
	reg.globalMu.RLock()
	defer reg.globalMu.RUnlock()
	ids := make([]string, 0, len(reg.rooms))
	for id := range reg.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot invokes fn for every non-reaped client of roomID that has a cached
// pose body, in ascending client-number order, and reports whether the room had any activity since
// the last call, how many clients moved, and the room's total population.
// Returns ok=false if the room doesn't exist.
func (reg *Registry) Snapshot(roomID string, fn func(no uint16, rec ClientRecord)) (hadActivity bool, movedCount, total int, ok bool) {
	rm := reg.lookup(roomID)
	if rm == nil {
		return false, 0, 0, false
	}
	hadActivity, movedCount, total = rm.snapshot(fn)
	return hadActivity, movedCount, total, true
}

// MemberEntry is one seated client, used to build DEVICE_ID_MAPPING.
type MemberEntry struct {
	ClientNumber uint16
	DeviceID     []byte
	Stealth      bool
}

// Members returns every seated client of roomID in ascending client-number
// order. Returns ok=false if the room doesn't exist.
func (reg *Registry) Members(roomID string) (entries []MemberEntry, ok bool) {
	rm := reg.lookup(roomID)
	if rm == nil {
		return nil, false
	}
	for _, m := range rm.members() {
		entries = append(entries, MemberEntry{ClientNumber: m.No, DeviceID: m.DeviceID, Stealth: m.Stealth})
	}
	return entries, true
}

// ReapStale walks every room and removes clients idle longer than
// inactivityTimeout. It does not destroy any room left empty — that is
// DestroyEmpty's job, called separately once the caller has had a chance to
// broadcast each room's post-reap state for this tick. Destroying a room in
// the same pass that empties it would mean the clients that just departed
// are never reflected in a DEVICE_ID_MAPPING, since the room would vanish
// before the broadcaster's next pass over the live room set. Returns every
// reaped client across all rooms.
func (reg *Registry) ReapStale(now time.Time, inactivityTimeout time.Duration) []Reaped {
	var all []Reaped

	reg.globalMu.RLock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, rm := range reg.rooms {
		rooms = append(rooms, rm)
	}
	reg.globalMu.RUnlock()

	for _, rm := range rooms {
		reaped, _ := rm.reapStale(now, inactivityTimeout)
		all = append(all, reaped...)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Room != all[j].Room {
			return all[i].Room < all[j].Room
		}
		return all[i].ClientNo < all[j].ClientNo
	})
	return all
}

// DestroyEmpty removes every room currently holding zero clients and
// returns the destroyed room identifiers, so callers can drop other
// per-room state keyed on them (the variable store, broadcaster state).
// Call this after the broadcaster has had a chance to process the live
// room set for the current tick, not before.
func (reg *Registry) DestroyEmpty() []string {
	reg.globalMu.RLock()
	candidates := make([]*Room, 0)
	for _, rm := range reg.rooms {
		if rm.isEmpty() {
			candidates = append(candidates, rm)
		}
	}
	reg.globalMu.RUnlock()

	if len(candidates) == 0 {
		return nil
	}

	var destroyed []string
	reg.globalMu.Lock()
	for _, rm := range candidates {
		if cur, ok := reg.rooms[rm.id]; ok && cur == rm && rm.isEmpty() {
			delete(reg.rooms, rm.id)
			destroyed = append(destroyed, rm.id)
		}
	}
	reg.globalMu.Unlock()
	return destroyed
}
