// Package room implements the in-memory room registry: the mapping from a
// room identifier to the set of clients currently seated in it, their
// numeric client-numbers, and their most recently cached pose bodies.
package room

import (
	"sort"
	"sync"
	"time"
)

// ClientRecord is a snapshot of one seated client, returned by Snapshot.
// Body is the cached raw pose-body bytes for this client — a subslice of
// whatever buffer CachePoseBody was given, valid only until the next
// CachePoseBody or reap for the same client-number.
type ClientRecord struct {
	DeviceID []byte
	LastSeen time.Time
	Body     []byte
	Stealth  bool
}

// Reaped describes one client removed by ReapStale.
type Reaped struct {
	Room     string
	ClientNo uint16
	DeviceID []byte
}

type client struct {
	deviceID []byte
	lastSeen time.Time
	body     []byte
	stealth  bool
	moved    bool // cached body replaced since the last snapshot call
}

// Room holds every client currently seated under one room identifier. All
// fields below are protected by mu; callers never see the map directly —
// every read goes through Snapshot or a single-client accessor.
type Room struct {
	mu sync.RWMutex

	id          string
	clients     map[uint16]*client
	deviceIndex map[string]uint16 // string(deviceID) -> client-number
	cursor      uint16            // last-assigned client-number, for rolling allocation
	activity    bool              // any CachePoseBody call since the last broadcaster tick
	createdAt   time.Time
}

func newRoom(id string) *Room {
	return &Room{
		id:          id,
		clients:     make(map[uint16]*client),
		deviceIndex: make(map[string]uint16),
		createdAt:   time.Now(),
	}
}

// ID returns the room's identifier.
func (rm *Room) ID() string {
	return rm.id
}

// upsertClient assigns deviceID a client-number, reusing an existing one if
// deviceID already holds a seat. The rolling cursor starts at 1, wraps at
// 65535 back to 1, and skips 0 and any number currently in use — bounding
// allocation to O(1) amortized even immediately after a mass-reap.
func (rm *Room) upsertClient(deviceID []byte) (uint16, bool, error) {
	key := string(deviceID)

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if no, ok := rm.deviceIndex[key]; ok {
		rm.clients[no].lastSeen = time.Now()
		return no, false, nil
	}

	if len(rm.clients) >= 65535 {
		return 0, false, ErrRoomFull
	}

	no := rm.cursor
	for i := 0; i < 65535; i++ {
		no++
		if no == 0 {
			no = 1
		}
		if _, inUse := rm.clients[no]; !inUse {
			break
		}
		if i == 65534 {
			return 0, false, ErrRoomFull
		}
	}
	rm.cursor = no

	owned := make([]byte, len(deviceID))
	copy(owned, deviceID)

	rm.clients[no] = &client{deviceID: owned, lastSeen: time.Now()}
	rm.deviceIndex[key] = no

	return no, true, nil
}

// touch updates a client's last-seen timestamp. Returns false if the
// client-number is not currently seated.
func (rm *Room) touch(no uint16, now time.Time) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	c, ok := rm.clients[no]
	if !ok {
		return false
	}
	c.lastSeen = now
	return true
}

// cachePoseBody replaces the cached pose body and stealth flag for a client,
// and marks the room active for the next broadcaster tick. body is stored
// as-is: callers must pass a slice they will not mutate afterward.
func (rm *Room) cachePoseBody(no uint16, body []byte, stealth bool) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	c, ok := rm.clients[no]
	if !ok {
		return false
	}
	c.body = body
	c.stealth = stealth
	c.moved = true
	rm.activity = true
	return true
}

// snapshot invokes fn for every non-reaped client with a cached body, in
// ascending client-number order, while holding the room's exclusive lock for
// the whole call (it clears the activity bits) — satisfying the "body slices remain valid during emission"
// contract. It returns whether the room had any activity since the last
// tick and clears both the room-level and per-client activity bits.
func (rm *Room) snapshot(fn func(no uint16, rec ClientRecord)) (hadActivity bool, movedCount, total int) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	hadActivity = rm.activity
	rm.activity = false

	nums := make([]uint16, 0, len(rm.clients))
	for no := range rm.clients {
		nums = append(nums, no)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })

	total = len(nums)
	for _, no := range nums {
		c := rm.clients[no]
		if c.moved {
			movedCount++
			c.moved = false
		}
		if c.body == nil {
			continue
		}
		fn(no, ClientRecord{DeviceID: c.deviceID, LastSeen: c.lastSeen, Body: c.body, Stealth: c.stealth})
	}
	return hadActivity, movedCount, total
}

// members returns every seated client in ascending client-number order,
// used to build DEVICE_ID_MAPPING broadcasts.
func (rm *Room) members() []struct {
	No       uint16
	DeviceID []byte
	Stealth  bool
} {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	nums := make([]uint16, 0, len(rm.clients))
	for no := range rm.clients {
		nums = append(nums, no)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })

	out := make([]struct {
		No       uint16
		DeviceID []byte
		Stealth  bool
	}, len(nums))
	for i, no := range nums {
		c := rm.clients[no]
		out[i].No = no
		out[i].DeviceID = c.deviceID
		out[i].Stealth = c.stealth
	}
	return out
}

// reapStale removes clients whose last-seen time is older than
// inactivityTimeout, returning their client-numbers and device-ids. Reports
// the room's remaining population; the registry destroys empty rooms in a
// separate, later step (DestroyEmpty) rather than inline here.
func (rm *Room) reapStale(now time.Time, inactivityTimeout time.Duration) ([]Reaped, int) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	var reaped []Reaped
	for no, c := range rm.clients {
		if now.Sub(c.lastSeen) > inactivityTimeout {
			reaped = append(reaped, Reaped{Room: rm.id, ClientNo: no, DeviceID: c.deviceID})
			delete(rm.clients, no)
			delete(rm.deviceIndex, string(c.deviceID))
		}
	}
	return reaped, len(rm.clients)
}

func (rm *Room) isEmpty() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.clients) == 0
}
