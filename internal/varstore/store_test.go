package varstore

import "testing"

func TestSetGlobalLWWTieBreakLowerWriterWins(t *testing.T) {
	s := NewStore()

	if err := s.SetGlobal("room-a", []byte("x"), []byte("v1"), 100.0, 7); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := s.SetGlobal("room-a", []byte("x"), []byte("v2"), 100.0, 3); err != nil {
		t.Fatalf("second write: %v", err)
	}

	got := s.FullGlobalSync("room-a")
	if len(got) != 1 || string(got[0].Value) != "v2" {
		t.Fatalf("stored = %+v, want single entry with value v2 (writer 3 beats writer 7 on tie)", got)
	}
}

func TestSetGlobalOlderTimestampRejected(t *testing.T) {
	s := NewStore()
	s.SetGlobal("room-a", []byte("x"), []byte("new"), 200.0, 1)

	err := s.SetGlobal("room-a", []byte("x"), []byte("old"), 100.0, 1)
	if err != ErrStale {
		t.Fatalf("SetGlobal with older timestamp = %v, want ErrStale", err)
	}

	got := s.FullGlobalSync("room-a")
	if len(got) != 1 || string(got[0].Value) != "new" {
		t.Fatalf("stored = %+v, want value unchanged at new", got)
	}
}

func TestSetGlobalIdempotent(t *testing.T) {
	s := NewStore()
	if err := s.SetGlobal("room-a", []byte("x"), []byte("v"), 100.0, 1); err != nil {
		t.Fatalf("first write: %v", err)
	}
	// Re-applying the exact same write must be a no-op indistinguishable
	// from applying it once: same (ts, writer) loses the tie-break.
	err := s.SetGlobal("room-a", []byte("x"), []byte("v"), 100.0, 1)
	if err != ErrStale {
		t.Fatalf("repeat identical write = %v, want ErrStale (ties never re-win)", err)
	}
}

func TestSetGlobalCapacityExceeded(t *testing.T) {
	s := NewStore()
	for i := 0; i < globalCap; i++ {
		name := []byte{byte(i), byte(i >> 8)}
		if err := s.SetGlobal("room-a", name, []byte("v"), float64(i), 1); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	err := s.SetGlobal("room-a", []byte("overflow"), []byte("v"), 1000.0, 1)
	if err != ErrCapacityExceeded {
		t.Fatalf("101st global write = %v, want ErrCapacityExceeded", err)
	}

	got := s.FullGlobalSync("room-a")
	if len(got) != globalCap {
		t.Fatalf("stored count = %d, want unchanged at %d", len(got), globalCap)
	}
}

func TestSetGlobalRejectsNameAndValueCaps(t *testing.T) {
	s := NewStore()
	if err := s.SetGlobal("room-a", nil, []byte("v"), 1, 1); err != ErrMalformedFrame {
		t.Errorf("empty name = %v, want ErrMalformedFrame", err)
	}
	longName := make([]byte, maxNameBytes+1)
	if err := s.SetGlobal("room-a", longName, []byte("v"), 1, 1); err != ErrMalformedFrame {
		t.Errorf("oversized name = %v, want ErrMalformedFrame", err)
	}
	longValue := make([]byte, maxValueBytes+1)
	if err := s.SetGlobal("room-a", []byte("x"), longValue, 1, 1); err != ErrMalformedFrame {
		t.Errorf("oversized value = %v, want ErrMalformedFrame", err)
	}
}

func TestSetClientPerClientScopeIndependent(t *testing.T) {
	s := NewStore()
	s.SetClient("room-a", 1, []byte("hp"), []byte("100"), 1.0, 1)
	s.SetClient("room-a", 2, []byte("hp"), []byte("50"), 1.0, 2)

	v1 := s.FullClientSync("room-a", 1)
	v2 := s.FullClientSync("room-a", 2)
	if len(v1) != 1 || string(v1[0].Value) != "100" {
		t.Errorf("client 1 vars = %+v", v1)
	}
	if len(v2) != 1 || string(v2[0].Value) != "50" {
		t.Errorf("client 2 vars = %+v", v2)
	}
}

func TestPreSeedEnforcesAdminCap(t *testing.T) {
	s := NewStore()
	for i := 0; i < adminCap; i++ {
		name := []byte{byte(i), byte(i >> 8)}
		if err := s.PreSeed("room-a", 1, name, []byte("v")); err != nil {
			t.Fatalf("preseed %d: %v", i, err)
		}
	}
	if err := s.PreSeed("room-a", 1, []byte("overflow"), []byte("v")); err != ErrCapacityExceeded {
		t.Fatalf("21st preseed = %v, want ErrCapacityExceeded", err)
	}
}

func TestPreSeedUsesServerWriterAndLosesToRealWrites(t *testing.T) {
	s := NewStore()
	if err := s.PreSeed("room-a", 1, []byte("score"), []byte("0")); err != nil {
		t.Fatalf("preseed: %v", err)
	}
	if seeded := s.FullClientSync("room-a", 1); len(seeded) != 1 || seeded[0].Writer != adminWriter {
		t.Fatalf("seeded = %+v, want one entry written by the server writer", seeded)
	}
	// A real client write at a later timestamp must override the seed.
	if err := s.SetClient("room-a", 1, []byte("score"), []byte("10"), nowTimestamp()+1, 1); err != nil {
		t.Fatalf("client overwrite of preseed: %v", err)
	}
	got := s.FullClientSync("room-a", 1)
	if len(got) != 1 || string(got[0].Value) != "10" {
		t.Fatalf("stored = %+v, want client write to win", got)
	}
}

func TestConsumeDirtyGlobalClearsAfterRead(t *testing.T) {
	s := NewStore()
	s.SetGlobal("room-a", []byte("x"), []byte("1"), 1.0, 1)

	dirty := s.ConsumeDirtyGlobal("room-a")
	if len(dirty) != 1 || string(dirty[0].Name) != "x" {
		t.Fatalf("dirty = %+v, want one entry for x", dirty)
	}

	if again := s.ConsumeDirtyGlobal("room-a"); len(again) != 0 {
		t.Fatalf("second consume = %+v, want empty (dirty set cleared)", again)
	}
}

func TestDropRoomClearsState(t *testing.T) {
	s := NewStore()
	s.SetGlobal("room-a", []byte("x"), []byte("1"), 1.0, 1)
	s.DropRoom("room-a")
	if got := s.FullGlobalSync("room-a"); len(got) != 0 {
		t.Fatalf("FullGlobalSync after DropRoom = %+v, want empty", got)
	}
}
