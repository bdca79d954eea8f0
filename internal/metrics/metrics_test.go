package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewDropsRegistersCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := NewDrops(reg)

	d.MalformedFrame.Inc()
	d.RoomFull.Add(2)

	if got := testutil.ToFloat64(d.MalformedFrame); got != 1 {
		t.Errorf("MalformedFrame = %v, want 1", got)
	}
	if got := testutil.ToFloat64(d.RoomFull); got != 2 {
		t.Errorf("RoomFull = %v, want 2", got)
	}

	count, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if count != 5 {
		t.Errorf("registered metric families = %d, want 5", count)
	}
}

type fakeStatsSource struct {
	stats []RoomStats
}

func (f fakeStatsSource) Stats() []RoomStats {
	return f.stats
}

func TestCollectorReportsGaugesAtScrapeTime(t *testing.T) {
	src := fakeStatsSource{stats: []RoomStats{
		{RoomID: "room-a", ClientCount: 3, BroadcastPeriodS: 0.1},
		{RoomID: "room-b", ClientCount: 1, BroadcastPeriodS: 0.5},
	}}
	c := NewCollector(src)

	reg := prometheus.NewRegistry()
	reg.MustRegister(c)

	got, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	// 1 room-count sample + 2 client-count samples + 2 period samples.
	if got != 5 {
		t.Errorf("sample count = %d, want 5", got)
	}
}

func TestCollectorReflectsChangingStatsAcrossScrapes(t *testing.T) {
	src := &mutableStatsSource{}
	c := NewCollector(src)
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)

	src.stats = nil
	firstCount, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if firstCount != 1 {
		t.Errorf("with no rooms, sample count = %d, want 1 (room-count only)", firstCount)
	}

	src.stats = []RoomStats{{RoomID: "room-a", ClientCount: 1, BroadcastPeriodS: 0.05}}
	secondCount, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if secondCount != 3 {
		t.Errorf("with one room, sample count = %d, want 3", secondCount)
	}
}

type mutableStatsSource struct {
	stats []RoomStats
}

func (m *mutableStatsSource) Stats() []RoomStats {
	return m.stats
}
