// Package metrics exposes Prometheus instrumentation for the relay: counters
// for every drop category in the error taxonomy, plus a collector that
// computes room/client population gauges at scrape time rather than
// maintaining them as live counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Drops counts every non-fatal rejection the relay makes, one counter per
// taxonomy category (see spec §7): malformed frames, exhausted client-number
// pools, variable-cap rejections, and stale LWW writes.
type Drops struct {
	MalformedFrame   prometheus.Counter
	RoomFull         prometheus.Counter
	CapacityExceeded prometheus.Counter
	Stale            prometheus.Counter
	RPCDropped       prometheus.Counter
}

// NewDrops builds and registers the drop counters against reg.
func NewDrops(reg prometheus.Registerer) *Drops {
	d := &Drops{
		MalformedFrame: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsync",
			Name:      "dropped_malformed_frames_total",
			Help:      "Frames rejected for framing, length, or content-cap violations.",
		}),
		RoomFull: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsync",
			Name:      "room_full_total",
			Help:      "Client joins rejected because a room's client-number pool was exhausted.",
		}),
		CapacityExceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsync",
			Name:      "variable_capacity_exceeded_total",
			Help:      "Variable writes rejected because a scope's name cap was reached.",
		}),
		Stale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsync",
			Name:      "variable_stale_writes_total",
			Help:      "Variable writes rejected by last-writer-wins comparison.",
		}),
		RPCDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsync",
			Name:      "rpc_server_dropped_total",
			Help:      "RPC_SERVER messages dropped because no sink was registered.",
		}),
	}
	reg.MustRegister(d.MalformedFrame, d.RoomFull, d.CapacityExceeded, d.Stale, d.RPCDropped)
	return d
}

// RoomStats is the point-in-time snapshot the collector reads on every
// scrape — supplied by the caller (the broadcaster owns this data) rather
// than tracked as a running counter, since room/client population and the
// current per-room broadcast period are gauges, not cumulative.
type RoomStats struct {
	RoomID           string
	ClientCount      int
	BroadcastPeriodS float64
}

// StatsSource is implemented by whatever owns live room/broadcast state —
// normally *broadcast.Scheduler.
type StatsSource interface {
	Stats() []RoomStats
}

// Collector computes room population and broadcast-period gauges at scrape
// time rather than maintaining them incrementally, mirroring the
// scrape-time-computed pattern used for per-connection TCP stats in the
// sockstats exporter this is grounded on.
type Collector struct {
	source StatsSource

	roomCount   *prometheus.Desc
	clientCount *prometheus.Desc
	periodSecs  *prometheus.Desc
}

// NewCollector returns a Collector reading from source. Register it with
// reg.MustRegister, not NewDrops — it has no fixed metric vector to add.
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source: source,
		roomCount: prometheus.NewDesc(
			"netsync_rooms_total", "Number of currently live rooms.", nil, nil),
		clientCount: prometheus.NewDesc(
			"netsync_room_clients", "Number of seated clients in a room.", []string{"room"}, nil),
		periodSecs: prometheus.NewDesc(
			"netsync_room_broadcast_period_seconds", "Current adaptive broadcast period for a room.", []string{"room"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.roomCount
	ch <- c.clientCount
	ch <- c.periodSecs
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.roomCount, prometheus.GaugeValue, float64(len(stats)))
	for _, s := range stats {
		ch <- prometheus.MustNewConstMetric(c.clientCount, prometheus.GaugeValue, float64(s.ClientCount), s.RoomID)
		ch <- prometheus.MustNewConstMetric(c.periodSecs, prometheus.GaugeValue, s.BroadcastPeriodS, s.RoomID)
	}
}
