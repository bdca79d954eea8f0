package main

import "time"

// Operational limits and timeouts for the relay's own lifecycle —
// distinct from the wire-format caps in internal/wire and the adaptive
// broadcast bounds in internal/broadcast.
const (
	// shutdownGrace is how long Run waits for goroutines (ingress loop,
	// scheduler, discovery beacon, admin HTTP server) to stop cleanly after
	// ctx is canceled before returning anyway.
	shutdownGrace = 5 * time.Second

	// statsLogInterval is how often the relay logs a one-line room/client
	// population summary, independent of the Prometheus scrape endpoint.
	statsLogInterval = 30 * time.Second
)
