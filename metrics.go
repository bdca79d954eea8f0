package main

import (
	"context"
	"log/slog"
	"time"

	"netsync/server/internal/metrics"
)

// runStatsLog logs a one-line room/client population summary every interval,
// independent of the Prometheus /metrics scrape endpoint — useful for
// watching a single relay in a terminal without a scraper attached.
func runStatsLog(ctx context.Context, source metrics.StatsSource, log *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := source.Stats()
			if len(stats) == 0 {
				continue
			}
			clients := 0
			for _, s := range stats {
				clients += s.ClientCount
			}
			log.Info("relay stats", "rooms", len(stats), "clients", clients)
		}
	}
}
