package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"netsync/server/internal/adminapi"
	"netsync/server/internal/broadcast"
	"netsync/server/internal/config"
	"netsync/server/internal/metrics"
	"netsync/server/internal/room"
	"netsync/server/internal/rpc"
	"netsync/server/internal/transport"
	"netsync/server/internal/varstore"
)

// Relay owns every long-running component of the pose-sync server and
// coordinates their startup and shutdown.
type Relay struct {
	cfg config.Config
	log *slog.Logger

	reg  *room.Registry
	vars *varstore.Store

	reqSock *transport.RequestSocket
	pub     *transport.Publisher
	beacon  *transport.Beacon

	ingress   *transport.Ingress
	scheduler *broadcast.Scheduler
	admin     *adminapi.Server
}

// NewRelay wires every package together per cfg. It binds the ZeroMQ sockets
// and (if enabled) the UDP discovery socket before returning, so a caller
// can treat a successful return as "ready to Run".
func NewRelay(ctx context.Context, cfg config.Config, log *slog.Logger) (*Relay, error) {
	reg := room.NewRegistry()
	vars := varstore.NewStore()

	promReg := prometheus.NewRegistry()
	drops := metrics.NewDrops(promReg)

	pub, err := transport.NewPublisher(ctx, fmt.Sprintf("tcp://*:%d", cfg.PubPort), log, func() {
		log.Warn("publish queue full, dropping outbound message")
	})
	if err != nil {
		return nil, fmt.Errorf("start publisher: %w", err)
	}

	reqSock, err := transport.NewRequestSocket(ctx, fmt.Sprintf("tcp://*:%d", cfg.DealerPort))
	if err != nil {
		pub.Close()
		return nil, fmt.Errorf("start request socket: %w", err)
	}

	router := rpc.NewRouter(pub, drops)

	scheduler := broadcast.NewScheduler(reg, vars, pub, broadcast.Config{
		MinPeriod:         cfg.BroadcastMinPeriod(),
		MaxPeriod:         cfg.BroadcastMaxPeriod(),
		MappingEveryTicks: 10,
		InactivityTimeout: cfg.InactivityTimeout(),
	}, drops, log)

	ingress := transport.NewIngress(reqSock, reg, vars, router, scheduler, drops, log)

	promReg.MustRegister(metrics.NewCollector(scheduler))
	admin := adminapi.New(reg, vars, promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	var beacon *transport.Beacon
	if cfg.EnableDiscovery {
		beacon, err = transport.NewBeacon(cfg.DiscoveryPort, cfg.DealerPort, cfg.PubPort, cfg.ServerName, log)
		if err != nil {
			reqSock.Close()
			pub.Close()
			return nil, fmt.Errorf("start discovery beacon: %w", err)
		}
	}

	return &Relay{
		cfg:       cfg,
		log:       log,
		reg:       reg,
		vars:      vars,
		reqSock:   reqSock,
		pub:       pub,
		beacon:    beacon,
		ingress:   ingress,
		scheduler: scheduler,
		admin:     admin,
	}, nil
}

// Run blocks until ctx is canceled, running the ingress loop, the adaptive
// broadcaster, the discovery beacon, and the admin HTTP server concurrently.
func (r *Relay) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := r.ingress.Run(ctx); err != nil {
			errCh <- fmt.Errorf("ingress: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := r.scheduler.Run(ctx); err != nil {
			errCh <- fmt.Errorf("scheduler: %w", err)
		}
	}()

	if r.beacon != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.beacon.Run(ctx); err != nil {
				errCh <- fmt.Errorf("discovery beacon: %w", err)
			}
		}()
	}

	if r.cfg.AdminEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			addr := fmt.Sprintf(":%d", r.cfg.AdminPort)
			if err := r.admin.Run(ctx, addr); err != nil {
				errCh <- fmt.Errorf("admin http: %w", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		runStatsLog(ctx, r.scheduler, r.log, statsLogInterval)
	}()

	<-ctx.Done()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		r.log.Warn("shutdown grace period elapsed, returning without waiting further")
	}

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// Close releases the ZeroMQ and UDP sockets. Call after Run returns.
func (r *Relay) Close() {
	r.reqSock.Close()
	r.pub.Close()
	if r.beacon != nil {
		r.beacon.Close()
	}
}
