package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"netsync/server/internal/config"
)

func main() {
	if RunCLI(os.Args[1:]) {
		return
	}

	cfg := config.Defaults()

	// The config file path itself must be known before flags are
	// registered against cfg (flags default to whatever cfg already holds,
	// so flags > file > defaults requires the file to load first).
	if path := scanConfigFlag(os.Args[1:]); path != "" {
		loaded, err := config.LoadFile(path, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	fs := flag.NewFlagSet("netsync", flag.ExitOnError)
	fs.String("config", "", "path to a TOML config file (optional)")
	flags := config.RegisterFlags(fs, cfg)
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg = flags.Apply(cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	relay, err := NewRelay(ctx, cfg, log)
	if err != nil {
		log.Error("failed to start relay", "err", err)
		os.Exit(1)
	}
	defer relay.Close()

	log.Info("relay listening",
		"dealer_port", cfg.DealerPort,
		"pub_port", cfg.PubPort,
		"discovery_enabled", cfg.EnableDiscovery,
		"admin_enabled", cfg.AdminEnabled,
	)

	if err := relay.Run(ctx); err != nil {
		log.Error("relay stopped with error", "err", err)
		os.Exit(1)
	}
}

// scanConfigFlag extracts -config/--config's value from raw CLI args without
// registering it on a flag.FlagSet, since the full set of flags can't be
// registered until the config file (if any) has already loaded.
func scanConfigFlag(args []string) string {
	for i, a := range args {
		switch {
		case a == "-config" || a == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "-config="):
			return strings.TrimPrefix(a, "-config=")
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return ""
}

func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
