// Package config loads the relay's TOML configuration file and applies CLI
// flag overrides on top of it, per spec.md §6: "CLI flags override the
// config file; the config file overrides defaults. Unknown keys fail with
// ConfigurationError at startup."
package config

import (
	"flag"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full set of options spec.md §6 enumerates.
type Config struct {
	DealerPort     int    `toml:"dealer_port"`
	PubPort        int    `toml:"pub_port"`
	DiscoveryPort  int    `toml:"discovery_port"`
	EnableDiscovery bool  `toml:"enable_discovery"`
	ServerName     string `toml:"server_name"`

	InactivityTimeoutSeconds float64 `toml:"inactivity_timeout_seconds"`

	BroadcastMinPeriodMs int `toml:"broadcast_min_period_ms"`
	BroadcastMaxPeriodMs int `toml:"broadcast_max_period_ms"`

	AdminPort    int  `toml:"admin_port"`
	AdminEnabled bool `toml:"admin_enabled"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// Defaults returns the configuration used when no TOML file and no CLI
// flags are given.
func Defaults() Config {
	return Config{
		DealerPort:               5555,
		PubPort:                  5556,
		DiscoveryPort:            9999,
		EnableDiscovery:          true,
		ServerName:               "netsync",
		InactivityTimeoutSeconds: 1.0,
		BroadcastMinPeriodMs:     50,
		BroadcastMaxPeriodMs:     500,
		AdminPort:                8800,
		AdminEnabled:             true,
		LogLevel:                 "info",
		LogFormat:                "text",
	}
}

// InactivityTimeout returns InactivityTimeoutSeconds as a time.Duration.
func (c Config) InactivityTimeout() time.Duration {
	return time.Duration(c.InactivityTimeoutSeconds * float64(time.Second))
}

// BroadcastMinPeriod returns BroadcastMinPeriodMs as a time.Duration.
func (c Config) BroadcastMinPeriod() time.Duration {
	return time.Duration(c.BroadcastMinPeriodMs) * time.Millisecond
}

// BroadcastMaxPeriod returns BroadcastMaxPeriodMs as a time.Duration.
func (c Config) BroadcastMaxPeriod() time.Duration {
	return time.Duration(c.BroadcastMaxPeriodMs) * time.Millisecond
}

// LoadFile parses a TOML file into cfg, starting from base, rejecting any
// key LoadFile doesn't recognize.
func LoadFile(path string, base Config) (Config, error) {
	cfg := base
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, &Error{Reason: err.Error()}
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, &Error{Reason: "unknown configuration key: " + undecoded[0].String()}
	}
	return cfg, nil
}

// Flags holds the CLI overrides RegisterFlags binds for every field, each
// defaulting to the corresponding field of base so "unset on the command
// line" means "keep whatever the config file (or built-in defaults) already
// set". Call RegisterFlags after parsing the TOML file (if any) so base
// already reflects it, then fs.Parse, then read back through Apply.
type Flags struct {
	dealerPort, pubPort, discoveryPort, adminPort                   *int
	minPeriodMs, maxPeriodMs                                         *int
	inactivityTimeoutSeconds                                         *float64
	enableDiscovery, adminEnabled                                    *bool
	serverName, logLevel, logFormat                                  *string
}

// RegisterFlags binds CLI flags for every Config field onto fs, seeded with
// base's current values.
func RegisterFlags(fs *flag.FlagSet, base Config) *Flags {
	f := &Flags{}
	f.dealerPort = fs.Int("dealer-port", base.DealerPort, "request (ROUTER) socket TCP port")
	f.pubPort = fs.Int("pub-port", base.PubPort, "publish (PUB) socket TCP port")
	f.discoveryPort = fs.Int("discovery-port", base.DiscoveryPort, "UDP discovery beacon port")
	f.enableDiscovery = fs.Bool("enable-discovery", base.EnableDiscovery, "enable the UDP discovery beacon")
	f.serverName = fs.String("server-name", base.ServerName, "server name advertised by discovery")
	f.inactivityTimeoutSeconds = fs.Float64("inactivity-timeout-seconds", base.InactivityTimeoutSeconds, "seconds of silence before a client is reaped")
	f.minPeriodMs = fs.Int("broadcast-min-period-ms", base.BroadcastMinPeriodMs, "broadcast period floor in milliseconds")
	f.maxPeriodMs = fs.Int("broadcast-max-period-ms", base.BroadcastMaxPeriodMs, "broadcast period ceiling in milliseconds")
	f.adminPort = fs.Int("admin-port", base.AdminPort, "admin HTTP interface port")
	f.adminEnabled = fs.Bool("admin-enabled", base.AdminEnabled, "enable the admin HTTP interface")
	f.logLevel = fs.String("log-level", base.LogLevel, "log level: debug, info, warn, error")
	f.logFormat = fs.String("log-format", base.LogFormat, "log format: text or json")
	return f
}

// Apply overlays parsed flag values onto base.
func (f *Flags) Apply(base Config) Config {
	cfg := base
	cfg.DealerPort = *f.dealerPort
	cfg.PubPort = *f.pubPort
	cfg.DiscoveryPort = *f.discoveryPort
	cfg.EnableDiscovery = *f.enableDiscovery
	cfg.ServerName = *f.serverName
	cfg.InactivityTimeoutSeconds = *f.inactivityTimeoutSeconds
	cfg.BroadcastMinPeriodMs = *f.minPeriodMs
	cfg.BroadcastMaxPeriodMs = *f.maxPeriodMs
	cfg.AdminPort = *f.adminPort
	cfg.AdminEnabled = *f.adminEnabled
	cfg.LogLevel = *f.logLevel
	cfg.LogFormat = *f.logFormat
	return cfg
}

// Validate checks cross-field and range constraints LoadFile/Flags cannot.
func (c Config) Validate() error {
	if c.BroadcastMinPeriodMs <= 0 || c.BroadcastMaxPeriodMs <= 0 {
		return &Error{Reason: "broadcast period bounds must be positive"}
	}
	if c.BroadcastMinPeriodMs > c.BroadcastMaxPeriodMs {
		return &Error{Reason: "broadcast_min_period_ms must be <= broadcast_max_period_ms"}
	}
	if c.InactivityTimeoutSeconds <= 0 {
		return &Error{Reason: "inactivity_timeout_seconds must be positive"}
	}
	if len(c.ServerName) == 0 || len(c.ServerName) > 64 {
		return &Error{Reason: "server_name must be 1-64 bytes"}
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return &Error{Reason: "log_format must be text or json"}
	}
	return nil
}
