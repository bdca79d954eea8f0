package config

import "fmt"

// Error wraps a fatal startup configuration problem (spec's
// ConfigurationError category): an unparseable TOML file, an unknown TOML
// key, or an invalid value. Always fatal — the server never
// starts with a configuration it cannot fully understand.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}
