package relay

import "time"

// Config is the relay server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string

	// Workers is the number of background persistence workers.
	Workers uint

	// QueueSize is the capacity of the persistence queue.
	QueueSize uint

	// StreamTimeout bounds a single relayed agent stream. Zero means no
	// bound beyond the agent client's own timeout.
	StreamTimeout time.Duration
}
