// Package api provides the sessions API: an HTTP server for listing chat
// sessions and reading their message history.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8081")
	ListenAddr string
}
