// Package eventstream publishes persisted chat messages to downstream consumers.
package eventstream

import "context"

// Publisher publishes message events to an event stream backend.
type Publisher interface {
	PublishMessage(ctx context.Context, event *MessagePersistedEvent) error
	Close() error
}
