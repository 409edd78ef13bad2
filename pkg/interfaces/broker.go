package interfaces

import (
	"peergenius/pkg/types"
)

// EventSink accepts events for delivery to room members. The REST API and
// the redis bridge both feed the broker through this interface
type EventSink interface {
	// DeliverToThread fans an event out to every member of a thread
	DeliverToThread(threadID string, event *types.Event) error
}

// EventPublisher mirrors locally delivered events to other broker instances.
// Implemented by the redis bridge; a nil publisher disables mirroring
type EventPublisher interface {
	// PublishThreadEvent publishes an event to the thread's channel
	PublishThreadEvent(threadID string, event *types.Event) error

	// Close tears down the publisher connection
	Close() error
}
