package interfaces

import (
	"context"

	"peergenius/pkg/types"
)

// HistoryStore handles message history persistence
// ARCHITECTURAL DISCOVERY: single interface for all persistence operations
// keeps the REST layer and the router decoupled from the SQLite manager
type HistoryStore interface {
	// StoreMessage persists a message. Storage must complete before fan-out
	// so the history REST endpoint never lags behind delivery
	StoreMessage(ctx context.Context, message *types.Message) error

	// GetMessage retrieves a single message by ID
	GetMessage(ctx context.Context, messageID string) (*types.Message, error)

	// UpdateReactions replaces the reaction document for a message
	UpdateReactions(ctx context.Context, messageID string, reactions map[string][]string) error

	// ListThreadMessages returns up to limit messages for a thread older than
	// before, newest first. Zero before means "from now"
	ListThreadMessages(ctx context.Context, threadID string, before int64, limit int) ([]*types.Message, error)

	// HealthCheck verifies database connectivity
	HealthCheck(ctx context.Context) error

	// Close closes the database and waits for the write loop to drain
	Close() error
}
