package router

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"peergenius/pkg/interfaces"
	"peergenius/pkg/types"
)

// Router owns the message path: messages enter over REST, get a server-side
// identity, are persisted, and only then fan out to room members
// ARCHITECTURAL DISCOVERY: persist-then-deliver ordering keeps the history
// endpoint from ever lagging behind what connected clients saw
type Router struct {
	store     interfaces.HistoryStore
	sink      interfaces.EventSink
	publisher interfaces.EventPublisher // nil disables cross-instance mirroring
	limiter   *RateLimiter
}

// NewRouter creates a message router
func NewRouter(store interfaces.HistoryStore, sink interfaces.EventSink, publisher interfaces.EventPublisher, limiter *RateLimiter) *Router {
	return &Router{
		store:     store,
		sink:      sink,
		publisher: publisher,
		limiter:   limiter,
	}
}

// PostMessage validates, persists, and delivers a new thread message.
// FUNCTIONAL DISCOVERY: the server assigns ID and timestamp, ignoring
// anything client-provided; the dedup key downstream depends on it
func (r *Router) PostMessage(ctx context.Context, threadID, senderID, senderName, content string) (*types.Message, error) {
	message := &types.Message{
		ID:         uuid.New().String(),
		ThreadID:   threadID,
		SenderID:   senderID,
		SenderName: senderName,
		Content:    content,
		CreatedAt:  time.Now(),
	}

	if err := message.Validate(); err != nil {
		return nil, err
	}

	if !r.limiter.Allow(senderID) {
		return nil, ErrRateLimitExceeded
	}

	if err := r.store.StoreMessage(ctx, message); err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	r.deliver(types.EventMessageDelivered, threadID, message)
	return message, nil
}

// ToggleReaction flips one user's reaction on a message and delivers the
// updated reaction state to the thread
func (r *Router) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (*types.Message, error) {
	if len(emoji) < 1 || len(emoji) > 16 {
		return nil, ErrInvalidReaction
	}
	if !types.IsValidUserID(userID) {
		return nil, types.ErrInvalidUserID
	}

	// Reactions draw from the same per-user budget as messages
	if !r.limiter.Allow(userID) {
		return nil, ErrRateLimitExceeded
	}

	message, err := r.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	if message.Reactions == nil {
		message.Reactions = make(map[string][]string)
	}

	users := message.Reactions[emoji]
	removed := false
	for i, id := range users {
		if id == userID {
			message.Reactions[emoji] = append(users[:i], users[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		message.Reactions[emoji] = append(users, userID)
	}
	if len(message.Reactions[emoji]) == 0 {
		delete(message.Reactions, emoji)
	}

	if err := r.store.UpdateReactions(ctx, messageID, message.Reactions); err != nil {
		return nil, fmt.Errorf("failed to persist reactions: %w", err)
	}

	r.deliver(types.EventReactionUpdated, message.ThreadID, types.ReactionUpdate{
		MessageID: message.ID,
		ThreadID:  message.ThreadID,
		Reactions: message.Reactions,
	})
	return message, nil
}

// deliver fans an event out locally and mirrors it to other instances.
// Delivery failures are logged, never propagated: the message is already
// durable and history replay covers the gap
func (r *Router) deliver(name, threadID string, payload interface{}) {
	evt, err := types.NewEvent(name, threadID, payload)
	if err != nil {
		log.Printf("Failed to build %s event: %v", name, err)
		return
	}

	if err := r.sink.DeliverToThread(threadID, evt); err != nil {
		log.Printf("Failed to deliver %s to thread %s: %v", name, threadID, err)
	}

	if r.publisher != nil {
		if err := r.publisher.PublishThreadEvent(threadID, evt); err != nil {
			log.Printf("Failed to publish %s for thread %s: %v", name, threadID, err)
		}
	}
}
