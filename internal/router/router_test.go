package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"peergenius/pkg/interfaces"
	"peergenius/pkg/types"
)

type fakeStore struct {
	mu       sync.Mutex
	messages map[string]*types.Message
	storeErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{messages: make(map[string]*types.Message)}
}

func (f *fakeStore) StoreMessage(ctx context.Context, message *types.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeErr != nil {
		return f.storeErr
	}
	f.messages[message.ID] = message
	return nil
}

func (f *fakeStore) GetMessage(ctx context.Context, messageID string) (*types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	message, ok := f.messages[messageID]
	if !ok {
		return nil, interfaces.ErrMessageNotFound
	}
	copied := *message
	return &copied, nil
}

func (f *fakeStore) UpdateReactions(ctx context.Context, messageID string, reactions map[string][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	message, ok := f.messages[messageID]
	if !ok {
		return interfaces.ErrMessageNotFound
	}
	message.Reactions = reactions
	return nil
}

func (f *fakeStore) ListThreadMessages(ctx context.Context, threadID string, before int64, limit int) ([]*types.Message, error) {
	return nil, nil
}

func (f *fakeStore) HealthCheck(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                          { return nil }

type fakeSink struct {
	mu     sync.Mutex
	events []*types.Event
}

func (f *fakeSink) DeliverToThread(threadID string, event *types.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeSink) last() *types.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return nil
	}
	return f.events[len(f.events)-1]
}

func newTestRouter() (*Router, *fakeStore, *fakeSink) {
	store := newFakeStore()
	sink := &fakeSink{}
	return NewRouter(store, sink, nil, NewRateLimiter()), store, sink
}

func TestPostMessageAssignsServerFields(t *testing.T) {
	r, store, sink := newTestRouter()

	before := time.Now()
	message, err := r.PostMessage(context.Background(), "t1", "alice", "Alice", "hello")
	if err != nil {
		t.Fatalf("PostMessage failed: %v", err)
	}

	if message.ID == "" {
		t.Error("expected server-assigned message ID")
	}
	if message.CreatedAt.Before(before) {
		t.Error("expected server-assigned timestamp")
	}

	// Persisted, then delivered as message-delivered
	if _, err := store.GetMessage(context.Background(), message.ID); err != nil {
		t.Errorf("message not persisted: %v", err)
	}
	evt := sink.last()
	if evt == nil || evt.Name != types.EventMessageDelivered {
		t.Fatalf("expected message-delivered event, got %+v", evt)
	}
	var delivered types.Message
	if err := evt.DecodeData(&delivered); err != nil {
		t.Fatalf("failed to decode delivered message: %v", err)
	}
	if delivered.ID != message.ID {
		t.Errorf("delivered message ID mismatch: %s vs %s", delivered.ID, message.ID)
	}
}

func TestPostMessageValidates(t *testing.T) {
	r, _, sink := newTestRouter()

	if _, err := r.PostMessage(context.Background(), "t1", "alice", "Alice", ""); !errors.Is(err, types.ErrEmptyContent) {
		t.Errorf("expected ErrEmptyContent, got %v", err)
	}
	if _, err := r.PostMessage(context.Background(), "t1", "bad user!", "X", "hi"); !errors.Is(err, types.ErrInvalidUserID) {
		t.Errorf("expected ErrInvalidUserID, got %v", err)
	}
	oversized := strings.Repeat("a", types.MaxContentBytes+1)
	if _, err := r.PostMessage(context.Background(), "t1", "alice", "Alice", oversized); !errors.Is(err, types.ErrContentTooLarge) {
		t.Errorf("expected ErrContentTooLarge, got %v", err)
	}

	if sink.last() != nil {
		t.Error("invalid messages must not be delivered")
	}
}

func TestPostMessageNotDeliveredOnStoreFailure(t *testing.T) {
	r, store, sink := newTestRouter()

	store.mu.Lock()
	store.storeErr = errors.New("disk full")
	store.mu.Unlock()

	if _, err := r.PostMessage(context.Background(), "t1", "alice", "Alice", "hello"); err == nil {
		t.Fatal("expected store failure to surface")
	}
	if sink.last() != nil {
		t.Error("unpersisted message must not be delivered")
	}
}

func TestToggleReaction(t *testing.T) {
	r, store, sink := newTestRouter()

	message, err := r.PostMessage(context.Background(), "t1", "alice", "Alice", "hello")
	if err != nil {
		t.Fatalf("PostMessage failed: %v", err)
	}

	updated, err := r.ToggleReaction(context.Background(), message.ID, "bob", "👍")
	if err != nil {
		t.Fatalf("ToggleReaction failed: %v", err)
	}
	if len(updated.Reactions["👍"]) != 1 || updated.Reactions["👍"][0] != "bob" {
		t.Errorf("expected bob's reaction, got %+v", updated.Reactions)
	}

	evt := sink.last()
	if evt == nil || evt.Name != types.EventReactionUpdated {
		t.Fatalf("expected reaction-updated event, got %+v", evt)
	}

	// Second toggle removes it
	updated, err = r.ToggleReaction(context.Background(), message.ID, "bob", "👍")
	if err != nil {
		t.Fatalf("ToggleReaction failed: %v", err)
	}
	if len(updated.Reactions["👍"]) != 0 {
		t.Errorf("expected reaction removed, got %+v", updated.Reactions)
	}

	// State survives in the store
	stored, err := store.GetMessage(context.Background(), message.ID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if len(stored.Reactions["👍"]) != 0 {
		t.Errorf("store reactions out of sync: %+v", stored.Reactions)
	}
}

func TestToggleReactionValidation(t *testing.T) {
	r, _, _ := newTestRouter()

	message, err := r.PostMessage(context.Background(), "t1", "alice", "Alice", "hello")
	if err != nil {
		t.Fatalf("PostMessage failed: %v", err)
	}

	if _, err := r.ToggleReaction(context.Background(), message.ID, "bob", ""); !errors.Is(err, ErrInvalidReaction) {
		t.Errorf("expected ErrInvalidReaction for empty emoji, got %v", err)
	}
	long := strings.Repeat("x", 17)
	if _, err := r.ToggleReaction(context.Background(), message.ID, "bob", long); !errors.Is(err, ErrInvalidReaction) {
		t.Errorf("expected ErrInvalidReaction for oversized emoji, got %v", err)
	}
	if _, err := r.ToggleReaction(context.Background(), "missing", "bob", "👍"); !errors.Is(err, interfaces.ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestPostMessageRateLimited(t *testing.T) {
	r, _, _ := newTestRouter()

	var err error
	for i := 0; i <= eventsPerMinute; i++ {
		_, err = r.PostMessage(context.Background(), "t1", "alice", "Alice", "hello")
		if err != nil {
			break
		}
	}
	if !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("expected ErrRateLimitExceeded, got %v", err)
	}
}

func TestToggleReactionRateLimited(t *testing.T) {
	r, _, _ := newTestRouter()

	message, err := r.PostMessage(context.Background(), "t1", "alice", "Alice", "hello")
	if err != nil {
		t.Fatalf("PostMessage failed: %v", err)
	}

	// Reactions spend the same budget as messages
	var toggleErr error
	for i := 0; i <= eventsPerMinute; i++ {
		_, toggleErr = r.ToggleReaction(context.Background(), message.ID, "bob", "👍")
		if toggleErr != nil {
			break
		}
	}
	if !errors.Is(toggleErr, ErrRateLimitExceeded) {
		t.Errorf("expected ErrRateLimitExceeded, got %v", toggleErr)
	}
}
