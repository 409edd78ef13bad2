package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"peergenius/pkg/interfaces"
	"peergenius/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(&Config{
		Path:           filepath.Join(t.TempDir(), "test.db"),
		MaxConnections: 5,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testMessage(id, threadID string, createdAt time.Time) *types.Message {
	return &types.Message{
		ID:         id,
		ThreadID:   threadID,
		SenderID:   "alice",
		SenderName: "Alice",
		Content:    "hello",
		Reactions:  map[string][]string{},
		CreatedAt:  createdAt,
	}
}

func TestStoreAndGetMessage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	msg := testMessage("m1", "t1", time.Now())
	msg.Reactions = map[string][]string{"👍": {"bob"}}

	if err := store.StoreMessage(ctx, msg); err != nil {
		t.Fatalf("StoreMessage failed: %v", err)
	}

	got, err := store.GetMessage(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if got.ThreadID != "t1" || got.SenderName != "Alice" || got.Content != "hello" {
		t.Errorf("unexpected message: %+v", got)
	}
	if len(got.Reactions["👍"]) != 1 || got.Reactions["👍"][0] != "bob" {
		t.Errorf("reactions not preserved: %+v", got.Reactions)
	}
}

func TestGetMessageNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetMessage(context.Background(), "missing")
	if !errors.Is(err, interfaces.ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestUpdateReactions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.StoreMessage(ctx, testMessage("m1", "t1", time.Now())); err != nil {
		t.Fatalf("StoreMessage failed: %v", err)
	}

	reactions := map[string][]string{"🎉": {"alice", "bob"}}
	if err := store.UpdateReactions(ctx, "m1", reactions); err != nil {
		t.Fatalf("UpdateReactions failed: %v", err)
	}

	got, err := store.GetMessage(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if len(got.Reactions["🎉"]) != 2 {
		t.Errorf("expected 2 reactors, got %+v", got.Reactions)
	}

	err = store.UpdateReactions(ctx, "missing", reactions)
	if !errors.Is(err, interfaces.ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound for missing message, got %v", err)
	}
}

func TestListThreadMessagesPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		msg := testMessage(fmt.Sprintf("m%d", i), "t1", base.Add(time.Duration(i)*time.Minute))
		if err := store.StoreMessage(ctx, msg); err != nil {
			t.Fatalf("StoreMessage failed: %v", err)
		}
	}
	// A message in another thread must not leak in
	if err := store.StoreMessage(ctx, testMessage("other", "t2", base)); err != nil {
		t.Fatalf("StoreMessage failed: %v", err)
	}

	page1, err := store.ListThreadMessages(ctx, "t1", 0, 4)
	if err != nil {
		t.Fatalf("ListThreadMessages failed: %v", err)
	}
	if len(page1) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(page1))
	}
	if page1[0].ID != "m9" || page1[3].ID != "m6" {
		t.Errorf("expected newest-first m9..m6, got %s..%s", page1[0].ID, page1[3].ID)
	}

	cursor := page1[len(page1)-1].CreatedAt.UnixMilli()
	page2, err := store.ListThreadMessages(ctx, "t1", cursor, 4)
	if err != nil {
		t.Fatalf("ListThreadMessages failed: %v", err)
	}
	if len(page2) != 4 || page2[0].ID != "m5" {
		t.Errorf("expected page starting at m5, got %+v", page2)
	}
}

func TestListThreadMessagesEmpty(t *testing.T) {
	store := newTestStore(t)

	messages, err := store.ListThreadMessages(context.Background(), "empty", 0, 50)
	if err != nil {
		t.Fatalf("ListThreadMessages failed: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("expected no messages, got %d", len(messages))
	}
}

func TestStoreClosedRejectsWrites(t *testing.T) {
	store := newTestStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	err := store.StoreMessage(context.Background(), testMessage("m1", "t1", time.Now()))
	if err == nil {
		t.Error("expected write to closed store to fail")
	}
}
