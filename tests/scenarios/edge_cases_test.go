package scenarios

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"peergenius/pkg/realtime"
	"peergenius/pkg/types"
	"peergenius/tests/fixtures"
)

func TestJoinRejectsInvalidThreadID(t *testing.T) {
	env := fixtures.StartBroker(t)
	alice := fixtures.ConnectClient(t, env, "alice", "Alice")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := alice.JoinRoom(ctx, strings.Repeat("x", 65))
	if !errors.Is(err, realtime.ErrInvalidThread) {
		t.Errorf("expected ErrInvalidThread, got %v", err)
	}
	if err := alice.JoinRoom(ctx, ""); !errors.Is(err, realtime.ErrInvalidThread) {
		t.Errorf("expected ErrInvalidThread for empty ID, got %v", err)
	}
}

func TestJoinRequiresConnection(t *testing.T) {
	env := fixtures.StartBroker(t)

	client, err := realtime.NewClient(realtime.Config{
		Endpoint: env.BaseURL,
		Identity: types.Identity{UserID: "alice", DisplayName: "Alice"},
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.JoinRoom(ctx, "t1"); !errors.Is(err, realtime.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestRESTValidation(t *testing.T) {
	env := fixtures.StartBroker(t)

	post := func(path string, payload interface{}) *http.Response {
		t.Helper()
		body, _ := json.Marshal(payload)
		resp, err := http.Post(env.BaseURL+path, "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	// Empty content
	resp := post("/api/threads/t1/messages", map[string]string{
		"senderId": "alice", "senderName": "Alice",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for empty content, got %d", resp.StatusCode)
	}

	// Oversized content
	resp = post("/api/threads/t1/messages", map[string]string{
		"senderId": "alice", "senderName": "Alice",
		"content": strings.Repeat("a", types.MaxContentBytes+1),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for oversized content, got %d", resp.StatusCode)
	}

	// Reaction on a missing message
	body, _ := json.Marshal(map[string]string{"userId": "alice", "emoji": "👍"})
	req, _ := http.NewRequest(http.MethodPut, env.BaseURL+"/api/messages/missing/reactions", bytes.NewReader(body))
	reactResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer reactResp.Body.Close()
	if reactResp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for missing message, got %d", reactResp.StatusCode)
	}
}

func TestHistoryPagination(t *testing.T) {
	env := fixtures.StartBroker(t)

	const thread = "paginated"
	for i := 0; i < 6; i++ {
		fixtures.PostMessage(t, env, thread, "alice", "Alice", fmt.Sprintf("message %d", i))
		// Distinct timestamps keep the cursor ordering unambiguous
		time.Sleep(5 * time.Millisecond)
	}

	page1 := fixtures.ListMessages(t, env, thread, 4)
	if len(page1) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(page1))
	}
	// Newest first
	if page1[0].Content != "message 5" {
		t.Errorf("expected newest message first, got %q", page1[0].Content)
	}

	cursor := page1[len(page1)-1].CreatedAt.UnixMilli()
	resp, err := http.Get(fmt.Sprintf("%s/api/threads/%s/messages?before=%d&limit=4", env.BaseURL, thread, cursor))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Messages []*types.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode page: %v", err)
	}
	if len(payload.Messages) != 2 {
		t.Errorf("expected 2 remaining messages, got %d", len(payload.Messages))
	}
	for _, message := range payload.Messages {
		if message.CreatedAt.UnixMilli() >= cursor {
			t.Errorf("message %q newer than cursor", message.Content)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := fixtures.StartBroker(t)

	resp, err := http.Get(env.BaseURL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload struct {
		Status      string         `json:"status"`
		Database    string         `json:"database"`
		Connections map[string]int `json:"connections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if payload.Status != "healthy" || payload.Database != "healthy" {
		t.Errorf("unexpected health payload: %+v", payload)
	}
}

func TestTypingStopsOnTeardown(t *testing.T) {
	env := fixtures.StartBroker(t)

	alice := fixtures.ConnectClient(t, env, "alice", "Alice")
	bob := fixtures.ConnectClient(t, env, "bob", "Bob")

	const thread = "teardown"
	fixtures.JoinThread(t, alice, thread)
	fixtures.JoinThread(t, bob, thread)
	fixtures.AssertEventuallyTrue(t, func() bool {
		return fixtures.HasUser(alice.Online(thread), "bob")
	}, 3*time.Second, "presence never converged")

	debouncer := bob.NewTypingDebouncer(thread, time.Second, 3*time.Second)
	debouncer.InputChanged()
	fixtures.AssertEventuallyTrue(t, func() bool {
		return len(alice.TypingUsers(thread)) == 1
	}, 3*time.Second, "typing indicator never appeared")

	// Closing the composer must clear the indicator without waiting for
	// the inactivity timeout
	debouncer.Close()
	fixtures.AssertEventuallyTrue(t, func() bool {
		return len(alice.TypingUsers(thread)) == 0
	}, time.Second, "typing indicator survived teardown")
}
