package fixtures

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"peergenius/pkg/realtime"
	"peergenius/pkg/types"
)

// ConnectClient creates and connects a realtime SDK client with retry
// timing suitable for tests
func ConnectClient(t *testing.T, env *TestEnv, userID, displayName string) *realtime.Client {
	t.Helper()

	client, err := realtime.NewClient(realtime.Config{
		Endpoint:    env.BaseURL,
		Identity:    types.Identity{UserID: userID, DisplayName: displayName},
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    200 * time.Millisecond,
		JoinTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create client for %s: %v", userID, err)
	}
	t.Cleanup(client.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Failed to connect %s: %v", userID, err)
	}

	return client
}

// JoinThread joins a thread and fails the test on error
func JoinThread(t *testing.T, client *realtime.Client, threadID string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.JoinRoom(ctx, threadID); err != nil {
		t.Fatalf("Failed to join thread %s: %v", threadID, err)
	}
}

// PostMessage posts a message over REST and returns the stored message
func PostMessage(t *testing.T, env *TestEnv, threadID, senderID, senderName, content string) *types.Message {
	t.Helper()

	body, _ := json.Marshal(map[string]string{
		"senderId":   senderID,
		"senderName": senderName,
		"content":    content,
	})
	resp, err := http.Post(
		fmt.Sprintf("%s/api/threads/%s/messages", env.BaseURL, threadID),
		"application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to post message: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Post message returned %d", resp.StatusCode)
	}

	var message types.Message
	if err := json.NewDecoder(resp.Body).Decode(&message); err != nil {
		t.Fatalf("Failed to decode posted message: %v", err)
	}
	return &message
}

// ToggleReaction flips a reaction over REST and returns the updated message
func ToggleReaction(t *testing.T, env *TestEnv, messageID, userID, emoji string) *types.Message {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"userId": userID, "emoji": emoji})
	req, err := http.NewRequest(http.MethodPut,
		fmt.Sprintf("%s/api/messages/%s/reactions", env.BaseURL, messageID),
		bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to build reaction request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to toggle reaction: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Toggle reaction returned %d", resp.StatusCode)
	}

	var message types.Message
	if err := json.NewDecoder(resp.Body).Decode(&message); err != nil {
		t.Fatalf("Failed to decode updated message: %v", err)
	}
	return &message
}

// ListMessages fetches thread history over REST, newest first
func ListMessages(t *testing.T, env *TestEnv, threadID string, limit int) []*types.Message {
	t.Helper()

	resp, err := http.Get(fmt.Sprintf("%s/api/threads/%s/messages?limit=%d", env.BaseURL, threadID, limit))
	if err != nil {
		t.Fatalf("Failed to list messages: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("List messages returned %d", resp.StatusCode)
	}

	var payload struct {
		Messages []*types.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("Failed to decode message list: %v", err)
	}
	return payload.Messages
}

// HasUser reports whether a presence list contains the user
func HasUser(users []types.PresenceUser, userID string) bool {
	for _, user := range users {
		if user.ID == userID {
			return true
		}
	}
	return false
}
