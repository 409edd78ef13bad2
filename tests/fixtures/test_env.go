// Package fixtures provides the shared harness for end-to-end scenario
// tests: a full broker on an ephemeral port plus SDK and REST helpers.
package fixtures

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"peergenius/internal/app"
	"peergenius/internal/config"
)

// TestEnv is a running broker instance with automatic cleanup
type TestEnv struct {
	BaseURL      string
	DatabasePath string
	app          *app.Application
}

// StartBroker boots a complete application against a temporary database.
// Auth runs in open mode and redis is disabled so scenarios need no
// external services
func StartBroker(t *testing.T) *TestEnv {
	t.Helper()

	port, err := freePort()
	if err != nil {
		t.Fatalf("Failed to find free port: %v", err)
	}

	dbPath := filepath.Join(t.TempDir(), "peergenius_test.db")

	cfg := config.DefaultConfig()
	cfg.Database.Path = dbPath
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = port
	// Fast heartbeats keep disconnect detection inside test timeouts
	cfg.WebSocket.PingInterval = 200 * time.Millisecond
	cfg.WebSocket.ReadTimeout = 2 * time.Second

	application, err := app.NewApplication(cfg)
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := application.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Failed to start application: %v", err)
	}

	env := &TestEnv{
		BaseURL:      fmt.Sprintf("http://127.0.0.1:%d", port),
		DatabasePath: dbPath,
		app:          application,
	}

	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := application.Stop(shutdownCtx); err != nil {
			t.Errorf("Application shutdown failed: %v", err)
		}
		cancel()
	})

	return env
}

// freePort asks the kernel for an unused TCP port
func freePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// WaitForCondition polls a condition until it holds or the timeout expires
func WaitForCondition(condition func() bool, timeout, interval time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(interval)
	}

	return false
}

// AssertEventuallyTrue fails the test if the condition never holds
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()

	if !WaitForCondition(condition, timeout, 10*time.Millisecond) {
		t.Fatalf("Condition not met within %v: %s", timeout, message)
	}
}
