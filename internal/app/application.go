package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"peergenius/internal/api"
	"peergenius/internal/auth"
	"peergenius/internal/broker"
	"peergenius/internal/config"
	"peergenius/internal/database"
	redisbridge "peergenius/internal/redis"
	"peergenius/internal/router"
	"peergenius/internal/websocket"
)

// Application coordinates all system components.
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config        *config.Config
	store         *database.Store
	registry      *websocket.Registry
	eventBroker   *broker.Broker
	bridge        *redisbridge.Bridge
	messageRouter *router.Router
	verifier      *auth.Verifier
	apiServer     *api.Server
	httpServer    *http.Server
}

// NewApplication initializes components in strict dependency order:
// Database → Registry → Broker → Redis bridge → Router → Auth → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := database.NewStore(&database.Config{
		Path:            cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database store: %w", err)
	}

	registry := websocket.NewRegistry()
	limiter := router.NewRateLimiter()

	// The broker cannot take the bridge at construction because the bridge
	// needs the broker as its delivery sink, so the publisher is attached
	// after both exist
	eventBroker := broker.NewBroker(registry, limiter, nil)

	var bridge *redisbridge.Bridge
	if cfg.Redis.URL != "" {
		bridge, err = redisbridge.NewBridge(cfg.Redis.URL, eventBroker)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize redis bridge: %w", err)
		}
		eventBroker.SetPublisher(bridge)
	}

	var messageRouter *router.Router
	if bridge != nil {
		messageRouter = router.NewRouter(store, eventBroker, bridge, limiter)
	} else {
		messageRouter = router.NewRouter(store, eventBroker, nil, limiter)
	}

	var verifier *auth.Verifier
	if cfg.Auth.IssuerURL != "" {
		verifier, err = auth.NewVerifier(cfg.Auth.IssuerURL)
		if err != nil {
			if bridge != nil {
				_ = bridge.Close()
			}
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize token verifier: %w", err)
		}
	} else {
		log.Println("WARNING: no auth issuer configured, running in open mode")
	}

	// A typed-nil *auth.Verifier must not reach the interface fields, so
	// open mode passes untyped nil
	var apiVerifier api.TokenVerifier
	var wsVerifier websocket.TokenVerifier
	if verifier != nil {
		apiVerifier = verifier
		wsVerifier = verifier
	}

	apiServer := api.NewServer(messageRouter, store, registry, apiVerifier)

	wsHandler := websocket.NewHandler(eventBroker, wsVerifier, websocket.Options{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		BufferSize:   cfg.WebSocket.BufferSize,
	})

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:        cfg,
		store:         store,
		registry:      registry,
		eventBroker:   eventBroker,
		bridge:        bridge,
		messageRouter: messageRouter,
		verifier:      verifier,
		apiServer:     apiServer,
		httpServer:    httpServer,
	}, nil
}

// Start begins serving. The broker starts first so queued client events
// have a consumer before the HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting PeerGenius broker on %s", app.httpServer.Addr)

	if err := app.eventBroker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event broker: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.eventBroker.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("PeerGenius broker started successfully")
		return nil
	case <-ctx.Done():
		_ = app.eventBroker.Stop()
		return ctx.Err()
	}
}

// Stop shuts down in reverse dependency order:
// HTTP → Broker → Bridge → Auth → Database
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down PeerGenius broker")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if err := app.eventBroker.Stop(); err != nil {
		log.Printf("Event broker shutdown error: %v", err)
	}

	if app.bridge != nil {
		if err := app.bridge.Close(); err != nil {
			log.Printf("Redis bridge shutdown error: %v", err)
		}
	}

	if app.verifier != nil {
		app.verifier.Close()
	}

	if err := app.store.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("PeerGenius broker shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
