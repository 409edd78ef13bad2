package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"peergenius/internal/auth"
	"peergenius/pkg/types"
)

// upgrader with settings shared by all handler instances
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients connect from the app origin; stricter checking
		// belongs in the deployment's reverse proxy
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// TokenVerifier validates a bearer token and returns its claims. A nil
// verifier runs the handler in open mode (development)
type TokenVerifier interface {
	Verify(tokenString string) (*auth.Claims, error)
}

// Registrar is the broker surface the handler needs
type Registrar interface {
	Register(conn *Connection) error
	Unregister(conn *Connection) error
	Submit(conn *Connection, evt *types.Event) error
}

// Options tunes connection handling
type Options struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	BufferSize   int
}

// Handler upgrades websocket requests and feeds frames into the broker
// ARCHITECTURAL DISCOVERY: authentication happens before the upgrade so
// rejected clients get a real HTTP status: the SDK treats 401/403 as fatal
// and anything after upgrade as transient
type Handler struct {
	broker   Registrar
	verifier TokenVerifier
	opts     Options
}

// NewHandler creates a websocket handler. verifier may be nil in open mode
func NewHandler(broker Registrar, verifier TokenVerifier, opts Options) *Handler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 100
	}
	return &Handler{broker: broker, verifier: verifier, opts: opts}
}

// HandleWebSocket handles websocket connection requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	var claims *auth.Claims

	if h.verifier != nil {
		token := auth.ExtractTokenFromRequest(r)
		if token == "" {
			http.Error(w, "Missing bearer token", http.StatusUnauthorized)
			return
		}
		verified, err := h.verifier.Verify(token)
		if err != nil {
			log.Printf("Token verification failed: %v", err)
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		claims = verified
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn, h.opts.BufferSize)
	go h.handleConnection(wsConn, claims)
}

// handleConnection owns one connection's lifecycle: heartbeat, announce,
// event forwarding, cleanup
func (h *Handler) handleConnection(conn *Connection, claims *auth.Claims) {
	defer func() {
		if err := h.broker.Unregister(conn); err != nil {
			log.Printf("Unregister failed for %s: %v", conn.UserID(), err)
		}
		_ = conn.Close()
	}()

	// 60-second read deadline with a 30-second ping keeps half-dead
	// connections from lingering in presence
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		conn.Touch()
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		msgType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		conn.Touch()

		var evt types.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			log.Printf("Dropping malformed frame from %s: %v", conn.UserID(), err)
			continue
		}

		if evt.Name == types.EventIdentityAnnounce {
			h.handleAnnounce(conn, &evt, claims)
			continue
		}

		if !conn.IsAnnounced() {
			log.Printf("Dropping %s before identity announce", evt.Name)
			continue
		}

		if err := h.broker.Submit(conn, &evt); err != nil {
			log.Printf("Event submit failed for %s: %v", conn.UserID(), err)
		}
	}
}

// handleAnnounce validates an identity announcement and registers the
// connection. When a verifier is configured the announced user must match
// the token subject. Identities are issued upstream, never invented here
func (h *Handler) handleAnnounce(conn *Connection, evt *types.Event, claims *auth.Claims) {
	var identity types.Identity
	if err := evt.DecodeData(&identity); err != nil {
		log.Printf("Dropping malformed identity announce: %v", err)
		return
	}
	if err := identity.Validate(); err != nil {
		log.Printf("Dropping invalid identity announce: %v", err)
		return
	}

	if claims != nil && claims.Subject != identity.UserID {
		log.Printf("Identity mismatch: token subject %s, announced %s", claims.Subject, identity.UserID)
		_ = conn.Close()
		return
	}

	conn.SetIdentity(identity)
	if err := h.broker.Register(conn); err != nil {
		log.Printf("Registration failed for %s: %v", identity.UserID, err)
		_ = conn.Close()
	}
}
