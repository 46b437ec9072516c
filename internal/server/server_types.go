package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	// gorilla/websocket is the most popular WebSocket library for Go.
	// It provides a complete implementation of the WebSocket protocol
	// with support for reading/writing messages, ping/pong, and close handling.
	"github.com/gorilla/websocket"

	// Rate limiting for companion search requests to protect the remote
	// card database from message flooding.
	"golang.org/x/time/rate"

	"github.com/tagdeck/host/internal/cards"
	"github.com/tagdeck/host/internal/storage"
)

// channelBufferSize is the buffer size for the broadcast channel and per-client
// send channels. This value balances memory usage against the ability to absorb
// bursts of messages without blocking senders. If the buffer fills up, messages
// may be dropped for slow clients.
const channelBufferSize = 256

// TokenValidator validates authentication tokens for WebSocket connections.
// Returns the device ID if the token is valid, or an error if not.
type TokenValidator func(token string) (deviceID string, err error)

// DeviceActivityTracker is called to update device activity timestamps.
// The server calls this when a message is received from an authenticated client.
type DeviceActivityTracker func(deviceID string)

// TagWriteHandler encodes an identity frame and writes it to the tag on
// the reader. withName controls whether the on-tag name fragment is
// included (version 2 frames). The handler owns encode policy and the
// write itself; the server only transports the request and the outcome.
type TagWriteHandler func(passcode string, withName bool) (CardWrittenPayload, error)

// CardStore is the slice of the local cache the feed needs: hydrating
// tag events, answering card.request from cache, and warming the cache
// with remote results.
type CardStore interface {
	GetCard(id int64) (*storage.CardRecord, error)
	SearchCardsByName(text string) ([]*storage.CardRecord, error)
	UpsertCard(card *storage.CardRecord) error
}

// CardSearcher searches the remote card database. *cards.Client
// satisfies this.
type CardSearcher interface {
	Search(ctx context.Context, mode cards.SearchMode, query string) ([]cards.Card, []cards.UnparseableEntry, error)
}

// Server manages WebSocket connections and broadcasts messages to clients.
// It handles multiple concurrent clients and ensures messages are delivered
// to all connected clients without blocking the sender.
type Server struct {
	// addr is the address to listen on (e.g., "127.0.0.1:41114")
	addr string

	// upgrader converts HTTP connections to WebSocket connections.
	// We configure it to accept connections from any origin; auth is
	// token-based, not origin-based.
	upgrader websocket.Upgrader

	// clients tracks all connected WebSocket clients.
	// The map key is a pointer to the client, value is always true.
	// Using a map makes add/remove O(1) operations.
	clients map[*Client]bool

	// mu protects the clients map, stopped flag, and feed snapshot from
	// concurrent access.
	mu sync.RWMutex

	// stopped indicates whether the server has been stopped.
	// This prevents sending to a closed broadcast channel.
	stopped bool

	// broadcast receives messages to send to all clients.
	// Using a channel decouples message production from delivery.
	broadcast chan Message

	// httpServer is the underlying HTTP server for graceful shutdown.
	httpServer *http.Server

	// version is reported on /status and sent to companions on connect.
	version string

	// startedAt anchors the uptime reported on /status.
	startedAt time.Time

	// lastState is the most recently broadcast reader state. New
	// connections receive it immediately so they never start blind.
	lastState string

	// lastTag is the most recently broadcast tag.present payload, nil
	// when no tag is on the reader. Replayed to new connections.
	lastTag *TagPresentPayload

	// tokenValidator validates tokens for WebSocket authentication.
	// If nil, authentication is disabled (open access).
	tokenValidator TokenValidator

	// requireAuth controls whether authentication is required for WebSocket connections.
	// When true and tokenValidator is set, connections without valid tokens are rejected.
	requireAuth bool

	// pairHandler handles the /pair endpoint for code-to-token exchange.
	// Set via SetPairHandler.
	pairHandler http.Handler

	// generateCodeHandler handles the /pair/generate endpoint.
	// Set via SetGenerateCodeHandler.
	generateCodeHandler http.Handler

	// revokeDeviceHandler handles the /devices/{id}/revoke endpoint.
	// Set via SetRevokeDeviceHandler.
	revokeDeviceHandler http.Handler

	// deviceActivityTracker is called when a message is received from an
	// authenticated client. This allows updating last_seen timestamps.
	deviceActivityTracker DeviceActivityTracker

	// store is the local card cache. If nil, local searches and cache
	// hydration on card.request return handler_missing.
	store CardStore

	// searcher reaches the remote card database for search.request and
	// cache misses on card.request. If nil, remote lookups return
	// handler_missing.
	searcher CardSearcher

	// tagWriter applies write requests from /api/write. If nil, write
	// requests are rejected.
	tagWriter TagWriteHandler
}

// Client represents a single WebSocket connection.
// Each client has its own goroutine for writing messages,
// which prevents slow clients from blocking the broadcast.
type Client struct {
	// conn is the underlying WebSocket connection.
	conn *websocket.Conn

	// send is a buffered channel for outgoing messages.
	// The write goroutine reads from this and sends to the WebSocket.
	// Buffering prevents blocking when the client is slow.
	send chan Message

	// done is closed to signal the client should shut down.
	// Used to coordinate clean shutdown without racing on send channel.
	done chan struct{}

	// sendOnce ensures the send channel is only closed once.
	// Both Stop() and readPump() may try to close it, so we use
	// sync.Once to prevent a "close of closed channel" panic.
	sendOnce sync.Once

	// server is a reference back to the parent server.
	server *Server

	// deviceID is the ID of the paired device for this connection.
	// Set during WebSocket upgrade if authentication is enabled.
	// Empty string means unauthenticated (allowed when requireAuth is false).
	deviceID string

	// searchLimiter rate-limits search.request messages so one companion
	// cannot flood the remote card database. Configured at 3 requests/sec
	// with a burst of 5.
	searchLimiter *rate.Limiter

	// searchMu guards searchSeq and searchCancel.
	searchMu sync.Mutex

	// searchSeq numbers this client's search requests. A result is only
	// delivered if its request is still the newest; stale results are
	// dropped so a fast typist never sees answers arrive out of order.
	searchSeq int

	// searchCancel aborts the in-flight remote search when a newer
	// request supersedes it.
	searchCancel context.CancelFunc
}

// NewServer creates a new WebSocket server.
// Call StartAsync() to begin accepting connections.
func NewServer(addr string) *Server {
	return &Server{
		addr:      addr,
		clients:   make(map[*Client]bool),
		broadcast: make(chan Message, channelBufferSize),
		startedAt: time.Now(),
		lastState: "disconnected",
		upgrader: websocket.Upgrader{
			// Companion apps connect from app webviews and test
			// harnesses with unpredictable Origin headers. Token auth
			// is the gate, so any origin is acceptable here.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			// Buffer sizes for reading and writing WebSocket frames.
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// SetTokenValidator sets the validator that authenticates WebSocket
// connections. The validator runs even when auth is not required, so a
// valid token attaches a device identity in open mode too.
func (s *Server) SetTokenValidator(validator TokenValidator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenValidator = validator
}

// SetRequireAuth controls whether authentication is required.
// When true, all WebSocket connections must provide a valid token.
func (s *Server) SetRequireAuth(require bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requireAuth = require
}

// SetPairHandler mounts the handler for POST /pair.
func (s *Server) SetPairHandler(h http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairHandler = h
}

// SetGenerateCodeHandler mounts the handler for POST /pair/generate.
func (s *Server) SetGenerateCodeHandler(h http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generateCodeHandler = h
}

// SetRevokeDeviceHandler mounts the handler for POST /devices/{id}/revoke.
func (s *Server) SetRevokeDeviceHandler(h http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeDeviceHandler = h
}

// SetDeviceActivityTracker configures the callback for device activity updates.
func (s *Server) SetDeviceActivityTracker(tracker DeviceActivityTracker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceActivityTracker = tracker
}

// SetCardStore wires the local card cache into the feed.
func (s *Server) SetCardStore(store CardStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = store
}

// SetCardSearcher wires the remote card database client into the feed.
func (s *Server) SetCardSearcher(searcher CardSearcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searcher = searcher
}

// SetTagWriteHandler configures the handler for tag write requests.
func (s *Server) SetTagWriteHandler(h TagWriteHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tagWriter = h
}

// SetVersion sets the version string reported on /status.
func (s *Server) SetVersion(version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = version
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
