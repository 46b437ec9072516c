package server

import (
	"log"
	"net/http"

	"golang.org/x/time/rate"
)

// createMux creates the HTTP mux with all endpoints.
func (s *Server) createMux() *http.ServeMux {
	mux := http.NewServeMux()

	// Handle WebSocket connections at the /ws endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// Health check endpoint for monitoring
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Status endpoint: /status
	// This allows the CLI and companions to query host info (version,
	// uptime, clients, reader state).
	mux.HandleFunc("/status", s.handleStatus)

	// Local control endpoints for the CLI: current tag and tag writes.
	// Both are restricted to loopback; companions use the WebSocket feed.
	mux.HandleFunc("/api/tag", s.handleTagQuery)
	mux.HandleFunc("/api/write", s.handleWriteRequest)

	// Pairing endpoints
	s.mu.RLock()
	pairHandler := s.pairHandler
	generateCodeHandler := s.generateCodeHandler
	revokeHandler := s.revokeDeviceHandler
	s.mu.RUnlock()

	if pairHandler != nil {
		mux.Handle("/pair", pairHandler)
		log.Printf("server: pairing endpoint registered at /pair")
	}

	if generateCodeHandler != nil {
		mux.Handle("/pair/generate", generateCodeHandler)
		log.Printf("server: generate code endpoint registered at /pair/generate")
	}

	// Device revocation endpoint: /devices/{id}/revoke
	// This allows the CLI to signal the running host to drop connections
	// for revoked devices immediately.
	if revokeHandler != nil {
		mux.Handle("/devices/", revokeHandler)
		log.Printf("server: device revocation endpoint registered at /devices/{id}/revoke")
	}

	return mux
}

// handleWebSocket upgrades an HTTP connection to a WebSocket connection.
// This is called by the HTTP server for each new connection to /ws.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Check authentication if configured
	s.mu.RLock()
	requireAuth := s.requireAuth
	tokenValidator := s.tokenValidator
	s.mu.RUnlock()

	var deviceID string

	if tokenValidator != nil {
		// Extract token from Authorization header
		// Expected format: "Bearer <token>"
		token := extractBearerToken(r)
		if token == "" {
			if requireAuth {
				log.Printf("server: connection rejected: missing authorization token")
				http.Error(w, "Unauthorized: missing token", http.StatusUnauthorized)
				return
			}
		} else {
			// Validate the token. In open mode a bad token still
			// connects, just without a device identity.
			var err error
			deviceID, err = tokenValidator(token)
			if err != nil {
				if requireAuth {
					log.Printf("server: connection rejected: invalid token: %v", err)
					http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
					return
				}
				log.Printf("server: ignoring invalid token on open server: %v", err)
				deviceID = ""
			}
		}

		if deviceID != "" {
			log.Printf("server: connection authenticated for device %s", deviceID)
		}
	}

	// Upgrade the HTTP connection to a WebSocket connection.
	// This performs the WebSocket handshake (HTTP 101 Switching Protocols).
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: websocket upgrade failed: %v", err)
		return
	}

	// Create a new client with a buffered send channel.
	// The buffer allows the client to fall behind temporarily
	// without blocking the broadcaster.
	client := &Client{
		conn:     conn,
		send:     make(chan Message, channelBufferSize),
		done:     make(chan struct{}),
		server:   s,
		deviceID: deviceID,
		// Searches hit the remote card database, which bans heavy
		// anonymous users. 3/sec with a burst of 5 covers a fast typist.
		searchLimiter: rate.NewLimiter(rate.Limit(3), 5),
	}

	// Register the client
	s.mu.Lock()
	s.clients[client] = true
	s.mu.Unlock()

	log.Printf("server: client connected (%d total)", s.ClientCount())

	// Replay the feed snapshot so the new client never starts blind:
	// current reader state, and the current tag if one is present.
	// The send buffer is empty here, so these never block.
	client.send <- NewReaderStatusMessage(s.ReaderState())
	if tag := s.CurrentTag(); tag != nil {
		client.send <- NewTagPresentMessage(*tag)
	}

	// Start the pumps. writePump drains the send channel to the socket;
	// readPump dispatches companion requests until the connection drops.
	go client.writePump()
	go client.readPump()
}

// extractBearerToken extracts the token from an Authorization header.
// Returns empty string if no valid bearer token is found.
// Supports both "Bearer <token>" header and "token" query parameter as fallback.
func extractBearerToken(r *http.Request) string {
	// Try Authorization header first
	auth := r.Header.Get("Authorization")
	if auth != "" {
		// Check for "Bearer " prefix (case-insensitive)
		const bearerPrefix = "Bearer "
		if len(auth) > len(bearerPrefix) {
			prefix := auth[:len(bearerPrefix)]
			if prefix == bearerPrefix || prefix == "bearer " {
				return auth[len(bearerPrefix):]
			}
		}
	}

	// Fallback to query parameter for WebSocket connections
	// (some WebSocket clients don't support custom headers)
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	return ""
}
