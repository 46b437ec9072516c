package server

import (
	"log"
)

// Broadcast sends a message to all connected clients.
// This method is non-blocking; messages are queued for delivery.
// If the server has been stopped, this method does nothing.
func (s *Server) Broadcast(msg Message) {
	// Hold RLock while checking stopped AND sending to avoid race with Stop().
	// Stop() takes the write lock, sets stopped=true, then closes the channel.
	// By holding RLock through the send, we ensure the channel can't be closed
	// while we're sending to it.
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return
	}

	// Use select with default to make this non-blocking.
	// If the broadcast channel is full, we log and drop the message
	// rather than blocking the caller (the reader monitor's callback).
	select {
	case s.broadcast <- msg:
	default:
		log.Printf("server: broadcast channel full, dropping message")
	}
}

// BroadcastReaderStatus sends the reader state to all clients and records
// it for replay to new connections. The snapshot never shows a tag while
// the state says none is present.
func (s *Server) BroadcastReaderStatus(state string) {
	s.mu.Lock()
	s.lastState = state
	if state != "tag_present" {
		s.lastTag = nil
	}
	s.mu.Unlock()

	s.Broadcast(NewReaderStatusMessage(state))
}

// BroadcastTagPresent sends a tag.present event to all clients and records
// it for replay. Called from the monitor's tag callback once the tag has
// been decoded and hydrated, and again after a write changes the tag's
// contents in place.
func (s *Server) BroadcastTagPresent(payload TagPresentPayload) {
	s.mu.Lock()
	s.lastState = "tag_present"
	s.lastTag = &payload
	s.mu.Unlock()

	s.Broadcast(NewTagPresentMessage(payload))
}

// BroadcastTagRemoved notifies clients that the tag left the reader.
func (s *Server) BroadcastTagRemoved() {
	s.mu.Lock()
	s.lastTag = nil
	s.mu.Unlock()

	s.Broadcast(NewTagRemovedMessage())
}

// BroadcastCardWritten notifies clients of a completed, verified write.
func (s *Server) BroadcastCardWritten(payload CardWrittenPayload) {
	s.Broadcast(NewCardWrittenMessage(payload))
}

// CurrentTag returns the replay snapshot: the last broadcast tag payload,
// or nil when no tag is present.
func (s *Server) CurrentTag() *TagPresentPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastTag == nil {
		return nil
	}
	tag := *s.lastTag
	return &tag
}

// ReaderState returns the last broadcast reader state.
func (s *Server) ReaderState() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastState
}

// runBroadcaster reads from the broadcast channel and sends to all clients.
// This runs in its own goroutine started by StartAsync().
func (s *Server) runBroadcaster() {
	for msg := range s.broadcast {
		s.mu.RLock()
		for client := range s.clients {
			// Try to send to each client, but don't block if their buffer is full
			// or if the client is shutting down.
			select {
			case <-client.done:
				// Client is shutting down - skip
			case client.send <- msg:
			default:
				// Client is too slow; we could disconnect them here,
				// but for now we just drop the message for this client.
				log.Printf("server: client send buffer full, dropping message")
			}
		}
		s.mu.RUnlock()
	}
}
