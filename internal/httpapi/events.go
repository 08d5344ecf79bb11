package httpapi

import (
	"net/http"
	"time"
)

// handleTaskFeed streams task activity events (creation, status changes, lock
// lifecycle) over a websocket. The read loop only watches for the client
// closing; all writes stay on one goroutine.
func (s *Server) handleTaskFeed(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "task feed not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, cancel := s.events.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(1 << 16)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(evt); err != nil {
				s.logger.Debug().Err(err).Msg("task feed write failed, dropping subscriber")
				return
			}
		}
	}
}
