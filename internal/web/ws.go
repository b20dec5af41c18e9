package web

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/touch-led/internal/status"
)

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  512,
	WriteBufferSize: 4096,
}

// handleWS streams the JSON status to the client whenever the tracker
// version changes, and at least once per keepalive.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		return
	}
	defer conn.Close()

	// Reader: drains control frames and notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(snap status.Snapshot) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteMessage(websocket.TextMessage, status.FormatJSON(snap))
	}

	snap := s.tracker.Snapshot()
	if err := send(snap); err != nil {
		return
	}
	version := snap.Version
	lastSent := time.Now()

	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"))
			return
		case <-closed:
			return
		case now := <-ticker.C:
			if s.tracker.Version() == version && now.Sub(lastSent) < s.keepalive {
				continue
			}
			snap := s.tracker.Snapshot()
			if err := send(snap); err != nil {
				log.Printf("web: ws write: %v", err)
				return
			}
			version = snap.Version
			lastSent = now
		}
	}
}
