package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleStream pushes the current stats cards every stream interval. Each
// push goes through the service cache, so clients never add ticks.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.opts.StreamInterval)
	defer ticker.Stop()

	for {
		stats, err := s.backend.GetCurrentStats(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("stream stats failed: %v", err)
			msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "stats unavailable")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(stats); err != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case <-s.done:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		case <-ticker.C:
		}
	}
}
