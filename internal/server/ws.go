package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// LiveStream upgrades the connection and relays hub events (new_batch,
// new_alert, heartbeat) until the client disconnects.
func (s *Server) LiveStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorf("WebSocket upgrade error: %v", err)
		return
	}

	sub := s.hub.Subscribe()
	defer func() {
		s.hub.Unsubscribe(sub)
		conn.Close()
	}()

	s.logger.Debugf("Live client %s connected from %s", sub.ID, r.RemoteAddr)

	// Reader goroutine: the client never sends data, reads only return
	// when the connection closes.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(wsPingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-sub.Channel:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debugf("Live client %s write failed: %v", sub.ID, err)
				return
			}
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
