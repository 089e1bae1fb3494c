package transport

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"creditnet-lab/internal/observability"
	"creditnet-lab/internal/orchestrator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The feed carries no credentials; cross-origin dashboards are fine.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEventFeed upgrades the connection and streams the run's events as
// JSON frames. The optional ?from=<event_id> query resumes after the last
// event the client saw; buffered events replay first, then live ones.
func (s *Server) handleEventFeed(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if _, err := s.orch.Status(runID); err != nil {
		if err == orchestrator.ErrRunNotFound {
			writeError(w, http.StatusNotFound, err)
			return
		}
	}

	fromID := int64(0)
	if raw := r.URL.Query().Get("from"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, errBadOffset)
			return
		}
		fromID = v
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[transport] ws upgrade: %v", err)
		return
	}

	feed, cancel := s.hub.Subscribe(runID, fromID)
	observability.DefaultMetrics.SubscribersConnected.Inc()
	s.log("ws subscriber attached to run %s from event %d", runID, fromID)

	closed := make(chan struct{})

	// Reader: the client sends nothing meaningful, but reading is what
	// surfaces close frames and pong handling.
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() {
			cancel()
			conn.Close()
			observability.DefaultMetrics.SubscribersConnected.Dec()
			s.log("ws subscriber detached from run %s", runID)
		}()

		ping := time.NewTicker(s.pingInterval)
		defer ping.Stop()

		for {
			select {
			case <-closed:
				return
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case ev, ok := <-feed:
				if !ok {
					conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run closed"))
					return
				}
				conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			}
		}
	}()
}

var errBadOffset = errors.New("from must be a non-negative integer")
