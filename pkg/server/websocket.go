package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ircarchive/ircview/pkg/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// closeGrace is how long the server waits for the client to answer its
// close frame.
const closeGrace = 5 * time.Second

type askRequest struct {
	Query   string `json:"query"`
	Channel string `json:"channel"`
}

// handleAskWebSocket runs one session per connection. The client sends a
// single askRequest and receives the session events as JSON messages; the
// server closes the connection after the last event.
func (s *Server) handleAskWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.ctrl == nil {
		s.errorResponse(w, http.StatusNotFound, ErrDisabled)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	var req askRequest
	if err := ws.ReadJSON(&req); err != nil {
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			slog.Warn("WebSocket read error", "error", err)
		}
		return
	}

	q, _, err := s.startSession(r.Context(), req.Query, req.Channel)
	if err != nil {
		ws.WriteJSON(domain.Event{Type: domain.EventError, Message: err.Error()})
		closeNormal(ws)
		return
	}

	// Reader goroutine: a read error means the client is gone.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			q.Detach()
			return
		case ev, ok := <-q.Events():
			if !ok {
				closeNormal(ws)
				ws.SetReadDeadline(time.Now().Add(closeGrace))
				<-gone
				return
			}
			if err := ws.WriteJSON(ev); err != nil {
				slog.Debug("WebSocket write error", "error", err)
				q.Detach()
				return
			}
		}
	}
}

func closeNormal(ws *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	ws.WriteMessage(websocket.CloseMessage, msg)
}
