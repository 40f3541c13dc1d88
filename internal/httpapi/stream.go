package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// handleSessionStream pushes every snapshot of a session to a customer
// display, then closes normally once the session is CLOSED.
func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	watch, err := s.sessions.Subscribe(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer watch.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "session_id", id, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go discardReads(conn, cancel)

	for {
		snap, err := watch.Next(ctx)
		if errors.Is(err, io.EOF) {
			closeNormal(conn, "session closed")
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("session stream failed", "session_id", id, "error", err)
			}
			return
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(snap); err != nil {
			s.logger.Debug("display disconnected", "session_id", id, "error", err)
			return
		}
	}
}

// handleStockStream pushes the stock projection of one item.
func (s *Server) handleStockStream(w http.ResponseWriter, r *http.Request) {
	itemID, err := itemParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	sub, err := s.stock.Subscribe(r.Context(), itemID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "item_id", itemID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go discardReads(conn, cancel)

	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("stock stream failed", "item_id", itemID, "error", err)
				closeWith(conn, websocket.CloseTryAgainLater, "stock channel unavailable")
			}
			return
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, msg.Payload); err != nil {
			return
		}
	}
}

// discardReads drains client frames so control frames are processed, and
// cancels once the peer goes away.
func discardReads(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func closeNormal(conn *websocket.Conn, reason string) {
	closeWith(conn, websocket.CloseNormalClosure, reason)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
