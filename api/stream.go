package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	streamBuffer       = 256
	streamWriteTimeout = 5 * time.Second
)

// Stream handles GET /ws. Every global log event is sent as one JSON text
// frame; ?agent_id= narrows the feed to events involving that agent. A
// client that falls behind misses events rather than stalling the run.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("api.ws.accept_failed", "error", err.Error())
		return
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "stream ended")
	}()

	agentID := r.URL.Query().Get("agent_id")
	events, unsubscribe := h.sim.Subscribe(streamBuffer)
	defer unsubscribe()

	// The stream is write-only; CloseRead cancels ctx once the peer closes.
	ctx := conn.CloseRead(r.Context())
	h.logger.Debug("api.ws.connected", "remote", r.RemoteAddr, "agent_id", agentID)

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("api.ws.disconnected", "remote", r.RemoteAddr)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if agentID != "" && ev.ActorID != agentID && ev.ObserverID != agentID &&
				(ev.Message == nil || ev.Message.ReceiverID != agentID) {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				h.logger.Debug("api.ws.write_failed", "error", err.Error())
				return
			}
		}
	}
}
