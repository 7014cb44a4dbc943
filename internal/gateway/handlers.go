package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// HealthResponse is the JSON response for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleHealthz() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
	}
}

// handleContext serves the latest published dashboard context, or 204 when
// nothing has been published yet.
func (g *Gateway) handleContext() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		latest := g.hub.Latest()
		if latest == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(latest)
	}
}

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Uptime           float64 `json:"uptime_seconds"`
	Subscribers      int     `json:"subscribers"`
	ContextPublished bool    `json:"context_published"`
}

func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := StatusResponse{
			Uptime:           time.Since(g.startedAt).Seconds(),
			Subscribers:      g.hub.Subscribers(),
			ContextPublished: g.hub.Latest() != nil,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// handleWS upgrades to a websocket and streams context updates. The current
// context (if any) is delivered immediately; the connection then lives until
// the client goes away. Inbound frames are drained and ignored.
func (g *Gateway) handleWS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			g.logger.Debug("websocket accept failed", "error", err)
			return
		}

		id := g.hub.register(conn)
		g.logger.Info("context subscriber connected", "id", id)
		defer func() {
			g.hub.unregister(id)
			_ = conn.CloseNow()
			g.logger.Info("context subscriber disconnected", "id", id)
		}()

		if latest := g.hub.Latest(); latest != nil {
			ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
			err := conn.Write(ctx, websocket.MessageText, latest)
			cancel()
			if err != nil {
				return
			}
		}

		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}
}
