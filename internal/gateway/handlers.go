// ABOUTME: HTTP handlers: WebSocket upgrade into a session, liveness and readiness
// ABOUTME: Each WebSocket gets a reader feeding its session's ordered frame queue

package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/chatline/internal/auth"
	"github.com/2389/chatline/internal/realtime"
)

// frameQueue bounds frames read but not yet handled for one connection
const frameQueue = 32

// handleWebSocket upgrades the request and runs a session over it. The
// credential is checked after the upgrade so a rejected client receives a
// policy-violation close frame.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromRequest(r)

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := realtime.NewConnection(ws, g.connOpts)
	conn.Start()

	sess, err := g.router.Open(r.Context(), token, conn)
	if err != nil {
		g.logger.Info("connection rejected", "remote", r.RemoteAddr, "error", err)
		return
	}

	frames := make(chan []byte, frameQueue)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Run(r.Context(), frames)
	}()

	readErr := conn.ReadLoop(func(frame []byte) {
		select {
		case frames <- frame:
		case <-sess.Done():
		}
	})
	if readErr != nil {
		g.logger.Debug("connection read ended", "identity", sess.Identity(), "error", readErr)
	}

	close(frames)
	<-done
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the store answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d online)", g.presence.Len())
}
