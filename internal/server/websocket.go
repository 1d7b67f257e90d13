package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/skypro1111/live-caption-service/internal/stream"
)

// closeReasonNotLoaded is sent to clients that connect before the engine is ready
const closeReasonNotLoaded = "Model not loaded"

// wsConn adapts a WebSocket connection to stream.Conn. Reads happen only on
// the session goroutine; writes may come from any broadcasting session.
type wsConn struct {
	id           string
	conn         *websocket.Conn
	remoteAddr   string
	writeTimeout time.Duration

	writeMu sync.Mutex
}

func newWSConn(conn *websocket.Conn, remoteAddr string, writeTimeout time.Duration) *wsConn {
	return &wsConn{
		id:           uuid.NewString(),
		conn:         conn,
		remoteAddr:   remoteAddr,
		writeTimeout: writeTimeout,
	}
}

// ID returns the listener identity
func (c *wsConn) ID() string {
	return c.id
}

// RemoteAddr returns the client address
func (c *wsConn) RemoteAddr() string {
	return c.remoteAddr
}

// Send writes one text message, bounded by the write timeout and ctx deadline
func (c *wsConn) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// ReadFrame returns the next binary message. Text messages are skipped.
// A close frame from the client is reported as io.EOF.
func (c *wsConn) ReadFrame(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				return nil, io.EOF
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}

		if messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// CloseWithReason sends a close frame and releases the connection
func (c *wsConn) CloseWithReason(code int, reason string) error {
	message := websocket.FormatCloseMessage(code, reason)
	writeErr := c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(c.writeTimeout))
	closeErr := c.conn.Close()

	if writeErr != nil && !errors.Is(writeErr, websocket.ErrCloseSent) {
		return writeErr
	}
	return closeErr
}

// checkOrigin accepts same-origin requests, clients without an Origin header
// and the configured allowed origins
func (h *HTTPServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if h.isAllowedOrigin(origin) {
		return true
	}
	return sameOrigin(origin, r.Host)
}

// handleWebSocket upgrades the request and runs the session loop until the client leaves
func (h *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		h.metrics.RecordHTTPError(r.Method, h.config.Server.WSPath, "upgrade_failed")
		h.logger.Warn("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	conn := newWSConn(ws, r.RemoteAddr, h.config.Server.GetWriteTimeoutDuration())

	h.logger.Debug("WebSocket connected",
		slog.String("conn_id", conn.ID()),
		slog.String("remote_addr", conn.RemoteAddr()),
	)

	err = h.streamMgr.Serve(r.Context(), conn)

	code, reason := websocket.CloseNormalClosure, ""
	switch {
	case errors.Is(err, stream.ErrEngineUnavailable):
		code, reason = websocket.CloseInternalServerErr, closeReasonNotLoaded
	case err != nil:
		h.logger.Debug("WebSocket session ended with error",
			slog.String("conn_id", conn.ID()),
			slog.String("error", err.Error()),
		)
	}

	if err := conn.CloseWithReason(code, reason); err != nil {
		h.logger.Debug("WebSocket close failed",
			slog.String("conn_id", conn.ID()),
			slog.String("error", err.Error()),
		)
	}
}
