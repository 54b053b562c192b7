package authority

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AstroMined/settings-extension-sub002/internal/bus"
	"github.com/AstroMined/settings-extension-sub002/internal/logging"
	"github.com/AstroMined/settings-extension-sub002/internal/protocol"
	"github.com/AstroMined/settings-extension-sub002/internal/registry"
)

const writeTimeout = 10 * time.Second

// Authority serves the inter-context channel. Each connected context issues
// request/response envelopes and receives broadcast frames on the same
// WebSocket connection.
type Authority struct {
	registry *registry.Registry
	hub      *bus.Hub
	logger   logging.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates an authority over an initialized registry. The hub must be the
// same one the registry publishes to.
func New(reg *registry.Registry, hub *bus.Hub, logger logging.Logger) *Authority {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Authority{
		registry: reg,
		hub:      hub,
		logger:   logger.With("component", "authority"),
	}
}

// Listen binds addr. Exposed separately from Serve so callers can learn the
// bound address before serving (tests bind ":0").
func (a *Authority) Listen(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", a.handleWS)
	a.mu.Lock()
	a.listener = ln
	a.server = &http.Server{Handler: mux}
	a.mu.Unlock()
	return ln.Addr().String(), nil
}

// Serve accepts connections until Shutdown. Call Listen first.
func (a *Authority) Serve() error {
	a.mu.Lock()
	server, listener := a.server, a.listener
	a.mu.Unlock()
	if server == nil {
		return errors.New("authority: Serve called before Listen")
	}
	err := server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and closes the live ones.
func (a *Authority) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	server := a.server
	a.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (a *Authority) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := &wsConn{ws: ws}
	log := a.logger.With("remote", r.RemoteAddr)
	log.Debug("context connected")

	// Every connection is a broadcast subscriber. A write failure here is
	// isolated by the hub; the read loop below notices the dead conn.
	unsubscribe := a.hub.Subscribe(func(b protocol.Broadcast) error {
		return c.writeJSON(b)
	})
	defer func() {
		unsubscribe()
		_ = ws.Close()
		log.Debug("context disconnected")
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("read failed", "error", err)
			}
			return
		}
		var req protocol.Request
		if err := json.Unmarshal(data, &req); err != nil {
			log.Warn("malformed request", "error", err)
			_ = c.writeJSON(protocol.Response{Error: "malformed request"})
			continue
		}
		resp := a.Dispatch(r.Context(), req)
		if err := c.writeJSON(resp); err != nil {
			log.Warn("write failed", "error", err)
			return
		}
	}
}

// wsConn serializes writes: the dispatch loop and the broadcast subscriber
// share one connection.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}
