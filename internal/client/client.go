// Package client connects a context without direct store access to the
// authority. Requests are correlated by ID over one WebSocket connection;
// broadcast frames arriving on the same connection are surfaced through a
// handler callback.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AstroMined/settings-extension-sub002/internal/logging"
	"github.com/AstroMined/settings-extension-sub002/internal/protocol"
	"github.com/AstroMined/settings-extension-sub002/internal/store"
)

// BroadcastHandler receives settings-changed notifications.
type BroadcastHandler func(protocol.Broadcast)

// Client is one remote context's connection to the authority.
type Client struct {
	ws     *websocket.Conn
	logger logging.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan protocol.Response
	onCast  BroadcastHandler
	closed  bool
	done    chan struct{}
}

// Dial connects to the authority at addr (host:port). onBroadcast may be nil.
func Dial(ctx context.Context, addr string, onBroadcast BroadcastHandler, logger logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to reach authority at %s: %w", addr, err)
	}
	c := &Client{
		ws:      ws,
		logger:  logger.With("component", "client"),
		pending: make(map[string]chan protocol.Response),
		onCast:  onBroadcast,
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close tears the connection down. In-flight requests fail.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	err := c.ws.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer c.failPending()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		// Broadcast frames carry a type; responses carry the request ID.
		var probe struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			c.logger.Warn("malformed server frame", "error", err)
			continue
		}
		if protocol.IsBroadcastType(probe.Type) {
			var b protocol.Broadcast
			if err := json.Unmarshal(data, &b); err != nil {
				c.logger.Warn("malformed broadcast", "error", err)
				continue
			}
			if c.onCast != nil {
				c.onCast(b)
			}
			continue
		}
		var resp protocol.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Warn("malformed response", "error", err)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) failPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan protocol.Response)
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

// request sends req and waits for its correlated response.
func (c *Client) request(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	req.ID = uuid.NewString()
	ch := make(chan protocol.Response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return protocol.Response{}, fmt.Errorf("client is closed")
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.ws.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return protocol.Response{}, fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return protocol.Response{}, fmt.Errorf("connection closed before response")
		}
		if resp.Error != "" {
			return protocol.Response{}, fmt.Errorf("%s", resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return protocol.Response{}, ctx.Err()
	}
}

// Get fetches one setting value.
func (c *Client) Get(ctx context.Context, key string) (any, error) {
	resp, err := c.request(ctx, protocol.Request{Type: protocol.MsgGetSetting, Key: key})
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// GetMany fetches several setting values.
func (c *Client) GetMany(ctx context.Context, keys []string) (map[string]any, error) {
	resp, err := c.request(ctx, protocol.Request{Type: protocol.MsgGetSettings, Keys: keys})
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// GetAll fetches the full settings map.
func (c *Client) GetAll(ctx context.Context) (map[string]store.Record, error) {
	resp, err := c.request(ctx, protocol.Request{Type: protocol.MsgGetAllSettings})
	if err != nil {
		return nil, err
	}
	return resp.Settings, nil
}

// Set updates one setting.
func (c *Client) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("value not serializable: %w", err)
	}
	_, err = c.request(ctx, protocol.Request{Type: protocol.MsgUpdateSetting, Key: key, Value: raw})
	return err
}

// SetMany updates several settings atomically.
func (c *Client) SetMany(ctx context.Context, updates map[string]any) error {
	encoded := make(map[string]json.RawMessage, len(updates))
	for key, value := range updates {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("key %q not serializable: %w", key, err)
		}
		encoded[key] = raw
	}
	_, err := c.request(ctx, protocol.Request{Type: protocol.MsgUpdateSettings, Updates: encoded})
	return err
}

// Export fetches the export file.
func (c *Client) Export(ctx context.Context) (*protocol.ExportFile, error) {
	resp, err := c.request(ctx, protocol.Request{Type: protocol.MsgExportSettings})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Import applies an export file.
func (c *Client) Import(ctx context.Context, data []byte) error {
	_, err := c.request(ctx, protocol.Request{Type: protocol.MsgImportSettings, Data: data})
	return err
}

// Reset restores schema defaults.
func (c *Client) Reset(ctx context.Context) error {
	_, err := c.request(ctx, protocol.Request{Type: protocol.MsgResetSettings})
	return err
}
