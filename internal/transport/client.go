// Package transport maintains the websocket session to the agent gateway. Inbound
// frames are notifications or RPC requests fanned out to the handler; outbound RPCs
// are correlated by id so the engine client methods can block on their responses.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/driftlock/turnbridge/internal/turns"
)

const (
	defaultDialTimeout  = 15 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultCallTimeout  = 60 * time.Second
	pingInterval        = 25 * time.Second
	reconnectBaseDelay  = time.Second
	reconnectMaxDelay   = 30 * time.Second
)

var ErrClosed = errors.New("transport closed")

type Options struct {
	Log     *slog.Logger
	URL     string
	Token   string
	Handler func(turns.Notification)
}

type Client struct {
	log     *slog.Logger
	url     string
	token   string
	handler func(turns.Notification)

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan rpcResponse

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type rpcResponse struct {
	result json.RawMessage
	err    error
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("missing transport url")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		log:     log,
		url:     strings.TrimSpace(opts.URL),
		token:   strings.TrimSpace(opts.Token),
		handler: opts.Handler,
		pending: make(map[string]chan rpcResponse),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Run connects and keeps the session alive until ctx is cancelled or Close is called.
// Reconnects use exponential backoff; in-flight calls fail when their connection dies.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.done)
	delay := reconnectBaseDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stop:
			return ErrClosed
		default:
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.log.Warn("dial failed", "url", c.url, "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.stop:
				return ErrClosed
			case <-time.After(delay):
			}
			if delay *= 2; delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
			continue
		}
		delay = reconnectBaseDelay

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		err = c.readLoop(ctx, conn)
		c.teardownConn(conn, err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-c.stop:
			return ErrClosed
		default:
		}
		c.log.Warn("connection lost, reconnecting", "err", err)
	}
}

// Close tears down the session. Safe to call more than once.
func (c *Client) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.mu.Unlock()
	})
	<-c.done
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ticker.C:
				c.mu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(defaultWriteTimeout))
				c.mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(data)
	}
}

// dispatch routes one raw frame: a frame with a method is a notification or inbound
// RPC request; a frame with only an id is the response to one of our calls.
func (c *Client) dispatch(data []byte) {
	method := gjson.GetBytes(data, "method").String()
	if method == "" {
		id := gjson.GetBytes(data, "id").String()
		if id == "" {
			c.log.Debug("frame without method or id dropped")
			return
		}
		c.deliverResponse(id, data)
		return
	}

	var frame struct {
		Method string         `json:"method"`
		ID     any            `json:"id"`
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		c.log.Debug("malformed frame dropped", "err", err)
		return
	}
	if c.handler != nil {
		c.handler(turns.Notification{
			Method: frame.Method,
			ID:     frame.ID,
			Params: frame.Params,
			Raw:    json.RawMessage(data),
		})
	}
}

func (c *Client) deliverResponse(id string, data []byte) {
	c.mu.Lock()
	ch := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if ch == nil {
		c.log.Debug("response with no pending call", "id", id)
		return
	}

	if errMsg := gjson.GetBytes(data, "error.message").String(); errMsg != "" {
		ch <- rpcResponse{err: errors.New(errMsg)}
		return
	}
	result := gjson.GetBytes(data, "result")
	ch <- rpcResponse{result: json.RawMessage(result.Raw)}
}

func (c *Client) teardownConn(conn *websocket.Conn, cause error) {
	if cause == nil {
		cause = ErrClosed
	}
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	for id, ch := range c.pending {
		ch <- rpcResponse{err: cause}
		delete(c.pending, id)
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	return c.conn.WriteJSON(v)
}

// call issues one JSON-RPC request and waits for its correlated response.
func (c *Client) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	id := uuid.NewString()
	ch := make(chan rpcResponse, 1)

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	frame := map[string]any{"id": id, "method": method, "params": params}
	if err := c.writeJSON(frame); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultCallTimeout)
		defer cancel()
	}
	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case resp := <-ch:
		return resp.result, resp.err
	}
}

// Respond answers an inbound RPC request (approval or user-input) by correlation id.
func (c *Client) Respond(requestID any, result map[string]any) error {
	if requestID == nil {
		return errors.New("missing request id")
	}
	return c.writeJSON(map[string]any{"id": requestID, "result": result})
}

// --- turns.EngineClient ---

func (c *Client) SendMessage(ctx context.Context, workspaceID, threadID, text string, images []string, opts turns.SendOptions) (turns.SendResult, error) {
	params := map[string]any{
		"workspaceId": workspaceID,
		"threadId":    threadID,
		"text":        text,
	}
	if len(images) > 0 {
		params["images"] = images
	}
	if opts.Steer {
		params["steer"] = true
	}
	if strings.TrimSpace(opts.Model) != "" {
		params["model"] = strings.TrimSpace(opts.Model)
	}
	result, err := c.call(ctx, "turn/send", params)
	if err != nil {
		return turns.SendResult{}, err
	}
	return turns.SendResult{
		TurnID:       gjson.GetBytes(result, "turnId").String(),
		ErrorMessage: gjson.GetBytes(result, "error").String(),
	}, nil
}

func (c *Client) Interrupt(ctx context.Context, workspaceID, threadID, turnID string) error {
	params := map[string]any{
		"workspaceId": workspaceID,
		"threadId":    threadID,
	}
	if strings.TrimSpace(turnID) != "" {
		params["turnId"] = strings.TrimSpace(turnID)
	}
	_, err := c.call(ctx, "turn/interrupt", params)
	return err
}

func (c *Client) StartThread(ctx context.Context, workspaceID string, opts turns.StartThreadOptions) (string, error) {
	params := map[string]any{
		"workspaceId": workspaceID,
		"engine":      string(opts.Engine),
	}
	if strings.TrimSpace(opts.Model) != "" {
		params["model"] = strings.TrimSpace(opts.Model)
	}
	result, err := c.call(ctx, "thread/start", params)
	if err != nil {
		return "", err
	}
	threadID := gjson.GetBytes(result, "threadId").String()
	if threadID == "" {
		threadID = gjson.GetBytes(result, "sessionId").String()
	}
	if threadID == "" {
		return "", fmt.Errorf("thread/start returned no thread id")
	}
	return threadID, nil
}

func (c *Client) ResumeThread(ctx context.Context, workspaceID, threadID string) (turns.ThreadSnapshot, error) {
	result, err := c.call(ctx, "thread/resume", map[string]any{
		"workspaceId": workspaceID,
		"threadId":    threadID,
	})
	if err != nil {
		return turns.ThreadSnapshot{}, err
	}
	snap := turns.ThreadSnapshot{ThreadID: threadID}
	if id := gjson.GetBytes(result, "threadId").String(); id != "" {
		snap.ThreadID = id
	}
	for _, item := range gjson.GetBytes(result, "items").Array() {
		if m, ok := item.Value().(map[string]any); ok {
			snap.Items = append(snap.Items, m)
		}
	}
	return snap, nil
}
