// ABOUTME: WebSocket JSON-RPC client for talking to a running rpcd
// ABOUTME: Correlates responses to calls by id over one persistent connection

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	rpcerrors "github.com/harper/rpcd/internal/errors"
	"github.com/harper/rpcd/internal/jsonrpc"
	"github.com/harper/rpcd/internal/logger"
)

// ErrClosed is returned for calls on a closed or broken connection.
var ErrClosed = errors.New("client: connection closed")

const (
	dialTimeout = 30 * time.Second
	writeWait   = 5 * time.Second
)

type Client struct {
	url     string
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *jsonrpc.Response
	closed  bool
	readErr error

	done      chan struct{}
	closeOnce sync.Once
	messageID atomic.Uint64
}

// Dial connects to a ws:// or wss:// url.
func Dial(ctx context.Context, url string) (*Client, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dialTimeout)
		defer cancel()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil) //nolint:bodyclose // websocket connection, not HTTP response
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		url:     url,
		conn:    conn,
		pending: make(map[string]chan *jsonrpc.Response),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Call sends a request and waits for the response with the same id.
// JSON-RPC error responses are returned as responses, not errors.
func (c *Client) Call(ctx context.Context, method string, params any) (*jsonrpc.Response, error) {
	id := c.messageID.Add(1)
	key := strconv.FormatUint(id, 10)
	ch := make(chan *jsonrpc.Response, 1)

	c.mu.Lock()
	if c.closed {
		err := c.closedErr()
		c.mu.Unlock()
		return nil, err
	}
	c.pending[key] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}()

	if err := c.write(jsonrpc.NewCall(method, params, id)); err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			c.mu.Lock()
			defer c.mu.Unlock()
			return nil, c.closedErr()
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CallResult is Call that decodes the result into out. An error response
// becomes a *errors.ResponseError.
func (c *Client) CallResult(ctx context.Context, method string, params any, out any) error {
	resp, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if bag := resp.Error(); bag != nil {
		return rpcerrors.New(bag.Code(), bag.Message(), bag.Data())
	}
	if out == nil {
		return nil
	}
	raw, ok := resp.Result().(json.RawMessage)
	if !ok {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// Notify sends a request without an id. No response is expected.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return c.write(jsonrpc.NewNotification(method, params))
}

// Close closes the connection. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	c.fail(nil)
	return err
}

func (c *Client) write(req *jsonrpc.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				c.fail(nil)
			default:
				c.fail(fmt.Errorf("read: %w", err))
			}
			return
		}

		var resp jsonrpc.Response
		if err := json.Unmarshal(msg, &resp); err != nil {
			logger.Debug("[client] skipping malformed message: %v", err)
			continue
		}
		if resp.ID() == nil {
			logger.Warn("[client] server error without id: %s", msg)
			continue
		}

		key := fmt.Sprint(resp.ID())
		c.mu.Lock()
		ch, ok := c.pending[key]
		delete(c.pending, key)
		c.mu.Unlock()
		if ok {
			ch <- &resp
		}
	}
}

// fail marks the client closed and wakes every pending call.
func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.readErr = err
	for key, ch := range c.pending {
		close(ch)
		delete(c.pending, key)
	}
}

func (c *Client) closedErr() error {
	if c.readErr != nil {
		return fmt.Errorf("%w: %v", ErrClosed, c.readErr)
	}
	return ErrClosed
}
