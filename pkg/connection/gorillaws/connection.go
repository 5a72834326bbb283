// Package gorillaws is the default Connection engine, built on gorilla/websocket.
package gorillaws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	gorilla "github.com/gorilla/websocket"

	"github.com/takameyer/realm.go/internal/rand"
	"github.com/takameyer/realm.go/pkg/connection"
	"github.com/takameyer/realm.go/pkg/constants"
	"github.com/takameyer/realm.go/pkg/logger"
)

// DefaultDialer is gorilla's default dialer with compression enabled and the
// "cbor" subprotocol requested.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
	Subprotocols:      []string{"cbor"},
}

type Option func(ws *Connection) error

type Connection struct {
	connection.Toolkit

	Conn *gorilla.Conn
	// connLock guards Conn. It is held only around single reads of the field and
	// writes to the socket, never across dialing.
	connLock sync.Mutex

	// Timeout bounds the wait for each RPC response once the request is written.
	// Zero disables it; callers then rely on their context.
	Timeout time.Duration

	Option []Option
	logger logger.Logger

	// connCloseCh is closed when the connection goes away, by Close or by a read error.
	connCloseCh    chan struct{}
	closeOnce      sync.Once
	connCloseError error

	// dispatchCtx is canceled on close so that a read loop blocked on a slow
	// notification consumer can exit.
	dispatchCtx    context.Context
	cancelDispatch context.CancelFunc

	// closed never flips back. Reconnecting means creating a new Connection.
	closed atomic.Bool
}

var _ connection.Connection = (*Connection)(nil)

func New(p *connection.Config) *Connection {
	l := p.Logger
	if l == nil {
		l = logger.Discard
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		Toolkit:        connection.NewToolkit(p),
		Timeout:        p.Timeout,
		logger:         l,
		connCloseCh:    make(chan struct{}),
		dispatchCtx:    ctx,
		cancelDispatch: cancel,
	}
}

// IsClosed reports whether the socket has been closed, locally or by the peer.
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// Connect dials <BaseURL>/rpc and starts the read loop.
func (c *Connection) Connect(ctx context.Context) error {
	if err := c.PreConnectionChecks(); err != nil {
		return err
	}

	conn, res, err := DefaultDialer.DialContext(ctx, fmt.Sprintf("%s/rpc", c.BaseURL), nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	c.connLock.Lock()
	defer c.connLock.Unlock()

	c.Conn = conn

	for _, option := range c.Option {
		if err := option(c); err != nil {
			return err
		}
	}

	go c.readLoop(conn)

	return nil
}

func (c *Connection) SetTimeOut(timeout time.Duration) *Connection {
	c.Option = append(c.Option, func(ws *Connection) error {
		ws.Timeout = timeout
		return nil
	})
	return c
}

func (c *Connection) Logger(l logger.Logger) *Connection {
	c.logger = l
	return c
}

func (c *Connection) SetCompression(compress bool) *Connection {
	c.Option = append(c.Option, func(ws *Connection) error {
		ws.Conn.EnableWriteCompression(compress)
		return nil
	})
	return c
}

// Close sends a close frame, bounded by ctx, and then closes the socket.
// The socket is closed even when ctx expires before the close frame is written.
func (c *Connection) Close(ctx context.Context) error {
	if c.IsClosed() {
		return nil
	}
	c.closeWithError(constants.ErrConnectionClosed)

	c.connLock.Lock()
	defer c.connLock.Unlock()

	conn := c.Conn
	c.Conn = nil
	if conn == nil {
		return nil
	}

	writeErr := make(chan error, 1)

	go func() {
		if deadline, ok := ctx.Deadline(); ok {
			if err := conn.SetWriteDeadline(deadline); err != nil {
				writeErr <- fmt.Errorf("BUG: Connection.Close: failed to set write deadline: %w", err)
				return
			}
		}

		writeErr <- conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(constants.CloseMessageCode, ""))
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			c.logger.Error("failed to write close message", "error", err)
		}
	case <-ctx.Done():
	}

	return conn.Close()
}

// Send writes an RPC request and waits for the response with the same id.
// An RPC-level error is returned as *connection.RPCError.
func (c *Connection) Send(ctx context.Context, method string, params ...any) (*connection.RPCResponse[cbor.RawMessage], error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	select {
	case <-c.connCloseCh:
		return nil, c.closeError()
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	id := rand.NewRequestID(constants.RequestIDLength)
	request := &connection.RPCRequest{
		ID:     id,
		Method: method,
		Params: params,
	}

	responseChan, err := c.CreateResponseChannel(id)
	if err != nil {
		return nil, err
	}
	defer c.RemoveResponseChannel(id)

	if err := c.write(request); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", constants.ErrTimeout, method)
		}
		return nil, ctx.Err()
	case <-c.connCloseCh:
		return nil, c.closeError()
	case res := <-responseChan:
		if res.Error != nil {
			return nil, res.Error
		}
		return &res, nil
	}
}

func (c *Connection) write(v any) error {
	data, err := c.Marshaler.Marshal(v)
	if err != nil {
		return err
	}

	c.connLock.Lock()
	defer c.connLock.Unlock()

	if c.Conn == nil {
		return constants.ErrConnectionClosed
	}

	err = c.Conn.WriteMessage(gorilla.BinaryMessage, data)
	if errors.Is(err, gorilla.ErrCloseSent) {
		c.closeWithError(err)
	}

	return err
}

func (c *Connection) closeError() error {
	if c.connCloseError != nil {
		return c.connCloseError
	}
	return constants.ErrConnectionClosed
}

func (c *Connection) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.connCloseError = err
		c.closed.Store(true)
		close(c.connCloseCh)
		c.cancelDispatch()
		c.CloseAllNotifications()
	})
}

func (c *Connection) readLoop(conn *gorilla.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.closeWithError(c.classifyReadError(err))
			return
		}
		c.handleResponse(data)
	}
}

func (c *Connection) classifyReadError(err error) error {
	switch {
	case errors.Is(err, net.ErrClosed):
		return constants.ErrConnectionClosed
	case gorilla.IsCloseError(err, gorilla.CloseNormalClosure):
		return constants.ErrConnectionClosed
	case gorilla.IsUnexpectedCloseError(err):
		c.logger.Warn("connection closed unexpectedly", "error", err)
		return io.ErrClosedPipe
	default:
		c.logger.Error("read failed", "error", err)
		return err
	}
}

// handleResponse runs on the read loop so that notifications of one
// subscription are delivered in the order the server sent them.
func (c *Connection) handleResponse(data []byte) {
	var rpcRes connection.RPCResponse[cbor.RawMessage]
	if err := c.Unmarshaler.Unmarshal(data, &rpcRes); err != nil {
		c.logger.Error("failed to decode frame", "error", err)
		return
	}

	if rpcRes.ID != nil && rpcRes.ID != "" {
		responseChan, ok := c.GetResponseChannel(fmt.Sprintf("%v", rpcRes.ID))
		if !ok {
			c.logger.Warn("response for unknown request", "id", fmt.Sprint(rpcRes.ID))
			return
		}
		responseChan <- rpcRes
		return
	}

	if rpcRes.Result == nil {
		// An error without an id cannot be paired with a request.
		c.logger.Error("response without id", "error", fmt.Sprint(rpcRes.Error))
		return
	}

	var notification connection.Notification
	if err := c.Unmarshaler.Unmarshal(*rpcRes.Result, &notification); err != nil {
		c.logger.Error("failed to decode notification", "error", err)
		return
	}

	if !c.DispatchNotification(c.dispatchCtx, notification) {
		c.logger.Debug("dropped notification without listener", "id", fmt.Sprint(notification.ID))
	}
}
