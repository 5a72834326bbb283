// Package gws is a Connection engine built on lxzan/gws.
package gws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/lxzan/gws"

	"github.com/takameyer/realm.go/internal/rand"
	"github.com/takameyer/realm.go/pkg/connection"
	"github.com/takameyer/realm.go/pkg/constants"
	"github.com/takameyer/realm.go/pkg/logger"
)

type Connection struct {
	connection.Toolkit

	conn     *gws.Conn
	connLock sync.Mutex

	Timeout time.Duration

	logger logger.Logger

	connCloseCh    chan struct{}
	closeOnce      sync.Once
	connCloseError error
	closed         atomic.Bool

	dispatchCtx    context.Context
	cancelDispatch context.CancelFunc
}

var _ connection.Connection = (*Connection)(nil)

type websocketHandler struct {
	conn *Connection
}

func (h *websocketHandler) OnOpen(_ *gws.Conn) {}

func (h *websocketHandler) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.WritePong(payload)
}

func (h *websocketHandler) OnPong(_ *gws.Conn, _ []byte) {}

func (h *websocketHandler) OnClose(_ *gws.Conn, err error) {
	if err == nil {
		err = constants.ErrConnectionClosed
	}
	h.conn.closeWithError(err)
}

func (h *websocketHandler) OnMessage(_ *gws.Conn, message *gws.Message) {
	defer message.Close()
	h.conn.handleResponse(message.Bytes())
}

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

// SetTimeout sets the timeout for RPC responses
func (c *Connection) SetTimeout(timeout time.Duration) *Connection {
	c.Timeout = timeout
	return c
}

func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

func (c *Connection) Connect(ctx context.Context) error {
	if err := c.PreConnectionChecks(); err != nil {
		return err
	}

	option := &gws.ClientOption{
		Addr: fmt.Sprintf("%s/rpc", c.BaseURL),
		RequestHeader: http.Header{
			"Sec-WebSocket-Protocol": []string{"cbor"},
		},
		PermessageDeflate: gws.PermessageDeflate{
			Enabled: true,
		},
	}
	if deadline, ok := ctx.Deadline(); ok {
		option.HandshakeTimeout = time.Until(deadline)
	}

	conn, _, err := gws.NewClient(&websocketHandler{conn: c}, option)
	if err != nil {
		return err
	}

	c.connLock.Lock()
	c.conn = conn
	c.connLock.Unlock()

	go conn.ReadLoop()

	return nil
}

func (c *Connection) Close(ctx context.Context) error {
	if c.IsClosed() {
		return nil
	}
	c.closeWithError(constants.ErrConnectionClosed)

	c.connLock.Lock()
	defer c.connLock.Unlock()

	if c.conn == nil {
		return nil
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	}
	if err := c.conn.WriteClose(constants.CloseMessageCode, nil); err != nil {
		c.logger.Error("failed to write close message", "error", err)
	}

	err := c.conn.NetConn().Close()
	c.conn = nil

	return err
}

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

	if c.conn == nil {
		return constants.ErrConnectionClosed
	}

	return c.conn.WriteMessage(gws.OpcodeBinary, data)
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

func (c *Connection) handleResponse(data []byte) {
	var rpcRes connection.RPCResponse[cbor.RawMessage]
	if err := c.Unmarshaler.Unmarshal(data, &rpcRes); err != nil {
		c.logger.Error("failed to decode frame", "error", err)
		return
	}

	if rpcRes.ID != nil && rpcRes.ID != "" {
		responseChan, ok := c.GetResponseChannel(fmt.Sprintf("%v", rpcRes.ID))
		if !ok {
			return
		}
		responseChan <- rpcRes
		return
	}

	if rpcRes.Result == nil {
		c.logger.Error("response without id", "error", fmt.Sprint(rpcRes.Error))
		return
	}

	var notification connection.Notification
	if err := c.Unmarshaler.Unmarshal(*rpcRes.Result, &notification); err != nil {
		c.logger.Error("failed to decode notification", "error", err)
		return
	}

	c.DispatchNotification(c.dispatchCtx, notification)
}
