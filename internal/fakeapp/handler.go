package fakeapp

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/lxzan/gws"

	"github.com/takameyer/realm.go/pkg/connection"
	"github.com/takameyer/realm.go/pkg/models"
)

// Error codes sent in connection.RPCError.Code.
const (
	CodeInvalidSession       = "InvalidSession"
	CodeAuthError            = "AuthError"
	CodeAccountNameInUse     = "AccountNameInUse"
	CodeBadRequest           = "BadRequest"
	CodeSubscriptionNotFound = "SubscriptionNotFound"
	CodeMethodNotFound       = "FunctionNotFound"
	CodeDuplicateKey         = "DuplicateKey"
	CodeInternal             = "InternalServerError"
)

// session is the per-socket state. userID and accessToken are empty until the
// socket authenticates.
type session struct {
	userID      string
	accessToken string
	subs        map[string]*subscription
}

// handler implements the gws.Event interface for WebSocket connections
type handler struct {
	server *Server
}

func (h *handler) OnOpen(socket *gws.Conn) {
	h.server.mu.Lock()
	h.server.sessions[socket] = &session{subs: make(map[string]*subscription)}
	h.server.mu.Unlock()
}

func (h *handler) OnClose(socket *gws.Conn, err error) {
	h.server.mu.Lock()
	if sess, ok := h.server.sessions[socket]; ok {
		for id := range sess.subs {
			delete(h.server.subscriptions, id)
		}
	}
	delete(h.server.sessions, socket)
	h.server.mu.Unlock()
}

func (h *handler) OnPing(socket *gws.Conn, payload []byte) {
	if err := socket.WritePong(payload); err != nil {
		h.server.logger.Warn("error writing pong", "error", err)
	}
}

func (h *handler) OnPong(socket *gws.Conn, payload []byte) {
}

func (h *handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	var req connection.RPCRequest
	if err := h.server.codec.Unmarshal(message.Bytes(), &req); err != nil {
		h.sendError(socket, nil, CodeBadRequest, "parse error")
		return
	}

	if stub, ok := h.server.matchStub(&req); ok {
		h.replyStub(socket, &req, stub)
		return
	}

	switch connection.RPCFunction(req.Method) {
	case connection.Login:
		h.handleLogin(socket, &req)
		return
	case connection.Refresh:
		h.handleRefresh(socket, &req)
		return
	case connection.Register:
		h.handleRegister(socket, &req)
		return
	case connection.Authenticate:
		h.handleAuthenticate(socket, &req)
		return
	}

	sess, err := h.server.authorized(socket)
	if err != nil {
		h.sendError(socket, req.ID, CodeInvalidSession, err.Error())
		return
	}

	switch connection.RPCFunction(req.Method) {
	case connection.Logout:
		h.handleLogout(socket, sess, &req)
	case connection.Subscribe:
		h.handleSubscribe(socket, sess, &req)
	case connection.Unsubscribe:
		h.handleUnsubscribe(socket, sess, &req)
	case connection.Upload:
		h.handleUpload(socket, sess, &req)
	case connection.InsertOne:
		h.handleInsertOne(socket, &req)
	case connection.FindOne:
		h.handleFindOne(socket, &req)
	case connection.Find:
		h.handleFind(socket, &req)
	case connection.UpdateOne:
		h.handleUpdateOne(socket, &req)
	case connection.DeleteOne:
		h.handleDeleteOne(socket, &req)
	case connection.Count:
		h.handleCount(socket, &req)
	default:
		h.sendError(socket, req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *handler) replyStub(socket *gws.Conn, req *connection.RPCRequest, stub StubResponse) {
	if stub.Delay > 0 {
		time.Sleep(stub.Delay)
	}

	switch stub.Failure {
	case FailureDropConnection:
		_ = socket.NetConn().Close()
		return
	case FailureWebSocketClose:
		_ = socket.WriteClose(1001, []byte("failure injection"))
		return
	case FailureNoResponse:
		return
	}

	if stub.Error != nil {
		h.sendError(socket, req.ID, stub.Error.Code, stub.Error.Message)
		return
	}
	h.sendResponse(socket, req.ID, stub.Result)
}

func (h *handler) sendResponse(socket *gws.Conn, id, result any) {
	var resp connection.RPCResponse[any]
	resp.ID = id
	resp.Result = &result

	data, err := h.server.codec.Marshal(resp)
	if err != nil {
		h.sendError(socket, id, CodeInternal, fmt.Sprintf("sendResponse: %v", err))
		return
	}

	if err := socket.WriteMessage(gws.OpcodeBinary, data); err != nil {
		h.server.logger.Warn("error writing response", "error", err)
	}
}

func (h *handler) sendError(socket *gws.Conn, id any, code, message string) {
	var resp connection.RPCResponse[any]
	resp.ID = id
	resp.Error = &connection.RPCError{
		Code:    code,
		Message: message,
	}

	data, err := h.server.codec.Marshal(resp)
	if err != nil {
		h.server.logger.Error("failed to marshal error response", "error", err)
		return
	}

	if err := socket.WriteMessage(gws.OpcodeBinary, data); err != nil {
		h.server.logger.Warn("error writing error response", "error", err)
	}
}

// notify pushes a notification for subscription id.
func (s *Server) notify(socket *gws.Conn, id models.UUID, action connection.Action, payload any) {
	raw, err := s.codec.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal notification", "error", err)
		return
	}

	var resp connection.RPCResponse[connection.Notification]
	resp.Result = &connection.Notification{
		ID:     &id,
		Action: action,
		Result: cbor.RawMessage(raw),
	}

	data, err := s.codec.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to marshal notification", "error", err)
		return
	}

	if err := socket.WriteMessage(gws.OpcodeBinary, data); err != nil {
		s.logger.Warn("error writing notification", "error", err)
	}
}

// param decodes req.Params[i] into dst by re-encoding it, so handlers can work
// with typed values instead of the generic decoded form.
func (s *Server) param(req *connection.RPCRequest, i int, dst any) error {
	if i >= len(req.Params) {
		return fmt.Errorf("%s: missing parameter %d", req.Method, i)
	}
	data, err := s.codec.Marshal(req.Params[i])
	if err != nil {
		return fmt.Errorf("%s: parameter %d: %w", req.Method, i, err)
	}
	if err := s.codec.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%s: parameter %d: %w", req.Method, i, err)
	}
	return nil
}
