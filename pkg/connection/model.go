package connection

import "fmt"

// RPCError is the error half of an RPCResponse.
//
// Code carries the app services error code name (e.g. "InvalidSession",
// "AuthError", "DuplicateKey") so callers can branch on it.
type RPCError struct {
	Code        string `json:"code" cbor:"code"`
	Message     string `json:"message,omitempty" cbor:"message,omitempty"`
	Description string `json:"description,omitempty" cbor:"description,omitempty"`
}

func (r RPCError) Error() string {
	msg := r.Message
	if r.Description != "" {
		msg = r.Description
	}
	if r.Code == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", r.Code, msg)
}

// Is reports whether target is an RPCError with the same code.
// An RPCError with an empty code matches any RPCError.
func (r *RPCError) Is(target error) bool {
	if target == nil {
		return r == nil
	}

	t, ok := target.(*RPCError)
	if !ok {
		return false
	}
	return t.Code == "" || t.Code == r.Code
}

// RPCRequest is the frame a client sends.
type RPCRequest struct {
	ID     any    `json:"id" cbor:"id"`
	Method string `json:"method,omitempty" cbor:"method,omitempty"`
	Params []any  `json:"params,omitempty" cbor:"params,omitempty"`
}

// RPCResponse is the frame a server sends, either in reply to an RPCRequest
// (ID set) or as a notification (ID empty, Result holds a Notification).
type RPCResponse[T any] struct {
	ID     any       `json:"id" cbor:"id"`
	Error  *RPCError `json:"error,omitempty" cbor:"error,omitempty"`
	Result *T        `json:"result,omitempty" cbor:"result,omitempty"`
}

type RPCFunction string

var (
	// authentication
	Login        RPCFunction = "login"
	Refresh      RPCFunction = "refresh"
	Logout       RPCFunction = "logout"
	Register     RPCFunction = "register"
	Authenticate RPCFunction = "authenticate"

	// partition sync
	Subscribe   RPCFunction = "subscribe"
	Unsubscribe RPCFunction = "unsubscribe"
	Upload      RPCFunction = "upload"

	// remote collection access
	InsertOne RPCFunction = "insertOne"
	FindOne   RPCFunction = "findOne"
	Find      RPCFunction = "find"
	UpdateOne RPCFunction = "updateOne"
	DeleteOne RPCFunction = "deleteOne"
	Count     RPCFunction = "count"
)
