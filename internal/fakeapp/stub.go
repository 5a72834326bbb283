package fakeapp

import (
	"time"

	"github.com/takameyer/realm.go/pkg/connection"
)

// FailureType represents the type of failure to inject while answering a request
type FailureType string

const (
	// FailureNone answers normally
	FailureNone FailureType = ""
	// FailureNoResponse swallows the request
	FailureNoResponse FailureType = "no_response"
	// FailureDropConnection immediately closes the underlying network connection
	FailureDropConnection FailureType = "drop_connection"
	// FailureWebSocketClose sends a WebSocket close frame
	FailureWebSocketClose FailureType = "websocket_close"
)

// RequestMatcher defines criteria for matching incoming RPC requests.
// It can match by method name and optionally by parameter values.
type RequestMatcher struct {
	// Method is the RPC method name to match
	Method connection.RPCFunction
	// Matcher is an optional function to match based on request parameters.
	// If nil, only the method name is used for matching.
	Matcher func(params []any) bool
}

// StubResponse defines a pre-configured answer for matching requests. Stubs take
// precedence over the built-in behavior of every method, authentication included.
type StubResponse struct {
	// Matcher determines which requests this stub should handle
	Matcher RequestMatcher
	// Result is the successful result to return (mutually exclusive with Error)
	Result any
	// Error is the error to return (mutually exclusive with Result)
	Error *connection.RPCError
	// Delay is waited before answering
	Delay time.Duration
	// Failure replaces the answer with an injected failure
	Failure FailureType
	// Times limits how often the stub applies. Zero means always.
	Times int
}

func (s *Server) matchStub(req *connection.RPCRequest) (StubResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.stubResponses {
		stub := &s.stubResponses[i]
		if string(stub.Matcher.Method) != req.Method {
			continue
		}
		if stub.Matcher.Matcher != nil && !stub.Matcher.Matcher(req.Params) {
			continue
		}

		matched := *stub
		if stub.Times > 0 {
			stub.Times--
			if stub.Times == 0 {
				s.stubResponses = append(s.stubResponses[:i], s.stubResponses[i+1:]...)
			}
		}
		return matched, true
	}
	return StubResponse{}, false
}
