// Package fakeapp is an in-process app services backend for tests, examples and
// local development.
//
// It speaks the RPC protocol of pkg/connection over WebSocket at /rpc, serves the
// location endpoint the SDK uses for discovery, and streams collection changes as
// server-sent events. Synced objects of partition p and class C are documents of
// collection <SyncDatabase>.<C> whose _partition field equals p, so remote
// collection access and sync share one data set.
//
// There is no conflict resolution: changes apply in arrival order, last write wins.
//
// The WebSocket side is implemented using the `gws` library.
//
// To inject failures, configure stub responses that match specific RPC methods
// and parameters (see StubResponse).
package fakeapp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/launchdarkly/eventsource"
	"github.com/lxzan/gws"
	"github.com/patrickmn/go-cache"

	"github.com/takameyer/realm.go/internal/store"
	"github.com/takameyer/realm.go/pkg/logger"
	"github.com/takameyer/realm.go/pkg/models"
)

// Server is a fake app services backend
type Server struct {
	cfg    *Config
	logger logger.Logger
	codec  models.Codec

	// data holds every collection, one table per "<db>.<collection>".
	data *store.Store
	// writeMu orders commits to data with the notifications they cause.
	writeMu sync.Mutex

	router     *mux.Router
	httpServer *http.Server
	listener   net.Listener
	upgrader   *gws.Upgrader
	events     *eventsource.Server

	mu            sync.RWMutex
	users         map[string]*user
	emails        map[string]string
	apiKeys       map[string]string
	sessions      map[*gws.Conn]*session
	subscriptions map[string]*subscription
	stubResponses []StubResponse

	accessTokens  *cache.Cache
	refreshTokens *cache.Cache
}

// NewServer creates a fake backend. Call Start to begin serving.
func NewServer(cfg *Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := cfg.Logger
	if l == nil {
		l = logger.Discard
	}

	s := &Server{
		cfg:           cfg,
		logger:        l,
		codec:         models.NewCodec(),
		data:          store.New(models.NewCodec()),
		users:         make(map[string]*user),
		emails:        make(map[string]string),
		apiKeys:       make(map[string]string),
		sessions:      make(map[*gws.Conn]*session),
		subscriptions: make(map[string]*subscription),
		accessTokens:  cache.New(cfg.AccessTokenTTL, 2*cfg.AccessTokenTTL),
		refreshTokens: cache.New(cache.NoExpiration, 0),
	}

	for email, password := range cfg.Users {
		s.addEmailUser(email, password)
	}
	for _, key := range cfg.APIKeys {
		s.addAPIKeyUser(key)
	}

	s.upgrader = gws.NewUpgrader(&handler{server: s}, &gws.ServerOption{
		SubProtocols: []string{"cbor"},
		PermessageDeflate: gws.PermessageDeflate{
			Enabled: true,
		},
	})

	s.events = eventsource.NewServer()
	s.events.Gzip = false
	s.events.AllowCORS = true
	s.events.ReplayAll = true

	s.router = s.routes()
	s.httpServer = &http.Server{Handler: s.router}

	return s, nil
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve failed", "error", err)
		}
	}()

	s.logger.Info("fake app backend listening", "url", s.URL(), "app_id", s.cfg.AppID)
	return nil
}

// Stop closes the listener, all WebSocket connections and all event streams.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	sockets := make([]*gws.Conn, 0, len(s.sessions))
	for socket := range s.sessions {
		sockets = append(sockets, socket)
	}
	s.mu.Unlock()

	for _, socket := range sockets {
		_ = socket.NetConn().Close()
	}

	s.events.Close()
	s.data.Close()
	s.accessTokens.Flush()

	return s.httpServer.Shutdown(ctx)
}

// Address returns the actual address the server is listening on.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// URL is the base URL clients use, e.g. "http://127.0.0.1:9090".
func (s *Server) URL() string {
	return fmt.Sprintf("http://%s", s.Address())
}

func (s *Server) AppID() string {
	return s.cfg.AppID
}

// AddStubResponse adds a stub response configuration to the server.
// Stub responses are matched in the order they were added.
func (s *Server) AddStubResponse(stub StubResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubResponses = append(s.stubResponses, stub)
}

// ClearStubResponses removes every stub response.
func (s *Server) ClearStubResponses() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubResponses = nil
}

// ExpireAccessTokens invalidates every access token, forcing clients to refresh.
func (s *Server) ExpireAccessTokens() {
	s.accessTokens.Flush()
}
