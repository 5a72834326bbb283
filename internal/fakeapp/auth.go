package fakeapp

import (
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/lxzan/gws"
	"github.com/patrickmn/go-cache"

	"github.com/takameyer/realm.go/internal/rand"
	"github.com/takameyer/realm.go/pkg/connection"
	"github.com/takameyer/realm.go/pkg/connection/rpc"
	"github.com/takameyer/realm.go/pkg/constants"
	"github.com/takameyer/realm.go/pkg/models"
)

const minPasswordLength = 6

type user struct {
	id       string
	provider string
	email    string
	password string
}

func (s *Server) addEmailUser(email, password string) *user {
	u := &user{id: models.NewUUID().String(), provider: rpc.ProviderEmailPassword, email: email, password: password}
	s.users[u.id] = u
	s.emails[email] = u.id
	return u
}

func (s *Server) addAPIKeyUser(key string) *user {
	u := &user{id: models.NewUUID().String(), provider: rpc.ProviderAPIKey}
	s.users[u.id] = u
	s.apiKeys[key] = u.id
	return u
}

// issueTokens mints a token pair for u.
func (s *Server) issueTokens(u *user) rpc.LoginResult {
	access := rand.NewToken(constants.TokenLength)
	refresh := rand.NewToken(constants.TokenLength)
	s.accessTokens.Set(access, u.id, cache.DefaultExpiration)
	s.refreshTokens.Set(refresh, u.id, cache.NoExpiration)

	return rpc.LoginResult{
		UserID:       u.id,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.cfg.AccessTokenTTL / time.Second),
		Provider:     u.provider,
	}
}

func (s *Server) userForAccessToken(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	v, ok := s.accessTokens.Get(token)
	if !ok {
		return "", false
	}
	return v.(string), true
}

var errNotAuthenticated = errors.New("connection is not authenticated")

var errSessionExpired = errors.New("access token expired")

// authorized returns the session of an authenticated socket whose access token
// is still valid.
func (s *Server) authorized(socket *gws.Conn) (*session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[socket]
	var userID, token string
	if ok {
		userID, token = sess.userID, sess.accessToken
	}
	s.mu.RUnlock()
	if userID == "" {
		return nil, errNotAuthenticated
	}
	if _, ok := s.userForAccessToken(token); !ok {
		return nil, errSessionExpired
	}
	return sess, nil
}

func (h *handler) handleLogin(socket *gws.Conn, req *connection.RPCRequest) {
	s := h.server

	var provider string
	if err := s.param(req, 0, &provider); err != nil {
		h.sendError(socket, req.ID, CodeBadRequest, err.Error())
		return
	}
	creds := map[string]any{}
	if len(req.Params) > 1 {
		if err := s.param(req, 1, &creds); err != nil {
			h.sendError(socket, req.ID, CodeBadRequest, err.Error())
			return
		}
	}

	s.mu.Lock()
	var u *user
	switch provider {
	case rpc.ProviderAnonymous:
		u = &user{id: models.NewUUID().String(), provider: provider}
		s.users[u.id] = u
	case rpc.ProviderEmailPassword:
		email, _ := models.AsString(creds["username"])
		password, _ := models.AsString(creds["password"])
		if id, ok := s.emails[email]; ok && s.users[id].password == password {
			u = s.users[id]
		}
	case rpc.ProviderAPIKey:
		key, _ := models.AsString(creds["key"])
		if id, ok := s.apiKeys[key]; ok {
			u = s.users[id]
		}
	default:
		s.mu.Unlock()
		h.sendError(socket, req.ID, CodeBadRequest, fmt.Sprintf("unknown authentication provider %q", provider))
		return
	}
	s.mu.Unlock()

	if u == nil {
		h.sendError(socket, req.ID, CodeAuthError, "invalid username/password")
		return
	}

	s.logger.Debug("user logged in", "user_id", u.id, "provider", provider)
	h.sendResponse(socket, req.ID, s.issueTokens(u))
}

func (h *handler) handleRefresh(socket *gws.Conn, req *connection.RPCRequest) {
	s := h.server

	var refresh string
	if err := s.param(req, 0, &refresh); err != nil {
		h.sendError(socket, req.ID, CodeBadRequest, err.Error())
		return
	}

	v, ok := s.refreshTokens.Get(refresh)
	if !ok {
		h.sendError(socket, req.ID, CodeInvalidSession, "invalid refresh token")
		return
	}

	access := rand.NewToken(constants.TokenLength)
	s.accessTokens.Set(access, v.(string), cache.DefaultExpiration)

	h.sendResponse(socket, req.ID, rpc.RefreshResult{
		AccessToken: access,
		ExpiresIn:   int64(s.cfg.AccessTokenTTL / time.Second),
	})
}

func (h *handler) handleRegister(socket *gws.Conn, req *connection.RPCRequest) {
	s := h.server

	var email, password string
	if err := s.param(req, 0, &email); err != nil {
		h.sendError(socket, req.ID, CodeBadRequest, err.Error())
		return
	}
	if err := s.param(req, 1, &password); err != nil {
		h.sendError(socket, req.ID, CodeBadRequest, err.Error())
		return
	}
	if _, err := mail.ParseAddress(email); err != nil {
		h.sendError(socket, req.ID, CodeBadRequest, fmt.Sprintf("invalid email %q", email))
		return
	}
	if len(password) < minPasswordLength {
		h.sendError(socket, req.ID, CodeBadRequest, fmt.Sprintf("password must be at least %d characters", minPasswordLength))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.emails[email]; exists {
		h.sendError(socket, req.ID, CodeAccountNameInUse, "name already in use")
		return
	}
	s.addEmailUser(email, password)
	h.sendResponse(socket, req.ID, nil)
}

func (h *handler) handleAuthenticate(socket *gws.Conn, req *connection.RPCRequest) {
	s := h.server

	var token string
	if err := s.param(req, 0, &token); err != nil {
		h.sendError(socket, req.ID, CodeBadRequest, err.Error())
		return
	}

	userID, ok := s.userForAccessToken(token)
	if !ok {
		h.sendError(socket, req.ID, CodeInvalidSession, "invalid session")
		return
	}

	s.mu.Lock()
	sess, ok := s.sessions[socket]
	if ok {
		sess.userID = userID
		sess.accessToken = token
	}
	s.mu.Unlock()

	h.sendResponse(socket, req.ID, nil)
}

func (h *handler) handleLogout(socket *gws.Conn, sess *session, req *connection.RPCRequest) {
	s := h.server

	var refresh string
	if err := s.param(req, 0, &refresh); err != nil {
		h.sendError(socket, req.ID, CodeBadRequest, err.Error())
		return
	}

	s.refreshTokens.Delete(refresh)

	s.mu.Lock()
	s.accessTokens.Delete(sess.accessToken)
	for id := range sess.subs {
		delete(s.subscriptions, id)
	}
	sess.subs = make(map[string]*subscription)
	sess.userID = ""
	sess.accessToken = ""
	s.mu.Unlock()

	h.sendResponse(socket, req.ID, nil)
}
