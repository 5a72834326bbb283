package realm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/takameyer/realm.go/pkg/connection"
	"github.com/takameyer/realm.go/pkg/connection/rpc"
	"github.com/takameyer/realm.go/pkg/constants"
)

type UserState int

const (
	UserStateLoggedIn UserState = iota
	UserStateLoggedOut
	UserStateRemoved
)

func (s UserState) String() string {
	switch s {
	case UserStateLoggedIn:
		return "LoggedIn"
	case UserStateLoggedOut:
		return "LoggedOut"
	case UserStateRemoved:
		return "Removed"
	}
	return fmt.Sprintf("UserState(%d)", int(s))
}

// User is an identity logged in to an App.
//
// Each user owns one RPC connection, authenticated with the user's access token.
// Access tokens are refreshed on expiry and whenever the server reports an
// invalid session.
type User struct {
	app      *App
	id       string
	provider string

	mu           sync.Mutex
	state        UserState
	conn         connection.Connection
	authedToken  string
	refreshToken string
	tokens       oauth2.TokenSource
	sessions     map[*SyncSession]struct{}
}

func newUser(app *App, res *rpc.LoginResult, conn connection.Connection) *User {
	u := &User{
		app:      app,
		id:       res.UserID,
		provider: res.Provider,
		sessions: make(map[*SyncSession]struct{}),
	}
	u.loggedIn(res, conn)
	return u
}

// loggedIn installs fresh tokens and an authenticated connection.
func (u *User) loggedIn(res *rpc.LoginResult, conn connection.Connection) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.conn != nil && u.conn != conn {
		old := u.conn
		go func() { _ = old.Close(context.Background()) }()
	}
	u.conn = conn
	u.authedToken = res.AccessToken
	u.refreshToken = res.RefreshToken
	u.tokens = oauth2.ReuseTokenSource(&oauth2.Token{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       expiry(res.ExpiresIn),
	}, &tokenRefresher{user: u})
	u.state = UserStateLoggedIn
}

func expiry(seconds int64) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}

func (u *User) ID() string {
	return u.id
}

// Provider returns the authentication provider the user logged in with.
func (u *User) Provider() string {
	return u.provider
}

func (u *User) State() UserState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

func (u *User) setState(s UserState) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.state = s
}

func (u *User) String() string {
	return fmt.Sprintf("User(%s, %s)", u.id, u.provider)
}

// AccessToken returns a valid access token, refreshing it if it expired.
func (u *User) AccessToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	src, err := u.tokenSource()
	if err != nil {
		return "", err
	}
	tok, err := src.Token()
	if err != nil {
		return "", wrapError(err)
	}
	return tok.AccessToken, nil
}

func (u *User) tokenSource() (oauth2.TokenSource, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != UserStateLoggedIn {
		return nil, constants.ErrUserLoggedOut
	}
	return u.tokens, nil
}

// tokenRefresher is the oauth2.TokenSource behind the reusable token source. It
// exchanges the refresh token for a new access token.
type tokenRefresher struct {
	user *User
}

func (r *tokenRefresher) Token() (*oauth2.Token, error) {
	u := r.user
	ctx, cancel := context.WithTimeout(context.Background(), u.app.cfg.RequestTimeout)
	defer cancel()

	conn, err := u.dial(ctx)
	if err != nil {
		return nil, err
	}

	u.mu.Lock()
	refreshToken := u.refreshToken
	u.mu.Unlock()

	res, err := rpc.Refresh(conn, ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	u.app.logger.Debug("access token refreshed", "user", u.id)

	return &oauth2.Token{
		AccessToken:  res.AccessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		Expiry:       expiry(res.ExpiresIn),
	}, nil
}

// dial returns the user's connection, reconnecting if the previous one was closed.
func (u *User) dial(ctx context.Context) (connection.Connection, error) {
	if u.app.isClosed() {
		return nil, constants.ErrAppClosed
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state != UserStateLoggedIn {
		return nil, constants.ErrUserLoggedOut
	}
	if u.conn != nil && !u.conn.IsClosed() {
		return u.conn, nil
	}

	conn, err := u.app.connect(ctx)
	if err != nil {
		return nil, err
	}
	u.conn = conn
	u.authedToken = ""
	return conn, nil
}

// connection returns the user's connection, authenticated with a valid access token.
func (u *User) connection(ctx context.Context) (connection.Connection, error) {
	conn, err := u.dial(ctx)
	if err != nil {
		return nil, err
	}

	src, err := u.tokenSource()
	if err != nil {
		return nil, err
	}
	tok, err := src.Token()
	if err != nil {
		return nil, err
	}

	u.mu.Lock()
	authed := u.conn == conn && u.authedToken == tok.AccessToken
	u.mu.Unlock()
	if authed {
		return conn, nil
	}

	if err := rpc.Authenticate(conn, ctx, tok.AccessToken); err != nil {
		return nil, err
	}

	u.mu.Lock()
	if u.conn == conn {
		u.authedToken = tok.AccessToken
	}
	u.mu.Unlock()
	return conn, nil
}

// forgetAccessToken forces the next call to refresh the access token.
func (u *User) forgetAccessToken() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.authedToken = ""
	u.tokens = oauth2.ReuseTokenSource(nil, &tokenRefresher{user: u})
}

// call runs fn on an authenticated connection. When the server reports an
// invalid session, the access token is refreshed and fn runs once more.
func (u *User) call(ctx context.Context, fn func(conn connection.Connection) error) error {
	conn, err := u.connection(ctx)
	if err == nil {
		err = fn(conn)
	}
	if !isInvalidSession(err) {
		return wrapError(err)
	}

	u.app.logger.Debug("session expired, refreshing access token", "user", u.id)
	u.forgetAccessToken()
	conn, err = u.connection(ctx)
	if err != nil {
		return wrapError(err)
	}
	return wrapError(fn(conn))
}

func (u *User) addSession(s *SyncSession) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sessions[s] = struct{}{}
}

func (u *User) removeSession(s *SyncSession) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.sessions, s)
}

// Logout revokes the user's refresh token and stops syncing the user's realms.
// Open realms stay readable. Logging out twice is not an error.
func (u *User) Logout(ctx context.Context) error {
	u.mu.Lock()
	if u.state != UserStateLoggedIn {
		u.mu.Unlock()
		return nil
	}
	conn := u.conn
	refreshToken := u.refreshToken
	sessions := make([]*SyncSession, 0, len(u.sessions))
	for s := range u.sessions {
		sessions = append(sessions, s)
	}
	u.mu.Unlock()

	for _, s := range sessions {
		s.stopWith(constants.ErrUserLoggedOut)
	}

	var err error
	if conn != nil && !conn.IsClosed() {
		err = wrapError(rpc.Logout(conn, ctx, refreshToken))
	}

	u.mu.Lock()
	u.state = UserStateLoggedOut
	u.conn = nil
	u.authedToken = ""
	u.refreshToken = ""
	u.tokens = nil
	u.mu.Unlock()

	if conn != nil {
		_ = conn.Close(ctx)
	}
	u.app.userLoggedOut(u)
	u.app.logger.Info("user logged out", "user", u.id)
	return err
}

// disconnect stops the user's sessions and closes the connection without logging out.
func (u *User) disconnect(ctx context.Context) {
	u.mu.Lock()
	conn := u.conn
	u.conn = nil
	u.authedToken = ""
	sessions := make([]*SyncSession, 0, len(u.sessions))
	for s := range u.sessions {
		sessions = append(sessions, s)
	}
	u.mu.Unlock()

	for _, s := range sessions {
		s.stop()
	}
	if conn != nil {
		_ = conn.Close(ctx)
	}
}

// Configuration returns a sync configuration for the realm of partition.
func (u *User) Configuration(partition any) *SyncConfiguration {
	return &SyncConfiguration{
		User:      u,
		Partition: partition,
	}
}
