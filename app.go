package realm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/takameyer/realm.go/pkg/connection"
	"github.com/takameyer/realm.go/pkg/connection/rpc"
	"github.com/takameyer/realm.go/pkg/constants"
	"github.com/takameyer/realm.go/pkg/logger"
)

// location is the answer of the location endpoint.
type location struct {
	DeploymentModel string `json:"deployment_model"`
	Location        string `json:"location"`
	Hostname        string `json:"hostname"`
	WSHostname      string `json:"ws_hostname"`
}

type httpError struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
}

// App is the entry point to an app services application. It logs users in and
// keeps track of them and of the realms they opened.
type App struct {
	cfg    *AppConfig
	logger logger.Logger

	// hostname serves HTTP endpoints, wsURL the RPC endpoint.
	hostname string
	wsURL    *url.URL

	mu      sync.RWMutex
	users   []*User
	current *User
	realms  map[string]*Realm
	closed  bool

	opens singleflight.Group
}

// NewApp validates cfg and resolves the location of the app.
func NewApp(ctx context.Context, cfg *AppConfig) (*App, error) {
	if cfg == nil {
		return nil, constants.ErrNoAppID
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	app := &App{
		cfg:    cfg,
		logger: cfg.getLogger(),
		realms: make(map[string]*Realm),
	}

	loc, err := app.fetchLocation(ctx)
	if err != nil {
		return nil, err
	}
	app.hostname = loc.Hostname
	app.wsURL, err = url.Parse(loc.WSHostname)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket host %q: %w", loc.WSHostname, err)
	}

	app.logger.Debug("app located", "app_id", cfg.AppID, "location", loc.Location, "ws_hostname", loc.WSHostname)
	return app, nil
}

func (a *App) fetchLocation(ctx context.Context) (*location, error) {
	endpoint, err := url.JoinPath(a.cfg.BaseURL, "api/client/v2.0/app", a.cfg.AppID, "location")
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}
	res, err := a.cfg.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("location lookup: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		var body httpError
		_ = json.NewDecoder(res.Body).Decode(&body)
		code := body.ErrorCode
		if code == "" {
			code = http.StatusText(res.StatusCode)
		}
		return nil, &AppError{Code: code, Message: body.Error}
	}

	var loc location
	if err := json.NewDecoder(res.Body).Decode(&loc); err != nil {
		return nil, fmt.Errorf("location lookup: %w", err)
	}
	if loc.WSHostname == "" {
		return nil, fmt.Errorf("location lookup: %w", constants.InvalidResponse)
	}
	return &loc, nil
}

// ID returns the app id.
func (a *App) ID() string {
	return a.cfg.AppID
}

func (a *App) connect(ctx context.Context) (connection.Connection, error) {
	conn := a.cfg.newConnection(a.wsURL)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", a.wsURL, err)
	}
	return conn, nil
}

// Login authenticates with creds and makes the user the current user.
func (a *App) Login(ctx context.Context, creds Credentials) (*User, error) {
	if a.isClosed() {
		return nil, constants.ErrAppClosed
	}

	if creds.provider == rpc.ProviderAnonymous {
		if u := a.loggedInAnonymous(); u != nil {
			a.setCurrent(u)
			return u, nil
		}
	}

	conn, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}

	res, err := rpc.Login(conn, ctx, creds.provider, creds.payload)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, wrapError(err)
	}
	if err := rpc.Authenticate(conn, ctx, res.AccessToken); err != nil {
		_ = conn.Close(ctx)
		return nil, wrapError(err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, u := range a.users {
		if u.id == res.UserID {
			u.loggedIn(res, conn)
			a.current = u
			return u, nil
		}
	}

	u := newUser(a, res, conn)
	a.users = append(a.users, u)
	a.current = u
	a.logger.Info("user logged in", "user", u.id, "provider", u.provider)
	return u, nil
}

func (a *App) loggedInAnonymous() *User {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, u := range a.users {
		if u.provider == rpc.ProviderAnonymous && u.State() == UserStateLoggedIn {
			return u
		}
	}
	return nil
}

// CurrentUser returns the user that logged in last and is still logged in, or nil.
func (a *App) CurrentUser() *User {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}

// AllUsers returns every user known to the app, logged in or not.
func (a *App) AllUsers() []*User {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.users)
}

// SwitchUser makes u the current user. u must be logged in.
func (a *App) SwitchUser(u *User) error {
	if u == nil || u.State() != UserStateLoggedIn {
		return constants.ErrUserLoggedOut
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !slices.Contains(a.users, u) {
		return constants.ErrNoCurrentUser
	}
	a.current = u
	return nil
}

func (a *App) setCurrent(u *User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = u
}

// RemoveUser logs u out and forgets it.
func (a *App) RemoveUser(ctx context.Context, u *User) error {
	err := u.Logout(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.users = slices.DeleteFunc(a.users, func(other *User) bool { return other == u })
	u.setState(UserStateRemoved)
	return err
}

// userLoggedOut moves the current user to another logged in user, if any.
func (a *App) userLoggedOut(u *User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != u {
		return
	}
	a.current = nil
	for i := len(a.users) - 1; i >= 0; i-- {
		if a.users[i] != u && a.users[i].State() == UserStateLoggedIn {
			a.current = a.users[i]
			return
		}
	}
}

// EmailPasswordAuth returns the client of the email/password provider.
func (a *App) EmailPasswordAuth() *EmailPasswordAuth {
	return &EmailPasswordAuth{app: a}
}

type EmailPasswordAuth struct {
	app *App
}

// RegisterUser creates a new email/password identity. It does not log in.
func (e *EmailPasswordAuth) RegisterUser(ctx context.Context, email, password string) error {
	conn, err := e.app.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	return wrapError(rpc.Register(conn, ctx, email, password))
}

func (a *App) isClosed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}

// Close closes every open realm and drops the connections of all users. Users
// stay logged in on the server.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	realms := make([]*Realm, 0, len(a.realms))
	for _, r := range a.realms {
		realms = append(realms, r)
	}
	users := slices.Clone(a.users)
	a.mu.Unlock()

	for _, r := range realms {
		r.Close()
	}
	for _, u := range users {
		u.disconnect(ctx)
	}
	return nil
}
