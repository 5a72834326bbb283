// Package testenv provides a backend for tests and examples of the realm SDK.
//
// By default it starts an in-process fake backend with a well-known set of
// users. Setting REALM_BASE_URL and REALM_APP_ID points it at a real app
// instead; that app needs the same users and API key.
package testenv

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	realm "github.com/takameyer/realm.go"
	"github.com/takameyer/realm.go/internal/fakeapp"
	"github.com/takameyer/realm.go/pkg/logger"
)

// Accounts known to the backend.
const (
	Email    = "alice@example.com"
	Password = "correct horse battery"
	APIKey   = "server-api-key"
)

// EnvTestLog enables SDK and backend logs on stderr when set.
const EnvTestLog = "REALM_TEST_LOG"

const stopTimeout = 2 * time.Second

// Env is a backend plus an App connected to it.
type Env struct {
	// Server is nil when testing against an external backend.
	Server *fakeapp.Server
	App    *realm.App
}

func testLogger() logger.Logger {
	if os.Getenv(EnvTestLog) == "" {
		return logger.Discard
	}
	return logger.NewZerolog(zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger())
}

// StartServer starts a fake backend with the well-known accounts. cfg may be
// nil; otherwise the accounts are added to it.
func StartServer(cfg *fakeapp.Config) (*fakeapp.Server, error) {
	if cfg == nil {
		cfg = fakeapp.NewConfig()
		cfg.Logger = testLogger()
	}
	cfg.Users[Email] = Password
	cfg.APIKeys = append(cfg.APIKeys, APIKey)

	srv, err := fakeapp.NewServer(cfg)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(); err != nil {
		return nil, fmt.Errorf("start fake backend: %w", err)
	}
	return srv, nil
}

// New returns an Env per the environment variables.
func New() (*Env, error) {
	env := &Env{}

	cfg := realm.AppConfigFromEnv()
	cfg.Logger = testLogger()
	if os.Getenv(realm.EnvBaseURL) == "" {
		srv, err := StartServer(nil)
		if err != nil {
			return nil, err
		}
		env.Server = srv
		cfg.AppID = srv.AppID()
		cfg.BaseURL = srv.URL()
	}

	app, err := realm.NewApp(context.Background(), cfg)
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("failed to create app: %w", err)
	}
	env.App = app
	return env, nil
}

func MustNew() *Env {
	env, err := New()
	if err != nil {
		panic(fmt.Sprintf("Failed to set up test backend: %v", err))
	}
	return env
}

// NewApp connects another App to the same backend, as a second device would.
func (e *Env) NewApp() (*realm.App, error) {
	cfg := realm.AppConfigFromEnv()
	cfg.Logger = testLogger()
	if e.Server != nil {
		cfg.AppID = e.Server.AppID()
		cfg.BaseURL = e.Server.URL()
	}
	return realm.NewApp(context.Background(), cfg)
}

// Login logs in the well-known email/password user.
func (e *Env) Login(ctx context.Context) (*realm.User, error) {
	return e.App.Login(ctx, realm.EmailPassword(Email, Password))
}

// Close closes the App and stops the fake backend.
func (e *Env) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if e.App != nil {
		_ = e.App.Close(ctx)
	}
	if e.Server != nil {
		_ = e.Server.Stop(ctx)
	}
}
