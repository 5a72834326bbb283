package realm

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/takameyer/realm.go/pkg/connection"
	"github.com/takameyer/realm.go/pkg/connection/gorillaws"
	"github.com/takameyer/realm.go/pkg/connection/gws"
	"github.com/takameyer/realm.go/pkg/constants"
	"github.com/takameyer/realm.go/pkg/logger"
)

// Connection engines selectable with AppConfig.Engine.
const (
	EngineGorillaWS = "gorillaws"
	EngineGWS       = "gws"
)

const DefaultBaseURL = "https://services.cloud.mongodb.com"

// AppConfig configures an App.
type AppConfig struct {
	// AppID identifies the app services application.
	AppID string
	// BaseURL is the HTTP(S) endpoint used for location discovery.
	BaseURL string
	// Engine selects the WebSocket implementation, EngineGorillaWS by default.
	Engine string
	// RequestTimeout bounds each RPC round trip.
	RequestTimeout time.Duration
	// HTTPClient is used for location discovery and change streams.
	HTTPClient *http.Client
	Logger     logger.Logger
}

// NewAppConfig returns a configuration with default timeouts and a text logger on stdout.
func NewAppConfig(appID, baseURL string) *AppConfig {
	return &AppConfig{
		AppID:          appID,
		BaseURL:        baseURL,
		Engine:         EngineGorillaWS,
		RequestTimeout: constants.DefaultWSTimeout,
		HTTPClient:     &http.Client{Timeout: constants.DefaultHTTPTimeout},
		Logger:         logger.New(slog.NewTextHandler(os.Stdout, nil)),
	}
}

// AppConfigFromEnv builds a configuration from REALM_APP_ID, REALM_BASE_URL and
// REALM_CONNECTION_IMPL.
func AppConfigFromEnv() *AppConfig {
	cfg := NewAppConfig(GetEnvOrDefault(EnvAppID, ""), GetEnvOrDefault(EnvBaseURL, DefaultBaseURL))
	cfg.Engine = GetEnvOrDefault(EnvConnectionImpl, EngineGorillaWS)
	return cfg
}

func (c *AppConfig) validate() error {
	if c.AppID == "" {
		return constants.ErrNoAppID
	}
	if c.BaseURL == "" {
		return constants.ErrNoBaseURL
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base url %q: %w", c.BaseURL, err)
	}
	switch c.Engine {
	case "", EngineGorillaWS, EngineGWS:
	default:
		return fmt.Errorf("unknown connection engine %q", c.Engine)
	}
	return nil
}

func (c *AppConfig) getLogger() logger.Logger {
	if c.Logger == nil {
		return logger.Discard
	}
	return c.Logger
}

func (c *AppConfig) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return &http.Client{Timeout: constants.DefaultHTTPTimeout}
	}
	return c.HTTPClient
}

// newConnection creates an unconnected RPC connection to the websocket host.
func (c *AppConfig) newConnection(wsURL *url.URL) connection.Connection {
	conf := connection.NewConfig(wsURL)
	conf.Logger = c.getLogger()
	conf.Timeout = c.RequestTimeout

	if c.Engine == EngineGWS {
		return gws.New(conf)
	}
	return gorillaws.New(conf)
}
