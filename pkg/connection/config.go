package connection

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/takameyer/realm.go/internal/codec"
	"github.com/takameyer/realm.go/pkg/constants"
	"github.com/takameyer/realm.go/pkg/logger"
	"github.com/takameyer/realm.go/pkg/models"
)

// Config is what an engine needs to dial the RPC endpoint.
type Config struct {
	URL         url.URL
	BaseURL     string
	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler
	Logger      logger.Logger
	// Timeout bounds the wait for each RPC response. Zero leaves it to the caller's context.
	Timeout time.Duration
}

// NewConfig creates a Config for the endpoint at u, such as "ws://localhost:9090".
// An http(s) URL is rewritten to the matching ws(s) scheme.
func NewConfig(u *url.URL) *Config {
	cp := *u
	switch cp.Scheme {
	case constants.HTTPScheme:
		cp.Scheme = constants.WebsocketScheme
	case constants.HTTPSecureScheme:
		cp.Scheme = constants.WebsocketSecureScheme
	}

	c := models.NewCodec()
	return &Config{
		URL:         cp,
		BaseURL:     fmt.Sprintf("%s://%s", cp.Scheme, cp.Host),
		Marshaler:   c,
		Unmarshaler: c,
		Logger:      logger.New(slog.NewTextHandler(os.Stdout, nil)),
		Timeout:     constants.DefaultWSTimeout,
	}
}
