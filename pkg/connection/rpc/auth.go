// Package rpc has one typed helper per RPC method, shared by the SDK and the fake
// backend so that both sides agree on parameter order and result shapes.
package rpc

import (
	"context"
	"fmt"

	"github.com/takameyer/realm.go/pkg/connection"
	"github.com/takameyer/realm.go/pkg/constants"
)

// Authentication providers understood by the login method.
const (
	ProviderAnonymous     = "anon-user"
	ProviderEmailPassword = "local-userpass"
	ProviderAPIKey        = "api-key"
)

type LoginResult struct {
	UserID       string `cbor:"user_id" json:"user_id"`
	AccessToken  string `cbor:"access_token" json:"access_token"`
	RefreshToken string `cbor:"refresh_token" json:"refresh_token"`
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64  `cbor:"expires_in" json:"expires_in"`
	Provider  string `cbor:"provider" json:"provider"`
}

type RefreshResult struct {
	AccessToken string `cbor:"access_token" json:"access_token"`
	ExpiresIn   int64  `cbor:"expires_in" json:"expires_in"`
}

func Login(c connection.Connection, ctx context.Context, provider string, credentials map[string]any) (*LoginResult, error) {
	var res connection.RPCResponse[LoginResult]
	if err := connection.Send(c, ctx, &res, connection.Login, provider, credentials); err != nil {
		return nil, err
	}
	if res.Result == nil {
		return nil, fmt.Errorf("login: %w", constants.InvalidResponse)
	}
	return res.Result, nil
}

// Refresh exchanges a refresh token for a new access token.
func Refresh(c connection.Connection, ctx context.Context, refreshToken string) (*RefreshResult, error) {
	var res connection.RPCResponse[RefreshResult]
	if err := connection.Send(c, ctx, &res, connection.Refresh, refreshToken); err != nil {
		return nil, err
	}
	if res.Result == nil {
		return nil, fmt.Errorf("refresh: %w", constants.InvalidResponse)
	}
	return res.Result, nil
}

// Logout revokes the refresh token and ends the session of the connection.
func Logout(c connection.Connection, ctx context.Context, refreshToken string) error {
	return connection.Send[any](c, ctx, nil, connection.Logout, refreshToken)
}

func Register(c connection.Connection, ctx context.Context, email, password string) error {
	return connection.Send[any](c, ctx, nil, connection.Register, email, password)
}

// Authenticate binds the connection to the user owning accessToken.
func Authenticate(c connection.Connection, ctx context.Context, accessToken string) error {
	return connection.Send[any](c, ctx, nil, connection.Authenticate, accessToken)
}
