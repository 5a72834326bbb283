package realm

import "github.com/takameyer/realm.go/pkg/connection/rpc"

// Credentials identify a user to an authentication provider.
type Credentials struct {
	provider string
	payload  map[string]any
}

// Provider returns the name of the authentication provider.
func (c Credentials) Provider() string {
	return c.provider
}

// Anonymous credentials log in a new anonymous user, or reuse the anonymous
// user that is already logged in.
func Anonymous() Credentials {
	return Credentials{provider: rpc.ProviderAnonymous}
}

func EmailPassword(email, password string) Credentials {
	return Credentials{
		provider: rpc.ProviderEmailPassword,
		payload:  map[string]any{"username": email, "password": password},
	}
}

// APIKey credentials log in with a user API key.
func APIKey(key string) Credentials {
	return Credentials{
		provider: rpc.ProviderAPIKey,
		payload:  map[string]any{"key": key},
	}
}

// ServerAPIKey credentials log in with a server API key. Both key kinds share
// one provider.
func ServerAPIKey(key string) Credentials {
	return APIKey(key)
}
