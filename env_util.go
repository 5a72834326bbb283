package realm

import "os"

// Environment variables read by AppConfigFromEnv.
const (
	EnvAppID          = "REALM_APP_ID"
	EnvBaseURL        = "REALM_BASE_URL"
	EnvConnectionImpl = "REALM_CONNECTION_IMPL"
	// EnvServerAPIKey holds the server API key used by ServerAPIKey logins.
	EnvServerAPIKey = "realmApiKey"
)

func GetEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value
}
