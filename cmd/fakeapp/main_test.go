package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealMainRejectsInvalidConfig(t *testing.T) {
	var stderr bytes.Buffer
	code := realMain([]string{"-app-id", "", "-addr", "127.0.0.1:0"}, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "app id is required")
}

func TestRealMainRejectsMalformedUser(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 2, realMain([]string{"-user", "alice"}, &stderr))
	assert.Contains(t, stderr.String(), "want email:password")
}

func TestUserFlagsCollectsAccounts(t *testing.T) {
	users := userFlags{}
	require.NoError(t, users.Set("alice@example.com:correct horse"))
	require.NoError(t, users.Set("bob@example.com:a:b:c"))
	assert.Equal(t, "correct horse", users["alice@example.com"])
	assert.Equal(t, "a:b:c", users["bob@example.com"])
}
