package rand

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/takameyer/realm.go/pkg/constants"
)

func TestNewRequestID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewRequestID(constants.RequestIDLength)
		require.Len(t, id, constants.RequestIDLength)
		for _, c := range id {
			assert.Contains(t, charset, string(c))
		}
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 1000)
}

func TestNewToken(t *testing.T) {
	a := NewToken(constants.TokenLength)
	b := NewToken(constants.TokenLength)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 64)
}

func BenchmarkNewRequestID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		NewRequestID(constants.RequestIDLength)
	}
}
