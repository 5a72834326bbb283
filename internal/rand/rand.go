package rand

import (
	cryptorand "crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

const (
	bytesInUint64 = 8
	charset       = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789" // reduced base64
)

var charsetLen = len(charset)

var defaultRandBytes = newRandBytes()

func newRandBytes() *randBytes {
	seed := make([]byte, bytesInUint64*2)

	if _, err := cryptorand.Read(seed); err != nil {
		panic("unreachable")
	}

	return &randBytes{
		//nolint:gosec // request ids only need to be unique per connection
		rng: rand.New(rand.NewPCG(
			binary.LittleEndian.Uint64(seed[:8]),
			binary.LittleEndian.Uint64(seed[8:]),
		)),
	}
}

type randBytes struct {
	mut sync.Mutex
	rng *rand.Rand
}

func (rb *randBytes) read(buf []byte) {
	rb.mut.Lock()
	defer rb.mut.Unlock()

	var word [bytesInUint64]byte
	for i := 0; i < len(buf); i += bytesInUint64 {
		binary.LittleEndian.PutUint64(word[:], rb.rng.Uint64())
		copy(buf[i:], word[:])
	}
}

// NewRequestID returns a short id used to pair RPC responses with their requests.
// The distribution is not uniform, which is fine for correlation ids.
func NewRequestID(length int) string {
	buf := make([]byte, length)
	defaultRandBytes.read(buf)

	for i, b := range buf {
		buf[i] = charset[int(b)%charsetLen]
	}

	return string(buf)
}

// NewToken returns an unguessable URL-safe token of the given byte length.
// It is used for access and refresh tokens, so it reads from crypto/rand.
func NewToken(length int) string {
	buf := make([]byte, length)
	if _, err := cryptorand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
