package constants

import "time"

const (
	// RequestIDLength size of id sent on WS request
	RequestIDLength = 16
	// TokenLength size of the opaque access and refresh tokens minted by the backend
	TokenLength = 48
	// CloseMessageCode identifier the message id for a close request
	CloseMessageCode = 1000
	// DefaultWSTimeout is the default timeout for receiving an RPC response
	DefaultWSTimeout = 30 * time.Second
	// DefaultAccessTokenTTL is how long an access token stays valid before it must be refreshed
	DefaultAccessTokenTTL = 30 * time.Minute
	// DefaultHTTPTimeout bounds location lookups and other plain HTTP calls
	DefaultHTTPTimeout = 10 * time.Second
)

var (
	WebsocketScheme       = "ws"
	WebsocketSecureScheme = "wss"
	HTTPScheme            = "http"
	HTTPSecureScheme      = "https"
)

// PartitionField is the document field holding the partition value of a synced object.
const PartitionField = "_partition"

// PrimaryKeyField is the document field holding the primary key of every object.
const PrimaryKeyField = "_id"
