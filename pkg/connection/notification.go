package connection

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/takameyer/realm.go/pkg/models"
)

// Notification is pushed by the server without a request id. ID names the
// subscription it belongs to.
type Notification struct {
	ID     *models.UUID    `json:"id,omitempty" cbor:"id,omitempty"`
	Action Action          `json:"action" cbor:"action"`
	Result cbor.RawMessage `json:"result" cbor:"result"`
}

type Action string

const (
	// ChangeAction carries a changeset committed by another client of the same partition.
	ChangeAction Action = "change"
	// ErrorAction carries an RPCError that ends the subscription.
	ErrorAction Action = "error"
)
