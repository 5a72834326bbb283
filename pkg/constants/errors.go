package constants

import "errors"

// Errors
var (
	InvalidResponse = errors.New("invalid app services response") //nolint:stylecheck
)

var (
	ErrIDInUse          = errors.New("id already in use")
	ErrTimeout          = errors.New("timeout")
	ErrNoBaseURL        = errors.New("base url not set")
	ErrNoAppID          = errors.New("app id not set")
	ErrNoMarshaler      = errors.New("marshaler is not set")
	ErrNoUnmarshaler    = errors.New("unmarshaler is not set")
	ErrConnectionClosed = errors.New("connection is closed")
)

var (
	ErrNoCurrentUser         = errors.New("no user is logged in")
	ErrUserLoggedOut         = errors.New("user is logged out")
	ErrNoPartition           = errors.New("partition value not set")
	ErrRealmClosed           = errors.New("realm is closed")
	ErrAppClosed             = errors.New("app is closed")
	ErrNotInWriteTransaction = errors.New("cannot modify managed objects outside of a write transaction")
	ErrDuplicatePrimaryKey   = errors.New("object with this primary key already exists")
	ErrObjectNotFound        = errors.New("object not found")
	ErrMissingPrimaryKey     = errors.New("object has no primary key")
	ErrUnknownClass          = errors.New("class is not part of the schema")
)
