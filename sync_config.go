package realm

import (
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/takameyer/realm.go/pkg/constants"
	"github.com/takameyer/realm.go/pkg/models"
)

// SyncConfiguration describes a realm synced with one partition of the backend.
type SyncConfiguration struct {
	User *User
	// Partition selects the objects to sync. It is matched against the
	// _partition field of the backend documents.
	Partition any
	// Schema lists one value of each object type stored in the realm, e.g.
	// Task{}. An empty schema syncs every class the backend has.
	Schema []any
	// Dir, when set, persists the realm and its unsent changes under Dir so that
	// it opens without network.
	Dir string
	// ErrorHandler receives sync errors. They are logged when it is nil.
	ErrorHandler func(session *SyncSession, err error)
	// OpenTimeout bounds AsyncOpen. Zero waits as long as the context allows.
	OpenTimeout time.Duration
}

// WithSchema sets Schema and returns c.
func (c *SyncConfiguration) WithSchema(objects ...any) *SyncConfiguration {
	c.Schema = objects
	return c
}

func (c *SyncConfiguration) validate() error {
	if c.User == nil {
		return constants.ErrNoCurrentUser
	}
	if c.User.State() != UserStateLoggedIn {
		return constants.ErrUserLoggedOut
	}
	if models.IsNil(c.Partition) {
		return constants.ErrNoPartition
	}
	return nil
}

func (c *SyncConfiguration) classes() []string {
	if len(c.Schema) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.Schema))
	for _, obj := range c.Schema {
		out = append(out, classNameOf(obj))
	}
	return out
}

// partitionKey is the partition in a form usable in cache keys and file names.
func (c *SyncConfiguration) partitionKey() string {
	return fmt.Sprintf("%T:%v", c.Partition, c.Partition)
}

func (c *SyncConfiguration) cacheKey() string {
	return c.User.ID() + "/" + c.partitionKey()
}

func (c *SyncConfiguration) path() string {
	if c.Dir == "" {
		return ""
	}
	return filepath.Join(c.Dir, url.PathEscape(c.User.app.ID()), url.PathEscape(c.User.ID()), url.PathEscape(c.partitionKey())+".realm")
}
