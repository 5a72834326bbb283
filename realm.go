package realm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/takameyer/realm.go/internal/store"
	"github.com/takameyer/realm.go/pkg/constants"
	"github.com/takameyer/realm.go/pkg/logger"
	"github.com/takameyer/realm.go/pkg/models"
)

// Realm is a local object store synced with one partition.
//
// A Realm is safe for concurrent use. Writes are serialized; readers see the
// latest committed state.
type Realm struct {
	cfg     *SyncConfiguration
	app     *App
	codec   models.Codec
	logger  logger.Logger
	store   *store.Store
	session *SyncSession
	// classes is nil when the realm accepts any class.
	classes []string

	// writeSem serializes Write calls and lets them honor their context.
	writeSem chan struct{}
	// persistMu orders saves of the realm file.
	persistMu sync.Mutex

	tokensMu sync.Mutex
	tokens   map[*NotificationToken]struct{}

	closeOnce sync.Once
	closed    atomic.Bool
}

func newRealm(cfg *SyncConfiguration) (*Realm, []store.Changeset, error) {
	app := cfg.User.app
	r := &Realm{
		cfg:      cfg,
		app:      app,
		codec:    models.NewCodec(),
		logger:   app.logger,
		classes:  cfg.classes(),
		writeSem: make(chan struct{}, 1),
		tokens:   make(map[*NotificationToken]struct{}),
	}

	var pending []store.Changeset
	if path := cfg.path(); path != "" {
		s, p, err := store.Load(path, r.codec)
		switch {
		case err == nil:
			r.store, pending = s, p
			r.logger.Debug("realm loaded from disk", "path", path, "version", s.Version(), "pending", len(p))
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, nil, fmt.Errorf("open realm file: %w", err)
		}
	}
	if r.store == nil {
		r.store = store.New(r.codec)
	}

	return r, pending, nil
}

// Config returns the configuration the realm was opened with.
func (r *Realm) Config() *SyncConfiguration {
	return r.cfg
}

func (r *Realm) checkClass(class string) error {
	if r.classes == nil || slices.Contains(r.classes, class) {
		return nil
	}
	return fmt.Errorf("%s: %w", class, constants.ErrUnknownClass)
}

// Write runs fn in a write transaction. The transaction commits when fn returns
// nil and rolls back when fn returns an error or panics. The Txn must not be
// used after fn returns.
//
// Write must not be called from inside fn; use the Txn instead.
func (r *Realm) Write(ctx context.Context, fn func(tx *Txn) error) (err error) {
	if r.IsClosed() {
		return constants.ErrRealmClosed
	}

	select {
	case r.writeSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-r.writeSem }()

	stx, err := r.store.Begin()
	if err != nil {
		return err
	}
	tx := &Txn{realm: r, tx: stx}

	defer func() {
		if p := recover(); p != nil {
			stx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		stx.Rollback()
		return err
	}

	commit, err := stx.Commit()
	if err != nil {
		return err
	}
	if commit.Changeset.IsEmpty() {
		return nil
	}

	if r.session != nil {
		r.session.enqueue(commit.Changeset)
	}
	r.persist()
	return nil
}

// ObjectForPrimaryKey returns the object of type T with primary key id, or nil.
func ObjectForPrimaryKey[T any](r *Realm, id models.ObjectID) (*T, error) {
	row, ok := r.store.Get(classOf[T](), id)
	if !ok {
		return nil, nil
	}
	var obj T
	if err := r.store.Decode(row, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

// IsEmpty reports whether the realm holds no objects.
func (r *Realm) IsEmpty() bool {
	return len(r.store.Snapshot().Classes()) == 0
}

// SyncSession returns the session syncing the realm.
func (r *Realm) SyncSession() *SyncSession {
	return r.session
}

// WaitForUpload blocks until every change committed before the call reached the server.
func (r *Realm) WaitForUpload(ctx context.Context) error {
	return r.session.WaitForUpload(ctx)
}

// WaitForDownload blocks until the realm holds the server state of its partition.
func (r *Realm) WaitForDownload(ctx context.Context) error {
	return r.session.WaitForDownload(ctx)
}

func (r *Realm) IsClosed() bool {
	return r.closed.Load()
}

// Close stops syncing, invalidates every notification token and releases the
// realm. Unsent changes stay in the realm file when the realm is persisted.
func (r *Realm) Close() {
	r.closeOnce.Do(func() {
		r.closed.Store(true)

		r.session.stop()

		r.tokensMu.Lock()
		tokens := make([]*NotificationToken, 0, len(r.tokens))
		for t := range r.tokens {
			tokens = append(tokens, t)
		}
		r.tokensMu.Unlock()
		for _, t := range tokens {
			t.Invalidate()
		}

		r.persist()
		r.store.Close()
		r.app.forgetRealm(r)
		r.logger.Debug("realm closed", "partition", r.cfg.partitionKey())
	})
}

// persist saves the realm and the changes waiting for upload when the realm has a Dir.
func (r *Realm) persist() {
	path := r.cfg.path()
	if path == "" {
		return
	}

	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	if err := r.store.Save(path, r.session.pendingChangesets()); err != nil {
		r.logger.Error("failed to save realm", "path", path, "error", err)
	}
}

func (r *Realm) addToken(t *NotificationToken) {
	r.tokensMu.Lock()
	defer r.tokensMu.Unlock()
	r.tokens[t] = struct{}{}
}

func (r *Realm) removeToken(t *NotificationToken) {
	r.tokensMu.Lock()
	defer r.tokensMu.Unlock()
	delete(r.tokens, t)
}
