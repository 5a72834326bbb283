package realm

import (
	"context"
	"fmt"

	"github.com/takameyer/realm.go/pkg/constants"
)

// Open returns the realm for cfg. The realm opens from local state right away
// and syncs in the background; use AsyncOpen to wait for the server state.
//
// Opening the same user and partition again returns the same Realm until it is
// closed.
func Open(ctx context.Context, cfg *SyncConfiguration) (*Realm, error) {
	r, _, err := open(ctx, cfg)
	return r, err
}

type openResult struct {
	realm   *Realm
	created bool
}

// open reports created when this call made the realm and no other caller
// received it through the same flight.
func open(ctx context.Context, cfg *SyncConfiguration) (*Realm, bool, error) {
	if cfg == nil {
		return nil, false, constants.ErrNoCurrentUser
	}
	if err := cfg.validate(); err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	app := cfg.User.app
	key := cfg.cacheKey()

	v, err, shared := app.opens.Do(key, func() (any, error) {
		app.mu.Lock()
		if app.closed {
			app.mu.Unlock()
			return nil, constants.ErrAppClosed
		}
		if r, ok := app.realms[key]; ok && !r.IsClosed() {
			app.mu.Unlock()
			return openResult{realm: r}, nil
		}
		app.mu.Unlock()

		r, pending, err := newRealm(cfg)
		if err != nil {
			return nil, err
		}
		r.session = newSyncSession(r, pending)

		app.mu.Lock()
		app.realms[key] = r
		app.mu.Unlock()

		r.session.start()
		app.logger.Debug("realm opened", "user", cfg.User.ID(), "partition", cfg.partitionKey(), "pending", len(pending))
		return openResult{realm: r, created: true}, nil
	})
	if err != nil {
		return nil, false, err
	}

	res := v.(openResult)
	r := res.realm
	if r.cfg != cfg && !sameSchema(r.cfg.classes(), cfg.classes()) {
		app.logger.Warn("realm already open with another schema", "partition", cfg.partitionKey())
	}
	return r, res.created && !shared, nil
}

// AsyncOpen opens the realm and waits until it holds the server state of the
// partition. When that fails, a realm this call opened is closed again; a
// realm already held by other callers stays open.
func AsyncOpen(ctx context.Context, cfg *SyncConfiguration) (*Realm, error) {
	r, created, err := open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.OpenTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.OpenTimeout)
		defer cancel()
	}
	if err := r.WaitForDownload(ctx); err != nil {
		if created {
			r.Close()
		}
		return nil, fmt.Errorf("download partition %v: %w", cfg.Partition, err)
	}
	return r, nil
}

func (a *App) forgetRealm(r *Realm) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := r.cfg.cacheKey()
	if a.realms[key] == r {
		delete(a.realms, key)
	}
}

func sameSchema(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]struct{}, len(a))
	for _, c := range a {
		seen[c] = struct{}{}
	}
	for _, c := range b {
		if _, ok := seen[c]; !ok {
			return false
		}
	}
	return true
}
