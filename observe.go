package realm

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/takameyer/realm.go/internal/store"
	"github.com/takameyer/realm.go/pkg/constants"
)

type ChangeKind int

const (
	// ChangeInitial is the first notification. Results holds the initial objects.
	ChangeInitial ChangeKind = iota
	// ChangeUpdate reports a commit that changed the results.
	ChangeUpdate
	// ChangeError ends the notifications of a token.
	ChangeError
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInitial:
		return "Initial"
	case ChangeUpdate:
		return "Update"
	case ChangeError:
		return "Error"
	}
	return "Unknown"
}

// CollectionChange is delivered to observers of a Results.
//
// Deletions are indices into the previous results; Insertions and
// Modifications are indices into Results.
type CollectionChange[T any] struct {
	Kind          ChangeKind
	Results       []T
	Deletions     []int
	Insertions    []int
	Modifications []int
	Err           error
}

var errObserveFrozen = errors.New("frozen results cannot be observed")

// NotificationToken keeps an observer registered until Invalidate is called.
type NotificationToken struct {
	realm   *Realm
	ch      <-chan uint64
	done    chan struct{}
	stopped chan struct{}

	once        sync.Once
	invalidated atomic.Bool
}

// Invalidate stops the notifications. It does not wait for a callback running
// on another goroutine: a delivery already under way when Invalidate is called
// may still run once, and none follows it. It is safe to call more than once
// and from inside the callback.
func (t *NotificationToken) Invalidate() {
	t.once.Do(func() {
		t.invalidated.Store(true)
		close(t.done)
		if t.ch != nil {
			t.realm.store.Unlisten(t.ch)
		}
		t.realm.removeToken(t)
	})
}

// IsInvalidated reports whether Invalidate was called or the realm was closed.
func (t *NotificationToken) IsInvalidated() bool {
	return t.invalidated.Load()
}

func (t *NotificationToken) deliver(fn func()) bool {
	if t.invalidated.Load() {
		return false
	}
	fn()
	return !t.invalidated.Load()
}

// Observe calls fn on a dedicated goroutine, first with the results as of the
// call and then after every later commit that changes them, in commit order. Keep the token and
// call Invalidate to stop.
func (res *Results[T]) Observe(fn func(change CollectionChange[T])) *NotificationToken {
	r := res.realm
	t := &NotificationToken{
		realm:   r,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	var startErr error
	var rows []*store.Row
	switch {
	case r.IsClosed():
		startErr = constants.ErrRealmClosed
	case res.frozen != nil:
		startErr = errObserveFrozen
	default:
		// Listen before the first snapshot so that no commit goes unnoticed.
		t.ch = r.store.Listen()
		r.addToken(t)
		rows = res.rowsAt(r.store.Snapshot())
	}

	go func() {
		defer close(t.stopped)

		if startErr != nil {
			t.deliver(func() { fn(CollectionChange[T]{Kind: ChangeError, Err: startErr}) })
			t.Invalidate()
			return
		}

		objs, err := res.decode(rows)
		if err != nil {
			t.deliver(func() { fn(CollectionChange[T]{Kind: ChangeError, Err: err}) })
			t.Invalidate()
			return
		}
		if !t.deliver(func() { fn(CollectionChange[T]{Kind: ChangeInitial, Results: objs}) }) {
			return
		}

		for {
			select {
			case <-t.done:
				return
			case _, ok := <-t.ch:
				if !ok {
					return
				}
			}

			next := res.rowsAt(r.store.Snapshot())
			deletions, insertions, modifications := store.DiffRows(rows, next)
			if len(deletions)+len(insertions)+len(modifications) == 0 {
				continue
			}
			rows = next

			objs, err := res.decode(rows)
			if err != nil {
				t.deliver(func() { fn(CollectionChange[T]{Kind: ChangeError, Err: err}) })
				t.Invalidate()
				return
			}
			change := CollectionChange[T]{
				Kind:          ChangeUpdate,
				Results:       objs,
				Deletions:     deletions,
				Insertions:    insertions,
				Modifications: modifications,
			}
			if !t.deliver(func() { fn(change) }) {
				return
			}
		}
	}()

	return t
}
