package realm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/takameyer/realm.go/internal/store"
	"github.com/takameyer/realm.go/pkg/connection"
	"github.com/takameyer/realm.go/pkg/connection/rpc"
	"github.com/takameyer/realm.go/pkg/constants"
	"github.com/takameyer/realm.go/pkg/models"
)

type SessionState int

const (
	// SessionStateConnecting waits for the subscription to the partition.
	SessionStateConnecting SessionState = iota
	// SessionStateActive is subscribed: uploads flow and remote changes arrive.
	SessionStateActive
	// SessionStateInactive is stopped for good.
	SessionStateInactive
)

func (s SessionState) String() string {
	switch s {
	case SessionStateConnecting:
		return "Connecting"
	case SessionStateActive:
		return "Active"
	case SessionStateInactive:
		return "Inactive"
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

const (
	minReconnectDelay  = 100 * time.Millisecond
	maxReconnectDelay  = 5 * time.Second
	unsubscribeTimeout = time.Second
)

// SyncSession keeps a realm in sync with its partition.
//
// Local commits are queued and uploaded in commit order. Remote changes are
// applied as they arrive, except to objects with queued local changes: those
// keep their local state until the upload reaches the server, which then holds
// the local version. A lost connection is retried with backoff; the session
// subscribes again and reconciles the realm with the server state.
type SyncSession struct {
	realm *Realm
	user  *User

	ctx    context.Context
	cancel context.CancelFunc
	launch sync.Once
	done   chan struct{}
	// wake signals queued uploads.
	wake chan struct{}

	mu sync.Mutex
	// changed is closed and replaced whenever the fields below change.
	changed         chan struct{}
	state           SessionState
	downloaded      bool
	pending         []store.Changeset
	enqueuedVersion uint64
	uploadedVersion uint64
	stopErr         error
}

func newSyncSession(r *Realm, pending []store.Changeset) *SyncSession {
	ctx, cancel := context.WithCancel(context.Background())
	s := &SyncSession{
		realm:   r,
		user:    r.cfg.User,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		wake:    make(chan struct{}, 1),
		changed: make(chan struct{}),
		pending: pending,
	}
	if n := len(pending); n > 0 {
		s.enqueuedVersion = pending[n-1].Version
	}
	return s
}

func (s *SyncSession) start() {
	s.launch.Do(func() {
		s.user.addSession(s)
		go s.run()
	})
}

// State returns the current state of the session.
func (s *SyncSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Partition returns the partition the session syncs.
func (s *SyncSession) Partition() any {
	return s.realm.cfg.Partition
}

// update runs fn under the lock and wakes waiters.
func (s *SyncSession) update(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
	close(s.changed)
	s.changed = make(chan struct{})
}

// wait blocks until cond holds. cond runs under the lock and returns done=true
// with the result to stop waiting.
func (s *SyncSession) wait(ctx context.Context, cond func() (bool, error)) error {
	for {
		s.mu.Lock()
		done, err := cond()
		ch := s.changed
		s.mu.Unlock()
		if done {
			return err
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *SyncSession) stoppedErr() error {
	if s.stopErr != nil {
		return s.stopErr
	}
	return constants.ErrRealmClosed
}

// WaitForDownload blocks until the realm holds the server state of the partition.
func (s *SyncSession) WaitForDownload(ctx context.Context) error {
	return s.wait(ctx, func() (bool, error) {
		if s.state == SessionStateInactive {
			return true, s.stoppedErr()
		}
		return s.downloaded, nil
	})
}

// WaitForUpload blocks until every change committed before the call reached the server.
func (s *SyncSession) WaitForUpload(ctx context.Context) error {
	s.mu.Lock()
	target := s.enqueuedVersion
	s.mu.Unlock()

	return s.wait(ctx, func() (bool, error) {
		if s.uploadedVersion >= target {
			return true, nil
		}
		if s.state == SessionStateInactive {
			return true, s.stoppedErr()
		}
		return false, nil
	})
}

func (s *SyncSession) enqueue(cs store.Changeset) {
	s.update(func() {
		s.pending = append(s.pending, cs)
		s.enqueuedVersion = cs.Version
	})
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *SyncSession) pendingChangesets() []store.Changeset {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Changeset, len(s.pending))
	copy(out, s.pending)
	return out
}

// stop ends the session and waits for it to exit.
func (s *SyncSession) stop() {
	s.stopWith(nil)
}

func (s *SyncSession) stopWith(err error) {
	s.cancel()
	// A session that never started has nothing to wait for.
	s.launch.Do(func() { close(s.done) })
	<-s.done
	s.user.removeSession(s)
	s.update(func() {
		if s.state == SessionStateInactive {
			return
		}
		s.state = SessionStateInactive
		s.downloaded = false
		if err != nil {
			s.stopErr = err
		} else if s.user.State() != UserStateLoggedIn {
			s.stopErr = constants.ErrUserLoggedOut
		}
	})
}

func (s *SyncSession) report(err error) {
	if h := s.realm.cfg.ErrorHandler; h != nil {
		h(s, err)
		return
	}
	s.realm.logger.Warn("sync error", "partition", s.realm.cfg.partitionKey(), "error", err)
}

// isFatalSyncError reports errors that retrying cannot fix.
func isFatalSyncError(err error) bool {
	if errors.Is(err, constants.ErrUserLoggedOut) || errors.Is(err, constants.ErrRealmClosed) ||
		errors.Is(err, constants.ErrAppClosed) {
		return true
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case ErrCodeAuthError, ErrCodeInvalidSession, ErrCodeBadRequest:
			return true
		}
	}
	return false
}

func (s *SyncSession) run() {
	defer close(s.done)

	delay := minReconnectDelay
	for {
		connected, err := s.serve(s.ctx)
		if s.ctx.Err() != nil {
			return
		}
		if isFatalSyncError(err) {
			s.report(err)
			go s.stopWith(err)
			return
		}
		if err != nil {
			s.report(err)
		}

		s.update(func() {
			s.state = SessionStateConnecting
			s.downloaded = false
		})

		if connected {
			delay = minReconnectDelay
		}
		select {
		case <-time.After(delay):
		case <-s.ctx.Done():
			return
		}
		delay = min(2*delay, maxReconnectDelay)
	}
}

type subscription struct {
	conn connection.Connection
	id   models.UUID
	ch   chan connection.Notification
}

func (s *SyncSession) subscribe(ctx context.Context) (*subscription, *rpc.SubscribeResult, error) {
	cfg := s.realm.cfg

	for attempt := 0; ; attempt++ {
		conn, err := s.user.connection(ctx)
		if err != nil {
			return nil, nil, wrapError(err)
		}

		sub := &subscription{conn: conn, id: models.NewUUID()}
		// Register before subscribing, the first change may precede the response.
		sub.ch, err = conn.LiveNotifications(sub.id.String())
		if err != nil {
			return nil, nil, err
		}

		res, err := rpc.Subscribe(conn, ctx, sub.id, cfg.Partition, s.realm.classes)
		if err == nil {
			return sub, res, nil
		}

		_ = conn.CloseLiveNotifications(sub.id.String())
		if attempt == 0 && isInvalidSession(err) {
			s.user.forgetAccessToken()
			continue
		}
		return nil, nil, wrapError(err)
	}
}

// serve subscribes and then processes notifications and uploads until the
// connection fails or ctx ends.
func (s *SyncSession) serve(ctx context.Context) (connected bool, err error) {
	sub, res, err := s.subscribe(ctx)
	if err != nil {
		return false, err
	}

	if err := s.reconcile(res); err != nil {
		s.unsubscribe(sub)
		return true, err
	}
	s.update(func() {
		s.state = SessionStateActive
		s.downloaded = true
	})
	s.realm.logger.Debug("sync session active", "partition", s.realm.cfg.partitionKey(), "server_version", res.Version)

	if err := s.upload(ctx, sub); err != nil {
		s.unsubscribe(sub)
		return true, err
	}

	for {
		select {
		case <-ctx.Done():
			s.unsubscribe(sub)
			return true, nil
		case n, ok := <-sub.ch:
			if !ok {
				return true, constants.ErrConnectionClosed
			}
			if err := s.handleNotification(sub, n); err != nil {
				s.unsubscribe(sub)
				return true, err
			}
		case <-s.wake:
			if err := s.upload(ctx, sub); err != nil {
				s.unsubscribe(sub)
				return true, err
			}
		}
	}
}

func (s *SyncSession) unsubscribe(sub *subscription) {
	// Keep draining so that the read loop is never stuck on our channel.
	go func() {
		for range sub.ch {
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
	defer cancel()
	if err := rpc.Unsubscribe(sub.conn, ctx, sub.id); err != nil {
		s.realm.logger.Debug("unsubscribe failed", "subscription", sub.id.String(), "error", err)
	}
	_ = sub.conn.CloseLiveNotifications(sub.id.String())
}

func (s *SyncSession) handleNotification(sub *subscription, n connection.Notification) error {
	unmarshaler := sub.conn.GetUnmarshaler()

	switch n.Action {
	case connection.ErrorAction:
		var rpcErr connection.RPCError
		if err := unmarshaler.Unmarshal(n.Result, &rpcErr); err != nil {
			return fmt.Errorf("decode sync error: %w", err)
		}
		return wrapError(&rpcErr)

	case connection.ChangeAction:
		var cs store.Changeset
		if err := unmarshaler.Unmarshal(n.Result, &cs); err != nil {
			return fmt.Errorf("decode changeset: %w", err)
		}
		return s.applyRemote(cs)
	}

	s.realm.logger.Debug("ignored notification", "action", string(n.Action))
	return nil
}

// localChanges lists the objects with queued local changes, and the classes
// cleared locally.
type localChanges struct {
	ids     map[string]map[models.ObjectID]struct{}
	cleared map[string]bool
}

func (s *SyncSession) localChanges() localChanges {
	lc := localChanges{
		ids:     make(map[string]map[models.ObjectID]struct{}),
		cleared: make(map[string]bool),
	}
	for _, cs := range s.pendingChangesets() {
		for _, op := range cs.Ops {
			if op.Kind == store.OpClear {
				lc.cleared[op.Class] = true
				continue
			}
			if lc.ids[op.Class] == nil {
				lc.ids[op.Class] = make(map[models.ObjectID]struct{})
			}
			lc.ids[op.Class][op.ID] = struct{}{}
		}
	}
	return lc
}

func (lc localChanges) touches(class string, id models.ObjectID) bool {
	if lc.cleared[class] {
		return true
	}
	_, ok := lc.ids[class][id]
	return ok
}

func (s *SyncSession) applyRemote(cs store.Changeset) error {
	lc := s.localChanges()
	snapshot := s.realm.store.Snapshot()

	var out store.Changeset
	for _, op := range cs.Ops {
		if op.Kind == store.OpClear {
			if len(lc.ids[op.Class]) == 0 && !lc.cleared[op.Class] {
				out.Ops = append(out.Ops, op)
				continue
			}
			for _, row := range snapshot.Rows(op.Class) {
				if !lc.touches(op.Class, row.ID) {
					out.Ops = append(out.Ops, store.Op{Kind: store.OpDelete, Class: op.Class, ID: row.ID})
				}
			}
			continue
		}
		if lc.touches(op.Class, op.ID) {
			continue
		}
		out.Ops = append(out.Ops, op)
	}

	if out.IsEmpty() {
		return nil
	}
	if _, err := s.realm.store.ApplyRemote(out); err != nil {
		return err
	}
	s.realm.persist()
	return nil
}

// reconcile brings the realm to the server state of the subscription, keeping
// objects with queued local changes.
func (s *SyncSession) reconcile(res *rpc.SubscribeResult) error {
	lc := s.localChanges()
	snapshot := s.realm.store.Snapshot()

	var cs store.Changeset
	for _, class := range res.Classes {
		onServer := make(map[models.ObjectID]struct{})
		for _, doc := range res.Objects[class] {
			id, ok := models.DocumentID(doc)
			if !ok {
				continue
			}
			onServer[id] = struct{}{}
			if lc.touches(class, id) {
				continue
			}
			if row, ok := snapshot.Get(class, id); ok && sameDocument(row.Doc, doc) {
				continue
			}
			cs.Ops = append(cs.Ops, store.Op{Kind: store.OpUpsert, Class: class, ID: id, Doc: doc})
		}
		for _, row := range snapshot.Rows(class) {
			if _, ok := onServer[row.ID]; ok || lc.touches(class, row.ID) {
				continue
			}
			cs.Ops = append(cs.Ops, store.Op{Kind: store.OpDelete, Class: class, ID: row.ID})
		}
	}

	if cs.IsEmpty() {
		return nil
	}
	if _, err := s.realm.store.ApplyRemote(cs); err != nil {
		return err
	}
	s.realm.persist()
	return nil
}

// upload sends the queued changesets in order. Changesets the server rejects
// are reported and dropped; connection errors stop the upload and keep the queue.
func (s *SyncSession) upload(ctx context.Context, sub *subscription) error {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return nil
		}
		cs := s.pending[0]
		s.mu.Unlock()

		_, err := rpc.Upload(sub.conn, ctx, sub.id, cs)
		if isInvalidSession(err) {
			s.user.forgetAccessToken()
			conn, cerr := s.user.connection(ctx)
			if cerr != nil {
				return wrapError(cerr)
			}
			if conn != sub.conn {
				return constants.ErrConnectionClosed
			}
			_, err = rpc.Upload(sub.conn, ctx, sub.id, cs)
		}

		var rpcErr *connection.RPCError
		switch {
		case err == nil:
		case errors.As(err, &rpcErr) && !isInvalidSession(err):
			s.report(fmt.Errorf("upload rejected, dropping %d changes: %w", len(cs.Ops), wrapError(err)))
		default:
			return wrapError(err)
		}

		s.update(func() {
			s.pending = s.pending[1:]
			s.uploadedVersion = max(s.uploadedVersion, cs.Version)
		})
		s.realm.persist()
	}
}

func sameDocument(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !sameValue(av, bv) {
			return false
		}
	}
	return true
}

func sameValue(a, b any) bool {
	am, aok := asDocument(a)
	bm, bok := asDocument(b)
	if aok || bok {
		return aok && bok && sameDocument(am, bm)
	}
	al, aok := a.([]any)
	bl, bok := b.([]any)
	if aok || bok {
		if !aok || !bok || len(al) != len(bl) {
			return false
		}
		for i := range al {
			if !sameValue(al[i], bl[i]) {
				return false
			}
		}
		return true
	}
	return models.Equal(a, b)
}

func asDocument(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case models.Document:
		return t, true
	}
	return nil, false
}
