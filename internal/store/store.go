// Package store is the local object store behind a Realm.
//
// A Store keeps one table per class. Rows are immutable once published and keep
// insertion order; a write transaction stages its changes on copies of the tables
// it touches and publishes them atomically on Commit. Readers always see a
// consistent, immutable set of tables.
package store

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/takameyer/realm.go/internal/broadcast"
	"github.com/takameyer/realm.go/internal/codec"
	"github.com/takameyer/realm.go/pkg/constants"
	"github.com/takameyer/realm.go/pkg/models"
)

// Row is one stored object. Doc is the decoded form of Raw.
type Row struct {
	ID      models.ObjectID
	Raw     []byte
	Doc     models.Document
	Version uint64
}

type table struct {
	order []models.ObjectID
	rows  map[models.ObjectID]*Row
}

func newTable() *table {
	return &table{rows: make(map[models.ObjectID]*Row)}
}

func (t *table) clone() *table {
	out := &table{
		order: make([]models.ObjectID, len(t.order)),
		rows:  make(map[models.ObjectID]*Row, len(t.rows)),
	}
	copy(out.order, t.order)
	for k, v := range t.rows {
		out.rows[k] = v
	}
	return out
}

func (t *table) list() []*Row {
	out := make([]*Row, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.rows[id])
	}
	return out
}

type Store struct {
	codec codec.Codec

	// writeLock is held from Begin until Commit or Rollback.
	writeLock sync.Mutex

	mu      sync.RWMutex
	tables  map[string]*table
	version uint64
	closed  bool

	// changed signals new versions. Listeners get a coalescing signal and read
	// the latest Snapshot, so a slow listener never blocks a writer.
	changed *broadcast.Broadcaster[uint64]
}

// New returns an empty store encoding rows with c.
func New(c codec.Codec) *Store {
	return &Store{
		codec:   c,
		tables:  make(map[string]*table),
		changed: broadcast.NewBroadcasterWithBuffer[uint64](1),
	}
}

// Version is the version of the last commit, 0 for an empty store.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Snapshot returns an immutable view of the current tables.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tables := make(map[string]*table, len(s.tables))
	for k, v := range s.tables {
		tables[k] = v
	}
	return &Snapshot{version: s.version, tables: tables}
}

// Rows is a shortcut for Snapshot().Rows(class).
func (s *Store) Rows(class string) []*Row {
	return s.Snapshot().Rows(class)
}

// Get is a shortcut for Snapshot().Get(class, id).
func (s *Store) Get(class string, id models.ObjectID) (*Row, bool) {
	return s.Snapshot().Get(class, id)
}

// Decode decodes a row into dst.
func (s *Store) Decode(row *Row, dst any) error {
	return s.codec.Unmarshal(row.Raw, dst)
}

// Listen returns a channel that receives a version number after commits. Signals
// coalesce: a listener that falls behind receives one value and should read the
// latest Snapshot.
func (s *Store) Listen() <-chan uint64 {
	return s.changed.AddListener()
}

// Unlisten closes a channel returned by Listen. It may be called by the listener itself.
func (s *Store) Unlisten(ch <-chan uint64) {
	s.changed.RemoveListener(ch)
}

// Close rejects further transactions and closes all listener channels.
func (s *Store) Close() {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.changed.Close()
}

func (s *Store) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Begin starts a local write transaction, blocking while another one is open.
func (s *Store) Begin() (*Txn, error) {
	return s.begin(OriginLocal)
}

func (s *Store) begin(origin Origin) (*Txn, error) {
	s.writeLock.Lock()

	if s.IsClosed() {
		s.writeLock.Unlock()
		return nil, constants.ErrRealmClosed
	}

	return &Txn{
		store:   s,
		base:    s.Snapshot(),
		touched: make(map[string]*table),
		origin:  origin,
	}, nil
}

// ApplyRemote applies a changeset received from the server. Deleting an object
// that is already gone is not an error.
func (s *Store) ApplyRemote(cs Changeset) (Commit, error) {
	tx, err := s.begin(OriginRemote)
	if err != nil {
		return Commit{}, err
	}

	for _, op := range cs.Ops {
		var err error
		switch op.Kind {
		case OpUpsert:
			_, err = tx.Upsert(op.Class, op.Doc)
		case OpDelete:
			err = tx.Delete(op.Class, op.ID)
			if errors.Is(err, constants.ErrObjectNotFound) {
				err = nil
			}
		case OpClear:
			tx.DeleteAll(op.Class)
		default:
			err = fmt.Errorf("unknown changeset operation %q", op.Kind)
		}
		if err != nil {
			tx.Rollback()
			return Commit{}, fmt.Errorf("apply remote changeset: %w", err)
		}
	}

	return tx.Commit()
}

// normalize encodes doc and decodes it back, so that stored documents hold the
// same value types whether they were written locally or received from the wire.
func (s *Store) normalize(doc map[string]any) ([]byte, models.Document, error) {
	raw, err := s.codec.Marshal(doc)
	if err != nil {
		return nil, nil, err
	}
	var decoded map[string]any
	if err := s.codec.Unmarshal(raw, &decoded); err != nil {
		return nil, nil, err
	}
	return raw, models.CloneDocument(decoded), nil
}

// Snapshot is an immutable, consistent view of a Store at one version.
type Snapshot struct {
	version uint64
	tables  map[string]*table
}

func (sn *Snapshot) Version() uint64 {
	return sn.version
}

// Rows returns the rows of class in insertion order.
func (sn *Snapshot) Rows(class string) []*Row {
	t, ok := sn.tables[class]
	if !ok {
		return nil
	}
	return t.list()
}

func (sn *Snapshot) Get(class string, id models.ObjectID) (*Row, bool) {
	t, ok := sn.tables[class]
	if !ok {
		return nil, false
	}
	r, ok := t.rows[id]
	return r, ok
}

// Classes lists the classes holding at least one row.
func (sn *Snapshot) Classes() []string {
	out := make([]string, 0, len(sn.tables))
	for k, t := range sn.tables {
		if len(t.order) > 0 {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}
