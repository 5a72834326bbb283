package fakeapp

import (
	"slices"

	"github.com/lxzan/gws"

	"github.com/takameyer/realm.go/internal/store"
	"github.com/takameyer/realm.go/pkg/connection"
	"github.com/takameyer/realm.go/pkg/connection/rpc"
	"github.com/takameyer/realm.go/pkg/constants"
	"github.com/takameyer/realm.go/pkg/models"
)

type subscription struct {
	id        models.UUID
	socket    *gws.Conn
	partition any
	// classes limits the subscription; empty means every class.
	classes []string
}

func (sub *subscription) wants(class string) bool {
	return len(sub.classes) == 0 || slices.Contains(sub.classes, class)
}

func (sub *subscription) owns(doc models.Document) bool {
	if doc == nil {
		return false
	}
	return models.Equal(doc[constants.PartitionField], sub.partition)
}

// change is one document write, with the document before and after it.
// before is nil for inserts, after is nil for deletes.
type change struct {
	ns     rpc.Namespace
	id     models.ObjectID
	before models.Document
	after  models.Document
}

func (c change) operationType() string {
	switch {
	case c.before == nil:
		return "insert"
	case c.after == nil:
		return "delete"
	}
	return "update"
}

func (s *Server) syncNamespace(class string) rpc.Namespace {
	return rpc.Namespace{Database: s.cfg.SyncDatabase, Collection: class}
}

// withoutPartition returns the client view of a synced document.
func withoutPartition(doc models.Document) models.Document {
	out := make(models.Document, len(doc))
	for k, v := range doc {
		if k == constants.PartitionField {
			continue
		}
		out[k] = v
	}
	return out
}

// publish fans committed changes out to watchers and to sync subscribers of the
// affected partitions. The subscription that caused the changes, if any, is
// skipped. Callers hold writeMu so notifications keep commit order.
func (s *Server) publish(changes []change, origin *subscription) {
	for _, c := range changes {
		s.publishWatch(c)
	}

	s.mu.RLock()
	subs := make([]*subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		if sub == origin {
			continue
		}

		var cs store.Changeset
		for _, c := range changes {
			if c.ns.Database != s.cfg.SyncDatabase || !sub.wants(c.ns.Collection) {
				continue
			}
			switch {
			case sub.owns(c.after):
				cs.Ops = append(cs.Ops, store.Op{Kind: store.OpUpsert, Class: c.ns.Collection, ID: c.id, Doc: withoutPartition(c.after)})
			case sub.owns(c.before):
				// the object left the partition
				cs.Ops = append(cs.Ops, store.Op{Kind: store.OpDelete, Class: c.ns.Collection, ID: c.id})
			}
		}
		if cs.IsEmpty() {
			continue
		}

		cs.Version = s.data.Version()
		s.notify(sub.socket, sub.id, connection.ChangeAction, cs)
	}
}

func (h *handler) handleSubscribe(socket *gws.Conn, sess *session, req *connection.RPCRequest) {
	s := h.server

	var rawID string
	if err := s.param(req, 0, &rawID); err != nil {
		h.sendError(socket, req.ID, CodeBadRequest, err.Error())
		return
	}
	id, err := models.ParseUUID(rawID)
	if err != nil {
		h.sendError(socket, req.ID, CodeBadRequest, err.Error())
		return
	}
	if len(req.Params) < 2 || models.IsNil(req.Params[1]) {
		h.sendError(socket, req.ID, CodeBadRequest, constants.ErrNoPartition.Error())
		return
	}
	var classes []string
	if len(req.Params) > 2 {
		if err := s.param(req, 2, &classes); err != nil {
			h.sendError(socket, req.ID, CodeBadRequest, err.Error())
			return
		}
	}

	s.mu.RLock()
	_, taken := s.subscriptions[id.String()]
	s.mu.RUnlock()
	if taken {
		h.sendError(socket, req.ID, CodeBadRequest, "subscription id already in use")
		return
	}

	sub := &subscription{
		id:        id,
		socket:    socket,
		partition: req.Params[1],
		classes:   classes,
	}

	// Holding writeMu makes the snapshot and the registration atomic with
	// respect to writes, so no change falls between them.
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snapshot := s.data.Snapshot()
	res := rpc.SubscribeResult{
		ID:      sub.id,
		Version: snapshot.Version(),
		Objects: map[string][]models.Document{},
	}

	if len(classes) == 0 {
		prefix := s.cfg.SyncDatabase + "."
		for _, table := range snapshot.Classes() {
			if len(table) > len(prefix) && table[:len(prefix)] == prefix {
				classes = append(classes, table[len(prefix):])
			}
		}
	}
	for _, class := range classes {
		docs := []models.Document{}
		for _, row := range snapshot.Rows(s.syncNamespace(class).String()) {
			if sub.owns(row.Doc) {
				docs = append(docs, withoutPartition(row.Doc))
			}
		}
		res.Objects[class] = docs
		res.Classes = append(res.Classes, class)
	}

	s.mu.Lock()
	sess.subs[sub.id.String()] = sub
	s.subscriptions[sub.id.String()] = sub
	s.mu.Unlock()

	s.logger.Debug("subscribed", "subscription", sub.id.String(), "partition", sub.partition, "classes", classes)
	h.sendResponse(socket, req.ID, res)
}

func (h *handler) lookupSubscription(sess *session, req *connection.RPCRequest) (*subscription, error) {
	s := h.server

	var id string
	if err := s.param(req, 0, &id); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := sess.subs[id]
	if !ok {
		return nil, nil
	}
	return sub, nil
}

func (h *handler) handleUnsubscribe(socket *gws.Conn, sess *session, req *connection.RPCRequest) {
	s := h.server

	sub, err := h.lookupSubscription(sess, req)
	if err != nil {
		h.sendError(socket, req.ID, CodeBadRequest, err.Error())
		return
	}
	if sub == nil {
		h.sendError(socket, req.ID, CodeSubscriptionNotFound, "subscription not found")
		return
	}

	s.mu.Lock()
	delete(sess.subs, sub.id.String())
	delete(s.subscriptions, sub.id.String())
	s.mu.Unlock()

	h.sendResponse(socket, req.ID, nil)
}

func (h *handler) handleUpload(socket *gws.Conn, sess *session, req *connection.RPCRequest) {
	s := h.server

	sub, err := h.lookupSubscription(sess, req)
	if err != nil {
		h.sendError(socket, req.ID, CodeBadRequest, err.Error())
		return
	}
	if sub == nil {
		h.sendError(socket, req.ID, CodeSubscriptionNotFound, "subscription not found")
		return
	}

	var cs store.Changeset
	if err := s.param(req, 1, &cs); err != nil {
		h.sendError(socket, req.ID, CodeBadRequest, err.Error())
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.data.Begin()
	if err != nil {
		h.sendError(socket, req.ID, CodeInternal, err.Error())
		return
	}

	var changes []change
	for _, op := range cs.Ops {
		ns := s.syncNamespace(op.Class)
		table := ns.String()

		switch op.Kind {
		case store.OpUpsert:
			doc := models.CloneDocument(op.Doc)
			if _, ok := models.DocumentID(doc); !ok {
				doc[constants.PrimaryKeyField] = op.ID
			}
			doc[constants.PartitionField] = sub.partition

			var before models.Document
			if prev, ok := tx.Get(table, op.ID); ok {
				before = prev.Doc
			}
			if _, err := tx.Upsert(table, doc); err != nil {
				tx.Rollback()
				h.sendError(socket, req.ID, CodeBadRequest, err.Error())
				return
			}
			changes = append(changes, change{ns: ns, id: op.ID, before: before, after: doc})

		case store.OpDelete:
			prev, ok := tx.Get(table, op.ID)
			if !ok || !sub.owns(prev.Doc) {
				continue
			}
			if err := tx.Delete(table, op.ID); err != nil {
				tx.Rollback()
				h.sendError(socket, req.ID, CodeInternal, err.Error())
				return
			}
			changes = append(changes, change{ns: ns, id: op.ID, before: prev.Doc})

		case store.OpClear:
			for _, row := range tx.Rows(table) {
				if !sub.owns(row.Doc) {
					continue
				}
				if err := tx.Delete(table, row.ID); err != nil {
					tx.Rollback()
					h.sendError(socket, req.ID, CodeInternal, err.Error())
					return
				}
				changes = append(changes, change{ns: ns, id: row.ID, before: row.Doc})
			}

		default:
			tx.Rollback()
			h.sendError(socket, req.ID, CodeBadRequest, "unknown operation "+string(op.Kind))
			return
		}
	}

	commit, err := tx.Commit()
	if err != nil {
		h.sendError(socket, req.ID, CodeInternal, err.Error())
		return
	}

	s.publish(changes, sub)
	h.sendResponse(socket, req.ID, rpc.UploadResult{Version: commit.Version})
}
