package fakeapp

import (
	"errors"

	"github.com/lxzan/gws"

	"github.com/takameyer/realm.go/internal/store"
	"github.com/takameyer/realm.go/pkg/connection"
	"github.com/takameyer/realm.go/pkg/connection/rpc"
	"github.com/takameyer/realm.go/pkg/constants"
	"github.com/takameyer/realm.go/pkg/models"
)

// namespaceAndFilter reads the common [database, collection, filter] prefix.
func (s *Server) namespaceAndFilter(req *connection.RPCRequest) (rpc.Namespace, models.Document, error) {
	var ns rpc.Namespace
	if err := s.param(req, 0, &ns.Database); err != nil {
		return ns, nil, err
	}
	if err := s.param(req, 1, &ns.Collection); err != nil {
		return ns, nil, err
	}
	filter := models.Document{}
	if len(req.Params) > 2 && !models.IsNil(req.Params[2]) {
		m, ok := asMap(req.Params[2])
		if !ok {
			return ns, nil, errors.New("filter must be a document")
		}
		filter = models.CloneDocument(m)
	}
	return ns, filter, nil
}

type rowSource interface {
	Rows(class string) []*store.Row
}

func findRows(src rowSource, ns rpc.Namespace, filter models.Document, limit int64) ([]*store.Row, error) {
	var out []*store.Row
	for _, row := range src.Rows(ns.String()) {
		ok, err := matches(row.Doc, filter)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, row)
		if limit > 0 && int64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (h *handler) handleInsertOne(socket *gws.Conn, req *connection.RPCRequest) {
	s := h.server

	ns, doc, err := s.namespaceAndFilter(req)
	if err != nil {
		h.sendError(socket, req.ID, CodeBadRequest, err.Error())
		return
	}

	if _, present := doc[constants.PrimaryKeyField]; !present {
		doc[constants.PrimaryKeyField] = models.NewObjectID()
	}
	id, ok := models.DocumentID(doc)
	if !ok {
		h.sendError(socket, req.ID, CodeBadRequest, "_id must be an ObjectID")
		return
	}
	doc[constants.PrimaryKeyField] = id

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.data.Begin()
	if err != nil {
		h.sendError(socket, req.ID, CodeInternal, err.Error())
		return
	}
	if err := tx.Insert(ns.String(), doc); err != nil {
		tx.Rollback()
		if errors.Is(err, constants.ErrDuplicatePrimaryKey) {
			h.sendError(socket, req.ID, CodeDuplicateKey, "duplicate key error: "+id.Hex())
			return
		}
		h.sendError(socket, req.ID, CodeBadRequest, err.Error())
		return
	}
	if _, err := tx.Commit(); err != nil {
		h.sendError(socket, req.ID, CodeInternal, err.Error())
		return
	}

	s.publish([]change{{ns: ns, id: id, after: doc}}, nil)
	h.sendResponse(socket, req.ID, rpc.InsertOneResult{InsertedID: id})
}

func (h *handler) handleFindOne(socket *gws.Conn, req *connection.RPCRequest) {
	s := h.server

	ns, filter, err := s.namespaceAndFilter(req)
	if err != nil {
		h.sendError(socket, req.ID, CodeBadRequest, err.Error())
		return
	}

	rows, err := findRows(s.data.Snapshot(), ns, filter, 1)
	if err != nil {
		h.sendError(socket, req.ID, CodeBadRequest, err.Error())
		return
	}
	if len(rows) == 0 {
		h.sendResponse(socket, req.ID, nil)
		return
	}
	h.sendResponse(socket, req.ID, rows[0].Doc)
}

func (h *handler) handleFind(socket *gws.Conn, req *connection.RPCRequest) {
	s := h.server

	ns, filter, err := s.namespaceAndFilter(req)
	if err != nil {
		h.sendError(socket, req.ID, CodeBadRequest, err.Error())
		return
	}
	var opts rpc.FindOptions
	if len(req.Params) > 3 {
		if err := s.param(req, 3, &opts); err != nil {
			h.sendError(socket, req.ID, CodeBadRequest, err.Error())
			return
		}
	}

	rows, err := findRows(s.data.Snapshot(), ns, filter, opts.Limit)
	if err != nil {
		h.sendError(socket, req.ID, CodeBadRequest, err.Error())
		return
	}
	docs := make([]models.Document, len(rows))
	for i, row := range rows {
		docs[i] = row.Doc
	}
	h.sendResponse(socket, req.ID, docs)
}

func (h *handler) handleUpdateOne(socket *gws.Conn, req *connection.RPCRequest) {
	s := h.server

	ns, filter, err := s.namespaceAndFilter(req)
	if err != nil {
		h.sendError(socket, req.ID, CodeBadRequest, err.Error())
		return
	}
	var update map[string]any
	if len(req.Params) > 3 {
		m, ok := asMap(req.Params[3])
		if !ok {
			h.sendError(socket, req.ID, CodeBadRequest, "update must be a document")
			return
		}
		update = m
	}
	if len(update) == 0 {
		h.sendError(socket, req.ID, CodeBadRequest, "update document is empty")
		return
	}
	var upsert bool
	if len(req.Params) > 4 {
		if err := s.param(req, 4, &upsert); err != nil {
			h.sendError(socket, req.ID, CodeBadRequest, err.Error())
			return
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.data.Begin()
	if err != nil {
		h.sendError(socket, req.ID, CodeInternal, err.Error())
		return
	}
	defer tx.Rollback()

	rows, err := findRows(tx, ns, filter, 1)
	if err != nil {
		h.sendError(socket, req.ID, CodeBadRequest, err.Error())
		return
	}

	var (
		res rpc.UpdateResult
		c   change
	)
	switch {
	case len(rows) > 0:
		row := rows[0]
		updated, changed, err := applyUpdate(row.Doc, update)
		if err != nil {
			h.sendError(socket, req.ID, CodeBadRequest, err.Error())
			return
		}
		res.MatchedCount = 1
		if !changed {
			h.sendResponse(socket, req.ID, res)
			return
		}
		if _, err := tx.Upsert(ns.String(), updated); err != nil {
			h.sendError(socket, req.ID, CodeInternal, err.Error())
			return
		}
		res.ModifiedCount = 1
		c = change{ns: ns, id: row.ID, before: row.Doc, after: updated}

	case upsert:
		seeded, _, err := applyUpdate(seedFromFilter(filter), update)
		if err != nil {
			h.sendError(socket, req.ID, CodeBadRequest, err.Error())
			return
		}
		if _, present := seeded[constants.PrimaryKeyField]; !present {
			seeded[constants.PrimaryKeyField] = models.NewObjectID()
		}
		id, ok := models.DocumentID(seeded)
		if !ok {
			h.sendError(socket, req.ID, CodeBadRequest, "_id must be an ObjectID")
			return
		}
		if err := tx.Insert(ns.String(), seeded); err != nil {
			h.sendError(socket, req.ID, CodeInternal, err.Error())
			return
		}
		res.UpsertedID = &id
		c = change{ns: ns, id: id, after: seeded}

	default:
		h.sendResponse(socket, req.ID, res)
		return
	}

	if _, err := tx.Commit(); err != nil {
		h.sendError(socket, req.ID, CodeInternal, err.Error())
		return
	}

	s.publish([]change{c}, nil)
	h.sendResponse(socket, req.ID, res)
}

func (h *handler) handleDeleteOne(socket *gws.Conn, req *connection.RPCRequest) {
	s := h.server

	ns, filter, err := s.namespaceAndFilter(req)
	if err != nil {
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
	defer tx.Rollback()

	rows, err := findRows(tx, ns, filter, 1)
	if err != nil {
		h.sendError(socket, req.ID, CodeBadRequest, err.Error())
		return
	}
	if len(rows) == 0 {
		h.sendResponse(socket, req.ID, rpc.DeleteResult{})
		return
	}

	row := rows[0]
	if err := tx.Delete(ns.String(), row.ID); err != nil {
		h.sendError(socket, req.ID, CodeInternal, err.Error())
		return
	}
	if _, err := tx.Commit(); err != nil {
		h.sendError(socket, req.ID, CodeInternal, err.Error())
		return
	}

	s.publish([]change{{ns: ns, id: row.ID, before: row.Doc}}, nil)
	h.sendResponse(socket, req.ID, rpc.DeleteResult{DeletedCount: 1})
}

func (h *handler) handleCount(socket *gws.Conn, req *connection.RPCRequest) {
	s := h.server

	ns, filter, err := s.namespaceAndFilter(req)
	if err != nil {
		h.sendError(socket, req.ID, CodeBadRequest, err.Error())
		return
	}

	rows, err := findRows(s.data.Snapshot(), ns, filter, 0)
	if err != nil {
		h.sendError(socket, req.ID, CodeBadRequest, err.Error())
		return
	}
	h.sendResponse(socket, req.ID, int64(len(rows)))
}
