package realm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/goccy/go-json"
	"github.com/launchdarkly/eventsource"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/takameyer/realm.go/pkg/connection"
	"github.com/takameyer/realm.go/pkg/connection/rpc"
	"github.com/takameyer/realm.go/pkg/models"
)

const (
	watchOpenEvent   = "open"
	watchChangeEvent = "change"
)

// MongoClient gives access to the backend's data source on behalf of a user.
type MongoClient struct {
	user    *User
	service string
}

// MongoClient returns a client for the linked data source named service.
func (u *User) MongoClient(service string) *MongoClient {
	return &MongoClient{user: u, service: service}
}

// Database returns a handle to a remote database.
func (c *MongoClient) Database(name string) *MongoDatabase {
	return &MongoDatabase{client: c, name: name}
}

type MongoDatabase struct {
	client *MongoClient
	name   string
}

// Collection returns a handle to a remote collection.
func (d *MongoDatabase) Collection(name string) *MongoCollection {
	return &MongoCollection{
		user:  d.client.user,
		codec: models.NewCodec(),
		ns:    rpc.Namespace{Database: d.name, Collection: name},
	}
}

// MongoCollection runs CRUD operations against a remote collection. Every call
// goes through the user's connection and refreshes the access token when it
// expired.
//
// Filters, updates and documents accept models.Document, bson.M, bson.D or any
// value that encodes to a document.
type MongoCollection struct {
	user  *User
	codec models.Codec
	ns    rpc.Namespace
}

func (c *MongoCollection) Name() string {
	return c.ns.Collection
}

func (c *MongoCollection) String() string {
	return c.ns.String()
}

func (c *MongoCollection) InsertOne(ctx context.Context, document any) (*mongo.InsertOneResult, error) {
	doc, err := c.document(document)
	if err != nil {
		return nil, err
	}

	var res *rpc.InsertOneResult
	err = c.user.call(ctx, func(conn connection.Connection) (err error) {
		res, err = rpc.InsertOne(conn, ctx, c.ns, doc)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &mongo.InsertOneResult{InsertedID: res.InsertedID}, nil
}

// FindOne returns the first matching document, or mongo.ErrNoDocuments.
func (c *MongoCollection) FindOne(ctx context.Context, filter any) (models.Document, error) {
	f, err := c.document(filter)
	if err != nil {
		return nil, err
	}

	var doc models.Document
	err = c.user.call(ctx, func(conn connection.Connection) (err error) {
		doc, err = rpc.FindOne(conn, ctx, c.ns, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, mongo.ErrNoDocuments
	}
	return doc, nil
}

// Find returns the matching documents in insertion order. Of the options only
// Limit is honored.
func (c *MongoCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) ([]models.Document, error) {
	f, err := c.document(filter)
	if err != nil {
		return nil, err
	}

	var findOpts rpc.FindOptions
	for _, o := range opts {
		if o != nil && o.Limit != nil {
			findOpts.Limit = *o.Limit
		}
	}

	var docs []models.Document
	err = c.user.call(ctx, func(conn connection.Connection) (err error) {
		docs, err = rpc.Find(conn, ctx, c.ns, f, findOpts)
		return err
	})
	return docs, err
}

// UpdateOne applies update to the first matching document. The update uses
// $set, $unset and $inc; a document without operators is applied as $set.
func (c *MongoCollection) UpdateOne(ctx context.Context, filter, update any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	f, err := c.document(filter)
	if err != nil {
		return nil, err
	}
	u, err := c.document(update)
	if err != nil {
		return nil, err
	}

	upsert := false
	for _, o := range opts {
		if o != nil && o.Upsert != nil {
			upsert = *o.Upsert
		}
	}

	var res *rpc.UpdateResult
	err = c.user.call(ctx, func(conn connection.Connection) (err error) {
		res, err = rpc.UpdateOne(conn, ctx, c.ns, f, u, upsert)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := &mongo.UpdateResult{MatchedCount: res.MatchedCount, ModifiedCount: res.ModifiedCount}
	if res.UpsertedID != nil {
		out.UpsertedCount = 1
		out.UpsertedID = *res.UpsertedID
	}
	return out, nil
}

func (c *MongoCollection) DeleteOne(ctx context.Context, filter any) (*mongo.DeleteResult, error) {
	f, err := c.document(filter)
	if err != nil {
		return nil, err
	}

	var res *rpc.DeleteResult
	err = c.user.call(ctx, func(conn connection.Connection) (err error) {
		res, err = rpc.DeleteOne(conn, ctx, c.ns, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &mongo.DeleteResult{DeletedCount: res.DeletedCount}, nil
}

// Count returns the number of matching documents.
func (c *MongoCollection) Count(ctx context.Context, filter any) (int64, error) {
	f, err := c.document(filter)
	if err != nil {
		return 0, err
	}

	var n int64
	err = c.user.call(ctx, func(conn connection.Connection) (err error) {
		n, err = rpc.Count(conn, ctx, c.ns, f)
		return err
	})
	return n, err
}

func (c *MongoCollection) document(v any) (models.Document, error) {
	switch t := v.(type) {
	case nil:
		return models.Document{}, nil
	case models.Document:
		return normalizeValue(t).(models.Document), nil
	case map[string]any:
		return normalizeValue(t).(models.Document), nil
	case bson.D:
		return normalizeValue(t).(models.Document), nil
	}

	doc, err := toDocument(c.codec, v)
	if err != nil {
		return nil, fmt.Errorf("%s: encode %T: %w", c.ns, v, err)
	}
	return doc, nil
}

// normalizeValue converts driver types into the types the wire codec knows.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case bson.D:
		out := make(models.Document, len(t))
		for _, e := range t {
			out[e.Key] = normalizeValue(e.Value)
		}
		return out
	case models.Document:
		out := make(models.Document, len(t))
		for k, e := range t {
			out[k] = normalizeValue(e)
		}
		return out
	case map[string]any:
		return normalizeValue(models.Document(t))
	case bson.A:
		return normalizeValue([]any(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case primitive.ObjectID:
		return models.ObjectID(t)
	}
	return v
}

// ChangeEvent describes one change to a watched collection.
type ChangeEvent struct {
	// OperationType is one of insert, update, replace or delete.
	OperationType string        `json:"operationType"`
	Namespace     rpc.Namespace `json:"ns"`
	DocumentKey   struct {
		ID models.ObjectID `json:"_id"`
	} `json:"documentKey"`
	// FullDocument is nil for deletes.
	FullDocument models.Document `json:"fullDocument,omitempty"`
}

// ChangeStream delivers the changes of a watched collection until it is closed.
type ChangeStream struct {
	stream *eventsource.Stream
	events chan ChangeEvent

	closeOnce sync.Once
	done      chan struct{}

	mu  sync.Mutex
	err error
}

// Events is closed when the stream ends. Err then tells why.
func (cs *ChangeStream) Events() <-chan ChangeEvent {
	return cs.events
}

func (cs *ChangeStream) Err() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.err
}

func (cs *ChangeStream) setErr(err error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.err == nil {
		cs.err = err
	}
}

func (cs *ChangeStream) Close() {
	cs.closeOnce.Do(func() {
		close(cs.done)
		cs.stream.Close()
	})
}

// Watch opens a change stream on the collection. It returns once the server
// acknowledged the stream; every change committed afterwards is delivered.
func (c *MongoCollection) Watch(ctx context.Context) (*ChangeStream, error) {
	stream, err := c.subscribe(ctx)
	if isInvalidSession(err) {
		c.user.forgetAccessToken()
		stream, err = c.subscribe(ctx)
	}
	if err != nil {
		return nil, err
	}

	cs := &ChangeStream{
		stream: stream,
		events: make(chan ChangeEvent),
		done:   make(chan struct{}),
	}
	opened := make(chan struct{})
	go cs.consume(opened, c.user.app.logger.Debug)

	select {
	case <-opened:
		if err := cs.Err(); err != nil {
			cs.Close()
			return nil, fmt.Errorf("watch %s: %w", c.ns, err)
		}
		return cs, nil
	case <-ctx.Done():
		cs.Close()
		return nil, ctx.Err()
	}
}

func (c *MongoCollection) subscribe(ctx context.Context) (*eventsource.Stream, error) {
	token, err := c.user.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	app := c.user.app
	endpoint, err := url.JoinPath(app.hostname, "api/client/v2.0/app", app.ID(), "watch", c.ns.Database, c.ns.Collection)
	if err != nil {
		return nil, err
	}
	// The stream outlives ctx, which only bounds Watch itself.
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodGet, endpoint+"?"+url.Values{"access_token": {token}}.Encode(), http.NoBody)
	if err != nil {
		return nil, err
	}

	// The client timeout would cut the stream.
	client := *app.cfg.httpClient()
	client.Timeout = 0

	errorHandler := func(err error) eventsource.StreamErrorHandlerResult {
		if se, ok := err.(eventsource.SubscriptionError); ok && (se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden) {
			return eventsource.StreamErrorHandlerResult{CloseNow: true}
		}
		app.logger.Debug("watch stream error", "namespace", c.ns.String(), "error", err)
		return eventsource.StreamErrorHandlerResult{CloseNow: false}
	}

	stream, err := eventsource.SubscribeWithRequestAndOptions(req,
		eventsource.StreamOptionHTTPClient(&client),
		eventsource.StreamOptionErrorHandler(errorHandler),
	)
	if err != nil {
		if se, ok := err.(eventsource.SubscriptionError); ok && se.Code == http.StatusUnauthorized {
			return nil, &AppError{Code: ErrCodeInvalidSession, Message: "watch " + c.ns.String(), err: err}
		}
		return nil, fmt.Errorf("watch %s: %w", c.ns, err)
	}
	return stream, nil
}

func (cs *ChangeStream) consume(opened chan<- struct{}, debug func(string, ...any)) {
	var openOnce sync.Once
	signalOpened := func() { openOnce.Do(func() { close(opened) }) }

	defer close(cs.events)
	defer signalOpened()
	// Drain what is left so that the stream can exit.
	defer func() {
		for range cs.stream.Events {
		}
		if cs.stream.Errors != nil {
			for range cs.stream.Errors {
			}
		}
	}()

	for {
		select {
		case <-cs.done:
			return
		case ev, ok := <-cs.stream.Events:
			if !ok {
				cs.setErr(errChangeStreamEnded)
				return
			}

			switch ev.Event() {
			case watchOpenEvent:
				signalOpened()
			case watchChangeEvent:
				var change ChangeEvent
				if err := json.Unmarshal([]byte(ev.Data()), &change); err != nil {
					debug("malformed change event", "error", err)
					continue
				}
				if change.FullDocument != nil {
					change.FullDocument = fromExtendedJSON(change.FullDocument).(models.Document)
				}
				select {
				case cs.events <- change:
				case <-cs.done:
					return
				}
			}
		}
	}
}

var errChangeStreamEnded = errors.New("change stream ended")

// fromExtendedJSON turns {"$oid": hex} values back into ObjectIDs.
func fromExtendedJSON(v any) any {
	switch t := v.(type) {
	case models.Document:
		if len(t) == 1 {
			if hex, ok := t["$oid"].(string); ok {
				if id, err := primitive.ObjectIDFromHex(hex); err == nil {
					return models.ObjectID(id)
				}
			}
		}
		for k, e := range t {
			t[k] = fromExtendedJSON(e)
		}
		return t
	case map[string]any:
		return fromExtendedJSON(models.Document(t))
	case []any:
		for i, e := range t {
			t[i] = fromExtendedJSON(e)
		}
		return t
	}
	return v
}
