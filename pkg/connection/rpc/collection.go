package rpc

import (
	"context"
	"fmt"

	"github.com/takameyer/realm.go/pkg/connection"
	"github.com/takameyer/realm.go/pkg/constants"
	"github.com/takameyer/realm.go/pkg/models"
)

// Namespace addresses a remote collection.
type Namespace struct {
	Database   string `cbor:"database" json:"database"`
	Collection string `cbor:"collection" json:"collection"`
}

func (ns Namespace) String() string {
	return ns.Database + "." + ns.Collection
}

type InsertOneResult struct {
	InsertedID models.ObjectID `cbor:"insertedId" json:"insertedId"`
}

type UpdateResult struct {
	MatchedCount  int64            `cbor:"matchedCount" json:"matchedCount"`
	ModifiedCount int64            `cbor:"modifiedCount" json:"modifiedCount"`
	UpsertedID    *models.ObjectID `cbor:"upsertedId,omitempty" json:"upsertedId,omitempty"`
}

type DeleteResult struct {
	DeletedCount int64 `cbor:"deletedCount" json:"deletedCount"`
}

// FindOptions narrows a find call. Zero values mean no limit.
type FindOptions struct {
	Limit int64 `cbor:"limit,omitempty" json:"limit,omitempty"`
}

func InsertOne(c connection.Connection, ctx context.Context, ns Namespace, doc models.Document) (*InsertOneResult, error) {
	var res connection.RPCResponse[InsertOneResult]
	if err := connection.Send(c, ctx, &res, connection.InsertOne, ns.Database, ns.Collection, doc); err != nil {
		return nil, err
	}
	if res.Result == nil {
		return nil, fmt.Errorf("insertOne %s: %w", ns, constants.InvalidResponse)
	}
	return res.Result, nil
}

// FindOne returns nil without error when nothing matches.
func FindOne(c connection.Connection, ctx context.Context, ns Namespace, filter models.Document) (models.Document, error) {
	var res connection.RPCResponse[models.Document]
	if err := connection.Send(c, ctx, &res, connection.FindOne, ns.Database, ns.Collection, filter); err != nil {
		return nil, err
	}
	if res.Result == nil {
		return nil, nil
	}
	return models.CloneDocument(*res.Result), nil
}

func Find(c connection.Connection, ctx context.Context, ns Namespace, filter models.Document, opts FindOptions) ([]models.Document, error) {
	var res connection.RPCResponse[[]map[string]any]
	if err := connection.Send(c, ctx, &res, connection.Find, ns.Database, ns.Collection, filter, opts); err != nil {
		return nil, err
	}
	if res.Result == nil {
		return []models.Document{}, nil
	}
	out := make([]models.Document, len(*res.Result))
	for i, d := range *res.Result {
		out[i] = models.CloneDocument(d)
	}
	return out, nil
}

func UpdateOne(c connection.Connection, ctx context.Context, ns Namespace, filter, update models.Document, upsert bool) (*UpdateResult, error) {
	var res connection.RPCResponse[UpdateResult]
	if err := connection.Send(c, ctx, &res, connection.UpdateOne, ns.Database, ns.Collection, filter, update, upsert); err != nil {
		return nil, err
	}
	if res.Result == nil {
		return nil, fmt.Errorf("updateOne %s: %w", ns, constants.InvalidResponse)
	}
	return res.Result, nil
}

func DeleteOne(c connection.Connection, ctx context.Context, ns Namespace, filter models.Document) (*DeleteResult, error) {
	var res connection.RPCResponse[DeleteResult]
	if err := connection.Send(c, ctx, &res, connection.DeleteOne, ns.Database, ns.Collection, filter); err != nil {
		return nil, err
	}
	if res.Result == nil {
		return nil, fmt.Errorf("deleteOne %s: %w", ns, constants.InvalidResponse)
	}
	return res.Result, nil
}

func Count(c connection.Connection, ctx context.Context, ns Namespace, filter models.Document) (int64, error) {
	var res connection.RPCResponse[int64]
	if err := connection.Send(c, ctx, &res, connection.Count, ns.Database, ns.Collection, filter); err != nil {
		return 0, err
	}
	if res.Result == nil {
		return 0, fmt.Errorf("count %s: %w", ns, constants.InvalidResponse)
	}
	return *res.Result, nil
}
