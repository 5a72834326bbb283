package rpc

import (
	"context"
	"fmt"

	"github.com/takameyer/realm.go/internal/store"
	"github.com/takameyer/realm.go/pkg/connection"
	"github.com/takameyer/realm.go/pkg/constants"
	"github.com/takameyer/realm.go/pkg/models"
)

type SubscribeResult struct {
	ID      models.UUID                  `cbor:"id"`
	Version uint64                       `cbor:"version"`
	Classes []string                     `cbor:"classes"`
	Objects map[string][]models.Document `cbor:"objects"`
}

type UploadResult struct {
	Version uint64 `cbor:"version"`
}

// Subscribe starts syncing partition for classes under the caller-chosen id. The
// result holds the server state of the partition; later changes arrive as
// notifications carrying a store.Changeset and id. Register the notification
// channel for id before calling Subscribe, the first change may arrive before
// Subscribe returns.
func Subscribe(c connection.Connection, ctx context.Context, id models.UUID, partition any, classes []string) (*SubscribeResult, error) {
	var res connection.RPCResponse[SubscribeResult]
	if err := connection.Send(c, ctx, &res, connection.Subscribe, id.String(), partition, classes); err != nil {
		return nil, err
	}
	if res.Result == nil {
		return nil, fmt.Errorf("subscribe: %w", constants.InvalidResponse)
	}
	return res.Result, nil
}

func Unsubscribe(c connection.Connection, ctx context.Context, id models.UUID) error {
	return connection.Send[any](c, ctx, nil, connection.Unsubscribe, id.String())
}

// Upload sends a local changeset for the partition of subscription id.
func Upload(c connection.Connection, ctx context.Context, id models.UUID, cs store.Changeset) (*UploadResult, error) {
	var res connection.RPCResponse[UploadResult]
	if err := connection.Send(c, ctx, &res, connection.Upload, id.String(), cs); err != nil {
		return nil, err
	}
	if res.Result == nil {
		return nil, fmt.Errorf("upload: %w", constants.InvalidResponse)
	}
	return res.Result, nil
}
