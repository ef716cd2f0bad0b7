// Package metadata models the durability core's external metadata
// collaborator: the topic/queue/consumer-group service that supplies
// stream identifiers, epochs, and opening-stream lists, and that commits
// object metadata after each upload.
package metadata

import (
	"context"
	"time"

	"github.com/coldforge/streamwal/pkg/types"
)

// Client is the interface the durability core calls against; the broker
// process wires in whatever control-plane implementation it runs, and
// MemoryClient below is a reference implementation suitable for tests and
// single-node operation.
type Client interface {
	GetOpeningStreams(ctx context.Context) ([]types.OpeningStreamEnd, error)
	PrepareObject(ctx context.Context, count int, ttl time.Duration) (firstObjectID int64, err error)
	CommitWalObject(ctx context.Context, req types.CommitRequest) error
	GetServerObjects(ctx context.Context) ([]types.ObjectMetadata, error)
	GetStreams(ctx context.Context, ids []int64) ([]types.StreamInfo, error)
	CloseStream(ctx context.Context, id int64, epoch int64) error
}
