// Package upload implements the Upload Pipeline (C9): the two-stage
// prepare/commit queue that turns a sealed log-cache block into a
// committed object-store artifact, plus the Object Store Client (C12)
// interface and its S3 implementation.
package upload

import (
	"context"
	"errors"

	"github.com/coldforge/streamwal/pkg/types"
)

// ErrObjectNotFound is returned by GetRange when the key does not exist.
var ErrObjectNotFound = errors.New("upload: object not found")

// ObjectStore is the interface the Upload Pipeline calls against for
// part uploads, multipart completion, ranged reads, and deletion.
type ObjectStore interface {
	CreateMultipartUpload(ctx context.Context, key string) (uploadID string, err error)
	PutPart(ctx context.Context, uploadID, key string, partNumber int, data []byte) (etag string, err error)
	CompleteMultipart(ctx context.Context, uploadID, key string, parts []types.CompletedPart) error
	GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error)
	DeleteObjects(ctx context.Context, keys []string) error
}
