// Package blob provides the object storage capability used for original and
// preprocessed images.
package blob

import (
	"context"
	"fmt"
	"time"

	"github.com/joseph-ayodele/imagetext/internal/common"
)

// ErrObjectNotFound is returned by Get when the key does not exist.
var ErrObjectNotFound = fmt.Errorf("object not found: %w", common.ErrNotFound)

// Store is object storage addressed by (bucket, key).
type Store interface {
	Put(ctx context.Context, bucket, key string, body []byte, contentType string) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Delete(ctx context.Context, bucket, key string) error
	// PresignGet returns a URL granting read access to one object until ttl elapses.
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Unavailable is the disabled Store built when no backend is configured.
type Unavailable struct {
	Reason string
}

func (u Unavailable) err() error { return common.Unavailable("blob store", u.Reason) }

func (u Unavailable) Put(context.Context, string, string, []byte, string) error { return u.err() }

func (u Unavailable) Get(context.Context, string, string) ([]byte, error) { return nil, u.err() }

func (u Unavailable) Delete(context.Context, string, string) error { return u.err() }

func (u Unavailable) PresignGet(context.Context, string, string, time.Duration) (string, error) {
	return "", u.err()
}
