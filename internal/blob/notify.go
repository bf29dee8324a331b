package blob

import (
	"context"
	"strings"
)

// WriteHandler receives storage-write notifications.
type WriteHandler func(ctx context.Context, bucket, key string)

// notifying decorates a Store so that successful writes under prefix are
// reported, mirroring S3 event notifications for backends that have none.
type notifying struct {
	Store
	prefix string
	notify WriteHandler
}

// WithWriteNotifications returns a Store that calls fn after every successful
// Put whose key starts with prefix.
func WithWriteNotifications(s Store, prefix string, fn WriteHandler) Store {
	return &notifying{Store: s, prefix: prefix, notify: fn}
}

func (n *notifying) Put(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	if err := n.Store.Put(ctx, bucket, key, body, contentType); err != nil {
		return err
	}
	if strings.HasPrefix(key, n.prefix) {
		n.notify(context.WithoutCancel(ctx), bucket, key)
	}
	return nil
}
