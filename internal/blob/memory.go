package blob

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// Memory is a process-local Store. Presigned URLs use the memory:// scheme and
// are only meaningful to tests and single-process development setups.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memObject
	now     func() time.Time
}

type memObject struct {
	body        []byte
	contentType string
}

func NewMemory() *Memory {
	return &Memory{objects: map[string]memObject{}, now: time.Now}
}

func memKey(bucket, key string) string { return bucket + "/" + key }

func (m *Memory) Put(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := append([]byte(nil), body...)
	m.mu.Lock()
	m.objects[memKey(bucket, key)] = memObject{body: cp, contentType: contentType}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	obj, ok := m.objects[memKey(bucket, key)]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, ErrObjectNotFound)
	}
	return append([]byte(nil), obj.body...), nil
}

func (m *Memory) Delete(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.objects, memKey(bucket, key))
	m.mu.Unlock()
	return nil
}

func (m *Memory) PresignGet(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[memKey(bucket, key)]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("presign %s/%s: %w", bucket, key, ErrObjectNotFound)
	}
	u := url.URL{
		Scheme:   "memory",
		Host:     bucket,
		Path:     "/" + key,
		RawQuery: url.Values{"expires": {fmt.Sprint(m.now().Add(ttl).Unix())}}.Encode(),
	}
	return u.String(), nil
}

// ContentType reports the stored content type of an object.
func (m *Memory) ContentType(bucket, key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[memKey(bucket, key)]
	return obj.contentType, ok
}

// Len reports the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
