package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// FS stores objects as files under root/{bucket}/{key}. Writes go through a
// temp file and a rename so that watchers only ever observe complete objects.
// Presigned URLs carry an HS256 token scoped to one object and are served by
// ServeHTTP.
type FS struct {
	root    string
	secret  []byte
	baseURL string
	logger  *slog.Logger
	now     func() time.Time
}

// NewFS returns a filesystem Store. baseURL is the externally reachable address
// under which ServeHTTP is mounted, e.g. http://localhost:5000/blobs.
func NewFS(root, signingKey, baseURL string, logger *slog.Logger) (*FS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if signingKey == "" {
		return nil, errors.New("fs blob store: signing key is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(abs, ".tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("fs blob store: create root: %w", err)
	}
	return &FS{
		root:    abs,
		secret:  []byte(signingKey),
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Root is the directory holding all buckets.
func (s *FS) Root() string { return s.root }

// BucketDir is the directory holding the objects of bucket.
func (s *FS) BucketDir(bucket string) string { return filepath.Join(s.root, bucket) }

func (s *FS) path(bucket, key string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." || strings.HasPrefix(bucket, ".") {
		return "", fmt.Errorf("invalid bucket %q", bucket)
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.root, bucket, clean), nil
}

func (s *FS) Put(ctx context.Context, bucket, key string, body []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Join(s.root, ".tmp"), "put-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("fs put %s/%s: %w", bucket, key, err)
	}
	s.logger.Debug("blob written", "bucket", bucket, "key", key, "bytes", len(body))
	return nil
}

func (s *FS) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(bucket, key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, ErrObjectNotFound)
	}
	return b, err
}

func (s *FS) Delete(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FS) PresignGet(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if _, err := s.path(bucket, key); err != nil {
		return "", err
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   bucket + "/" + key,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign url: %w", err)
	}
	u := s.baseURL + "/" + url.PathEscape(bucket) + "/" + escapeKey(key)
	return u + "?" + url.Values{"token": {token}}.Encode(), nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// verify checks that token grants access to bucket/key right now.
func (s *FS) verify(token, bucket, key string) error {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return err
	}
	if claims.Subject != bucket+"/"+key {
		return errors.New("token does not grant this object")
	}
	return nil
}

// ServeHTTP serves GET {mount}/{bucket}/{key...}?token=... for URLs produced by
// PresignGet. The handler expects the mount prefix to be stripped already.
func (s *FS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	bucket, key, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if !ok || key == "" {
		http.NotFound(w, r)
		return
	}
	if err := s.verify(r.URL.Query().Get("token"), bucket, key); err != nil {
		s.logger.Warn("blob url rejected", "bucket", bucket, "key", key, "err", err)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	p, err := s.path(bucket, key)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, p)
}
