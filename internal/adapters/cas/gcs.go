package cas

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"

	"cloud.google.com/go/storage"
	"go.trai.ch/kiln/internal/core/domain"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GCSBackend is a remote cache in a Google Cloud Storage bucket. Objects are named
// prefix/<key[0:2]>/<key[2:]>.
type GCSBackend struct {
	bucket   *storage.BucketHandle
	prefix   string
	writable bool
}

// NewGCSClient creates a storage client. An empty credentials path uses application default
// credentials.
func NewGCSClient(ctx context.Context, credentials string, opts ...option.ClientOption) (*storage.Client, error) {
	if credentials != "" {
		opts = append(opts, option.WithCredentialsFile(credentials))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, ioError(err, "gcs", "")
	}
	return client, nil
}

// NewGCSBackend returns a remote backend on bucket.
func NewGCSBackend(client *storage.Client, bucket, prefix string, writable bool) *GCSBackend {
	return &GCSBackend{
		bucket:   client.Bucket(bucket),
		prefix:   prefix,
		writable: writable,
	}
}

// Name implements ports.CacheBackend.
func (g *GCSBackend) Name() string { return "gcs" }

// Writable implements ports.CacheBackend.
func (g *GCSBackend) Writable() bool { return g.writable }

// Get implements ports.CacheBackend.
func (g *GCSBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	r, err := g.bucket.Object(objectName(g.prefix, key)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, ioError(err, g.Name(), key)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, false, ioError(err, g.Name(), key)
	}
	return data, true, nil
}

// Set implements ports.CacheBackend. The write is conditional on the object not existing, so
// concurrent writers of the same content key do not rewrite it.
func (g *GCSBackend) Set(ctx context.Context, key string, data []byte) error {
	if !g.writable {
		return ioError(errors.New("backend is read-only"), g.Name(), key)
	}

	obj := g.bucket.Object(objectName(g.prefix, key)).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return ioError(err, g.Name(), key)
	}
	if err := w.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return nil
		}
		return ioError(err, g.Name(), key)
	}
	return nil
}

// Has implements ports.CacheBackend.
func (g *GCSBackend) Has(ctx context.Context, key string) (bool, error) {
	_, err := g.bucket.Object(objectName(g.prefix, key)).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, ioError(err, g.Name(), key)
	}
	return true, nil
}

func objectName(prefix, key string) string {
	shard, rest := domain.ShardKey(key)
	return path.Join(prefix, shard, rest)
}
