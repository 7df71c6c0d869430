package ports

import "context"

// CacheBackend is a key/blob store. Keys are content-derived, so writing the same key twice
// carries the same payload.
//
//go:generate mockgen -source=cache.go -destination=mocks/mock_cache.go -package=mocks
type CacheBackend interface {
	// Get returns the payload stored under key. found is false when the key is absent.
	Get(ctx context.Context, key string) (data []byte, found bool, err error)
	// Set stores data under key.
	Set(ctx context.Context, key string, data []byte) error
	// Has reports whether key is present.
	Has(ctx context.Context, key string) (bool, error)
	// Writable reports whether Set may be called.
	Writable() bool
	// Name identifies the backend in logs and metrics.
	Name() string
}

// ContentStore is the cache surface used by the request tracker. Read failures are reported
// as misses unless the failing tier is authoritative; write failures are never reported.
type ContentStore interface {
	GetBlob(ctx context.Context, key string) (data []byte, found bool, err error)
	SetBlob(ctx context.Context, key string, data []byte)
	Exists(ctx context.Context, key string) bool
}
