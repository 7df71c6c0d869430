// Package cas implements the content store: local and remote cache backends and a tiered
// store over them.
package cas

import (
	"context"
	"errors"
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
	"golang.org/x/sync/singleflight"
)

// DefaultHotCacheSize is the number of metadata entries kept in memory.
const DefaultHotCacheSize = 4096

// Lookup results reported to ports.Metrics.
const (
	lookupHit   = "hit"
	lookupMiss  = "miss"
	lookupError = "error"
)

// Store tiers a local backend over an optional remote backend. It implements ports.ContentStore.
type Store struct {
	local         ports.CacheBackend
	remote        ports.CacheBackend
	authoritative bool

	hotSize int
	hot     *lru.Cache[string, []byte]
	reads   singleflight.Group

	logger  ports.Logger
	metrics ports.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithRemote adds a remote tier. Read failures against an authoritative remote are returned to
// the caller instead of being treated as misses.
func WithRemote(backend ports.CacheBackend, authoritative bool) Option {
	return func(s *Store) {
		s.remote = backend
		s.authoritative = authoritative
	}
}

// WithLogger sets the logger used for swallowed cache failures.
func WithLogger(l ports.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithMetrics sets the lookup counters.
func WithMetrics(m ports.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithHotCacheSize sets the number of metadata entries kept in memory.
func WithHotCacheSize(n int) Option {
	return func(s *Store) {
		s.hotSize = n
	}
}

// NewStore creates a Store over local.
func NewStore(local ports.CacheBackend, opts ...Option) (*Store, error) {
	s := &Store{
		local:   local,
		hotSize: DefaultHotCacheSize,
	}
	for _, opt := range opts {
		opt(s)
	}

	hot, err := lru.New[string, []byte](s.hotSize)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to create hot cache"), "size", s.hotSize)
	}
	s.hot = hot
	return s, nil
}

// Local returns the local backend.
func (s *Store) Local() ports.CacheBackend {
	return s.local
}

// Remote returns the remote backend, or nil.
func (s *Store) Remote() ports.CacheBackend {
	return s.remote
}

type readResult struct {
	data  []byte
	found bool
}

// GetBlob returns the payload stored under key. Concurrent reads of one key share a single
// backend lookup. The returned slice belongs to the caller.
func (s *Store) GetBlob(ctx context.Context, key string) ([]byte, bool, error) {
	if data, ok := s.hot.Get(key); ok {
		s.lookup("memory", lookupHit)
		return slices.Clone(data), true, nil
	}

	ch := s.reads.DoChan(key, func() (any, error) {
		return s.read(ctx, key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			if !sharedCancelled(ctx, res.Err) {
				return nil, false, res.Err
			}
			// The caller that started the shared read went away; read on our own context.
			r, err := s.read(ctx, key)
			return r.data, r.found, err
		}
		r := res.Val.(readResult)
		return slices.Clone(r.data), r.found, nil
	case <-ctx.Done():
		return nil, false, context.Cause(ctx)
	}
}

func (s *Store) read(ctx context.Context, key string) (readResult, error) {
	if data, ok := s.readTier(ctx, s.local, key); ok {
		s.remember(key, data)
		return readResult{data: data, found: true}, nil
	}
	if err := ctx.Err(); err != nil {
		return readResult{}, context.Cause(ctx)
	}
	if s.remote == nil {
		return readResult{}, nil
	}

	raw, found, err := s.remote.Get(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return readResult{}, context.Cause(ctx)
		}
		s.lookup(s.remote.Name(), lookupError)
		if s.authoritative {
			return readResult{}, ioError(err, s.remote.Name(), key)
		}
		s.warn(fmt.Sprintf("cache read from %s failed for %s, treating as miss: %v", s.remote.Name(), key, err))
		return readResult{}, nil
	}
	if !found {
		s.lookup(s.remote.Name(), lookupMiss)
		return readResult{}, nil
	}

	data, _, err := unframe(raw)
	if err != nil {
		s.lookup(s.remote.Name(), lookupError)
		if s.authoritative {
			return readResult{}, ioError(err, s.remote.Name(), key)
		}
		s.warn(fmt.Sprintf("corrupt cache entry %s on %s, treating as miss: %v", key, s.remote.Name(), err))
		return readResult{}, nil
	}
	s.lookup(s.remote.Name(), lookupHit)

	if err := s.local.Set(ctx, key, raw); err != nil {
		s.warn(fmt.Sprintf("cache backfill to %s failed for %s: %v", s.local.Name(), key, err))
	}
	s.remember(key, data)
	return readResult{data: data, found: true}, nil
}

// readTier reads and unframes key from b. Every failure is reported as a miss.
func (s *Store) readTier(ctx context.Context, b ports.CacheBackend, key string) ([]byte, bool) {
	raw, found, err := b.Get(ctx, key)
	switch {
	case err != nil:
		if ctx.Err() == nil {
			s.lookup(b.Name(), lookupError)
			s.warn(fmt.Sprintf("cache read from %s failed for %s, treating as miss: %v", b.Name(), key, err))
		}
		return nil, false
	case !found:
		s.lookup(b.Name(), lookupMiss)
		return nil, false
	}

	data, _, err := unframe(raw)
	if err != nil {
		s.lookup(b.Name(), lookupError)
		s.warn(fmt.Sprintf("corrupt cache entry %s on %s, treating as miss: %v", key, b.Name(), err))
		return nil, false
	}
	s.lookup(b.Name(), lookupHit)
	return data, true
}

// SetBlob stores data under key in every writable tier. Failures are logged and dropped.
func (s *Store) SetBlob(ctx context.Context, key string, data []byte) {
	raw := frame(data)
	s.remember(key, data)

	if err := s.local.Set(ctx, key, raw); err != nil {
		s.warn(fmt.Sprintf("cache write to %s failed for %s: %v", s.local.Name(), key, err))
	}

	if s.remote == nil || !s.remote.Writable() {
		return
	}
	// Keys are content-derived, so an existing remote entry already holds these bytes.
	if ok, err := s.remote.Has(ctx, key); err == nil && ok {
		return
	}
	if err := s.remote.Set(ctx, key, raw); err != nil {
		s.warn(fmt.Sprintf("cache write to %s failed for %s: %v", s.remote.Name(), key, err))
	}
}

// Exists reports whether any tier holds key. Lookup failures count as absent.
func (s *Store) Exists(ctx context.Context, key string) bool {
	if s.hot.Contains(key) {
		return true
	}
	for _, b := range []ports.CacheBackend{s.local, s.remote} {
		if b == nil {
			continue
		}
		ok, err := b.Has(ctx, key)
		if err != nil {
			s.warn(fmt.Sprintf("cache lookup on %s failed for %s: %v", b.Name(), key, err))
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// Purge empties the in-memory tier.
func (s *Store) Purge() {
	s.hot.Purge()
}

func (s *Store) remember(key string, data []byte) {
	if domain.KindForSize(len(data)) == domain.EntryMetadata {
		s.hot.Add(key, slices.Clone(data))
	}
}

func (s *Store) lookup(backend, result string) {
	if s.metrics != nil {
		s.metrics.CacheLookup(backend, result)
	}
}

func (s *Store) warn(msg string) {
	if s.logger != nil {
		s.logger.Warn(msg)
	}
}

func sharedCancelled(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
