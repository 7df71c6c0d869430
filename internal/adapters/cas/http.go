package cas

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.trai.ch/kiln/internal/core/domain"
)

// HTTPBackend is a remote cache that maps Has, Get and Set to HEAD, GET and PUT requests
// against base/<key[0:2]>/<key[2:]>[.ext].
type HTTPBackend struct {
	base     string
	ext      string
	writable bool
	client   *http.Client
}

// HTTPOption configures an HTTPBackend.
type HTTPOption func(*HTTPBackend)

// WithExtension appends "."+ext to every object path.
func WithExtension(ext string) HTTPOption {
	return func(b *HTTPBackend) {
		b.ext = strings.TrimPrefix(ext, ".")
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(b *HTTPBackend) {
		b.client = c
	}
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) HTTPOption {
	return func(b *HTTPBackend) {
		if d > 0 {
			b.client = &http.Client{Timeout: d, Transport: b.client.Transport}
		}
	}
}

// NewHTTPBackend returns a remote backend at base. A backend that is not writable is never
// populated.
func NewHTTPBackend(base string, writable bool, opts ...HTTPOption) *HTTPBackend {
	b := &HTTPBackend{
		base:     strings.TrimSuffix(base, "/"),
		writable: writable,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ports.CacheBackend.
func (b *HTTPBackend) Name() string { return "http" }

// Writable implements ports.CacheBackend.
func (b *HTTPBackend) Writable() bool { return b.writable }

// URL returns the object URL for key.
func (b *HTTPBackend) URL(key string) string {
	shard, rest := domain.ShardKey(key)
	u := b.base + "/" + shard + "/" + rest
	if b.ext != "" {
		u += "." + b.ext
	}
	return u
}

// Get implements ports.CacheBackend.
func (b *HTTPBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := b.do(ctx, http.MethodGet, key, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, nil
	case resp.StatusCode/100 != 2:
		return nil, false, statusError(resp, b.Name(), key)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, ioError(err, b.Name(), key)
	}
	return data, true, nil
}

// Set implements ports.CacheBackend.
func (b *HTTPBackend) Set(ctx context.Context, key string, data []byte) error {
	if !b.writable {
		return ioError(errors.New("backend is read-only"), b.Name(), key)
	}
	resp, err := b.do(ctx, http.MethodPut, key, data)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return statusError(resp, b.Name(), key)
	}
	return nil
}

// Has implements ports.CacheBackend.
func (b *HTTPBackend) Has(ctx context.Context, key string) (bool, error) {
	resp, err := b.do(ctx, http.MethodHead, key, nil)
	if err != nil {
		return false, err
	}
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode/100 != 2:
		return false, statusError(resp, b.Name(), key)
	}
	return true, nil
}

func (b *HTTPBackend) do(ctx context.Context, method, key string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.URL(key), r)
	if err != nil {
		return nil, ioError(err, b.Name(), key)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, ioError(err, b.Name(), key)
	}
	return resp, nil
}

func statusError(resp *http.Response, backend, key string) error {
	return ioError(fmt.Errorf("unexpected status %s", resp.Status), backend, key)
}
