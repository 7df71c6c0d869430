// Package cacheserver serves a cache backend over HTTP in the layout remote caches are read
// from: HEAD, GET and PUT on /<key[0:2]>/<key[2:]>[.ext].
package cacheserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

const (
	// DefaultMaxObjectSize bounds the body of a PUT.
	DefaultMaxObjectSize = 512 << 20
	shutdownGrace        = 5 * time.Second
	backendLabel         = "server"
)

var validKey = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Server exposes a ports.CacheBackend over HTTP.
type Server struct {
	backend   ports.CacheBackend
	logger    ports.Logger
	metrics   ports.Metrics
	idle      *Idle
	maxObject int64
	engine    *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithLogger logs backend failures.
func WithLogger(l ports.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics counts lookups.
func WithMetrics(m ports.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithIdleTimeout shuts the server down after d without requests.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) { s.idle = NewIdle(d) }
}

// WithMaxObjectSize bounds the size of stored objects.
func WithMaxObjectSize(n int64) Option {
	return func(s *Server) { s.maxObject = n }
}

// New returns a server for backend.
func New(backend ports.CacheBackend, opts ...Option) *Server {
	s := &Server{
		backend:   backend,
		maxObject: DefaultMaxObjectSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.idle == nil {
		s.idle = NewIdle(0)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), s.track)
	engine.GET("/healthz", s.health)
	engine.HEAD("/:shard/:object", s.has)
	engine.GET("/:shard/:object", s.get)
	engine.PUT("/:shard/:object", s.put)
	s.engine = engine
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Idle returns the idle tracker of the server.
func (s *Server) Idle() *Idle {
	return s.idle
}

// Serve accepts connections on ln until ctx is cancelled or the server has been idle for its
// idle timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return zerr.Wrap(err, "cache server stopped")
	case <-ctx.Done():
	case <-s.idle.Done():
		s.info("cache server idle, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return zerr.Wrap(err, "cache server shutdown failed")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return zerr.Wrap(err, "cache server stopped")
	}
	return nil
}

func (s *Server) track(c *gin.Context) {
	defer s.idle.Begin()()
	c.Next()
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"backend":  s.backend.Name(),
		"writable": s.backend.Writable(),
		"uptime":   s.idle.Uptime().Round(time.Second).String(),
	})
}

// key reassembles the cache key from the path, dropping an optional extension.
func key(c *gin.Context) (string, bool) {
	shard := c.Param("shard")
	object, _, _ := strings.Cut(c.Param("object"), ".")
	k := shard + object
	if shard == "_" {
		k = object
	}
	if k == "" || !validKey.MatchString(k) {
		return "", false
	}
	if want, _ := domain.ShardKey(k); want != shard {
		return "", false
	}
	return k, true
}

func (s *Server) has(c *gin.Context) {
	k, ok := key(c)
	if !ok {
		c.Status(http.StatusBadRequest)
		return
	}
	found, err := s.backend.Has(c.Request.Context(), k)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.lookup(found)
	if !found {
		c.Status(http.StatusNotFound)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) get(c *gin.Context) {
	k, ok := key(c)
	if !ok {
		c.Status(http.StatusBadRequest)
		return
	}
	data, found, err := s.backend.Get(c.Request.Context(), k)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.lookup(found)
	if !found {
		c.Status(http.StatusNotFound)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (s *Server) put(c *gin.Context) {
	if !s.backend.Writable() {
		c.Status(http.StatusForbidden)
		return
	}
	k, ok := key(c)
	if !ok {
		c.Status(http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.maxObject))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusBadRequest)
		return
	}
	if err := s.backend.Set(c.Request.Context(), k, data); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (s *Server) lookup(found bool) {
	if s.metrics == nil {
		return
	}
	result := "miss"
	if found {
		result = "hit"
	}
	s.metrics.CacheLookup(backendLabel, result)
}

func (s *Server) fail(c *gin.Context, err error) {
	if s.logger != nil {
		s.logger.Error(zerr.With(zerr.Wrap(err, domain.ErrCacheIO.Error()), "path", c.Request.URL.Path))
	}
	c.String(http.StatusInternalServerError, fmt.Sprintf("cache backend failed: %v", err))
}

func (s *Server) info(msg string) {
	if s.logger != nil {
		s.logger.Info(msg)
	}
}
