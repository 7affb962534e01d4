package texrender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"text/template"
	"time"

	"github.com/aretw0/texrender/internal/config"
	"github.com/aretw0/texrender/internal/logging"
	gateway "github.com/aretw0/texrender/pkg/adapters/http"
	"github.com/aretw0/texrender/pkg/adapters/memory"
	"github.com/aretw0/texrender/pkg/adapters/pebble"
	"github.com/aretw0/texrender/pkg/adapters/redis"
	"github.com/aretw0/texrender/pkg/backend"
	"github.com/aretw0/texrender/pkg/delivery"
	"github.com/aretw0/texrender/pkg/document"
	"github.com/aretw0/texrender/pkg/observability"
	"github.com/aretw0/texrender/pkg/persistence/middleware"
	"github.com/aretw0/texrender/pkg/pool"
	"github.com/aretw0/texrender/pkg/ports"
	"github.com/aretw0/texrender/pkg/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Version is the release version.
const Version = "0.1.0"

// Service wires the render pipeline from a Config.
// The binary backend's pool is opened on first use, so commands that never render do not dial.
type Service struct {
	Config  *config.Config
	Builder *document.Builder
	Store   ports.KeyStore
	Metrics *observability.Metrics

	// backing is the store before middleware, for driver-specific maintenance.
	backing  ports.KeyStore
	edits    *memory.Store
	registry *prometheus.Registry
	dial     pool.DialFunc
	locker   ports.DistributedLocker
	logger   *slog.Logger

	binaryOnce sync.Once
	pool       *pool.Pool
	binary     *backend.BinaryClient
	closers    []io.Closer
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithStore bypasses the configured store driver.
func WithStore(store ports.KeyStore) Option {
	return func(s *Service) {
		s.Store = store
	}
}

// WithDialer replaces the TCP dialer of the binary backend.
func WithDialer(dial pool.DialFunc) Option {
	return func(s *Service) {
		s.dial = dial
	}
}

// New initializes a Service. Close releases the pool and the store.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	s := &Service{
		Config:   cfg,
		edits:    memory.NewStore(),
		registry: prometheus.NewRegistry(),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.Metrics = observability.NewMetrics(s.registry)

	builder, err := s.loadBuilder(cfg.Document)
	if err != nil {
		return nil, err
	}
	s.Builder = builder

	if s.Store == nil {
		if err := s.openStore(cfg.Store); err != nil {
			return nil, err
		}
	}
	s.backing = s.Store
	active, fallback, err := cfg.Store.Keys()
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if active != nil {
		s.Store = middleware.Chain(s.Store, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey:    active,
			FallbackKeys: fallback,
		}))
	}
	if s.dial == nil {
		s.dial = pool.TCPDialer(cfg.Backend.Addr())
	}
	return s, nil
}

func (s *Service) loadBuilder(cfg config.DocumentConfig) (*document.Builder, error) {
	var table document.Table
	if cfg.Substitutions != "" {
		f, err := os.Open(cfg.Substitutions)
		if err != nil {
			return nil, fmt.Errorf("failed to open substitutions: %w", err)
		}
		defer f.Close()
		if table, err = document.LoadTable(f); err != nil {
			return nil, fmt.Errorf("failed to load substitutions: %w", err)
		}
		for _, c := range table.Cascades() {
			s.logger.Warn("Substitution output is rewritten by a later entry", "earlier", c.Earlier, "later", c.Later)
		}
	}

	var tmpl *template.Template
	if cfg.Template != "" {
		f, err := os.Open(cfg.Template)
		if err != nil {
			return nil, fmt.Errorf("failed to open template: %w", err)
		}
		defer f.Close()
		if tmpl, err = document.LoadTemplate(f); err != nil {
			return nil, fmt.Errorf("failed to load template: %w", err)
		}
	}
	return document.NewBuilder(table, tmpl, document.WithLogger(s.logger)), nil
}

func (s *Service) openStore(cfg config.StoreConfig) error {
	switch cfg.Driver {
	case config.StoreRedis:
		opts := []redis.Option{redis.WithTTL(cfg.TTL)}
		if cfg.Prefix != "" {
			opts = append(opts, redis.WithPrefix(cfg.Prefix))
		}
		store := redis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, opts...)
		s.Store = store
		s.locker = redis.NewLocker(store.Client(), store.Prefix())
		s.closers = append(s.closers, store)
	case config.StorePebble:
		store, err := pebble.Open(cfg.PebblePath, pebble.WithTTL(cfg.TTL))
		if err != nil {
			return err
		}
		s.Store = store
		s.closers = append(s.closers, store)
	default:
		s.Store = memory.NewStore()
	}
	return nil
}

// Binary returns the binary-protocol client, opening the connection pool on first call.
func (s *Service) Binary() *backend.BinaryClient {
	s.binaryOnce.Do(func() {
		codec, err := wire.ByName(s.Config.Backend.Wire)
		if err != nil {
			// Config.Validate rejects unknown variants.
			codec = wire.Preamble{}
		}
		s.pool = pool.New(s.dial,
			pool.WithSize(s.Config.Backend.PoolSize),
			pool.WithPreamble(codec.Preamble()),
			pool.WithDialTimeout(s.Config.Backend.DialTimeout),
			pool.WithRecycleInterval(s.Config.Backend.RecycleInterval),
			pool.WithLogger(s.logger),
			pool.WithMetrics(s.Metrics),
		)
		s.binary = backend.NewBinaryClient(s.pool, codec,
			backend.WithReadTimeout(s.Config.Backend.ReadTimeout),
			backend.WithBinaryLogger(s.logger),
			backend.WithBinaryMetrics(s.Metrics),
		)
	})
	return s.binary
}

// Signed returns the signed-URL client.
func (s *Service) Signed() *backend.SignedClient {
	c := s.Config.Signed
	opts := []backend.SignedOption{
		backend.WithMaxLinkLength(c.MaxLinkLength),
		backend.WithFetchTimeout(c.Timeout),
		backend.WithSignedLogger(s.logger),
		backend.WithSignedMetrics(s.Metrics),
	}
	if c.RequestOrigin != "" {
		opts = append(opts, backend.WithRequestOrigin(c.RequestOrigin))
	}
	return backend.NewSignedClient([]byte(c.Key), c.PublicOrigin, opts...)
}

// Renderer returns the client selected by backend.protocol.
func (s *Service) Renderer() delivery.Renderer {
	if s.Config.Backend.Protocol == config.ProtocolSigned {
		return s.Signed()
	}
	return s.Binary()
}

// Controller creates a delivery controller posting through platform.
func (s *Service) Controller(platform delivery.Platform) *delivery.Controller {
	opts := []delivery.Option{
		delivery.WithFlags(delivery.NewStoreFlags(s.Store, s.Config.Delivery.Features, s.logger)),
		delivery.WithEditIndex(s.edits, s.Config.Delivery.EditWindow),
		delivery.WithLogger(s.logger),
		delivery.WithMetrics(s.Metrics),
	}
	if s.locker != nil {
		opts = append(opts, delivery.WithLocker(s.locker))
	}
	return delivery.NewController(s.Builder, s.Renderer(), platform, s.Store, opts...)
}

// Gateway returns the render gateway handler. It always renders through the binary backend.
func (s *Service) Gateway() http.Handler {
	opts := []gateway.Option{
		gateway.WithVersion(Version),
		gateway.WithRateLimit(s.Config.Gateway.RateLimit, s.Config.Gateway.Burst),
		gateway.WithTrustedProxy(s.Config.Gateway.TrustedProxy),
		gateway.WithLogger(s.logger),
	}
	if s.Config.Gateway.Metrics {
		opts = append(opts, gateway.WithMetricsHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}
	if pinger, ok := s.backing.(interface{ Ping(context.Context) error }); ok {
		opts = append(opts, gateway.WithHealthCheck(pinger.Ping))
	}
	return gateway.NewHandler(s.Binary(), []byte(s.Config.Signed.Key), opts...)
}

type sweeper interface {
	Sweep(ctx context.Context, namespace string) (int, error)
}

type sweepTarget struct {
	name      string
	store     sweeper
	namespace string
}

// Maintain purges expired records until ctx is done: the edit index always, and the
// requester records of stores without native expiry.
func (s *Service) Maintain(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	targets := []sweepTarget{{name: "edits", store: s.edits, namespace: delivery.NamespaceEdits}}
	if sw, ok := s.backing.(sweeper); ok {
		targets = append(targets, sweepTarget{name: "store", store: sw, namespace: delivery.NamespaceBlame})
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, t := range targets {
				n, err := t.store.Sweep(ctx, t.namespace)
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						s.logger.Warn("Sweep failed", "target", t.name, "err", err)
					}
					continue
				}
				if n > 0 {
					s.logger.Debug("Sweep", "target", t.name, "removed", n)
				}
			}
		}
	}
}

// Close releases the pool and the store.
func (s *Service) Close() error {
	var errs []error
	if s.pool != nil {
		errs = append(errs, s.pool.Close())
	}
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
