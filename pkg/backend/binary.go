package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/aretw0/texrender/internal/logging"
	"github.com/aretw0/texrender/pkg/domain"
	"github.com/aretw0/texrender/pkg/observability"
	"github.com/aretw0/texrender/pkg/wire"
)

// DefaultReadTimeout bounds one binary attempt.
const DefaultReadTimeout = 5 * time.Second

var errEmptyResponse = errors.New("empty response")

// ConnSource hands out single-use backend connections. *pool.Pool implements it.
type ConnSource interface {
	Checkout(ctx context.Context) (net.Conn, error)
	Size() int
}

// BinaryClient renders documents over the binary protocol.
type BinaryClient struct {
	conns       ConnSource
	codec       wire.Codec
	readTimeout time.Duration
	retries     int
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// BinaryOption configures the BinaryClient.
type BinaryOption func(*BinaryClient)

// WithReadTimeout overrides DefaultReadTimeout.
func WithReadTimeout(d time.Duration) BinaryOption {
	return func(c *BinaryClient) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

// WithRetries overrides the retry budget, which defaults to the pool size.
func WithRetries(n int) BinaryOption {
	return func(c *BinaryClient) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// WithBinaryLogger configures a logger for the client.
func WithBinaryLogger(logger *slog.Logger) BinaryOption {
	return func(c *BinaryClient) {
		c.logger = logger
	}
}

// WithBinaryMetrics enables instrumentation.
func WithBinaryMetrics(m *observability.Metrics) BinaryOption {
	return func(c *BinaryClient) {
		c.metrics = m
	}
}

// NewBinaryClient creates a client drawing connections from conns.
func NewBinaryClient(conns ConnSource, codec wire.Codec, opts ...BinaryOption) *BinaryClient {
	c := &BinaryClient{
		conns:       conns,
		codec:       codec,
		readTimeout: DefaultReadTimeout,
		retries:     conns.Size(),
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name labels the client in metrics and logs.
func (c *BinaryClient) Name() string {
	return "binary"
}

// Render sends doc to the backend. Transport faults are retried with a fresh connection, one
// initial attempt plus the retry budget; then domain.ErrTooManyRetries is returned.
// Timeouts and rendering errors are returned immediately.
func (c *BinaryClient) Render(ctx context.Context, doc domain.Document) ([]byte, error) {
	start := time.Now()
	img, err := c.render(ctx, doc)
	c.metrics.ObserveRender(c.Name(), err, time.Since(start))
	return img, err
}

func (c *BinaryClient) render(ctx context.Context, doc domain.Document) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			c.metrics.Retry()
			c.logger.Debug("retrying render", "attempt", attempt, "err", lastErr)
		}

		img, err := c.attempt(ctx, doc)
		if err == nil {
			return img, nil
		}

		var renderErr *domain.RenderError
		switch {
		case errors.As(err, &renderErr), errors.Is(err, domain.ErrTimeout):
			return nil, err
		case ctx.Err() != nil:
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", domain.ErrTooManyRetries, c.retries+1, lastErr)
}

// attempt uses one connection and always closes it.
func (c *BinaryClient) attempt(ctx context.Context, doc domain.Document) ([]byte, error) {
	conn, err := c.conns.Checkout(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(c.readTimeout))
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := c.codec.WriteRequest(conn, doc.Bytes()); err != nil {
		return nil, ioError(ctx, "write", err)
	}
	body, err := io.ReadAll(conn)
	if err != nil {
		return nil, ioError(ctx, "read", err)
	}
	if len(body) == 0 {
		return nil, errEmptyResponse
	}

	status, payload, err := c.codec.SplitResponse(body)
	if err != nil {
		return nil, err
	}
	switch status {
	case wire.StatusOK:
		return payload, nil
	case wire.StatusTexError:
		return nil, &domain.RenderError{Log: string(payload)}
	default:
		return nil, fmt.Errorf("backend status %d", status)
	}
}

func ioError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %w", op, domain.ErrTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}
