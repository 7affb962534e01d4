package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/aretw0/texrender/internal/logging"
	"github.com/aretw0/texrender/pkg/domain"
	"github.com/aretw0/texrender/pkg/observability"
)

// Defaults.
const (
	DefaultSize            = 3
	DefaultRecycleInterval = 60 * time.Second
	DefaultDialTimeout     = 5 * time.Second
)

// ErrClosed is returned by Checkout once the pool has been closed.
var ErrClosed = errors.New("connection pool closed")

// DialFunc opens one connection to the backend.
type DialFunc func(ctx context.Context) (net.Conn, error)

// TCPDialer returns a DialFunc for a host:port address.
func TCPDialer(addr string) DialFunc {
	var d net.Dialer
	return func(ctx context.Context) (net.Conn, error) {
		return d.DialContext(ctx, "tcp", addr)
	}
}

// Pool hands out pre-opened backend connections.
type Pool struct {
	dial            DialFunc
	size            int
	preamble        []byte
	recycleInterval time.Duration
	dialTimeout     time.Duration
	logger          *slog.Logger
	metrics         *observability.Metrics

	checkouts chan chan *pending
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Option configures the Pool.
type Option func(*Pool)

// WithSize sets the number of queued connections. Values below 1 are ignored.
func WithSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.size = n
		}
	}
}

// WithPreamble sets the handshake written to every new connection.
func WithPreamble(preamble []byte) Option {
	return func(p *Pool) {
		p.preamble = preamble
	}
}

// WithRecycleInterval sets how often one idle connection is closed and replaced.
func WithRecycleInterval(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.recycleInterval = d
		}
	}
}

// WithDialTimeout bounds a single open, handshake included.
func WithDialTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.dialTimeout = d
		}
	}
}

// WithLogger configures a logger for the Pool.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithMetrics enables instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pool) {
		p.metrics = m
	}
}

// New creates a pool and starts opening its connections in the background.
func New(dial DialFunc, opts ...Option) *Pool {
	p := &Pool{
		dial:            dial,
		size:            DefaultSize,
		recycleInterval: DefaultRecycleInterval,
		dialTimeout:     DefaultDialTimeout,
		logger:          logging.NewNop(),
		checkouts:       make(chan chan *pending),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	queue := make([]*pending, 0, p.size+1)
	for i := 0; i < p.size; i++ {
		queue = append(queue, p.open())
	}

	p.wg.Add(2)
	go p.own(queue)
	go p.recycle()
	return p
}

// Size returns the configured capacity.
func (p *Pool) Size() int {
	return p.size
}

// Checkout takes the oldest queued connection, waiting for it to finish opening if needed.
// The caller owns the returned connection and must close it. An open that failed is reported
// as domain.ErrPoolExhausted.
func (p *Pool) Checkout(ctx context.Context) (net.Conn, error) {
	reply := make(chan *pending, 1)
	select {
	case p.checkouts <- reply:
	case <-p.ctx.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return (<-reply).wait(ctx)
}

// Close stops the background goroutines and closes every queued connection.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
	})
	return nil
}

// own is the only code that touches the queue.
func (p *Pool) own(queue []*pending) {
	defer p.wg.Done()
	for {
		select {
		case reply := <-p.checkouts:
			queue = append(queue, p.open())
			head := queue[0]
			queue[0] = nil
			queue = queue[1:]
			reply <- head
		case <-p.ctx.Done():
			for _, pd := range queue {
				pd.discard()
			}
			return
		}
	}
}

func (p *Pool) recycle() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.recycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			conn, err := p.Checkout(p.ctx)
			if err != nil {
				if errors.Is(err, ErrClosed) || p.ctx.Err() != nil {
					return
				}
				p.logger.Debug("recycle checkout failed", "err", err)
				continue
			}
			_ = conn.Close()
			p.metrics.Recycled()
		}
	}
}

// open starts dialing one connection and returns immediately.
func (p *Pool) open() *pending {
	pd := &pending{ready: make(chan struct{})}
	go func() {
		defer close(pd.ready)
		pd.conn, pd.err = p.connect()
		p.metrics.PoolOpened(pd.err)
		if pd.err != nil {
			p.logger.Warn("backend connection failed", "err", pd.err)
		}
	}()
	return pd
}

func (p *Pool) connect() (net.Conn, error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.dialTimeout)
	defer cancel()

	conn, err := p.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPoolExhausted, err)
	}
	if len(p.preamble) == 0 {
		return conn, nil
	}

	deadline, _ := ctx.Deadline()
	_ = conn.SetWriteDeadline(deadline)
	if _, err := conn.Write(p.preamble); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: handshake: %v", domain.ErrPoolExhausted, err)
	}
	_ = conn.SetWriteDeadline(time.Time{})
	return conn, nil
}

// pending is a connection that may still be opening.
type pending struct {
	ready chan struct{}
	conn  net.Conn
	err   error
}

func (pd *pending) wait(ctx context.Context) (net.Conn, error) {
	select {
	case <-pd.ready:
		return pd.conn, pd.err
	case <-ctx.Done():
		// Nobody else holds this connection; close it once it arrives.
		go pd.discard()
		return nil, ctx.Err()
	}
}

func (pd *pending) discard() {
	<-pd.ready
	if pd.conn != nil {
		_ = pd.conn.Close()
	}
}
