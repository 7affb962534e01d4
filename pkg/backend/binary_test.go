package backend_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/texrender/pkg/backend"
	"github.com/aretw0/texrender/pkg/domain"
	"github.com/aretw0/texrender/pkg/pool"
	"github.com/aretw0/texrender/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reply scripts how the fake backend answers one connection.
type reply func(server net.Conn, doc []byte)

func respond(c wire.Codec, status uint32, payload string) reply {
	return func(server net.Conn, doc []byte) {
		_, _ = server.Write(wire.EncodeResponse(c, status, []byte(payload)))
	}
}

func hangUp(server net.Conn, doc []byte) {}

// fakeConns is a ConnSource whose connections are answered by scripted replies in order.
// Once the script runs out the last reply repeats.
type fakeConns struct {
	codec     wire.Codec
	size      int
	script    []reply
	checkouts atomic.Int64
	fail      error

	mu   sync.Mutex
	docs [][]byte
	hold chan struct{}
}

func newFakeConns(codec wire.Codec, size int, script ...reply) *fakeConns {
	return &fakeConns{codec: codec, size: size, script: script, hold: make(chan struct{})}
}

func (f *fakeConns) Size() int { return f.size }

func (f *fakeConns) Checkout(ctx context.Context) (net.Conn, error) {
	n := int(f.checkouts.Add(1)) - 1
	if f.fail != nil {
		return nil, f.fail
	}
	step := f.script[len(f.script)-1]
	if n < len(f.script) {
		step = f.script[n]
	}

	client, server := net.Pipe()
	go func() {
		defer server.Close()
		doc, err := wire.ReadRequest(f.codec, server)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.docs = append(f.docs, doc)
		f.mu.Unlock()
		step(server, doc)
	}()
	return client, nil
}

func (f *fakeConns) stall() reply {
	return func(server net.Conn, doc []byte) {
		<-f.hold
	}
}

const testDoc = domain.Document("\\( x^2 \\)\n\\end{document}\n")

func TestBinaryClient_Success(t *testing.T) {
	for _, codec := range []wire.Codec{wire.Preamble{}, wire.LengthPrefixed{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			conns := newFakeConns(codec, 3, respond(codec, wire.StatusOK, "PNGDATA"))
			client := backend.NewBinaryClient(conns, codec)

			img, err := client.Render(context.Background(), testDoc)
			require.NoError(t, err)
			assert.Equal(t, "PNGDATA", string(img))
			assert.Equal(t, int64(1), conns.checkouts.Load())
			assert.Equal(t, [][]byte{testDoc.Bytes()}, conns.docs)
		})
	}
}

func TestBinaryClient_RenderingErrorIsNotRetried(t *testing.T) {
	codec := wire.Preamble{}
	conns := newFakeConns(codec, 3, respond(codec, wire.StatusTexError, "!Undefined control sequence.\n!"))
	client := backend.NewBinaryClient(conns, codec)

	_, err := client.Render(context.Background(), testDoc)

	var renderErr *domain.RenderError
	require.ErrorAs(t, err, &renderErr)
	assert.Equal(t, "!Undefined control sequence.\n!", renderErr.Log)
	assert.Equal(t, int64(1), conns.checkouts.Load())
}

func TestBinaryClient_RetriesPoolCapacityTimes(t *testing.T) {
	codec := wire.LengthPrefixed{}
	conns := newFakeConns(codec, 3, hangUp)
	client := backend.NewBinaryClient(conns, codec)

	_, err := client.Render(context.Background(), testDoc)

	assert.ErrorIs(t, err, domain.ErrTooManyRetries)
	assert.Equal(t, domain.OutcomeTransportFault, domain.Classify(err))
	// One attempt plus one retry per pooled connection.
	assert.Equal(t, int64(4), conns.checkouts.Load())
}

func TestBinaryClient_UnknownStatusIsTransportFault(t *testing.T) {
	codec := wire.Preamble{}
	conns := newFakeConns(codec, 1,
		respond(codec, wire.StatusGhostscriptError, ""),
		respond(codec, wire.StatusOK, "ok"),
	)
	client := backend.NewBinaryClient(conns, codec)

	img, err := client.Render(context.Background(), testDoc)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(img))
	assert.Equal(t, int64(2), conns.checkouts.Load())
}

func TestBinaryClient_TimeoutIsNeverRetried(t *testing.T) {
	codec := wire.Preamble{}
	conns := newFakeConns(codec, 3)
	conns.script = []reply{conns.stall()}
	defer close(conns.hold)

	client := backend.NewBinaryClient(conns, codec, backend.WithReadTimeout(30*time.Millisecond))

	_, err := client.Render(context.Background(), testDoc)

	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, int64(1), conns.checkouts.Load())
}

func TestBinaryClient_CheckoutFailuresAreRetried(t *testing.T) {
	conns := newFakeConns(wire.Preamble{}, 2)
	conns.fail = domain.ErrPoolExhausted
	client := backend.NewBinaryClient(conns, wire.Preamble{})

	_, err := client.Render(context.Background(), testDoc)

	assert.ErrorIs(t, err, domain.ErrTooManyRetries)
	assert.ErrorIs(t, err, domain.ErrPoolExhausted)
	assert.Equal(t, int64(3), conns.checkouts.Load())
}

func TestBinaryClient_ContextCancel(t *testing.T) {
	codec := wire.Preamble{}
	conns := newFakeConns(codec, 3)
	conns.script = []reply{conns.stall()}
	defer close(conns.hold)

	client := backend.NewBinaryClient(conns, codec)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := client.Render(ctx, testDoc)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), conns.checkouts.Load())
}

func TestBinaryClient_WithRealPool(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	codec := wire.Preamble{}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				doc, err := wire.ReadRequest(codec, c)
				if err != nil {
					return
				}
				_, _ = c.Write(wire.EncodeResponse(codec, wire.StatusOK, append([]byte("img:"), doc[:4]...)))
			}(conn)
		}
	}()

	p := pool.New(pool.TCPDialer(ln.Addr().String()), pool.WithSize(2), pool.WithPreamble(codec.Preamble()))
	defer p.Close()
	client := backend.NewBinaryClient(p, codec)

	for i := 0; i < 5; i++ {
		img, err := client.Render(context.Background(), testDoc)
		require.NoError(t, err)
		assert.Equal(t, "img:\\( x", string(img))
	}
}

func TestBinaryClient_WithRetriesOverride(t *testing.T) {
	codec := wire.Preamble{}
	conns := newFakeConns(codec, 5, hangUp)
	client := backend.NewBinaryClient(conns, codec, backend.WithRetries(0))

	_, err := client.Render(context.Background(), testDoc)
	assert.True(t, errors.Is(err, domain.ErrTooManyRetries))
	assert.Equal(t, int64(1), conns.checkouts.Load())
}
