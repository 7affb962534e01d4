package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	gateway "github.com/aretw0/texrender/pkg/adapters/http"
	"github.com/aretw0/texrender/pkg/backend"
	"github.com/aretw0/texrender/pkg/domain"
	"github.com/aretw0/texrender/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var key = []byte("gateway-secret")

type stubRenderer struct {
	calls atomic.Int32
	fn    func(doc domain.Document) ([]byte, error)
}

func (s *stubRenderer) Render(ctx context.Context, doc domain.Document) ([]byte, error) {
	s.calls.Add(1)
	return s.fn(doc)
}

func echoRenderer() *stubRenderer {
	return &stubRenderer{fn: func(doc domain.Document) ([]byte, error) {
		switch {
		case strings.Contains(string(doc), "undefined"):
			return nil, &domain.RenderError{Log: "! Undefined control sequence."}
		case strings.Contains(string(doc), "slow"):
			return nil, domain.ErrTimeout
		case strings.Contains(string(doc), "down"):
			return nil, errors.Join(domain.ErrTooManyRetries, errors.New("connection refused"))
		}
		return []byte("PNG:" + string(doc)), nil
	}}
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRender(t *testing.T) {
	renderer := echoRenderer()
	h := gateway.NewHandler(renderer, key)

	tests := []struct {
		name        string
		target      string
		code        int
		body        string
		contentType string
	}{
		{
			name:        "ok",
			target:      backend.RenderPath(key, `\( a/b \)`),
			code:        http.StatusOK,
			body:        `PNG:\( a/b \)`,
			contentType: "image/png",
		},
		{
			name:        "rendering failed returns the log",
			target:      backend.RenderPath(key, "undefined"),
			code:        http.StatusBadRequest,
			body:        "! Undefined control sequence.",
			contentType: "text/plain; charset=utf-8",
		},
		{
			name:   "timeout",
			target: backend.RenderPath(key, "slow"),
			code:   http.StatusGatewayTimeout,
		},
		{
			name:   "transport fault",
			target: backend.RenderPath(key, "down"),
			code:   http.StatusBadGateway,
		},
		{
			name:   "wrong token",
			target: backend.RenderPath([]byte("other"), "x"),
			code:   http.StatusForbidden,
		},
		{
			name:   "missing token",
			target: backend.RenderPathPrefix + "x",
			code:   http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, h, tt.target)
			assert.Equal(t, tt.code, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
			if tt.contentType != "" {
				assert.Equal(t, tt.contentType, w.Header().Get("Content-Type"))
			}
		})
	}

	// Forbidden requests never reach the renderer.
	assert.Equal(t, int32(4), renderer.calls.Load())
}

func TestRender_SignedClientRoundTrip(t *testing.T) {
	srv := httptest.NewServer(gateway.NewHandler(echoRenderer(), key))
	defer srv.Close()

	client := backend.NewSignedClient(key, srv.URL)
	doc := domain.Document("x^2 % 100# ?&=")

	img, err := client.Render(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "PNG:"+string(doc), string(img))

	_, err = client.Render(context.Background(), "undefined")
	var renderErr *domain.RenderError
	require.ErrorAs(t, err, &renderErr)
	assert.Equal(t, "! Undefined control sequence.", renderErr.Log)
}

func TestRateLimit(t *testing.T) {
	h := gateway.NewHandler(echoRenderer(), key, gateway.WithRateLimit(0.001, 2))

	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code)
	w := get(t, h, "/health")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// Another client has its own budget.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	other := httptest.NewRecorder()
	h.ServeHTTP(other, req)
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestRateLimit_IgnoresForwardingHeaders(t *testing.T) {
	h := gateway.NewHandler(echoRenderer(), key, gateway.WithRateLimit(1, 1))

	limited := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("198.51.100.%d", i))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.GreaterOrEqual(t, limited, 48, "rotating headers must not create new buckets")
}

func TestRateLimit_TrustedProxy(t *testing.T) {
	h := gateway.NewHandler(echoRenderer(), key, gateway.WithRateLimit(0.001, 1), gateway.WithTrustedProxy(true))

	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, h, "/health").Code)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Real-IP", "203.0.113.9")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthAndInfo(t *testing.T) {
	healthy := true
	h := gateway.NewHandler(echoRenderer(), key,
		gateway.WithVersion("1.2.3\n"),
		gateway.WithHealthCheck(func(ctx context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("store down")
		}),
	)

	w := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	healthy = false
	w = get(t, h, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = get(t, h, "/info")
	var info map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "texrender-gateway", info["app"])
	assert.Equal(t, "1.2.3", info["version"])
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	m.Delivered("delivered")

	h := gateway.NewHandler(echoRenderer(), key,
		gateway.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	w := get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `texrender_deliveries_total{state="delivered"} 1`)

	assert.Equal(t, http.StatusNotFound, get(t, gateway.NewHandler(echoRenderer(), key), "/metrics").Code)
}
