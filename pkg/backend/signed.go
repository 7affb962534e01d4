package backend

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aretw0/texrender/internal/logging"
	"github.com/aretw0/texrender/pkg/domain"
	"github.com/aretw0/texrender/pkg/observability"
)

const (
	// DefaultFetchTimeout bounds the single HTTP attempt.
	DefaultFetchTimeout = 10 * time.Second
	// DefaultMaxLinkLength is the longest link the chat platform accepts in a message.
	DefaultMaxLinkLength = 2000

	// RenderPathPrefix is where the rendering service expects documents.
	RenderPathPrefix = "/render/"
	// TokenParam carries the HMAC token.
	TokenParam = "token"

	// DefaultMaxResponseBytes caps the size of a fetched image.
	DefaultMaxResponseBytes = 16 << 20
)

// ErrResponseTooLarge is returned when the render service sends more than the response cap.
var ErrResponseTooLarge = errors.New("response exceeds size limit")

// Mode says how a signed render reaches the user.
type Mode int

const (
	// ModeFast posts the public URL right away and checks the render afterwards.
	ModeFast Mode = iota
	// ModeSlow fetches the image first and uploads it as an attachment.
	ModeSlow
)

func (m Mode) String() string {
	if m == ModeSlow {
		return "slow"
	}
	return "fast"
}

// Link is a signed render request addressed twice: once for the user, once for this process.
type Link struct {
	PublicURL  string
	RequestURL string
	Mode       Mode
}

// Token computes the URL-safe, unpadded base64 HMAC-SHA256 of doc.
func Token(key []byte, doc domain.Document) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(doc.Bytes())
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyToken reports whether token was issued for doc under key.
func VerifyToken(key []byte, doc domain.Document, token string) bool {
	got, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(doc.Bytes())
	return hmac.Equal(got, mac.Sum(nil))
}

// RenderPath builds the origin-relative path and query of a signed request.
func RenderPath(key []byte, doc domain.Document) string {
	return RenderPathPrefix + url.PathEscape(string(doc)) + "?" + TokenParam + "=" + Token(key, doc)
}

// SignedClient renders documents through an HTTP rendering service.
type SignedClient struct {
	key           []byte
	publicOrigin  string
	requestOrigin string
	maxLinkLength int
	maxBody       int64
	timeout       time.Duration
	httpClient    *http.Client
	logger        *slog.Logger
	metrics       *observability.Metrics
}

// SignedOption configures the SignedClient.
type SignedOption func(*SignedClient)

// WithRequestOrigin sets the origin this process fetches from, e.g. an internal address.
// It defaults to the public origin.
func WithRequestOrigin(origin string) SignedOption {
	return func(c *SignedClient) {
		if origin != "" {
			c.requestOrigin = strings.TrimRight(origin, "/")
		}
	}
}

// WithMaxLinkLength overrides DefaultMaxLinkLength.
func WithMaxLinkLength(n int) SignedOption {
	return func(c *SignedClient) {
		if n > 0 {
			c.maxLinkLength = n
		}
	}
}

// WithFetchTimeout overrides DefaultFetchTimeout.
func WithFetchTimeout(d time.Duration) SignedOption {
	return func(c *SignedClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxResponseBytes overrides DefaultMaxResponseBytes.
func WithMaxResponseBytes(n int64) SignedOption {
	return func(c *SignedClient) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) SignedOption {
	return func(c *SignedClient) {
		c.httpClient = hc
	}
}

// WithSignedLogger configures a logger for the client.
func WithSignedLogger(logger *slog.Logger) SignedOption {
	return func(c *SignedClient) {
		c.logger = logger
	}
}

// WithSignedMetrics enables instrumentation.
func WithSignedMetrics(m *observability.Metrics) SignedOption {
	return func(c *SignedClient) {
		c.metrics = m
	}
}

// NewSignedClient creates a client for the service at publicOrigin.
func NewSignedClient(key []byte, publicOrigin string, opts ...SignedOption) *SignedClient {
	origin := strings.TrimRight(publicOrigin, "/")
	c := &SignedClient{
		key:           key,
		publicOrigin:  origin,
		requestOrigin: origin,
		maxLinkLength: DefaultMaxLinkLength,
		maxBody:       DefaultMaxResponseBytes,
		timeout:       DefaultFetchTimeout,
		httpClient:    http.DefaultClient,
		logger:        logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name labels the client in metrics and logs.
func (c *SignedClient) Name() string {
	return "signed"
}

// Link signs doc and picks the delivery mode: slow when the public URL is longer than the
// platform's link limit.
func (c *SignedClient) Link(doc domain.Document) Link {
	path := RenderPath(c.key, doc)
	link := Link{
		PublicURL:  c.publicOrigin + path,
		RequestURL: c.requestOrigin + path,
		Mode:       ModeFast,
	}
	if len(link.PublicURL) > c.maxLinkLength {
		link.Mode = ModeSlow
	}
	return link
}

// Render signs doc and fetches the image.
func (c *SignedClient) Render(ctx context.Context, doc domain.Document) ([]byte, error) {
	return c.Fetch(ctx, c.Link(doc))
}

// Fetch makes exactly one GET against the request URL. Any status other than 200 is a
// rendering failure carrying the response body as its log.
func (c *SignedClient) Fetch(ctx context.Context, link Link) ([]byte, error) {
	start := time.Now()
	img, err := c.fetch(ctx, link)
	c.metrics.ObserveRender(c.Name(), err, time.Since(start))
	return img, err
}

func (c *SignedClient) fetch(parent context.Context, link Link) ([]byte, error) {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link.RequestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build render request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, httpError(parent, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, httpError(parent, err)
	}
	tooLarge := int64(len(body)) > c.maxBody
	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("render service rejected document", "status", resp.StatusCode)
		if tooLarge {
			body = body[:c.maxBody]
		}
		return nil, &domain.RenderError{Log: string(body)}
	}
	if tooLarge {
		return nil, fmt.Errorf("fetch: %w (%d bytes)", ErrResponseTooLarge, c.maxBody)
	}
	return body, nil
}

func httpError(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("fetch: %w", domain.ErrTimeout)
	}
	return fmt.Errorf("fetch: %w", err)
}
