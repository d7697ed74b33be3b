// Package gateway is the single funnel for calls to the finance API.
//
// Every request goes through Gateway.Do, which attaches the bearer token
// held by the session store. When the API answers 401 the gateway trades
// the refresh token for a new access token once and replays the request
// once. When the refresh itself fails the session is cleared and the
// configured LogoutNotifier is told to send the user back to sign in.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"fintrack/internal/metrics"
	"fintrack/internal/session"
)

const (
	// RefreshPath exchanges a refresh token for a new access token.
	RefreshPath = "/api/token/refresh/"
	// TokenPath exchanges credentials for a token pair.
	TokenPath = "/api/token/"

	defaultUserAgent = "fintrack"
	maxResponseBody  = 10 << 20
)

// Gateway is safe for concurrent use.
type Gateway struct {
	baseURL   *url.URL
	store     session.Store
	client    *http.Client
	notifier  LogoutNotifier
	logger    *slog.Logger
	metrics   *metrics.Metrics
	userAgent string
	flights   singleflight.Group
}

// Option configures a Gateway in New.
type Option func(*Gateway)

// WithHTTPClient replaces the default client, which has no timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		if c != nil {
			g.client = c
		}
	}
}

// WithLogoutNotifier is told when a failed refresh ends the session.
func WithLogoutNotifier(n LogoutNotifier) Option {
	return func(g *Gateway) { g.notifier = n }
}

// WithLogger logs exchanges and session transitions to l; nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithMetrics records requests and refresh outcomes. A nil Metrics records nothing.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithUserAgent sets the User-Agent header; empty keeps "fintrack".
func WithUserAgent(ua string) Option {
	return func(g *Gateway) {
		if ua != "" {
			g.userAgent = ua
		}
	}
}

// New returns a gateway for the API rooted at baseURL.
func New(baseURL string, store session.Store, opts ...Option) (*Gateway, error) {
	if store == nil {
		return nil, errors.New("gateway: nil session store")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("gateway: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("gateway: base url %q must be absolute", baseURL)
	}

	g := &Gateway{
		baseURL:   u,
		store:     store,
		client:    &http.Client{},
		logger:    slog.Default(),
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Store returns the session store the gateway reads credentials from.
func (g *Gateway) Store() session.Store { return g.store }

// exchange is one request/response round trip.
type exchange struct {
	method    string
	path      string
	query     string
	requestID string
	token     string
	retried   bool
	status    int
	body      []byte
	elapsed   time.Duration
}

// Do sends d and decodes a 2xx JSON answer into out (when out is non-nil
// and the body is not empty). Non-2xx answers come back as *StatusError.
func (g *Gateway) Do(ctx context.Context, d Descriptor, out any) error {
	x, err := g.send(ctx, d)
	if err != nil {
		return err
	}

	if x.status == http.StatusUnauthorized && !d.Anonymous && !d.retried {
		return g.refreshAndReplay(ctx, d, x, out)
	}
	return g.finish(x, out)
}

// send performs the attach phase and one HTTP exchange.
func (g *Gateway) send(ctx context.Context, d Descriptor) (*exchange, error) {
	x := &exchange{
		method:    d.Method,
		path:      d.Path,
		requestID: requestID(ctx),
		retried:   d.retried,
	}
	if len(d.Query) > 0 {
		x.query = d.Query.Encode()
	}

	var body io.Reader
	if d.Body != nil {
		b, err := json.Marshal(d.Body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s body: %w", d.Method, d.Path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, d.Method, g.endpoint(d.Path, x.query), body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s request: %w", d.Method, d.Path, err)
	}
	g.setHeaders(req, x.requestID, d.Body != nil)

	if !d.Anonymous {
		pair, ok, err := g.store.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("read session: %w", err)
		}
		if ok && pair.Access != "" {
			x.token = pair.Access
			req.Header.Set("Authorization", "Bearer "+pair.Access)
		}
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		x.elapsed = time.Since(start)
		err = fmt.Errorf("%w: %s %s: %w", ErrTransport, d.Method, d.Path, err)
		g.metrics.ObserveRequest(d.Method, 0, x.elapsed)
		g.logExchange(ctx, x, err)
		return nil, err
	}
	defer resp.Body.Close()

	x.status = resp.StatusCode
	x.body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	x.elapsed = time.Since(start)
	g.metrics.ObserveRequest(d.Method, x.status, x.elapsed)
	if err != nil {
		err = fmt.Errorf("%w: read %s %s response: %w", ErrTransport, d.Method, d.Path, err)
		g.logExchange(ctx, x, err)
		return nil, err
	}
	g.logExchange(ctx, x, nil)
	return x, nil
}

func (g *Gateway) finish(x *exchange, out any) error {
	if x.status < 200 || x.status > 299 {
		return &StatusError{
			Method:     x.method,
			Path:       x.path,
			StatusCode: x.status,
			Body:       x.body,
			RequestID:  x.requestID,
		}
	}
	if out == nil || len(bytes.TrimSpace(x.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(x.body, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", x.method, x.path, err)
	}
	return nil
}

func (g *Gateway) endpoint(path, rawQuery string) string {
	u := *g.baseURL
	u.Path = g.baseURL.Path + "/" + strings.TrimLeft(path, "/")
	u.RawQuery = rawQuery
	return u.String()
}

func (g *Gateway) setHeaders(req *http.Request, requestID string, hasBody bool) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", g.userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
}
