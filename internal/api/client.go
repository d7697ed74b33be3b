// Package api is the typed surface of the finance API: sign in and out,
// transactions, budgets, categories and their summaries. Every call goes
// through the request gateway, so credentials and refresh are handled there.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/gateway"
	"fintrack/internal/log"
	"fintrack/internal/session"
)

const (
	transactionsPath       = "/api/transactions/"
	transactionSummaryPath = "/api/transactions/global-summary/"
	budgetsPath            = "/api/budgets/"
	budgetSummaryPath      = "/api/budgets/global-summary/"
	categoriesPath         = "/api/categories/"

	categoriesKey      = "categories"
	DefaultCategoryTTL = 5 * time.Minute
	maxPages           = 1000
)

var (
	ErrMissingCredentials = errors.New("username and password are required")
	// ErrSignedOut is the reason passed to the logout notifier on an explicit Logout.
	ErrSignedOut      = errors.New("signed out")
	errIncompletePair = errors.New("token response is missing a token")
)

// Client is safe for concurrent use.
type Client struct {
	gw         *gateway.Gateway
	store      session.Store
	categories cache.Cache[[]core.Category]
	notifier   gateway.LogoutNotifier
	logger     *slog.Logger
}

type Option func(*Client)

// WithCategoryTTL sets how long the category list is reused. Zero disables caching.
func WithCategoryTTL(ttl time.Duration) Option {
	return func(c *Client) { c.categories = cache.NewLRUCache[[]core.Category](1, ttl) }
}

// WithLogoutNotifier is told about explicit logouts. The gateway has its own
// notifier for forced ones.
func WithLogoutNotifier(n gateway.LogoutNotifier) Option {
	return func(c *Client) { c.notifier = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(gw *gateway.Gateway, opts ...Option) *Client {
	c := &Client{
		gw:         gw,
		store:      gw.Store(),
		categories: cache.NewLRUCache[[]core.Category](1, DefaultCategoryTTL),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login trades credentials for a token pair and stores it.
func (c *Client) Login(ctx context.Context, username, password string) (session.Pair, error) {
	if username == "" || password == "" {
		return session.Pair{}, ErrMissingCredentials
	}

	var pair session.Pair
	err := c.gw.Do(ctx, gateway.Descriptor{
		Method:    http.MethodPost,
		Path:      gateway.TokenPath,
		Body:      map[string]string{"username": username, "password": password},
		Anonymous: true,
	}, &pair)
	if err != nil {
		return session.Pair{}, fmt.Errorf("login: %w", err)
	}
	if pair.Access == "" || pair.Refresh == "" {
		return session.Pair{}, fmt.Errorf("login: %w", errIncompletePair)
	}

	if err := c.store.Set(ctx, pair); err != nil {
		return session.Pair{}, fmt.Errorf("login: store session: %w", err)
	}
	c.categories.Purge()

	c.logger.InfoContext(ctx, "Signed in",
		log.FieldOperation, log.OpLogin,
		"username", username)
	return pair, nil
}

// Logout drops the local session. Nothing is sent to the server.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	c.categories.Purge()
	if c.notifier != nil {
		c.notifier.SessionEnded(ctx, ErrSignedOut)
	}
	c.logger.InfoContext(ctx, "Signed out", log.FieldOperation, log.OpLogout)
	return nil
}

// RefreshToken asks for a new access token ahead of expiry and stores it.
// Unlike the gateway's own refresh, a rejection here leaves the session alone.
func (c *Client) RefreshToken(ctx context.Context) (string, error) {
	pair, ok, err := c.store.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("refresh: read session: %w", err)
	}
	if !ok || pair.Refresh == "" {
		return "", fmt.Errorf("refresh: %w", session.ErrNoSession)
	}

	var out struct {
		Access string `json:"access"`
	}
	err = c.gw.Do(ctx, gateway.Descriptor{
		Method:    http.MethodPost,
		Path:      gateway.RefreshPath,
		Body:      map[string]string{"refresh": pair.Refresh},
		Anonymous: true,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("refresh: %w", err)
	}
	if out.Access == "" {
		return "", fmt.Errorf("refresh: %w", errIncompletePair)
	}

	if err := c.store.SetAccess(ctx, out.Access); err != nil {
		return "", fmt.Errorf("refresh: store access token: %w", err)
	}
	return out.Access, nil
}

// ListCategories returns the categories in server order. The list is cached.
func (c *Client) ListCategories(ctx context.Context) ([]core.Category, error) {
	if cached, ok := c.categories.Get(categoriesKey); ok {
		return cached, nil
	}

	var out []core.Category
	if err := c.gw.Do(ctx, gateway.Descriptor{Method: http.MethodGet, Path: categoriesPath}, &out); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	if out == nil {
		out = []core.Category{}
	}
	c.categories.Set(categoriesKey, out)
	return out, nil
}

func itemPath(base string, id int64) string {
	return base + strconv.FormatInt(id, 10) + "/"
}
