// Package apitest runs an in-process imitation of the finance API for tests.
//
// Access tokens are short-lived HS256 JWTs checked against the server's own
// clock, refresh tokens are opaque and revocable. Every request is recorded
// so tests can assert on headers and query strings.
package apitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"fintrack/internal/core"
	"fintrack/internal/session"
)

const (
	DefaultUsername = "alice"
	DefaultPassword = "s3cret"
	DefaultPageSize = 10
	DefaultTTL      = 5 * time.Minute
)

// Request is what the server saw for one call.
type Request struct {
	Method        string
	Path          string
	Query         url.Values
	Authorization string
	RequestID     string
	UserAgent     string
	ContentType   string
	Body          []byte
}

type accessClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Server is safe for concurrent use.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	secret        []byte
	accessTTL     time.Duration
	clockOffset   time.Duration
	users         map[string]string
	refreshTokens map[string]string
	refreshDelay  time.Duration
	refreshStatus int
	refreshCalls  int
	loginCalls    int
	requests      []Request

	pageSize     int
	nextID       int64
	categories   []core.Category
	transactions []core.Transaction
	budgets      []core.Budget
	txSummary    map[string]any
	budSummary   map[string]any
}

// NewServer starts a server with one user (DefaultUsername/DefaultPassword).
// It is closed when the test ends.
func NewServer(t interface {
	Helper()
	Cleanup(func())
}) *Server {
	t.Helper()
	s := &Server{
		secret:        []byte(uuid.NewString()),
		accessTTL:     DefaultTTL,
		users:         map[string]string{DefaultUsername: DefaultPassword},
		refreshTokens: make(map[string]string),
		pageSize:      DefaultPageSize,
		nextID:        1,
		txSummary:     map[string]any{"total_income": "0.00", "total_expense": "0.00"},
		budSummary:    map[string]any{"total_budget": "0.00", "total_spent": "0.00", "remaining": "0.00"},
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)

	r.Post("/api/token/", s.handleLogin)
	r.Post("/api/token/refresh/", s.handleRefresh)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/api/categories/", s.handleCategories)

		r.Get("/api/transactions/", s.handleListTransactions)
		r.Post("/api/transactions/", s.handleCreateTransaction)
		r.Get("/api/transactions/global-summary/", s.handleSummary(&s.txSummary))
		r.Patch("/api/transactions/{id}/", s.handleUpdateTransaction)
		r.Delete("/api/transactions/{id}/", s.handleDeleteTransaction)

		r.Get("/api/budgets/", s.handleListBudgets)
		r.Post("/api/budgets/", s.handleCreateBudget)
		r.Get("/api/budgets/global-summary/", s.handleSummary(&s.budSummary))
		r.Put("/api/budgets/{id}/", s.handleUpdateBudget)
		r.Delete("/api/budgets/{id}/", s.handleDeleteBudget)
	})
	return r
}

// ---- test controls ----

// IssuePair signs in username without going through the login endpoint.
func (s *Server) IssuePair(username string) session.Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issuePairLocked(username)
}

// ExpireAccessTokens moves the server clock past the lifetime of every
// access token issued so far.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clockOffset += s.accessTTL + time.Second
}

// RevokeRefreshTokens forgets every refresh token.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens = make(map[string]string)
}

// SetRefreshDelay holds every refresh answer for d.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

// FailRefreshWith makes the refresh endpoint answer status (0 restores it).
func (s *Server) FailRefreshWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshStatus = status
}

func (s *Server) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

func (s *Server) AddCategory(name string) core.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := core.Category{ID: s.allocID(), Name: name}
	s.categories = append(s.categories, c)
	return c
}

func (s *Server) AddTransaction(tx core.Transaction) core.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx.ID = s.allocID()
	tx.CategoryName = s.categoryName(tx.Category)
	s.transactions = append(s.transactions, tx)
	return tx
}

func (s *Server) AddBudget(b core.Budget) core.Budget {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.ID = s.allocID()
	s.budgets = append(s.budgets, b)
	return b
}

// SetTransactionSummary sets the raw JSON object served by the transaction summary endpoint.
func (s *Server) SetTransactionSummary(v map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txSummary = v
}

// SetBudgetSummary sets the raw JSON object served by the budget summary endpoint.
func (s *Server) SetBudgetSummary(v map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budSummary = v
}

func (s *Server) Transactions() []core.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Transaction(nil), s.transactions...)
}

func (s *Server) Budgets() []core.Budget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Budget(nil), s.budgets...)
}

func (s *Server) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

func (s *Server) LoginCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginCalls
}

// Requests returns every recorded request, oldest first.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestsTo returns the recorded requests for method and path.
func (s *Server) RequestsTo(method, path string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// ---- middleware ----

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			body, _ = readAll(r)
		}
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:        r.Method,
			Path:          r.URL.Path,
			Query:         r.URL.Query(),
			Authorization: r.Header.Get("Authorization"),
			RequestID:     r.Header.Get("X-Request-ID"),
			UserAgent:     r.Header.Get("User-Agent"),
			ContentType:   r.Header.Get("Content-Type"),
			Body:          body,
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeDetail(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}
		if _, err := s.validateAccess(raw); err != nil {
			writeDetail(w, http.StatusUnauthorized, "Given token not valid for any token type")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---- tokens ----

func (s *Server) now() time.Time {
	return time.Now().Add(s.clockOffset)
}

func (s *Server) issuePairLocked(username string) session.Pair {
	refresh := uuid.NewString()
	s.refreshTokens[refresh] = username
	return session.Pair{Access: s.signAccessLocked(username), Refresh: refresh}
}

func (s *Server) signAccessLocked(username string) string {
	now := s.now()
	claims := accessClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		panic(fmt.Sprintf("apitest: sign access token: %v", err))
	}
	return signed
}

func (s *Server) validateAccess(raw string) (string, error) {
	s.mu.Lock()
	secret, now := s.secret, s.now()
	s.mu.Unlock()

	token, err := jwt.ParseWithClaims(raw, &accessClaims{},
		func(t *jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*accessClaims)
	if !ok || !token.Valid {
		return "", jwt.ErrTokenInvalidClaims
	}
	return claims.Username, nil
}

// ---- handlers ----

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	s.loginCalls++
	want, ok := s.users[in.Username]
	if !ok || want != in.Password {
		s.mu.Unlock()
		writeDetail(w, http.StatusUnauthorized, "No active account found with the given credentials")
		return
	}
	pair := s.issuePairLocked(in.Username)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Refresh string `json:"refresh"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	s.refreshCalls++
	delay, status := s.refreshDelay, s.refreshStatus
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if status != 0 {
		writeDetail(w, status, "refresh unavailable")
		return
	}

	s.mu.Lock()
	username, ok := s.refreshTokens[in.Refresh]
	if !ok {
		s.mu.Unlock()
		writeDetail(w, http.StatusUnauthorized, "Token is invalid or expired")
		return
	}
	access := s.signAccessLocked(username)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"access": access})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := append([]core.Category{}, s.categories...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var category int64
	if v := q.Get("category"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string][]string{"category": {"A valid integer is required."}})
			return
		}
		category = id
	}
	start, end := q.Get("start_date"), q.Get("end_date")

	s.mu.Lock()
	var matched []core.Transaction
	for _, tx := range s.transactions {
		d := tx.Date.String()
		if category != 0 && tx.Category != category {
			continue
		}
		if start != "" && d < start {
			continue
		}
		if end != "" && d > end {
			continue
		}
		matched = append(matched, tx)
	}
	pageSize := s.pageSize
	s.mu.Unlock()

	writePage(w, r, matched, pageSize)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var in core.TransactionInput
	if err := decodeBody(r, &in); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := in.Validate(); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	tx := core.Transaction{
		ID:           s.allocID(),
		Amount:       in.Amount,
		Category:     in.Category,
		CategoryName: s.categoryName(in.Category),
		Date:         in.Date,
		Description:  in.Description,
	}
	s.transactions = append(s.transactions, tx)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in map[string]json.RawMessage
	if err := decodeBody(r, &in); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.transactions {
		tx := &s.transactions[i]
		if tx.ID != id {
			continue
		}
		// PATCH: only the fields present change.
		if err := patchTransaction(tx, in); err != nil {
			writeDetail(w, http.StatusBadRequest, err.Error())
			return
		}
		tx.CategoryName = s.categoryName(tx.Category)
		writeJSON(w, http.StatusOK, tx)
		return
	}
	writeDetail(w, http.StatusNotFound, "Not found.")
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, tx := range s.transactions {
		if tx.ID == id {
			s.transactions = append(s.transactions[:i], s.transactions[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeDetail(w, http.StatusNotFound, "Not found.")
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	all := append([]core.Budget(nil), s.budgets...)
	pageSize := s.pageSize
	s.mu.Unlock()
	writePage(w, r, all, pageSize)
}

type budgetBody struct {
	Month  string     `json:"month"`
	Amount core.Money `json:"amount"`
}

func (s *Server) decodeBudget(w http.ResponseWriter, r *http.Request) (core.Date, core.Money, bool) {
	var in budgetBody
	if err := decodeBody(r, &in); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return core.Date{}, core.Money{}, false
	}
	month, err := core.ParseDate(in.Month)
	if err != nil || month.Day() != 1 {
		writeJSON(w, http.StatusBadRequest, map[string][]string{
			"month": {"Date has wrong format. Use one of these formats instead: YYYY-MM-DD."},
		})
		return core.Date{}, core.Money{}, false
	}
	return month, in.Amount, true
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	month, amount, ok := s.decodeBudget(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	b := core.Budget{ID: s.allocID(), Month: month, Amount: amount}
	s.budgets = append(s.budgets, b)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleUpdateBudget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	month, amount, ok := s.decodeBudget(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.budgets {
		if s.budgets[i].ID == id {
			s.budgets[i].Month, s.budgets[i].Amount = month, amount
			writeJSON(w, http.StatusOK, s.budgets[i])
			return
		}
	}
	writeDetail(w, http.StatusNotFound, "Not found.")
}

func (s *Server) handleDeleteBudget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range s.budgets {
		if b.ID == id {
			s.budgets = append(s.budgets[:i], s.budgets[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeDetail(w, http.StatusNotFound, "Not found.")
}

func (s *Server) handleSummary(src *map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		out := *src
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, out)
	}
}

// allocID must be called with s.mu held.
func (s *Server) allocID() int64 {
	id := s.nextID
	s.nextID++
	return id
}

// categoryName must be called with s.mu held.
func (s *Server) categoryName(id int64) string {
	for _, c := range s.categories {
		if c.ID == id {
			return c.Name
		}
	}
	return ""
}
