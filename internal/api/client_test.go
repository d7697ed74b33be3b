package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/apitest"
	"fintrack/internal/core"
	"fintrack/internal/gateway"
	"fintrack/internal/session"
)

type counter struct {
	calls   atomic.Int32
	reasons []error
}

func (c *counter) SessionEnded(_ context.Context, reason error) {
	c.calls.Add(1)
	c.reasons = append(c.reasons, reason)
}

type fixture struct {
	srv    *apitest.Server
	store  *session.MemoryStore
	client *Client
	forced *counter
	manual *counter
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		srv:    apitest.NewServer(t),
		store:  session.NewMemoryStore(),
		forced: &counter{},
		manual: &counter{},
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := gateway.New(f.srv.URL, f.store,
		gateway.WithLogger(quiet),
		gateway.WithLogoutNotifier(f.forced))
	require.NoError(t, err)

	opts = append([]Option{WithLogger(quiet), WithLogoutNotifier(f.manual)}, opts...)
	f.client = New(gw, opts...)
	return f
}

func (f *fixture) login(t *testing.T) session.Pair {
	t.Helper()
	pair, err := f.client.Login(context.Background(), apitest.DefaultUsername, apitest.DefaultPassword)
	require.NoError(t, err)
	return pair
}

func day(s string) core.Date {
	d, err := core.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestFilterQuery(t *testing.T) {
	tests := []struct {
		name   string
		filter core.Filter
		want   string
	}{
		{"empty", core.Filter{}, ""},
		{"only end date", core.Filter{Category: "", EndDate: "2024-01-01"}, "end_date=2024-01-01"},
		{"page zero omitted", core.Filter{Category: "3", Page: 0}, "category=3"},
		{"all", core.Filter{Category: "3", StartDate: "2024-01-01", EndDate: "2024-01-31", Page: 2},
			"category=3&end_date=2024-01-31&page=2&start_date=2024-01-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterQuery(tt.filter).Encode())
		})
	}
}

func TestLoginThenListFirstPage(t *testing.T) {
	f := newFixture(t)
	f.srv.AddTransaction(core.Transaction{Amount: core.Money{Cents: 1250}, Category: 1, Date: day("2024-01-05"), Description: "lunch"})

	pair := f.login(t)
	stored, ok, err := f.store.Get(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pair, stored)

	page, err := f.client.ListTransactions(context.Background(), core.Filter{Page: 1})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "lunch", page.Items[0].Description)
	assert.Equal(t, int64(1250), page.Items[0].Amount.Cents)
	assert.Equal(t, 1, page.Count)

	reqs := f.srv.RequestsTo(http.MethodGet, "/api/transactions/")
	require.Len(t, reqs, 1)
	assert.Equal(t, "Bearer "+pair.Access, reqs[0].Authorization)
	assert.Equal(t, "page=1", reqs[0].Query.Encode())

	login := f.srv.RequestsTo(http.MethodPost, "/api/token/")
	require.Len(t, login, 1)
	assert.Empty(t, login[0].Authorization)
}

func TestLoginRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.client.Login(context.Background(), apitest.DefaultUsername, "wrong")
	require.ErrorIs(t, err, gateway.ErrUnauthorized)
	assert.NotErrorIs(t, err, gateway.ErrSessionEnded)

	_, ok, _ := f.store.Get(context.Background())
	assert.False(t, ok)
	assert.Zero(t, f.srv.RefreshCalls())
	assert.Zero(t, f.forced.calls.Load())
}

func TestLoginMissingCredentials(t *testing.T) {
	f := newFixture(t)
	_, err := f.client.Login(context.Background(), "", "x")
	require.ErrorIs(t, err, ErrMissingCredentials)
	assert.Zero(t, f.srv.LoginCalls())
}

func TestListTransactionsFilters(t *testing.T) {
	f := newFixture(t)
	food := f.srv.AddCategory("Food")
	rent := f.srv.AddCategory("Rent")
	f.srv.AddTransaction(core.Transaction{Amount: core.Money{Cents: 100}, Category: food.ID, Date: day("2023-12-30")})
	f.srv.AddTransaction(core.Transaction{Amount: core.Money{Cents: 200}, Category: food.ID, Date: day("2024-01-01")})
	f.srv.AddTransaction(core.Transaction{Amount: core.Money{Cents: 300}, Category: rent.ID, Date: day("2024-01-01")})
	f.srv.AddTransaction(core.Transaction{Amount: core.Money{Cents: 400}, Category: food.ID, Date: day("2024-01-02")})
	f.login(t)

	page, err := f.client.ListTransactions(context.Background(), core.Filter{
		Category: "",
		EndDate:  "2024-01-01",
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)

	reqs := f.srv.RequestsTo(http.MethodGet, "/api/transactions/")
	require.Len(t, reqs, 1)
	assert.Equal(t, "end_date=2024-01-01", reqs[0].Query.Encode())

	page, err = f.client.ListTransactions(context.Background(), core.Filter{
		Category:  "1",
		StartDate: "2024-01-01",
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, int64(200), page.Items[0].Amount.Cents)
	assert.Equal(t, int64(400), page.Items[1].Amount.Cents)
	assert.Equal(t, "Food", page.Items[0].CategoryName)
}

func TestTransactionPagination(t *testing.T) {
	f := newFixture(t)
	f.srv.SetPageSize(2)
	for i := 1; i <= 5; i++ {
		f.srv.AddTransaction(core.Transaction{Amount: core.Money{Cents: int64(i * 100)}, Category: 1, Date: day("2024-02-01")})
	}
	f.login(t)
	ctx := context.Background()

	first, err := f.client.ListTransactions(ctx, core.Filter{Page: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, first.Count)
	assert.True(t, first.HasNext)
	assert.False(t, first.HasPrevious)

	last, err := f.client.ListTransactions(ctx, core.Filter{Page: 3})
	require.NoError(t, err)
	require.Len(t, last.Items, 1)
	assert.False(t, last.HasNext)
	assert.True(t, last.HasPrevious)

	_, err = f.client.ListTransactions(ctx, core.Filter{Page: 9})
	require.ErrorIs(t, err, gateway.ErrValidation)

	all, err := f.client.AllTransactions(ctx, core.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, tx := range all {
		assert.Equal(t, int64((i+1)*100), tx.Amount.Cents)
	}
}

func TestTransactionWrites(t *testing.T) {
	f := newFixture(t)
	food := f.srv.AddCategory("Food")
	f.login(t)
	ctx := context.Background()

	created, err := f.client.CreateTransaction(ctx, core.TransactionInput{
		Amount:      core.Money{Cents: 1999},
		Category:    food.ID,
		Date:        day("2024-03-10"),
		Description: "groceries",
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, "Food", created.CategoryName)

	posts := f.srv.RequestsTo(http.MethodPost, "/api/transactions/")
	require.Len(t, posts, 1)
	assert.JSONEq(t,
		`{"amount":"19.99","category":`+jsonInt(food.ID)+`,"date":"2024-03-10","description":"groceries"}`,
		string(posts[0].Body))

	updated, err := f.client.UpdateTransaction(ctx, created.ID, core.TransactionInput{
		Amount:      core.Money{Cents: 2500},
		Category:    food.ID,
		Date:        day("2024-03-11"),
		Description: "groceries",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2500), updated.Amount.Cents)
	assert.Equal(t, "2024-03-11", updated.Date.String())
	assert.Len(t, f.srv.RequestsTo(http.MethodPatch, "/api/transactions/"+jsonInt(created.ID)+"/"), 1)

	require.NoError(t, f.client.DeleteTransaction(ctx, created.ID))
	assert.Empty(t, f.srv.Transactions())

	err = f.client.DeleteTransaction(ctx, created.ID)
	require.ErrorIs(t, err, gateway.ErrValidation)
	se, ok := gateway.AsStatus(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
}

func TestTransactionValidationSendsNothing(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	before := len(f.srv.Requests())

	_, err := f.client.CreateTransaction(context.Background(), core.TransactionInput{
		Amount: core.Money{Cents: 100},
		Date:   day("2024-03-10"),
	})
	require.ErrorIs(t, err, core.ErrMissingCategory)

	_, err = f.client.UpdateTransaction(context.Background(), 1, core.TransactionInput{Category: 1, Date: day("2024-03-10")})
	require.ErrorIs(t, err, core.ErrInvalidAmount)

	assert.Len(t, f.srv.Requests(), before)
}

func TestBudgetWrites(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()

	created, err := f.client.CreateBudget(ctx, core.BudgetInput{Month: "2024-03", Amount: core.Money{Cents: 50000}})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", created.Month.String())

	posts := f.srv.RequestsTo(http.MethodPost, "/api/budgets/")
	require.Len(t, posts, 1)
	assert.JSONEq(t, `{"month":"2024-03-01","amount":"500.00"}`, string(posts[0].Body))

	updated, err := f.client.UpdateBudget(ctx, created.ID, core.BudgetInput{Month: "2024-04-15", Amount: core.Money{Cents: 60000}})
	require.NoError(t, err)
	assert.Equal(t, "2024-04-01", updated.Month.String())
	assert.Len(t, f.srv.RequestsTo(http.MethodPut, "/api/budgets/"+jsonInt(created.ID)+"/"), 1)

	page, err := f.client.ListBudgets(ctx, 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(60000), page.Items[0].Amount.Cents)
	gets := f.srv.RequestsTo(http.MethodGet, "/api/budgets/")
	require.Len(t, gets, 1)
	assert.Empty(t, gets[0].Query)

	require.NoError(t, f.client.DeleteBudget(ctx, created.ID))
	assert.Empty(t, f.srv.Budgets())
}

func TestBudgetInvalidMonthSendsNothing(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	before := len(f.srv.Requests())

	_, err := f.client.CreateBudget(context.Background(), core.BudgetInput{Month: "March", Amount: core.Money{Cents: 100}})
	require.ErrorIs(t, err, core.ErrInvalidMonth)

	_, err = f.client.UpdateBudget(context.Background(), 1, core.BudgetInput{Amount: core.Money{Cents: 100}})
	require.ErrorIs(t, err, core.ErrMissingMonth)

	assert.Len(t, f.srv.Requests(), before)
}

func TestSummariesAndDashboard(t *testing.T) {
	f := newFixture(t)
	f.srv.SetTransactionSummary(map[string]any{"total_income": "2500.00", "total_expense": 1200.5})
	f.srv.SetBudgetSummary(map[string]any{"total_budget": "1000.00", "total_spent": "400.25"})
	f.login(t)
	ctx := context.Background()

	ts, err := f.client.TransactionSummary(ctx, core.Filter{StartDate: "2024-01-01"})
	require.NoError(t, err)
	assert.Equal(t, int64(250000), ts.TotalIncome.Cents)
	assert.Equal(t, int64(120050), ts.TotalExpense.Cents)
	assert.Equal(t, int64(129950), ts.Balance().Cents)

	reqs := f.srv.RequestsTo(http.MethodGet, "/api/transactions/global-summary/")
	require.Len(t, reqs, 1)
	assert.Equal(t, "start_date=2024-01-01", reqs[0].Query.Encode())

	bs, err := f.client.BudgetSummary(ctx, core.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(59975), bs.Remaining.Cents)

	d, err := f.client.Dashboard(ctx, core.Filter{})
	require.NoError(t, err)
	assert.Equal(t, ts, d.Transactions)
	assert.Equal(t, bs, d.Budgets)
}

func TestDashboardFailsWhenOneSummaryFails(t *testing.T) {
	f := newFixture(t)
	f.srv.SetBudgetSummary(map[string]any{"total_budget": "not a number"})
	f.login(t)

	_, err := f.client.Dashboard(context.Background(), core.Filter{})
	require.Error(t, err)
}

func TestListCategoriesCached(t *testing.T) {
	f := newFixture(t)
	f.srv.AddCategory("Food")
	f.srv.AddCategory("Rent")
	f.login(t)
	ctx := context.Background()

	first, err := f.client.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "Food", first[0].Name)
	assert.Equal(t, "Rent", first[1].Name)

	_, err = f.client.ListCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, f.srv.RequestsTo(http.MethodGet, "/api/categories/"), 1)

	require.NoError(t, f.client.Logout(ctx))
	f.login(t)
	_, err = f.client.ListCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, f.srv.RequestsTo(http.MethodGet, "/api/categories/"), 2)
}

func TestListCategoriesWithoutCache(t *testing.T) {
	f := newFixture(t, WithCategoryTTL(0))
	f.login(t)

	for i := 0; i < 3; i++ {
		_, err := f.client.ListCategories(context.Background())
		require.NoError(t, err)
	}
	assert.Len(t, f.srv.RequestsTo(http.MethodGet, "/api/categories/"), 3)
}

func TestExpiredAccessRecoveredTransparently(t *testing.T) {
	f := newFixture(t)
	f.srv.AddTransaction(core.Transaction{Amount: core.Money{Cents: 100}, Category: 1, Date: day("2024-01-01")})
	f.login(t)
	f.srv.ExpireAccessTokens()

	page, err := f.client.ListTransactions(context.Background(), core.Filter{Page: 1})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.Equal(t, 1, f.srv.RefreshCalls())
	assert.Len(t, f.srv.RequestsTo(http.MethodGet, "/api/transactions/"), 2)
	assert.Zero(t, f.forced.calls.Load())
}

func TestRefreshedTokenUsedByLaterCalls(t *testing.T) {
	f := newFixture(t)
	pair := f.login(t)
	f.srv.ExpireAccessTokens()
	ctx := context.Background()

	_, err := f.client.ListBudgets(ctx, 1)
	require.NoError(t, err)
	stored, _, _ := f.store.Get(ctx)
	require.NotEqual(t, pair.Access, stored.Access)

	_, err = f.client.ListTransactions(ctx, core.Filter{})
	require.NoError(t, err)
	_, err = f.client.CreateBudget(ctx, core.BudgetInput{Month: "2024-05", Amount: core.Money{Cents: 100}})
	require.NoError(t, err)

	assert.Equal(t, 1, f.srv.RefreshCalls())
	txs := f.srv.RequestsTo(http.MethodGet, "/api/transactions/")
	require.Len(t, txs, 1)
	assert.Equal(t, "Bearer "+stored.Access, txs[0].Authorization)
	posts := f.srv.RequestsTo(http.MethodPost, "/api/budgets/")
	require.Len(t, posts, 1)
	assert.Equal(t, "Bearer "+stored.Access, posts[0].Authorization)
}

func TestBothTokensInvalidEndsSession(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.srv.ExpireAccessTokens()
	f.srv.RevokeRefreshTokens()

	_, err := f.client.ListBudgets(context.Background(), 1)
	require.ErrorIs(t, err, gateway.ErrSessionEnded)
	assert.ErrorIs(t, err, gateway.ErrUnauthorized)

	_, ok, _ := f.store.Get(context.Background())
	assert.False(t, ok)
	assert.Equal(t, int32(1), f.forced.calls.Load())
	assert.Zero(t, f.manual.calls.Load())
	assert.Equal(t, 1, f.srv.RefreshCalls())
}

func TestRefreshToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.client.RefreshToken(ctx)
	require.ErrorIs(t, err, session.ErrNoSession)

	pair := f.login(t)
	access, err := f.client.RefreshToken(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, pair.Access, access)

	stored, _, _ := f.store.Get(ctx)
	assert.Equal(t, session.Pair{Access: access, Refresh: pair.Refresh}, stored)

	refreshes := f.srv.RequestsTo(http.MethodPost, "/api/token/refresh/")
	require.Len(t, refreshes, 1)
	assert.Empty(t, refreshes[0].Authorization)

	f.srv.RevokeRefreshTokens()
	_, err = f.client.RefreshToken(ctx)
	require.ErrorIs(t, err, gateway.ErrUnauthorized)
	_, ok, _ := f.store.Get(ctx)
	assert.True(t, ok)
}

func TestLogoutClearsAndNotifies(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()

	require.NoError(t, f.client.Logout(ctx))
	_, ok, _ := f.store.Get(ctx)
	assert.False(t, ok)
	require.Equal(t, int32(1), f.manual.calls.Load())
	assert.ErrorIs(t, f.manual.reasons[0], ErrSignedOut)

	// Later calls go out without a credential.
	_, err := f.client.ListCategories(ctx)
	require.ErrorIs(t, err, gateway.ErrUnauthorized)
	reqs := f.srv.RequestsTo(http.MethodGet, "/api/categories/")
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Authorization)
}

func TestConcurrentCallsWithExpiredAccess(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.srv.ExpireAccessTokens()
	f.srv.SetRefreshDelay(30 * time.Millisecond)

	_, err := f.client.Dashboard(context.Background(), core.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.srv.RefreshCalls())
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
