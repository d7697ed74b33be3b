package api

import (
	"context"

	"golang.org/x/sync/errgroup"

	"fintrack/internal/core"
)

// Dashboard is the overview shown after sign in.
type Dashboard struct {
	Transactions core.TransactionSummary
	Budgets      core.BudgetSummary
}

// Dashboard fetches both summaries concurrently. The first failure cancels the other.
func (c *Client) Dashboard(ctx context.Context, f core.Filter) (Dashboard, error) {
	var d Dashboard
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := c.TransactionSummary(gctx, f)
		d.Transactions = s
		return err
	})
	g.Go(func() error {
		s, err := c.BudgetSummary(gctx, f)
		d.Budgets = s
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}
	return d, nil
}
