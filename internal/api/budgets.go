package api

import (
	"context"
	"fmt"
	"net/http"

	"fintrack/internal/core"
	"fintrack/internal/gateway"
)

// budgetBody is the wire form of a budget write; month is a full date.
type budgetBody struct {
	Month  string     `json:"month"`
	Amount core.Money `json:"amount"`
}

func newBudgetBody(in core.BudgetInput) (budgetBody, error) {
	if err := in.Validate(); err != nil {
		return budgetBody{}, err
	}
	month, err := core.NormalizeMonth(in.Month)
	if err != nil {
		return budgetBody{}, err
	}
	return budgetBody{Month: month, Amount: in.Amount}, nil
}

// ListBudgets fetches one page; page <= 0 lets the server pick the first.
func (c *Client) ListBudgets(ctx context.Context, page int) (core.Page[core.Budget], error) {
	var out core.Page[core.Budget]
	err := c.gw.Do(ctx, gateway.Descriptor{
		Method: http.MethodGet,
		Path:   budgetsPath,
		Query:  FilterQuery(core.Filter{Page: page}),
	}, &out)
	if err != nil {
		return core.Page[core.Budget]{}, fmt.Errorf("list budgets: %w", err)
	}
	return out, nil
}

func (c *Client) CreateBudget(ctx context.Context, in core.BudgetInput) (core.Budget, error) {
	body, err := newBudgetBody(in)
	if err != nil {
		return core.Budget{}, fmt.Errorf("create budget: %w", err)
	}

	var out core.Budget
	if err := c.gw.Do(ctx, gateway.Descriptor{Method: http.MethodPost, Path: budgetsPath, Body: body}, &out); err != nil {
		return core.Budget{}, fmt.Errorf("create budget: %w", err)
	}
	return out, nil
}

// UpdateBudget replaces a budget (PUT).
func (c *Client) UpdateBudget(ctx context.Context, id int64, in core.BudgetInput) (core.Budget, error) {
	body, err := newBudgetBody(in)
	if err != nil {
		return core.Budget{}, fmt.Errorf("update budget %d: %w", id, err)
	}

	var out core.Budget
	err = c.gw.Do(ctx, gateway.Descriptor{Method: http.MethodPut, Path: itemPath(budgetsPath, id), Body: body}, &out)
	if err != nil {
		return core.Budget{}, fmt.Errorf("update budget %d: %w", id, err)
	}
	return out, nil
}

func (c *Client) DeleteBudget(ctx context.Context, id int64) error {
	err := c.gw.Do(ctx, gateway.Descriptor{Method: http.MethodDelete, Path: itemPath(budgetsPath, id)}, nil)
	if err != nil {
		return fmt.Errorf("delete budget %d: %w", id, err)
	}
	return nil
}

func (c *Client) BudgetSummary(ctx context.Context, f core.Filter) (core.BudgetSummary, error) {
	var out core.BudgetSummary
	err := c.gw.Do(ctx, gateway.Descriptor{
		Method: http.MethodGet,
		Path:   budgetSummaryPath,
		Query:  FilterQuery(f),
	}, &out)
	if err != nil {
		return core.BudgetSummary{}, fmt.Errorf("budget summary: %w", err)
	}
	return out, nil
}
