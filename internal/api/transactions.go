package api

import (
	"context"
	"fmt"
	"net/http"

	"fintrack/internal/core"
	"fintrack/internal/gateway"
)

func (c *Client) ListTransactions(ctx context.Context, f core.Filter) (core.Page[core.Transaction], error) {
	var page core.Page[core.Transaction]
	err := c.gw.Do(ctx, gateway.Descriptor{
		Method: http.MethodGet,
		Path:   transactionsPath,
		Query:  FilterQuery(f),
	}, &page)
	if err != nil {
		return core.Page[core.Transaction]{}, fmt.Errorf("list transactions: %w", err)
	}
	return page, nil
}

// AllTransactions follows the pages of a listing, starting at f.Page (or 1),
// until the server reports no next page.
func (c *Client) AllTransactions(ctx context.Context, f core.Filter) ([]core.Transaction, error) {
	if f.Page < 1 {
		f.Page = 1
	}

	var all []core.Transaction
	for n := 0; n < maxPages; n++ {
		page, err := c.ListTransactions(ctx, f)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if !page.HasNext {
			return all, nil
		}
		f = f.WithPage(f.Page + 1)
	}
	return nil, fmt.Errorf("list transactions: more than %d pages", maxPages)
}

func (c *Client) CreateTransaction(ctx context.Context, in core.TransactionInput) (core.Transaction, error) {
	if err := in.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	var out core.Transaction
	err := c.gw.Do(ctx, gateway.Descriptor{Method: http.MethodPost, Path: transactionsPath, Body: in}, &out)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	return out, nil
}

// UpdateTransaction sends a partial update (PATCH) carrying every writable field.
func (c *Client) UpdateTransaction(ctx context.Context, id int64, in core.TransactionInput) (core.Transaction, error) {
	if err := in.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction %d: %w", id, err)
	}

	var out core.Transaction
	err := c.gw.Do(ctx, gateway.Descriptor{
		Method: http.MethodPatch,
		Path:   itemPath(transactionsPath, id),
		Body:   in,
	}, &out)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction %d: %w", id, err)
	}
	return out, nil
}

func (c *Client) DeleteTransaction(ctx context.Context, id int64) error {
	err := c.gw.Do(ctx, gateway.Descriptor{Method: http.MethodDelete, Path: itemPath(transactionsPath, id)}, nil)
	if err != nil {
		return fmt.Errorf("delete transaction %d: %w", id, err)
	}
	return nil
}

func (c *Client) TransactionSummary(ctx context.Context, f core.Filter) (core.TransactionSummary, error) {
	var out core.TransactionSummary
	err := c.gw.Do(ctx, gateway.Descriptor{
		Method: http.MethodGet,
		Path:   transactionSummaryPath,
		Query:  FilterQuery(f),
	}, &out)
	if err != nil {
		return core.TransactionSummary{}, fmt.Errorf("transaction summary: %w", err)
	}
	return out, nil
}
