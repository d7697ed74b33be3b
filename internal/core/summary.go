package core

import "encoding/json"

// TransactionSummary is the aggregate returned by the transactions
// global-summary endpoint.
type TransactionSummary struct {
	TotalIncome  Money `json:"total_income"`
	TotalExpense Money `json:"total_expense"`
}

// Balance is income minus expense.
func (s TransactionSummary) Balance() Money {
	return Money{Cents: s.TotalIncome.Cents - s.TotalExpense.Cents}
}

// BudgetSummary is the aggregate returned by the budgets global-summary endpoint.
type BudgetSummary struct {
	TotalBudget Money `json:"total_budget"`
	TotalSpent  Money `json:"total_spent"`
	Remaining   Money `json:"remaining"`
}

// UnmarshalJSON derives Remaining when the server leaves it out.
func (s *BudgetSummary) UnmarshalJSON(b []byte) error {
	var raw struct {
		TotalBudget Money  `json:"total_budget"`
		TotalSpent  Money  `json:"total_spent"`
		Remaining   *Money `json:"remaining"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	s.TotalBudget = raw.TotalBudget
	s.TotalSpent = raw.TotalSpent
	if raw.Remaining != nil {
		s.Remaining = *raw.Remaining
	} else {
		s.Remaining = Money{Cents: raw.TotalBudget.Cents - raw.TotalSpent.Cents}
	}
	return nil
}
