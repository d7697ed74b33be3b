package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMonth(t *testing.T) {
	cases := []struct {
		in   string
		want string
		err  error
	}{
		{"2024-03", "2024-03-01", nil},
		{" 2024-12 ", "2024-12-01", nil},
		{"2024-03-17", "2024-03-01", nil},
		{"2024-03-01", "2024-03-01", nil},
		{"2024-13", "", ErrInvalidMonth},
		{"March", "", ErrInvalidMonth},
		{"", "", ErrInvalidMonth},
	}
	for _, tc := range cases {
		got, err := NormalizeMonth(tc.in)
		if tc.err != nil {
			assert.ErrorIs(t, err, tc.err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestTransactionInputValidate(t *testing.T) {
	good := TransactionInput{Amount: Money{Cents: 1250}, Category: 3, Date: NewDate(2024, 1, 5)}
	require.NoError(t, good.Validate())

	bads := []struct {
		in  TransactionInput
		err error
	}{
		{TransactionInput{Amount: Money{}, Category: 3, Date: NewDate(2024, 1, 5)}, ErrInvalidAmount},
		{TransactionInput{Amount: Money{Cents: 1}, Date: NewDate(2024, 1, 5)}, ErrMissingCategory},
		{TransactionInput{Amount: Money{Cents: 1}, Category: 3}, ErrMissingDate},
	}
	for i, tc := range bads {
		assert.ErrorIs(t, tc.in.Validate(), tc.err, "case %d", i)
	}
}

func TestBudgetInputValidate(t *testing.T) {
	require.NoError(t, BudgetInput{Month: "2024-03", Amount: Money{Cents: 100}}.Validate())
	assert.ErrorIs(t, BudgetInput{Amount: Money{Cents: 100}}.Validate(), ErrMissingMonth)
	assert.ErrorIs(t, BudgetInput{Month: "03/2024", Amount: Money{Cents: 100}}.Validate(), ErrInvalidMonth)
	assert.ErrorIs(t, BudgetInput{Month: "2024-03"}.Validate(), ErrInvalidAmount)
}

func TestDateJSON(t *testing.T) {
	var tx Transaction
	require.NoError(t, json.Unmarshal([]byte(`{"id":7,"amount":"19.90","category":2,"date":"2024-02-29","description":"groceries"}`), &tx))
	assert.Equal(t, int64(7), tx.ID)
	assert.Equal(t, int64(1990), tx.Amount.Cents)
	assert.Equal(t, "2024-02-29", tx.Date.String())

	out, err := json.Marshal(TransactionInput{Amount: Money{Cents: 500}, Category: 1, Date: NewDate(2024, 3, 9), Description: "bus"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"5.00","category":1,"date":"2024-03-09","description":"bus"}`, string(out))

	var d Date
	require.NoError(t, json.Unmarshal([]byte(`"2024-05-06T10:11:12Z"`), &d))
	assert.Equal(t, "2024-05-06", d.String())
	assert.ErrorIs(t, json.Unmarshal([]byte(`"yesterday"`), &d), ErrInvalidDate)
}

func TestPageUnmarshal(t *testing.T) {
	var p Page[Category]
	body := `{"count":3,"next":"http://api/x/?page=2","previous":null,"results":[{"id":2,"name":"Rent"},{"id":1,"name":"Food"}]}`
	require.NoError(t, json.Unmarshal([]byte(body), &p))
	assert.Equal(t, 3, p.Count)
	assert.True(t, p.HasNext)
	assert.False(t, p.HasPrevious)
	require.Len(t, p.Items, 2)
	assert.Equal(t, "Rent", p.Items[0].Name, "server order preserved")

	var bare Page[Category]
	require.NoError(t, json.Unmarshal([]byte(`[{"id":1,"name":"Food"}]`), &bare))
	assert.Equal(t, 1, bare.Count)
	assert.False(t, bare.HasNext)

	var empty Page[Category]
	require.NoError(t, json.Unmarshal([]byte(`{"count":0,"next":null,"previous":null,"results":[]}`), &empty))
	assert.NotNil(t, empty.Items)
	assert.Empty(t, empty.Items)
}

func TestSummaries(t *testing.T) {
	var ts TransactionSummary
	require.NoError(t, json.Unmarshal([]byte(`{"total_income":"1500.00","total_expense":620.5}`), &ts))
	assert.Equal(t, int64(87950), ts.Balance().Cents)

	var bs BudgetSummary
	require.NoError(t, json.Unmarshal([]byte(`{"total_budget":"800","total_spent":"950.25"}`), &bs))
	assert.Equal(t, int64(-15025), bs.Remaining.Cents, "derived when absent")

	require.NoError(t, json.Unmarshal([]byte(`{"total_budget":"800","total_spent":"100","remaining":"0"}`), &bs))
	assert.Equal(t, int64(0), bs.Remaining.Cents, "server value wins")
}
