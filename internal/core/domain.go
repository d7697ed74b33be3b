package core

import (
	"errors"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

type (
	// Date is a calendar day exchanged with the API as YYYY-MM-DD.
	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	Category struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}

	Transaction struct {
		ID           int64  `json:"id"`
		Amount       Money  `json:"amount"`
		Category     int64  `json:"category"`
		CategoryName string `json:"category_name,omitempty"`
		Date         Date   `json:"date"`
		Description  string `json:"description"`
	}

	// TransactionInput carries the writable fields of a transaction.
	TransactionInput struct {
		Amount      Money  `json:"amount"`
		Category    int64  `json:"category"`
		Date        Date   `json:"date"`
		Description string `json:"description"`
	}

	Budget struct {
		ID     int64 `json:"id"`
		Month  Date  `json:"month"` // always the first day of the month
		Amount Money `json:"amount"`
	}

	// BudgetInput carries the writable fields of a budget. Month is what the
	// user typed ("2024-03" or a full date); it is normalized before sending.
	BudgetInput struct {
		Month  string
		Amount Money
	}
)

var (
	ErrInvalidDate     = errors.New("invalid date")
	ErrInvalidMonth    = errors.New("invalid month")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrMissingCategory = errors.New("missing category")
	ErrMissingDate     = errors.New("missing date")
	ErrMissingMonth    = errors.New("missing month")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

// String renders the date as YYYY-MM-DD, or "" for the zero date.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return ErrInvalidDate
	}
	d.Time = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Validate checks the fields the API requires.
func (in TransactionInput) Validate() error {
	if err := in.Amount.Validate(); err != nil {
		return err
	}
	if in.Category <= 0 {
		return ErrMissingCategory
	}
	if in.Date.IsZero() {
		return ErrMissingDate
	}
	return nil
}

func (in BudgetInput) Validate() error {
	if strings.TrimSpace(in.Month) == "" {
		return ErrMissingMonth
	}
	if _, err := NormalizeMonth(in.Month); err != nil {
		return err
	}
	return in.Amount.Validate()
}

// NormalizeMonth turns a month value into the first day of that month, as the
// budgets endpoint stores months as full dates.
//
//	NormalizeMonth("2024-03")    -> "2024-03-01"
//	NormalizeMonth("2024-03-17") -> "2024-03-01"
func NormalizeMonth(s string) (string, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01", s); err == nil {
		return t.Format(dateLayout), nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return "", ErrInvalidMonth
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).Format(dateLayout), nil
}
