package api

import (
	"net/url"
	"strconv"

	"fintrack/internal/core"
)

// FilterQuery encodes f, leaving out every key whose value is empty.
func FilterQuery(f core.Filter) url.Values {
	q := url.Values{}
	if f.Category != "" {
		q.Set("category", f.Category)
	}
	if f.StartDate != "" {
		q.Set("start_date", f.StartDate)
	}
	if f.EndDate != "" {
		q.Set("end_date", f.EndDate)
	}
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	return q
}
