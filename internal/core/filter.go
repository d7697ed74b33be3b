package core

// Filter narrows a listing. Zero values mean "not set"; they are never sent.
type Filter struct {
	Category  string
	StartDate string
	EndDate   string
	Page      int
}

// WithPage returns a copy of f pointing at page n.
func (f Filter) WithPage(n int) Filter {
	f.Page = n
	return f
}
