package core

import (
	"bytes"
	"encoding/json"
)

// Page is one page of a paginated listing. Items keep the server's order.
type Page[T any] struct {
	Items       []T
	Count       int
	HasNext     bool
	HasPrevious bool
}

// UnmarshalJSON accepts the paginated envelope {count, next, previous, results}
// as well as a bare array, which unpaginated endpoints return.
func (p *Page[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var items []T
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		*p = Page[T]{Items: items, Count: len(items)}
		return nil
	}

	var env struct {
		Count    int     `json:"count"`
		Next     *string `json:"next"`
		Previous *string `json:"previous"`
		Results  []T     `json:"results"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	*p = Page[T]{
		Items:       env.Results,
		Count:       env.Count,
		HasNext:     env.Next != nil && *env.Next != "",
		HasPrevious: env.Previous != nil && *env.Previous != "",
	}
	if p.Items == nil {
		p.Items = []T{}
	}
	return nil
}
