package apitest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"fintrack/internal/core"
)

// readAll drains the body and puts it back for the handler.
func readAll(r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(r.Body)
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(b))
	return b, err
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusNotFound, "Not found.")
		return 0, false
	}
	return id, true
}

// writePage answers with the paginated envelope for ?page=, 1-based.
func writePage[T any](w http.ResponseWriter, r *http.Request, items []T, pageSize int) {
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeDetail(w, http.StatusNotFound, "Invalid page.")
			return
		}
		page = n
	}

	start := (page - 1) * pageSize
	if start > 0 && start >= len(items) {
		writeDetail(w, http.StatusNotFound, "Invalid page.")
		return
	}
	end := min(start+pageSize, len(items))

	link := func(p int) *string {
		u := *r.URL
		u.Scheme, u.Host = "http", r.Host
		q := u.Query()
		q.Set("page", strconv.Itoa(p))
		u.RawQuery = q.Encode()
		s := u.String()
		return &s
	}

	env := struct {
		Count    int     `json:"count"`
		Next     *string `json:"next"`
		Previous *string `json:"previous"`
		Results  []T     `json:"results"`
	}{Count: len(items), Results: append([]T{}, items[start:end]...)}
	if end < len(items) {
		env.Next = link(page + 1)
	}
	if page > 1 {
		env.Previous = link(page - 1)
	}
	writeJSON(w, http.StatusOK, env)
}

func patchTransaction(tx *core.Transaction, fields map[string]json.RawMessage) error {
	for key, raw := range fields {
		var err error
		switch key {
		case "amount":
			err = json.Unmarshal(raw, &tx.Amount)
		case "category":
			err = json.Unmarshal(raw, &tx.Category)
		case "date":
			err = json.Unmarshal(raw, &tx.Date)
		case "description":
			err = json.Unmarshal(raw, &tx.Description)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
