package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnauthorized marks a 401 that was not, or could not be, recovered.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSessionEnded means the refresh failed and the session was cleared.
	// It always travels together with ErrUnauthorized.
	ErrSessionEnded = errors.New("session ended")
	// ErrValidation covers every other 4xx answer.
	ErrValidation = errors.New("request rejected")
	// ErrTransport covers network failures and 5xx answers.
	ErrTransport = errors.New("transport failure")
)

const maxErrorBody = 256

// StatusError is a non-2xx answer from the API, returned untouched.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
	RequestID  string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	if body := strings.TrimSpace(string(e.Body)); body != "" {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody] + "..."
		}
		msg += ": " + body
	}
	return msg
}

// Is maps the status code onto the sentinel errors.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrTransport:
		return e.StatusCode >= 500
	case ErrValidation:
		return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusUnauthorized
	}
	return false
}

// AsStatus returns the StatusError inside err, if any.
func AsStatus(err error) (*StatusError, bool) {
	var se *StatusError
	ok := errors.As(err, &se)
	return se, ok
}
