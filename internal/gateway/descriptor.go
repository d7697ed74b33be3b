package gateway

import (
	"context"
	"net/url"
)

// Descriptor describes one API call. It is passed by value: the gateway
// marks only its own copy as retried, so a caller may reuse a descriptor.
type Descriptor struct {
	Method string
	// Path is relative to the base URL, e.g. "/api/transactions/".
	Path  string
	Query url.Values
	// Body is encoded as JSON when non-nil.
	Body any
	// Anonymous requests carry no credential and never trigger a refresh.
	Anonymous bool

	retried bool
}

// LogoutNotifier receives the signal that the session is gone and the user
// must sign in again.
type LogoutNotifier interface {
	SessionEnded(ctx context.Context, reason error)
}

// LogoutFunc adapts a function to LogoutNotifier.
type LogoutFunc func(ctx context.Context, reason error)

func (f LogoutFunc) SessionEnded(ctx context.Context, reason error) {
	f(ctx, reason)
}

// Notifiers fans one logout out to several receivers, in order.
type Notifiers []LogoutNotifier

func (n Notifiers) SessionEnded(ctx context.Context, reason error) {
	for _, notifier := range n {
		if notifier != nil {
			notifier.SessionEnded(ctx, reason)
		}
	}
}
