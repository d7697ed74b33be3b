// Package session holds the credential pair of the signed-in user.
//
// A Store is the single source of truth for the access and refresh tokens.
// The request gateway reads it before every call and writes it after a
// refresh; login sets it and logout clears it. Durable backends (file,
// SQLite, Redis) keep the session across process restarts, the memory
// backend lives as long as the process.
package session

import (
	"context"
	"errors"
)

// Storage keys, shared by every durable backend.
const (
	KeyAccess  = "access"
	KeyRefresh = "refresh"
)

// ErrNoSession is returned by SetAccess when nobody is signed in.
var ErrNoSession = errors.New("no session")

// Pair is the credential pair issued at login. Both tokens are opaque.
type Pair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Store is safe for concurrent use. Writers are last-write-wins.
type Store interface {
	// Get returns the current pair; ok is false when no session exists.
	Get(ctx context.Context) (pair Pair, ok bool, err error)
	// Set replaces both tokens at once.
	Set(ctx context.Context, pair Pair) error
	// SetAccess replaces the access token and keeps the refresh token.
	SetAccess(ctx context.Context, access string) error
	// Clear drops the session. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}
