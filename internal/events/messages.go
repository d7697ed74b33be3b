package events

import (
	"encoding/json"
	"time"
)

// EventType names what happened to the session.
type EventType string

const (
	// SessionEnded: the refresh token was rejected and the session was cleared.
	SessionEnded EventType = "session_ended"
	// SignedOut: the user logged out.
	SignedOut EventType = "signed_out"
	// SignedIn: a new token pair was stored.
	SignedIn EventType = "signed_in"
)

// SessionEvent is the message published on every session transition.
// It never carries tokens.
type SessionEvent struct {
	Type      EventType `json:"type"`
	Reason    string    `json:"reason,omitempty"`
	Username  string    `json:"username,omitempty"`
	Host      string    `json:"host,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewSessionEvent(t EventType, reason string) *SessionEvent {
	return &SessionEvent{
		Type:      t,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (e *SessionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// SessionEventFromJSON creates a message from JSON bytes
func SessionEventFromJSON(data []byte) (*SessionEvent, error) {
	var e SessionEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
