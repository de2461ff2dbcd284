package models

import "time"

// Session is the OAuth grant held for the operator
type Session struct {
	AccessToken  string
	RefreshToken string
	Account      string
	IssuedAt     time.Time
}

// Valid reports whether the access token is present and younger than lifetime.
func (s *Session) Valid(now time.Time, lifetime time.Duration) bool {
	if s == nil || s.AccessToken == "" {
		return false
	}
	return now.Sub(s.IssuedAt) < lifetime
}

// SessionState is a position in the sign-in state machine
type SessionState string

const (
	StateSignedOut  SessionState = "signed_out"
	StateSignedIn   SessionState = "signed_in"
	StateRefreshing SessionState = "refreshing"
)

// SessionStatus is a read-only view of the session manager
type SessionStatus struct {
	State      SessionState `json:"state"`
	Account    string       `json:"account,omitempty"`
	IssuedAt   *time.Time   `json:"issuedAt,omitempty"`
	PendingURL string       `json:"pendingUrl,omitempty"`
}
