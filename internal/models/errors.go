package models

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrSignInTimeout is the cause when an interactive sign-in is not completed in time
	ErrSignInTimeout = errors.New("sign in timeout")
	// ErrSignedOut is the cause when an operation needs a token and none is held
	ErrSignedOut = errors.New("not signed in")
	// ErrConsentRequired is the cause when a silent refresh cannot proceed without the user
	ErrConsentRequired = errors.New("user consent required")
	// ErrUnknownState is the cause when a callback does not match the pending sign-in
	ErrUnknownState = errors.New("no matching sign-in attempt")
)

// AuthError reports a sign-in, refresh, revocation, or callback failure
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NotFoundError reports that a mutation target is no longer in the table
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("item not found: %s", e.ID)
}

// TransportError reports any other remote call failure, including malformed responses.
// Status carries the HTTP status code when the remote answered.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Unauthorized reports whether the remote rejected the credentials.
func (e *TransportError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized
}

// FieldError is one failed field check
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports invalid item fields
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Message)
	}
	return strings.Join(msgs, ", ")
}

// IsUnauthorized reports whether err carries a 401 from the remote store.
func IsUnauthorized(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Unauthorized()
}
