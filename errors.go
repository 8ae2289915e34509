package agentpush

import (
	"errors"
	"fmt"
)

// ErrMissingField is wrapped by a ParseError for absent or null fields.
var ErrMissingField = errors.New("missing field")

// ParseError reports a push payload that is not valid JSON or lacks a
// required field.
type ParseError struct {
	Field string // empty when the document itself is malformed
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("parsing call invite: %v", e.Err)
	}
	return fmt.Sprintf("parsing call invite: field %q: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TokenFetchError reports a failure to obtain a push token from the platform.
type TokenFetchError struct {
	Err error
}

func (e *TokenFetchError) Error() string {
	return fmt.Sprintf("fetching push token: %v", e.Err)
}

func (e *TokenFetchError) Unwrap() error { return e.Err }

// RemoteWriteError reports a failed merge write of an agent record.
type RemoteWriteError struct {
	Collection string
	UserID     string
	Fields     []string
	Err        error
}

func (e *RemoteWriteError) Error() string {
	return fmt.Sprintf("writing %v to %s/%s: %v", e.Fields, e.Collection, e.UserID, e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }
