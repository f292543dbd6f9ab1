package upstream

import (
	"errors"
	"fmt"
)

// Kind classifies why an upstream call failed
type Kind string

const (
	KindTransport Kind = "transport"
	KindTimeout   Kind = "timeout"
	KindCanceled  Kind = "canceled"
	KindAuth      Kind = "auth"
	KindStatus    Kind = "status"
	KindMalformed Kind = "malformed"
)

// ErrInvalidRequest is returned before any network call when the completion
// request violates its bounds.
var ErrInvalidRequest = errors.New("invalid completion request")

// Error is returned for every failed completion call
type Error struct {
	Kind       Kind
	StatusCode int
	Code       string // provider error code, if any
	Message    string
	Body       string // raw provider body, truncated
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("upstream returned HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstream %s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Malformed builds an error for a response envelope that does not have the
// expected shape.
func Malformed(format string, args ...interface{}) *Error {
	return &Error{Kind: KindMalformed, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of an upstream error anywhere in err's chain, or
// the empty string.
func KindOf(err error) Kind {
	var uerr *Error
	if errors.As(err, &uerr) {
		return uerr.Kind
	}
	return ""
}
