package fetch

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Failure kinds. Match them with errors.Is against any error returned by
// Pipeline.Fetch.
var (
	// ErrNetwork is a transport failure or a non-2xx response.
	ErrNetwork = errors.New("network error")
	// ErrTimeout means an attempt exceeded its deadline.
	ErrTimeout = errors.New("fetch timeout")
	// ErrParse means the payload was not in the expected shape.
	ErrParse = errors.New("parse error")
	// ErrEmptyResult means the source parsed but produced no usable rows.
	ErrEmptyResult = errors.New("empty result")
)

// Error describes a failed fetch of one source location.
type Error struct {
	Kind   error  // one of ErrNetwork, ErrTimeout, ErrParse, ErrEmptyResult
	Source string // location that failed
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Source, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Source, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTimeout) and friends match on the kind.
func (e *Error) Is(target error) bool { return target == e.Kind }

// Retryable reports whether another attempt could plausibly succeed.
// Parse errors are included because truncated responses happen.
func (e *Error) Retryable() bool {
	return e.Kind != ErrEmptyResult
}

func newError(kind error, source string, err error) *Error {
	return &Error{Kind: kind, Source: source, Err: err}
}

// parseError wraps err as a parse failure unless it already carries a kind.
func parseError(source string, err error) error {
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return newError(ErrParse, source, err)
}
