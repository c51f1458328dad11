package latest

import (
	"errors"
	"fmt"
)

// ErrStalledPage is reported when a source returns a non-empty page that holds nothing
// older than what was already seen, which would otherwise paginate forever.
var ErrStalledPage = errors.New("page did not advance past the earliest seen message")

// ResolutionKind names what a ResolutionError failed to resolve.
type ResolutionKind string

const (
	ResolutionUser      ResolutionKind = "user"
	ResolutionContainer ResolutionKind = "container"
)

// ResolutionError describes an identifier that could not be mapped to a user or container.
type ResolutionError struct {
	Kind       ResolutionKind
	Identifier string
	Cause      error
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	if e == nil {
		return ""
	}

	if e.Cause != nil {
		return fmt.Sprintf("resolve %s %q: %v", e.Kind, e.Identifier, e.Cause)
	}

	return fmt.Sprintf("resolve %s %q", e.Kind, e.Identifier)
}

// Unwrap exposes the underlying cause for errors.Unwrap compatibility.
func (e *ResolutionError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// FetchError describes a failed page or channel listing request. A search that hits a
// FetchError is aborted; the channel is never treated as exhausted.
type FetchError struct {
	ChannelID string
	BeforeID  string
	Cause     error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e == nil {
		return ""
	}

	switch {
	case e.ChannelID == "":
		return fmt.Sprintf("list channels: %v", e.Cause)
	case e.BeforeID == "":
		return fmt.Sprintf("fetch newest page channel=%s: %v", e.ChannelID, e.Cause)
	default:
		return fmt.Sprintf("fetch page channel=%s before=%s: %v", e.ChannelID, e.BeforeID, e.Cause)
	}
}

// Unwrap exposes the underlying cause for errors.Unwrap compatibility.
func (e *FetchError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// IsResolutionError reports whether err is, or wraps, a ResolutionError.
func IsResolutionError(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}
