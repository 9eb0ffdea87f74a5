package interfaces

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnrecognizedDescriptor is wrapped by AddressError when the input is not
	// a multiaddr at all, as opposed to a multiaddr of an unsupported shape.
	// Only this case lets a caller fall back to treating the input as a URL.
	ErrUnrecognizedDescriptor = errors.New("unrecognized address descriptor")

	// ErrInvalidAddress is returned when the input is neither a supported
	// multiaddr nor a well-formed absolute http(s) URL.
	ErrInvalidAddress = errors.New("invalid IPFS address")

	// ErrReadOnly is returned when a write-only operation is invoked on a read session.
	ErrReadOnly = errors.New("cannot remove content in read-only mode")

	// ErrEmptyContent is returned when the primary store answers a read with an empty body.
	ErrEmptyContent = errors.New("response body empty")

	// ErrNotInitialized is returned when sessions are used before Initialize completed.
	ErrNotInitialized = errors.New("sessions not initialized")

	// ErrRateLimited is returned when an add could not get a slot from the write rate limiter.
	ErrRateLimited = errors.New("write rate limit exceeded")

	// ErrMirrorDisabled is returned by mirror operations when no mirror is configured.
	ErrMirrorDisabled = errors.New("s3 mirror not enabled")
)

// AddressError is returned when an address descriptor does not match the
// /<host>/<value>/tcp/<port>[/http|/https] pattern.
type AddressError struct {
	Addr string
	Err  error
}

func (e *AddressError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unsupported multiaddr pattern %q: %v", e.Addr, e.Err)
	}
	return fmt.Sprintf("unsupported multiaddr pattern %q", e.Addr)
}

func (e *AddressError) Unwrap() error {
	return e.Err
}

// StoreOperationError reports a failed primary store call the caller depends on.
// Message holds the error text the node reported, if it answered at all.
type StoreOperationError struct {
	Op      string
	CID     ContentID
	Message string
	Err     error
}

func (e *StoreOperationError) Error() string {
	var b strings.Builder
	b.WriteString("ipfs client error: ")
	b.WriteString(e.Op)
	b.WriteString(" operation")
	if e.CID != "" {
		b.WriteString(" on CID ")
		b.WriteString(string(e.CID))
	}
	switch {
	case e.Err != nil:
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	case e.Message != "":
		b.WriteString(", response: ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *StoreOperationError) Unwrap() error {
	return e.Err
}

// MirrorUploadError reports a mirror failure after the retry policy gave up,
// or a validation failure that was never attempted.
type MirrorUploadError struct {
	Op       string
	Key      string
	Attempts int
	Err      error
}

func (e *MirrorUploadError) Error() string {
	return fmt.Sprintf("s3 mirror %s of %q failed after %d attempt(s): %v", e.Op, e.Key, e.Attempts, e.Err)
}

func (e *MirrorUploadError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports settings missing or invalid for an enabled feature.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}
