package interfaces

import (
	"context"
)

// ContentID is the CID string computed by the primary store. It is the only
// key used across the primary store, the remote pinning service and the mirror.
type ContentID string

// String returns the CID as returned by the primary store.
func (id ContentID) String() string {
	return string(id)
}

// RemoveOptions selects which auxiliary backends a removal skips.
type RemoveOptions struct {
	SkipRemotePin bool
	SkipMirror    bool
}

// RemoveOption mutates RemoveOptions.
type RemoveOption func(*RemoveOptions)

// SkipRemotePinRemoval leaves the remote pinning service untouched.
func SkipRemotePinRemoval() RemoveOption {
	return func(o *RemoveOptions) { o.SkipRemotePin = true }
}

// SkipMirrorRemoval leaves the mirrored object untouched, e.g. when the caller
// already knows no mirror copy exists.
func SkipMirrorRemoval() RemoveOption {
	return func(o *RemoveOptions) { o.SkipMirror = true }
}

// Mirror is an auxiliary blob store keyed by CID.
type Mirror interface {
	// Put stores data under id and returns the CID the backend acknowledged.
	Put(ctx context.Context, id ContentID, data []byte) (ContentID, error)

	// Delete removes the object stored under id.
	Delete(ctx context.Context, id ContentID) error

	// Available checks if the backend is reachable.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string
}

// ContentStore is the orchestrated view of all backends.
type ContentStore interface {
	AddBytes(ctx context.Context, data []byte) (ContentID, error)
	Cat(ctx context.Context, id ContentID) ([]byte, error)
	GetJSON(ctx context.Context, id ContentID) (any, error)
	RemoveBytes(ctx context.Context, id ContentID, opts ...RemoveOption) (bool, error)
	Available(ctx context.Context) bool
}
