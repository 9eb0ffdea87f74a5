// Package interfaces defines the types shared by the orchestrator packages,
// separating interface definitions from implementations.
//
// # Content
//
// ContentID is the CID string computed by the IPFS node. It is the only key:
// the remote pinning service pins it and mirrors store objects under it.
//
// ContentStore is the orchestrated view of all backends: AddBytes writes to the
// node and fans out, Cat and GetJSON read, RemoveBytes unpins and fans out.
// RemoveOption values select which auxiliary backends a removal skips.
//
// Mirror is an auxiliary blob store keyed by CID, implemented by the S3 mirror.
//
// # Errors
//
//   - AddressError: an address descriptor did not match a supported pattern
//   - StoreOperationError: a node call the caller depends on failed
//   - MirrorUploadError: a mirror call failed after retries
//   - ConfigurationError: settings missing for an enabled feature
//
// Sentinel errors (ErrReadOnly, ErrEmptyContent, ErrNotInitialized, ...) are
// wrapped by the typed errors and can be matched with errors.Is.
package interfaces
