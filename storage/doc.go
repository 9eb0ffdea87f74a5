// Package storage orchestrates content across an IPFS node, an optional
// remote pinning service and an optional S3-compatible mirror.
//
// A Manager is built from a config.Config. NewManager resolves the node
// addresses; Initialize opens a pooled write session and a pooled read session
// and registers the remote pinning service on the write node:
//
//	mgr, err := storage.NewManager(cfg, log)
//	if err != nil {
//	    return err
//	}
//	if err := mgr.Initialize(ctx); err != nil {
//	    return err
//	}
//	writer, _ := mgr.Writer()
//	cid, err := writer.AddBytes(ctx, data)
//
// # Writes
//
// AddBytes adds to the node first. The CID the node returns is the key used
// everywhere else: the mirror stores the bytes under prefix/<cid> and the
// remote pinning service is asked to pin <cid>. Only the node add can fail the
// call; mirror and remote pin failures are logged and counted.
//
// # Removals
//
// RemoveBytes is refused on the read client. It unpins on the node, then
// removes the remote pin and the mirrored object unless the caller skips them
// with interfaces.SkipRemotePinRemoval or interfaces.SkipMirrorRemoval.
//
// # Reads
//
// Cat buffers the whole response body and fails on an empty one. GetJSON falls
// back to the raw text when the content is not JSON. DAG passes dag/put and
// dag/get through unchanged.
//
// # Mirror
//
// S3Mirror keeps a lazily created SDK client in an atomic pointer and drops it
// after a transport failure. Every call runs under a RetryPolicy; the SDK's own
// retries are disabled.
//
// Every node call goes through a go-ipfs-api shell rooted at the node URL, so
// the API must live under /api/v0 below any path prefix. Errors the node
// reports surface as *shell.Error wrapped in interfaces.StoreOperationError.
package storage
