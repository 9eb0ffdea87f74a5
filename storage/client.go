package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/ipfs-orchestrator/addr"
	"github.com/ruteri/ipfs-orchestrator/config"
	"github.com/ruteri/ipfs-orchestrator/interfaces"
	"github.com/ruteri/ipfs-orchestrator/metrics"
	"golang.org/x/time/rate"
)

var _ interfaces.ContentStore = (*Client)(nil)

// Client talks to one IPFS node over its RPC API and fans writes out to the
// remote pinning service and the mirror. A Client is safe for concurrent use.
type Client struct {
	session   *Session
	writeMode bool
	pinning   config.RemotePinningConfig
	mirror    interfaces.Mirror
	limiter   *rate.Limiter
	metrics   *metrics.Metrics
	shell     *shell.Shell
	log       *slog.Logger
}

func newClient(session *Session, writeMode bool, pinning config.RemotePinningConfig, mirror interfaces.Mirror, limiter *rate.Limiter, m *metrics.Metrics, log *slog.Logger) *Client {
	return &Client{
		session:   session,
		writeMode: writeMode,
		pinning:   pinning,
		mirror:    mirror,
		limiter:   limiter,
		metrics:   m,
		shell:     shell.NewShellWithClient(session.Endpoint().Root(addr.DefaultAPIBase), session.HTTPClient()),
		log:       log.With(slog.String("role", session.Role().String())),
	}
}

// Writable reports whether removals are allowed on this client.
func (c *Client) Writable() bool {
	return c.writeMode
}

// Endpoint returns the base URL of the node API.
func (c *Client) Endpoint() string {
	return c.session.Endpoint().BaseURL
}

// Mirror returns the configured mirror, or nil when mirroring is disabled.
func (c *Client) Mirror() interfaces.Mirror {
	return c.mirror
}

// DAG returns the DAG pass-through of this client.
func (c *Client) DAG() *DAG {
	return &DAG{client: c}
}

// AddBytes adds data to the node as CIDv1, then mirrors it and pins it remotely
// when those backends are enabled. Only the primary add can fail the call.
//
// If the node answers with something that is not an add result, the raw
// response text is returned as the CID and the auxiliary backends are skipped.
func (c *Client) AddBytes(ctx context.Context, data []byte) (interfaces.ContentID, error) {
	start := time.Now()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", &interfaces.StoreOperationError{Op: "add", Err: fmt.Errorf("%w: %w", interfaces.ErrRateLimited, err)}
		}
	}

	resp, err := c.call(ctx, c.shell.Request("add").
		Option("cid-version", 1).
		Body(fileBody(bytes.NewReader(data))))
	if err != nil {
		c.metrics.Observe(metrics.BackendPrimary, "add", metrics.OutcomeFailure, start)
		return "", nodeFailure("add", "", err)
	}
	c.metrics.Observe(metrics.BackendPrimary, "add", metrics.OutcomeSuccess, start)

	var added struct {
		Hash string `json:"Hash"`
	}
	if err := json.Unmarshal(resp, &added); err != nil || added.Hash == "" {
		c.log.Warn("Unexpected add response, returning it verbatim", slog.Int("size", len(resp)))
		return interfaces.ContentID(resp), nil
	}
	id := interfaces.ContentID(added.Hash)

	if c.mirror != nil {
		c.mirrorPut(ctx, id, data)
	}
	if c.pinning.Enabled {
		c.pinRemote(ctx, id)
	}

	c.log.Debug("Added content",
		slog.String("cid", id.String()),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return id, nil
}

// AddJSON adds the JSON encoding of v.
func (c *Client) AddJSON(ctx context.Context, v any) (interfaces.ContentID, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode JSON: %w", err)
	}
	return c.AddBytes(ctx, data)
}

// Cat reads the full content of id. An empty body is an error.
func (c *Client) Cat(ctx context.Context, id interfaces.ContentID) ([]byte, error) {
	start := time.Now()

	out, err := c.send(ctx, c.shell.Request("cat", id.String()))
	if err != nil {
		c.metrics.Observe(metrics.BackendPrimary, "cat", metrics.OutcomeFailure, start)
		return nil, nodeFailure("cat", id, err)
	}
	defer out.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(out); err != nil {
		c.metrics.Observe(metrics.BackendPrimary, "cat", metrics.OutcomeFailure, start)
		return nil, nodeFailure("cat", id, err)
	}
	if buf.Len() == 0 {
		c.metrics.Observe(metrics.BackendPrimary, "cat", metrics.OutcomeFailure, start)
		return nil, &interfaces.StoreOperationError{Op: "cat", CID: id, Err: interfaces.ErrEmptyContent}
	}

	c.metrics.Observe(metrics.BackendPrimary, "cat", metrics.OutcomeSuccess, start)
	c.log.Debug("Fetched content",
		slog.String("cid", id.String()),
		slog.Int("size", buf.Len()),
		slog.Duration("duration", time.Since(start)))

	return buf.Bytes(), nil
}

// CatString is Cat decoded as text.
func (c *Client) CatString(ctx context.Context, id interfaces.ContentID) (string, error) {
	data, err := c.Cat(ctx, id)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GetJSON reads id and decodes it as JSON. Content that is not JSON is
// returned as a string.
func (c *Client) GetJSON(ctx context.Context, id interfaces.ContentID) (any, error) {
	text, err := c.CatString(ctx, id)
	if err != nil {
		return nil, err
	}

	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return text, nil
	}
	return v, nil
}

// RemoveBytes unpins id on the node, then removes the remote pin and the
// mirrored object unless skipped. It returns false without error when the
// unpin does not complete; auxiliary failures are only logged. An error is
// returned only when the node could not be reached.
func (c *Client) RemoveBytes(ctx context.Context, id interfaces.ContentID, opts ...interfaces.RemoveOption) (bool, error) {
	if !c.writeMode {
		return false, &interfaces.StoreOperationError{Op: "remove", CID: id, Err: interfaces.ErrReadOnly}
	}

	var options interfaces.RemoveOptions
	for _, opt := range opts {
		opt(&options)
	}

	start := time.Now()
	resp, err := c.shell.Request("pin/rm", id.String()).Send(ctx)
	if err != nil {
		c.metrics.Observe(metrics.BackendPrimary, "rm", metrics.OutcomeFailure, start)
		return false, &interfaces.StoreOperationError{Op: "remove", CID: id, Err: err}
	}
	if _, err := readResponse(resp); err != nil {
		c.metrics.Observe(metrics.BackendPrimary, "rm", metrics.OutcomeFailure, start)
		c.log.Error("Failed to unpin content",
			slog.String("cid", id.String()),
			"err", err)
		return false, nil
	}
	c.metrics.Observe(metrics.BackendPrimary, "rm", metrics.OutcomeSuccess, start)

	if c.pinning.Enabled {
		if options.SkipRemotePin {
			c.metrics.Observe(metrics.BackendRemotePin, "rm", metrics.OutcomeSkipped, start)
		} else {
			c.unpinRemote(ctx, id)
		}
	}

	if c.mirror != nil {
		if options.SkipMirror {
			c.metrics.Observe(metrics.BackendMirror, "delete", metrics.OutcomeSkipped, start)
		} else {
			c.mirrorDelete(ctx, id)
		}
	}

	c.log.Debug("Removed content",
		slog.String("cid", id.String()),
		slog.Bool("skip_remote_pin", options.SkipRemotePin),
		slog.Bool("skip_mirror", options.SkipMirror),
		slog.Duration("duration", time.Since(start)))

	return true, nil
}

// RemoveJSON is RemoveBytes for content added with AddJSON.
func (c *Client) RemoveJSON(ctx context.Context, id interfaces.ContentID, opts ...interfaces.RemoveOption) (bool, error) {
	return c.RemoveBytes(ctx, id, opts...)
}

func (c *Client) mirrorPut(ctx context.Context, id interfaces.ContentID, data []byte) {
	start := time.Now()
	stored, err := c.mirror.Put(ctx, id, data)
	if err != nil {
		c.metrics.Observe(metrics.BackendMirror, "put", metrics.OutcomeFailure, start)
		c.log.Error("Failed to mirror content",
			slog.String("cid", id.String()),
			slog.String("backend", c.mirror.Name()),
			"err", err)
		return
	}
	c.metrics.Observe(metrics.BackendMirror, "put", metrics.OutcomeSuccess, start)
	c.log.Debug("Mirrored content",
		slog.String("cid", id.String()),
		slog.String("stored_cid", stored.String()),
		slog.String("backend", c.mirror.Name()))
}

func (c *Client) mirrorDelete(ctx context.Context, id interfaces.ContentID) {
	start := time.Now()
	if err := c.mirror.Delete(ctx, id); err != nil {
		c.metrics.Observe(metrics.BackendMirror, "delete", metrics.OutcomeFailure, start)
		c.log.Error("Failed to delete mirrored content",
			slog.String("cid", id.String()),
			slog.String("backend", c.mirror.Name()),
			"err", err)
		return
	}
	c.metrics.Observe(metrics.BackendMirror, "delete", metrics.OutcomeSuccess, start)
}
