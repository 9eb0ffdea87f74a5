package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ipfs/boxo/files"
	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/ipfs-orchestrator/interfaces"
	"github.com/ruteri/ipfs-orchestrator/metrics"
)

// serviceAlreadyPresent is the node's answer to a repeated remote service registration.
const serviceAlreadyPresent = "service already present"

// RegisterRemotePinningService registers the configured remote pinning service
// on the node. Registering a service the node already knows is not an error.
func (c *Client) RegisterRemotePinningService(ctx context.Context) error {
	_, err := c.call(ctx, c.shell.Request("pin/remote/service/add",
		c.pinning.ServiceName,
		c.pinning.ServiceEndpoint,
		c.pinning.ServiceToken))
	if err == nil {
		c.log.Info("Registered remote pinning service", slog.String("service", c.pinning.ServiceName))
		return nil
	}

	var shellErr *shell.Error
	if errors.As(err, &shellErr) && shellErr.Message == serviceAlreadyPresent {
		c.log.Debug("Remote pinning service already registered", slog.String("service", c.pinning.ServiceName))
		return nil
	}
	return nodeFailure("remote pinning service add", "", err)
}

// Available checks if the node answers its version endpoint.
func (c *Client) Available(ctx context.Context) bool {
	_, err := c.Version(ctx)
	return err == nil
}

// Version returns the version string reported by the node.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string
		Commit  string
	}
	if err := c.shell.Request("version").Exec(ctx, &out); err != nil {
		return "", fmt.Errorf("failed to query IPFS node version: %w", err)
	}
	if out.Commit != "" {
		return out.Version + "-" + out.Commit, nil
	}
	return out.Version, nil
}

// IsPinned reports whether the node holds a pin of any type for id.
func (c *Client) IsPinned(ctx context.Context, id interfaces.ContentID) (bool, error) {
	var out struct {
		Keys map[string]struct {
			Type string
		}
	}
	err := c.shell.Request("pin/ls", id.String()).Option("type", "all").Exec(ctx, &out)
	if err != nil {
		var shellErr *shell.Error
		if errors.As(err, &shellErr) && strings.Contains(shellErr.Message, "not pinned") {
			return false, nil
		}
		return false, fmt.Errorf("failed to list pins: %w", err)
	}
	return len(out.Keys) > 0, nil
}

func (c *Client) pinRemote(ctx context.Context, id interfaces.ContentID) {
	start := time.Now()
	_, err := c.call(ctx, c.shell.Request("pin/remote/add", id.String()).
		Option("service", c.pinning.ServiceName).
		Option("background", c.pinning.BackgroundPinning))
	if err != nil {
		c.metrics.Observe(metrics.BackendRemotePin, "add", metrics.OutcomeFailure, start)
		c.log.Error("Remote pinning add failed",
			slog.String("cid", id.String()),
			slog.String("service", c.pinning.ServiceName),
			"err", err)
		return
	}
	c.metrics.Observe(metrics.BackendRemotePin, "add", metrics.OutcomeSuccess, start)
}

func (c *Client) unpinRemote(ctx context.Context, id interfaces.ContentID) {
	start := time.Now()
	_, err := c.call(ctx, c.shell.Request("pin/remote/rm", id.String()).
		Option("service", c.pinning.ServiceName))
	if err != nil {
		c.metrics.Observe(metrics.BackendRemotePin, "rm", metrics.OutcomeFailure, start)
		c.log.Error("Remote pinning removal failed",
			slog.String("cid", id.String()),
			slog.String("service", c.pinning.ServiceName),
			"err", err)
		return
	}
	c.metrics.Observe(metrics.BackendRemotePin, "rm", metrics.OutcomeSuccess, start)
}

// send runs req and returns the streamed output, which the caller closes.
// Errors reported by the node come back as *shell.Error.
func (c *Client) send(ctx context.Context, req *shell.RequestBuilder) (io.ReadCloser, error) {
	resp, err := req.Send(ctx)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Output, nil
}

// call is send for commands with small responses.
func (c *Client) call(ctx context.Context, req *shell.RequestBuilder) ([]byte, error) {
	resp, err := req.Send(ctx)
	if err != nil {
		return nil, err
	}
	return readResponse(resp)
}

// readResponse drains resp. A node error or a broken stream is an error.
func readResponse(resp *shell.Response) ([]byte, error) {
	if resp.Error != nil {
		return nil, resp.Error
	}
	defer resp.Output.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Output); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return buf.Bytes(), nil
}

// fileBody wraps r as the single file part the add and dag/put commands expect.
func fileBody(r io.Reader) *files.MultiFileReader {
	dir := files.NewSliceDirectory([]files.DirEntry{
		files.FileEntry("file", files.NewReaderFile(r)),
	})
	return files.NewMultiFileReader(dir, true, false)
}

// nodeFailure wraps a failed node call, keeping the message the node reported.
func nodeFailure(op string, id interfaces.ContentID, err error) *interfaces.StoreOperationError {
	opErr := &interfaces.StoreOperationError{Op: op, CID: id, Err: err}
	var shellErr *shell.Error
	if errors.As(err, &shellErr) {
		opErr.Message = shellErr.Message
	}
	return opErr
}
