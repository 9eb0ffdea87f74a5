package storage

import (
	"context"
	"encoding/json"
	"io"

	"github.com/ruteri/ipfs-orchestrator/interfaces"
)

// DAG passes dag/put and dag/get through to the node without touching the
// mirror or the remote pinning service.
type DAG struct {
	client *Client
}

// DAGBlock is the raw answer of dag/get.
type DAGBlock []byte

// AsJSON decodes the block, falling back to its text.
func (b DAGBlock) AsJSON() any {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return string(b)
	}
	return v
}

func (b DAGBlock) String() string {
	return string(b)
}

// Put stores the node read from r. The result is the decoded JSON answer of the
// node, or its raw text.
func (d *DAG) Put(ctx context.Context, r io.Reader, pin bool) (any, error) {
	resp, err := d.client.call(ctx, d.client.shell.Request("dag/put").
		Option("pin", pin).
		Body(fileBody(r)))
	if err != nil {
		return nil, nodeFailure("dag put", "", err)
	}
	return DAGBlock(resp).AsJSON(), nil
}

// Get fetches the DAG node stored under id.
func (d *DAG) Get(ctx context.Context, id interfaces.ContentID) (DAGBlock, error) {
	resp, err := d.client.call(ctx, d.client.shell.Request("dag/get", id.String()))
	if err != nil {
		return nil, nodeFailure("dag get", id, err)
	}
	return DAGBlock(resp), nil
}
