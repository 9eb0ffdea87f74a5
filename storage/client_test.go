package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ruteri/ipfs-orchestrator/config"
	"github.com/ruteri/ipfs-orchestrator/interfaces"
	"github.com/ruteri/ipfs-orchestrator/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockMirror implements interfaces.Mirror for testing
type MockMirror struct {
	mock.Mock
}

func (m *MockMirror) Put(ctx context.Context, id interfaces.ContentID, data []byte) (interfaces.ContentID, error) {
	args := m.Called(ctx, id, data)
	return args.Get(0).(interfaces.ContentID), args.Error(1)
}

func (m *MockMirror) Delete(ctx context.Context, id interfaces.ContentID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockMirror) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockMirror) Name() string {
	return "mock-mirror"
}

func testConfig(node *fakeNode) config.Config {
	cfg := config.Default()
	cfg.URL = node.URL
	cfg.Timeout = 5 * time.Second
	return cfg
}

func testPinning() config.RemotePinningConfig {
	return config.RemotePinningConfig{
		Enabled:         true,
		ServiceName:     "pinata",
		ServiceEndpoint: "https://api.pinata.cloud/psa",
		ServiceToken:    "secret-token",
	}
}

// assertOperations compares the operation counters gathered from reg with series.
func assertOperations(t *testing.T, reg prometheus.Gatherer, series ...string) {
	t.Helper()
	expected := "# HELP test_backend_operations_total Backend operations by backend, operation and outcome.\n" +
		"# TYPE test_backend_operations_total counter\n" +
		strings.Join(series, "\n") + "\n"
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "test_backend_operations_total"))
}

// assertRetries compares the mirror retry counter gathered from reg.
func assertRetries(t *testing.T, reg prometheus.Gatherer, retries int) {
	t.Helper()
	expected := fmt.Sprintf("# HELP test_mirror_retries_total Mirror attempts that were retried after a transient error.\n"+
		"# TYPE test_mirror_retries_total counter\n"+
		"test_mirror_retries_total %d\n", retries)
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "test_mirror_retries_total"))
}

func initManager(t *testing.T, cfg config.Config, opts ...ManagerOption) *Manager {
	t.Helper()
	m, err := NewManager(cfg, testLogger(), opts...)
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(m.Close)
	return m
}

func writerOf(t *testing.T, m *Manager) *Client {
	t.Helper()
	c, err := m.Writer()
	require.NoError(t, err)
	return c
}

func readerOf(t *testing.T, m *Manager) *Client {
	t.Helper()
	c, err := m.Reader()
	require.NoError(t, err)
	return c
}

func TestAddBytes_RoundTrip(t *testing.T) {
	node := newFakeNode(t)
	mgr := initManager(t, testConfig(node))
	ctx := context.Background()

	id, err := writerOf(t, mgr).AddBytes(ctx, []byte("test"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id.String(), "bafkrei"), id)

	derived, err := DeriveCID([]byte("test"))
	require.NoError(t, err)
	assert.Equal(t, derived, id)

	text, err := readerOf(t, mgr).CatString(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "test", text)

	data, err := readerOf(t, mgr).Cat(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("test"), data)

	// add is issued with CIDv1
	assert.Equal(t, 1, node.count("add"))
}

func TestAddBytes_LargeContent(t *testing.T) {
	node := newFakeNode(t)
	mgr := initManager(t, testConfig(node))
	ctx := context.Background()

	payload := []byte(strings.Repeat("0123456789abcdef", 64*1024))
	id, err := writerOf(t, mgr).AddBytes(ctx, payload)
	require.NoError(t, err)

	data, err := readerOf(t, mgr).Cat(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestJSON_RoundTrip(t *testing.T) {
	node := newFakeNode(t)
	mgr := initManager(t, testConfig(node))
	ctx := context.Background()

	id, err := writerOf(t, mgr).AddJSON(ctx, map[string]any{"name": "epoch", "height": 42})
	require.NoError(t, err)

	v, err := readerOf(t, mgr).GetJSON(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "epoch", "height": float64(42)}, v)

	removed, err := writerOf(t, mgr).RemoveJSON(ctx, id)
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestGetJSON_FallsBackToText(t *testing.T) {
	node := newFakeNode(t)
	mgr := initManager(t, testConfig(node))
	ctx := context.Background()

	id, err := writerOf(t, mgr).AddBytes(ctx, []byte("not json {"))
	require.NoError(t, err)

	v, err := readerOf(t, mgr).GetJSON(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "not json {", v)
}

func TestCat_Errors(t *testing.T) {
	node := newFakeNode(t)
	mgr := initManager(t, testConfig(node))
	ctx := context.Background()

	t.Run("empty content", func(t *testing.T) {
		id, err := writerOf(t, mgr).AddBytes(ctx, []byte{})
		require.NoError(t, err)

		_, err = readerOf(t, mgr).Cat(ctx, id)
		require.Error(t, err)
		assert.ErrorIs(t, err, interfaces.ErrEmptyContent)

		_, err = readerOf(t, mgr).GetJSON(ctx, id)
		assert.ErrorIs(t, err, interfaces.ErrEmptyContent)
	})

	t.Run("unknown CID", func(t *testing.T) {
		_, err := readerOf(t, mgr).Cat(ctx, "bafkreiunknown")
		var opErr *interfaces.StoreOperationError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, "cat", opErr.Op)
		assert.Equal(t, interfaces.ContentID("bafkreiunknown"), opErr.CID)
		assert.Contains(t, opErr.Message, "not found")
	})
}

func TestAddBytes_Orchestration(t *testing.T) {
	ctx := context.Background()
	data := []byte("orchestrated")
	expected, err := DeriveCID(data)
	require.NoError(t, err)

	t.Run("mirrors and pins remotely", func(t *testing.T) {
		node := newFakeNode(t)
		mirror := &MockMirror{}
		mirror.On("Put", mock.Anything, expected, data).Return(expected, nil).Once()

		cfg := testConfig(node)
		cfg.RemotePinning = testPinning()
		cfg.RemotePinning.BackgroundPinning = true
		mgr := initManager(t, cfg, WithMirror(mirror))

		id, err := writerOf(t, mgr).AddBytes(ctx, data)
		require.NoError(t, err)
		assert.Equal(t, expected, id)

		mirror.AssertExpectations(t)
		assert.Equal(t, []string{"pin/remote/service/add", "add", "pin/remote/add"}, node.callLog())
		background, ok := node.remotePin(id.String())
		require.True(t, ok)
		assert.Equal(t, "true", background)
	})

	t.Run("mirror failure does not fail the add", func(t *testing.T) {
		node := newFakeNode(t)
		mirror := &MockMirror{}
		mirror.On("Put", mock.Anything, expected, data).Return(interfaces.ContentID(""), errors.New("connection reset")).Once()

		reg := prometheus.NewRegistry()
		mm, err := metrics.New("test", reg)
		require.NoError(t, err)

		cfg := testConfig(node)
		cfg.RemotePinning = testPinning()
		mgr := initManager(t, cfg, WithMirror(mirror), WithMetrics(mm))

		id, err := writerOf(t, mgr).AddBytes(ctx, data)
		require.NoError(t, err)
		assert.Equal(t, expected, id)

		mirror.AssertExpectations(t)
		assert.Equal(t, 1, node.count("pin/remote/add"))
		assertOperations(t, reg,
			`test_backend_operations_total{backend="mirror",op="put",outcome="failure"} 1`,
			`test_backend_operations_total{backend="primary",op="add",outcome="success"} 1`,
			`test_backend_operations_total{backend="remote_pin",op="add",outcome="success"} 1`)
	})

	t.Run("remote pin failure does not fail the add", func(t *testing.T) {
		node := newFakeNode(t)
		cfg := testConfig(node)
		cfg.RemotePinning = testPinning()
		mgr := initManager(t, cfg)
		node.failWith("pin/remote/add", 500)

		id, err := writerOf(t, mgr).AddBytes(ctx, data)
		require.NoError(t, err)
		assert.Equal(t, expected, id)
	})

	t.Run("node failure skips auxiliary backends", func(t *testing.T) {
		node := newFakeNode(t)
		mirror := &MockMirror{}

		cfg := testConfig(node)
		cfg.RemotePinning = testPinning()
		mgr := initManager(t, cfg, WithMirror(mirror))
		node.failWith("add", 500)

		_, err := writerOf(t, mgr).AddBytes(ctx, data)
		var opErr *interfaces.StoreOperationError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, "add", opErr.Op)
		assert.Equal(t, "injected failure", opErr.Message)
		var nodeErr *shell.Error
		require.ErrorAs(t, err, &nodeErr)
		assert.Equal(t, "add", nodeErr.Command)

		mirror.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
		assert.Equal(t, 0, node.count("pin/remote/add"))
	})

	t.Run("unparseable add response is returned verbatim", func(t *testing.T) {
		node := newFakeNode(t, func(n *fakeNode) { n.rawAdd = "bafkreiplaintext" })
		mirror := &MockMirror{}

		cfg := testConfig(node)
		cfg.RemotePinning = testPinning()
		mgr := initManager(t, cfg, WithMirror(mirror))

		id, err := writerOf(t, mgr).AddBytes(ctx, data)
		require.NoError(t, err)
		assert.Equal(t, interfaces.ContentID("bafkreiplaintext"), id)

		mirror.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
		assert.Equal(t, 0, node.count("pin/remote/add"))
	})
}

func TestAddBytes_RateLimit(t *testing.T) {
	node := newFakeNode(t)
	cfg := testConfig(node)
	cfg.WriteRateLimit = config.RateLimit{ReqPerSec: 0.001, Burst: 1}
	mgr := initManager(t, cfg)
	writer := writerOf(t, mgr)

	_, err := writer.AddBytes(context.Background(), []byte("first"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = writer.AddBytes(ctx, []byte("second"))
	var opErr *interfaces.StoreOperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "add", opErr.Op)
	assert.ErrorIs(t, err, interfaces.ErrRateLimited)
	assert.Equal(t, 1, node.count("add"))

	// the read client is never throttled
	_, err = readerOf(t, mgr).Cat(context.Background(), "bafkreimissing")
	require.Error(t, err)
	assert.Equal(t, 1, node.count("cat"))
}

func TestRemoveBytes(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name          string
		opts          []interfaces.RemoveOption
		expectedCalls []string
	}{
		{
			name:          "all backends",
			expectedCalls: []string{"pin/rm", "pin/remote/rm", "mirror/delete"},
		},
		{
			name:          "skip remote pin",
			opts:          []interfaces.RemoveOption{interfaces.SkipRemotePinRemoval()},
			expectedCalls: []string{"pin/rm", "mirror/delete"},
		},
		{
			name:          "skip mirror",
			opts:          []interfaces.RemoveOption{interfaces.SkipMirrorRemoval()},
			expectedCalls: []string{"pin/rm", "pin/remote/rm"},
		},
		{
			name:          "skip both",
			opts:          []interfaces.RemoveOption{interfaces.SkipRemotePinRemoval(), interfaces.SkipMirrorRemoval()},
			expectedCalls: []string{"pin/rm"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := newFakeNode(t)
			mirror := &MockMirror{}
			mirror.On("Put", mock.Anything, mock.Anything, mock.Anything).Return(interfaces.ContentID(""), nil)
			mirror.On("Delete", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
				node.record("mirror/delete")
			}).Return(nil).Maybe()

			cfg := testConfig(node)
			cfg.RemotePinning = testPinning()
			mgr := initManager(t, cfg, WithMirror(mirror))
			writer := writerOf(t, mgr)

			id, err := writer.AddBytes(ctx, []byte("to be removed"))
			require.NoError(t, err)
			before := len(node.callLog())

			removed, err := writer.RemoveBytes(ctx, id, tt.opts...)
			require.NoError(t, err)
			assert.True(t, removed)
			assert.Equal(t, tt.expectedCalls, node.callLog()[before:])
		})
	}
}

func TestRemoveBytes_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("read client refuses", func(t *testing.T) {
		node := newFakeNode(t)
		mgr := initManager(t, testConfig(node))

		removed, err := readerOf(t, mgr).RemoveBytes(ctx, "bafkreianything")
		assert.False(t, removed)
		require.ErrorIs(t, err, interfaces.ErrReadOnly)
		assert.Equal(t, 0, node.count("pin/rm"))
	})

	t.Run("unpin failure stops the removal", func(t *testing.T) {
		node := newFakeNode(t)
		mirror := &MockMirror{}
		cfg := testConfig(node)
		cfg.RemotePinning = testPinning()
		mgr := initManager(t, cfg, WithMirror(mirror))

		removed, err := writerOf(t, mgr).RemoveBytes(ctx, "bafkreinotpinned")
		require.NoError(t, err)
		assert.False(t, removed)
		assert.Equal(t, 0, node.count("pin/remote/rm"))
		mirror.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})

	t.Run("broken unpin stream stops the removal", func(t *testing.T) {
		node := newFakeNode(t)
		mirror := &MockMirror{}
		mirror.On("Put", mock.Anything, mock.Anything, mock.Anything).Return(interfaces.ContentID(""), nil)

		cfg := testConfig(node)
		cfg.RemotePinning = testPinning()
		mgr := initManager(t, cfg, WithMirror(mirror))
		writer := writerOf(t, mgr)

		id, err := writer.AddBytes(ctx, []byte("half unpinned"))
		require.NoError(t, err)
		node.breakStream("pin/rm", "context canceled")

		removed, err := writer.RemoveBytes(ctx, id)
		require.NoError(t, err)
		assert.False(t, removed)
		assert.Equal(t, 1, node.count("pin/rm"))
		assert.Equal(t, 0, node.count("pin/remote/rm"))
		mirror.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})

	t.Run("auxiliary failures are tolerated", func(t *testing.T) {
		node := newFakeNode(t)
		mirror := &MockMirror{}
		mirror.On("Put", mock.Anything, mock.Anything, mock.Anything).Return(interfaces.ContentID(""), nil)
		mirror.On("Delete", mock.Anything, mock.Anything).Return(errors.New("access denied")).Once()

		cfg := testConfig(node)
		cfg.RemotePinning = testPinning()
		mgr := initManager(t, cfg, WithMirror(mirror))
		writer := writerOf(t, mgr)

		id, err := writer.AddBytes(ctx, []byte("aux"))
		require.NoError(t, err)
		node.failWith("pin/remote/rm", 500)

		removed, err := writer.RemoveBytes(ctx, id)
		require.NoError(t, err)
		assert.True(t, removed)
		mirror.AssertExpectations(t)
	})
}

func TestStatusProbes(t *testing.T) {
	node := newFakeNode(t)
	mgr := initManager(t, testConfig(node))
	ctx := context.Background()
	writer := writerOf(t, mgr)

	assert.True(t, writer.Available(ctx))

	version, err := writer.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0.29.0-3f0947b", version)

	id, err := writer.AddBytes(ctx, []byte("pinned"))
	require.NoError(t, err)

	pinned, err := writer.IsPinned(ctx, id)
	require.NoError(t, err)
	assert.True(t, pinned)

	removed, err := writer.RemoveBytes(ctx, id)
	require.NoError(t, err)
	require.True(t, removed)

	pinned, err = writer.IsPinned(ctx, id)
	require.NoError(t, err)
	assert.False(t, pinned)

	node.Close()
	assert.False(t, writer.Available(ctx))
}

func TestMountedNode(t *testing.T) {
	node := newFakeNode(t, mountedAt("/ipfs-node"))
	cfg := testConfig(node)
	cfg.URL = node.URL + "/ipfs-node/"
	mgr := initManager(t, cfg)
	ctx := context.Background()
	writer := writerOf(t, mgr)

	assert.Equal(t, node.URL+"/ipfs-node/api/v0/", writer.Endpoint())
	assert.True(t, writer.Available(ctx))

	version, err := writer.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0.29.0-3f0947b", version)

	id, err := writer.AddBytes(ctx, []byte("behind a proxy"))
	require.NoError(t, err)

	pinned, err := writer.IsPinned(ctx, id)
	require.NoError(t, err)
	assert.True(t, pinned)

	text, err := readerOf(t, mgr).CatString(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "behind a proxy", text)

	removed, err := writer.RemoveBytes(ctx, id)
	require.NoError(t, err)
	assert.True(t, removed)

	assert.Equal(t, []string{"version", "version", "add", "pin/ls", "cat", "pin/rm"}, node.callLog())
}

func TestDAG(t *testing.T) {
	node := newFakeNode(t)
	mgr := initManager(t, testConfig(node))
	ctx := context.Background()

	res, err := writerOf(t, mgr).DAG().Put(ctx, strings.NewReader(`{"epoch":7}`), true)
	require.NoError(t, err)

	out, ok := res.(map[string]any)
	require.True(t, ok, "unexpected dag/put answer %v", res)
	link, ok := out["Cid"].(map[string]any)
	require.True(t, ok)
	id := interfaces.ContentID(link["/"].(string))
	assert.True(t, node.isPinned(id.String()))

	block, err := readerOf(t, mgr).DAG().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, `{"epoch":7}`, block.String())
	assert.Equal(t, map[string]any{"epoch": float64(7)}, block.AsJSON())

	_, err = readerOf(t, mgr).DAG().Get(ctx, "bafkreimissing")
	var opErr *interfaces.StoreOperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "dag get", opErr.Op)
}

func TestBasicAuth(t *testing.T) {
	node := newFakeNode(t, func(n *fakeNode) { n.user, n.pass = "key", "secret" })
	ctx := context.Background()

	cfg := testConfig(node)
	cfg.URLAuth = &config.ExternalAPIAuth{APIKey: "key", APISecret: "secret"}
	mgr := initManager(t, cfg)

	id, err := writerOf(t, mgr).AddBytes(ctx, []byte("authenticated"))
	require.NoError(t, err)

	// the read session carries its own credentials
	_, err = readerOf(t, mgr).Cat(ctx, id)
	var opErr *interfaces.StoreOperationError
	require.ErrorAs(t, err, &opErr)
	assert.Contains(t, opErr.Message, "401")

	cfg.ReaderURLAuth = &config.ExternalAPIAuth{APIKey: "key", APISecret: "secret"}
	mgr = initManager(t, cfg)
	text, err := readerOf(t, mgr).CatString(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "authenticated", text)
}

func TestReaderURL(t *testing.T) {
	writeNode := newFakeNode(t)
	readNode := newFakeNode(t)
	ctx := context.Background()

	cfg := testConfig(writeNode)
	cfg.ReaderURL = readNode.URL
	mgr := initManager(t, cfg)

	id, err := writerOf(t, mgr).AddBytes(ctx, []byte("replicated"))
	require.NoError(t, err)
	readNode.put(id.String(), []byte("replicated"))

	text, err := readerOf(t, mgr).CatString(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "replicated", text)
	assert.Equal(t, 0, writeNode.count("cat"))
	assert.Equal(t, 1, readNode.count("cat"))
}
