package storage

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeNode serves the subset of the IPFS RPC API the client uses.
type fakeNode struct {
	*httptest.Server

	mu         sync.Mutex
	blocks     map[string][]byte
	pins       map[string]bool
	services   map[string]bool
	remotePins map[string]string
	calls      []string

	// fail forces an error status for a command.
	fail map[string]int
	// broken answers a command with 200 and ends the stream with an error trailer.
	broken map[string]string

	// Set before the server starts.
	user, pass string
	rawAdd     string
	prefix     string
}

func newFakeNode(t *testing.T, opts ...func(*fakeNode)) *fakeNode {
	t.Helper()
	n := &fakeNode{
		blocks:     map[string][]byte{},
		pins:       map[string]bool{},
		services:   map[string]bool{},
		remotePins: map[string]string{},
		fail:       map[string]int{},
		broken:     map[string]string{},
	}
	for _, opt := range opts {
		opt(n)
	}
	n.Server = httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(n.Close)
	return n
}

func (n *fakeNode) record(call string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, call)
}

func (n *fakeNode) callLog() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

func (n *fakeNode) count(command string) int {
	c := 0
	for _, call := range n.callLog() {
		if call == command {
			c++
		}
	}
	return c
}

func (n *fakeNode) put(id string, data []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocks[id] = data
	n.pins[id] = true
}

// mountedAt serves the API under a path prefix, as a reverse proxy would.
func mountedAt(prefix string) func(*fakeNode) {
	return func(n *fakeNode) { n.prefix = prefix }
}

func (n *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	if n.user != "" {
		user, pass, ok := r.BasicAuth()
		if !ok || user != n.user || pass != n.pass {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, "401 unauthorized")
			return
		}
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	command, ok := strings.CutPrefix(r.URL.Path, n.prefix+"/api/v0/")
	if !ok {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusNotFound)
		return
	}
	n.record(command)
	w.Header().Set("Content-Type", "application/json")

	n.mu.Lock()
	status, failing := n.fail[command]
	streamErr, broken := n.broken[command]
	n.mu.Unlock()
	if failing {
		nodeError(w, status, "injected failure")
		return
	}
	if broken {
		w.Header().Set("Trailer", "X-Stream-Error")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{"Pins":[`)
		w.Header().Set("X-Stream-Error", streamErr)
		return
	}

	args := r.URL.Query()["arg"]
	arg := ""
	if len(args) > 0 {
		arg = args[0]
	}

	switch command {
	case "add":
		data, ok := readFilePart(r)
		if !ok {
			nodeError(w, http.StatusBadRequest, "file argument 'path' is required")
			return
		}
		if n.rawAdd != "" {
			_, _ = io.WriteString(w, n.rawAdd)
			return
		}
		id, _ := DeriveCID(data)
		n.put(id.String(), data)
		writeJSON(w, map[string]any{"Name": "file", "Hash": id.String(), "Size": len(data)})

	case "cat":
		n.mu.Lock()
		data, ok := n.blocks[arg]
		n.mu.Unlock()
		if !ok {
			nodeError(w, http.StatusInternalServerError, "block was not found locally (offline): ipld: could not find "+arg)
			return
		}
		_, _ = w.Write(data)

	case "pin/rm":
		n.mu.Lock()
		pinned := n.pins[arg]
		delete(n.pins, arg)
		n.mu.Unlock()
		if !pinned {
			nodeError(w, http.StatusInternalServerError, "not pinned or pinned indirectly")
			return
		}
		writeJSON(w, map[string]any{"Pins": []string{arg}})

	case "pin/ls":
		n.mu.Lock()
		pinned := n.pins[arg]
		n.mu.Unlock()
		if !pinned {
			nodeError(w, http.StatusInternalServerError, "path '"+arg+"' is not pinned")
			return
		}
		writeJSON(w, map[string]any{"Keys": map[string]any{arg: map[string]string{"Type": "recursive"}}})

	case "pin/remote/service/add":
		if len(args) != 3 {
			nodeError(w, http.StatusBadRequest, "expected service name, endpoint and key")
			return
		}
		n.mu.Lock()
		present := n.services[args[0]]
		n.services[args[0]] = true
		n.mu.Unlock()
		if present {
			nodeError(w, http.StatusInternalServerError, "service already present")
			return
		}
		w.WriteHeader(http.StatusOK)

	case "pin/remote/add":
		service := r.URL.Query().Get("service")
		n.mu.Lock()
		known := n.services[service]
		if known {
			n.remotePins[arg] = r.URL.Query().Get("background")
		}
		n.mu.Unlock()
		if !known {
			nodeError(w, http.StatusInternalServerError, "service not known")
			return
		}
		writeJSON(w, map[string]string{"Cid": arg, "Status": "pinned"})

	case "pin/remote/rm":
		n.mu.Lock()
		delete(n.remotePins, arg)
		n.mu.Unlock()
		w.WriteHeader(http.StatusOK)

	case "dag/put":
		data, ok := readFilePart(r)
		if !ok {
			nodeError(w, http.StatusBadRequest, "missing object data")
			return
		}
		id, _ := DeriveCID(data)
		n.mu.Lock()
		n.blocks[id.String()] = data
		if r.URL.Query().Get("pin") == "true" {
			n.pins[id.String()] = true
		}
		n.mu.Unlock()
		writeJSON(w, map[string]any{"Cid": map[string]string{"/": id.String()}})

	case "dag/get":
		n.mu.Lock()
		data, ok := n.blocks[arg]
		n.mu.Unlock()
		if !ok {
			nodeError(w, http.StatusInternalServerError, "block was not found locally (offline)")
			return
		}
		_, _ = w.Write(data)

	case "version":
		writeJSON(w, map[string]string{"Version": "0.29.0", "Commit": "3f0947b", "Repo": "15"})

	default:
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusNotFound)
	}
}

func readFilePart(r *http.Request) ([]byte, bool) {
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, false
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	return data, err == nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func nodeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"Message": msg, "Code": 0, "Type": "error"})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (n *fakeNode) failWith(command string, status int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if status == 0 {
		delete(n.fail, command)
		return
	}
	n.fail[command] = status
}

func (n *fakeNode) breakStream(command, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broken[command] = msg
}

func (n *fakeNode) isPinned(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pins[id]
}

func (n *fakeNode) remotePin(id string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	background, ok := n.remotePins[id]
	return background, ok
}
