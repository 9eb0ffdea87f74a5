package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ipfs/go-cid"
	"github.com/ruteri/ipfs-orchestrator/interfaces"
)

// DefaultMaxBodySize bounds uploads when HTTPServerConfig.MaxBodySize is not set.
const DefaultMaxBodySize = 64 << 20

// RequestError provides structured error information for HTTP responses.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Handler serves the content API on top of a write and a read store.
type Handler struct {
	writer      interfaces.ContentStore
	reader      interfaces.ContentStore
	maxBodySize int64
	log         *slog.Logger
}

// NewHandler creates a handler. Reads go to reader, everything else to writer.
func NewHandler(writer, reader interfaces.ContentStore, maxBodySize int64, log *slog.Logger) *Handler {
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodySize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		writer:      writer,
		reader:      reader,
		maxBodySize: maxBodySize,
		log:         log,
	}
}

// HandleAdd adds the request body.
func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(w, &RequestError{StatusCode: http.StatusRequestEntityTooLarge, Err: fmt.Errorf("body exceeds %d bytes", maxErr.Limit)})
			return
		}
		h.writeError(w, &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("failed to read request body: %w", err)})
		return
	}

	id, err := h.writer.AddBytes(r.Context(), body)
	if err != nil {
		h.log.Error("Failed to add content", "err", err, slog.Int("size", len(body)))
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"cid": id.String()})
}

// HandleCat streams the content stored under {cid}.
func (h *Handler) HandleCat(w http.ResponseWriter, r *http.Request) {
	id, err := cidParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	data, err := h.reader.Cat(r.Context(), id)
	if err != nil {
		h.log.Debug("Failed to read content", "err", err, slog.String("cid", id.String()))
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.log.Debug("Failed to write response", "err", err)
	}
}

// HandleGetJSON returns the content stored under {cid} as JSON.
func (h *Handler) HandleGetJSON(w http.ResponseWriter, r *http.Request) {
	id, err := cidParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	v, err := h.reader.GetJSON(r.Context(), id)
	if err != nil {
		h.log.Debug("Failed to read JSON content", "err", err, slog.String("cid", id.String()))
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, v)
}

// HandleRemove unpins {cid} and removes it from the auxiliary backends.
func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	id, err := cidParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var opts []interfaces.RemoveOption
	for param, opt := range map[string]func() interfaces.RemoveOption{
		"skip_mirror":     interfaces.SkipMirrorRemoval,
		"skip_remote_pin": interfaces.SkipRemotePinRemoval,
	} {
		raw := r.URL.Query().Get(param)
		if raw == "" {
			continue
		}
		skip, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("invalid %s: %q", param, raw)})
			return
		}
		if skip {
			opts = append(opts, opt())
		}
	}

	removed, err := h.writer.RemoveBytes(r.Context(), id, opts...)
	if err != nil {
		h.log.Error("Failed to remove content", "err", err, slog.String("cid", id.String()))
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"cid": id.String(), "removed": removed})
}

// HandleStatus reports whether the write and read nodes answer.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]bool{
		"write": h.writer.Available(r.Context()),
		"read":  h.reader.Available(r.Context()),
	}

	code := http.StatusOK
	if !status["write"] || !status["read"] {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func cidParam(r *http.Request) (interfaces.ContentID, error) {
	raw := chi.URLParam(r, "cid")
	if raw == "" {
		return "", &RequestError{StatusCode: http.StatusBadRequest, Err: errors.New("missing CID in URL")}
	}
	if _, err := cid.Decode(raw); err != nil {
		return "", &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("invalid CID %q: %w", raw, err)}
	}
	return interfaces.ContentID(raw), nil
}

// statusFor maps orchestrator errors to HTTP status codes.
func statusFor(err error) int {
	var reqErr *RequestError
	var opErr *interfaces.StoreOperationError

	switch {
	case errors.As(err, &reqErr):
		return reqErr.StatusCode
	case errors.Is(err, interfaces.ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, interfaces.ErrEmptyContent):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, interfaces.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.As(err, &opErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
