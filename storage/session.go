package storage

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/ruteri/ipfs-orchestrator/addr"
	"github.com/ruteri/ipfs-orchestrator/config"
)

// Role distinguishes the read session from the write session.
type Role int

const (
	RoleRead Role = iota
	RoleWrite
)

func (r Role) String() string {
	switch r {
	case RoleRead:
		return "read"
	case RoleWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Session is one pooled HTTP session against the primary store.
// The underlying http.Client is safe for concurrent requests.
type Session struct {
	role       Role
	endpoint   addr.ResolvedEndpoint
	httpClient *http.Client
}

// NewSession builds a pooled session for one role.
func NewSession(role Role, endpoint addr.ResolvedEndpoint, limits config.ConnectionLimits, timeout time.Duration, auth *config.ExternalAPIAuth, log *slog.Logger) *Session {
	transport := cleanhttp.DefaultPooledTransport()
	transport.MaxConnsPerHost = limits.MaxConnections
	transport.MaxIdleConns = limits.MaxIdleConnections
	transport.MaxIdleConnsPerHost = limits.MaxIdleConnections
	transport.IdleConnTimeout = limits.IdleExpiry

	var rt http.RoundTripper = transport
	if auth != nil {
		rt = &basicAuthTransport{username: auth.APIKey, password: auth.APISecret, next: transport}
	}

	if log != nil {
		log.Debug("Created IPFS session",
			slog.String("role", role.String()),
			slog.String("base_url", endpoint.BaseURL),
			slog.Int("max_connections", limits.MaxConnections),
			slog.Int("max_idle_connections", limits.MaxIdleConnections),
			slog.Bool("auth", auth != nil))
	}

	return &Session{
		role:     role,
		endpoint: endpoint,
		httpClient: &http.Client{
			Transport: rt,
			Timeout:   timeout,
			// The node API never redirects; surface the 3xx as a failed call.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Role returns the session role.
func (s *Session) Role() Role {
	return s.role
}

// Endpoint returns the resolved endpoint.
func (s *Session) Endpoint() addr.ResolvedEndpoint {
	return s.endpoint
}

// HTTPClient returns the pooled client.
func (s *Session) HTTPClient() *http.Client {
	return s.httpClient
}

// Close drops idle pooled connections.
func (s *Session) Close() {
	s.httpClient.CloseIdleConnections()
}

type basicAuthTransport struct {
	username string
	password string
	next     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.SetBasicAuth(t.username, t.password)
	return t.next.RoundTrip(clone)
}

func (t *basicAuthTransport) CloseIdleConnections() {
	if c, ok := t.next.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}
