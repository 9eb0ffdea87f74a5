package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/ipfs-orchestrator/addr"
	"github.com/ruteri/ipfs-orchestrator/config"
	"github.com/ruteri/ipfs-orchestrator/interfaces"
	"github.com/ruteri/ipfs-orchestrator/metrics"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"
)

// Manager owns the read and write clients of one configuration.
//
// Endpoints are resolved and the mirror is built in NewManager; sessions are
// opened and the remote pinning service is registered in Initialize.
type Manager struct {
	cfg            config.Config
	writeEndpoint  addr.ResolvedEndpoint
	readerEndpoint addr.ResolvedEndpoint
	mirror         interfaces.Mirror
	limiter        *rate.Limiter
	metrics        *metrics.Metrics
	log            *slog.Logger

	mu     sync.Mutex
	writer atomic.Pointer[Client]
	reader atomic.Pointer[Client]
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMirror replaces the mirror built from the S3 configuration.
func WithMirror(mirror interfaces.Mirror) ManagerOption {
	return func(m *Manager) {
		m.mirror = mirror
	}
}

// WithMetrics records backend outcomes on mm.
func WithMetrics(mm *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = mm
	}
}

// NewManager validates cfg and resolves both node addresses.
func NewManager(cfg config.Config, log *slog.Logger, opts ...ManagerOption) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.APIBase == "" {
		cfg.APIBase = config.DefaultAPIBase
	}

	writeEndpoint, err := addr.Resolve(cfg.URL, cfg.APIBase)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve write node address: %w", err)
	}
	readerEndpoint, err := addr.Resolve(cfg.ReaderAddress(), cfg.APIBase)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve read node address: %w", err)
	}

	m := &Manager{
		cfg:            cfg,
		writeEndpoint:  writeEndpoint,
		readerEndpoint: readerEndpoint,
		log:            log,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.mirror == nil {
		mirror, err := NewMirrorFactory(NewRetryPolicy(cfg.MirrorRetry), m.metrics, log).Build(cfg.S3, cfg.MirrorURIs)
		if err != nil {
			return nil, err
		}
		if mirror != nil {
			m.mirror = mirror
		}
	}

	if cfg.WriteRateLimit.ReqPerSec > 0 {
		burst := cfg.WriteRateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(cfg.WriteRateLimit.ReqPerSec), burst)
	}

	log.Info("Created IPFS session manager",
		slog.String("write_url", writeEndpoint.BaseURL),
		slog.String("read_url", readerEndpoint.BaseURL),
		slog.Bool("remote_pinning", cfg.RemotePinning.Enabled),
		slog.Bool("mirror", m.mirror != nil))

	return m, nil
}

// Initialize opens both sessions and registers the remote pinning service.
// It is idempotent: after the first success further calls do nothing, and a
// failed call leaves the manager uninitialized.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writer.Load() != nil {
		return nil
	}

	writeSession := NewSession(RoleWrite, m.writeEndpoint, m.cfg.ConnectionLimits, m.cfg.Timeout, m.cfg.URLAuth, m.log)
	writer := newClient(writeSession, true, m.cfg.RemotePinning, m.mirror, m.limiter, m.metrics, m.log)

	if m.cfg.RemotePinning.Enabled {
		if err := checkRemotePinning(m.cfg.RemotePinning); err != nil {
			writeSession.Close()
			return err
		}
		if err := writer.RegisterRemotePinningService(ctx); err != nil {
			writeSession.Close()
			return err
		}
	}

	readSession := NewSession(RoleRead, m.readerEndpoint, m.cfg.ConnectionLimits, m.cfg.Timeout, m.cfg.ReaderURLAuth, m.log)
	reader := newClient(readSession, false, m.cfg.RemotePinning, m.mirror, nil, m.metrics, m.log)

	m.writer.Store(writer)
	m.reader.Store(reader)

	m.log.Info("Initialized IPFS sessions")
	return nil
}

func checkRemotePinning(cfg config.RemotePinningConfig) error {
	switch {
	case cfg.ServiceName == "":
		return &interfaces.ConfigurationError{Field: "remote_pinning.service_name", Reason: "required when remote pinning is enabled"}
	case cfg.ServiceEndpoint == "":
		return &interfaces.ConfigurationError{Field: "remote_pinning.service_endpoint", Reason: "required when remote pinning is enabled"}
	case cfg.ServiceToken == "":
		return &interfaces.ConfigurationError{Field: "remote_pinning.service_token", Reason: "required when remote pinning is enabled"}
	}
	return nil
}

// Writer returns the write client.
func (m *Manager) Writer() (*Client, error) {
	c := m.writer.Load()
	if c == nil {
		return nil, interfaces.ErrNotInitialized
	}
	return c, nil
}

// Reader returns the read client.
func (m *Manager) Reader() (*Client, error) {
	c := m.reader.Load()
	if c == nil {
		return nil, interfaces.ErrNotInitialized
	}
	return c, nil
}

// Mirror returns the mirror, or ErrMirrorDisabled when none is configured.
func (m *Manager) Mirror() (interfaces.Mirror, error) {
	if m.mirror == nil {
		return nil, interfaces.ErrMirrorDisabled
	}
	return m.mirror, nil
}

// Close releases idle connections of both sessions.
func (m *Manager) Close() {
	if c := m.writer.Load(); c != nil {
		c.session.Close()
	}
	if c := m.reader.Load(); c != nil {
		c.session.Close()
	}
}
