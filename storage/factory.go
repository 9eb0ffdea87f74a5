package storage

import (
	"fmt"
	"log/slog"

	"github.com/ruteri/ipfs-orchestrator/config"
	"github.com/ruteri/ipfs-orchestrator/interfaces"
	"github.com/ruteri/ipfs-orchestrator/metrics"
)

// MirrorFactory builds mirrors from configuration and location URIs.
type MirrorFactory struct {
	policy  *RetryPolicy
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewMirrorFactory creates a factory whose mirrors share policy and metrics.
func NewMirrorFactory(policy *RetryPolicy, m *metrics.Metrics, logger *slog.Logger) *MirrorFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &MirrorFactory{policy: policy, metrics: m, log: logger}
}

// MirrorFor creates a mirror from a location URI.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name[/prefix][?region=us-west-2&endpoint=https://s3.example.com]
func (f *MirrorFactory) MirrorFor(uri string) (*S3Mirror, error) {
	cfg, err := config.MirrorFromURI(uri)
	if err != nil {
		return nil, err
	}
	f.log.Debug("Creating S3 mirror", slog.String("uri", cfg.Redacted()))
	return NewS3Mirror(cfg, f.policy, f.metrics, f.log)
}

// Build returns the mirror described by s3 and uris, a MultiMirror when more
// than one is configured, or nil when none is.
func (f *MirrorFactory) Build(s3 config.S3Config, uris []string) (interfaces.Mirror, error) {
	var mirrors []interfaces.Mirror

	if s3.Enabled {
		mirror, err := NewS3Mirror(s3, f.policy, f.metrics, f.log)
		if err != nil {
			return nil, err
		}
		mirrors = append(mirrors, mirror)
	}

	for _, uri := range uris {
		mirror, err := f.MirrorFor(uri)
		if err != nil {
			return nil, fmt.Errorf("invalid mirror %q: %w", uri, err)
		}
		mirrors = append(mirrors, mirror)
	}

	switch len(mirrors) {
	case 0:
		return nil, nil
	case 1:
		return mirrors[0], nil
	default:
		return NewMultiMirror(mirrors, f.log), nil
	}
}
