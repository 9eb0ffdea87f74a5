package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/ipfs-orchestrator/interfaces"
)

var _ interfaces.Mirror = (*MultiMirror)(nil)

// MultiMirror fans mirror calls out to several mirrors.
// A put succeeds if any mirror accepted the content; a delete must succeed everywhere.
type MultiMirror struct {
	mirrors []interfaces.Mirror
	log     *slog.Logger
}

// NewMultiMirror creates a fan-out over mirrors.
func NewMultiMirror(mirrors []interfaces.Mirror, logger *slog.Logger) *MultiMirror {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiMirror{
		mirrors: mirrors,
		log:     logger,
	}
}

// Put stores data on every mirror.
func (m *MultiMirror) Put(ctx context.Context, id interfaces.ContentID, data []byte) (interfaces.ContentID, error) {
	start := time.Now()
	var (
		stored interfaces.ContentID
		errs   []error
	)

	for _, mirror := range m.mirrors {
		got, err := mirror.Put(ctx, id, data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", mirror.Name(), err))
			m.log.Debug("Failed to store to mirror",
				slog.String("backend", mirror.Name()),
				slog.String("cid", id.String()),
				"err", err)
			continue
		}
		if stored == "" {
			stored = got
		} else if got != stored {
			m.log.Warn("Mirrors acknowledged different CIDs",
				slog.String("backend", mirror.Name()),
				slog.String("expected_cid", stored.String()),
				slog.String("actual_cid", got.String()))
		}
	}

	if stored == "" && len(m.mirrors) > 0 {
		m.log.Error("All mirrors failed to store content",
			slog.String("cid", id.String()),
			slog.Int("failed_backends", len(errs)),
			slog.Duration("duration", time.Since(start)))
		return "", errors.Join(errs...)
	}
	if len(errs) > 0 {
		m.log.Warn("Some mirrors failed to store content",
			slog.String("cid", id.String()),
			slog.Int("failed_backends", len(errs)))
	}
	return stored, nil
}

// Delete removes id from every mirror and joins the failures.
func (m *MultiMirror) Delete(ctx context.Context, id interfaces.ContentID) error {
	var errs []error
	for _, mirror := range m.mirrors {
		if err := mirror.Delete(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", mirror.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Available checks if any mirror is available.
func (m *MultiMirror) Available(ctx context.Context) bool {
	for _, mirror := range m.mirrors {
		if mirror.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the names of all mirrors.
func (m *MultiMirror) Name() string {
	names := make([]string, 0, len(m.mirrors))
	for _, mirror := range m.mirrors {
		names = append(names, mirror.Name())
	}
	return "multi[" + strings.Join(names, ",") + "]"
}

// Mirrors returns the wrapped mirrors.
func (m *MultiMirror) Mirrors() []interfaces.Mirror {
	return m.mirrors
}
