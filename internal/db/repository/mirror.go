package repository

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"statflow/internal/domain"
)

// RemoteObject is the subset of objectstore.Object the mirror needs.
type RemoteObject interface {
	Upload(ctx context.Context, body io.ReadSeeker) error
	Download(ctx context.Context, w io.Writer) error
	URL() string
}

// MirroredSnapshotRepo keeps a copy of the snapshot file in object storage.
// Every successful Save is uploaded, and a Load that finds no local file
// first restores the file from the remote copy.
type MirroredSnapshotRepo struct {
	local  *SnapshotRepo
	remote RemoteObject
	logger *slog.Logger
}

var _ domain.SnapshotRepository = (*MirroredSnapshotRepo)(nil)

// NewMirroredSnapshotRepo wraps local with a remote mirror.
func NewMirroredSnapshotRepo(local *SnapshotRepo, remote RemoteObject, logger *slog.Logger) *MirroredSnapshotRepo {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MirroredSnapshotRepo{local: local, remote: remote, logger: logger}
}

// Save writes the snapshot locally, then uploads it. An upload failure is
// logged and does not fail the save.
func (m *MirroredSnapshotRepo) Save(ctx context.Context, c *domain.Catalog) error {
	if err := m.local.Save(ctx, c); err != nil {
		return err
	}
	if err := m.upload(ctx); err != nil {
		m.logger.Warn("snapshot mirror upload failed", "url", m.remote.URL(), "error", err)
		return nil
	}
	m.logger.Info("snapshot mirrored", "url", m.remote.URL(), "sync_id", c.Header.SyncID)
	return nil
}

func (m *MirroredSnapshotRepo) upload(ctx context.Context) error {
	m.local.mu.Lock()
	defer m.local.mu.Unlock()

	f, err := os.Open(m.local.path)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer func() { _ = f.Close() }()
	return m.remote.Upload(ctx, f)
}

// Load returns the local snapshot, restoring it from the mirror when the
// local file is missing. An unreachable mirror is treated like an empty one.
func (m *MirroredSnapshotRepo) Load(ctx context.Context) (*domain.Catalog, error) {
	c, err := m.local.Load(ctx)
	if err == nil || !domain.IsNotFound(err) {
		return c, err
	}

	if rerr := m.restore(ctx); rerr != nil {
		if !domain.IsNotFound(rerr) {
			m.logger.Warn("snapshot mirror download failed", "url", m.remote.URL(), "error", rerr)
		}
		return nil, err
	}
	m.logger.Info("snapshot restored from mirror", "url", m.remote.URL(), "path", m.local.path)
	return m.local.Load(ctx)
}

func (m *MirroredSnapshotRepo) restore(ctx context.Context) (err error) {
	m.local.mu.Lock()
	defer m.local.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.local.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := fmt.Sprintf("%s.tmp-%s", m.local.path, uuid.NewString())
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	defer func() {
		_ = f.Close()
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if err := m.remote.Download(ctx, f); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp, m.local.path); err != nil {
		return fmt.Errorf("install snapshot: %w", err)
	}
	return nil
}
