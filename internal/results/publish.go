package results

import (
	"context"
	"encoding/json"
	"os"
	"path"

	"go.uber.org/zap"

	kerrors "github.com/kvlat/kvlat/internal/errors"
	"github.com/kvlat/kvlat/internal/storage"
)

// ObjectPath is where a summary is stored: runs/<backend>/<run-id>.json.
func ObjectPath(s *Summary) string {
	return path.Join("runs", s.Backend, s.RunID+".json")
}

// Publisher uploads summaries to object storage.
type Publisher struct {
	store  storage.ObjectStorage
	logger *zap.Logger
}

// NewPublisher creates a publisher for store.
func NewPublisher(store storage.ObjectStorage, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{store: store, logger: logger}
}

// Publish uploads s as JSON and returns its object path. A summary already
// published under the same run ID is never replaced.
func (p *Publisher) Publish(ctx context.Context, s *Summary) (string, error) {
	objectPath := ObjectPath(s)
	exists, err := p.store.Exists(ctx, objectPath)
	if err != nil {
		return "", kerrors.NewStorageError(kerrors.CodeUploadFailed, "checking existing summary", err).
			WithDetails(map[string]interface{}{"object": objectPath})
	}
	if exists {
		return "", kerrors.NewStorageError(kerrors.CodeObjectExists, "summary already published", nil).
			WithDetails(map[string]interface{}{"object": objectPath})
	}

	tmp, err := os.CreateTemp("", "kvlat-summary-*.json")
	if err != nil {
		return "", kerrors.NewStorageError(kerrors.CodeUploadFailed, "staging summary", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteJSON(tmp, s); err != nil {
		tmp.Close()
		return "", kerrors.NewStorageError(kerrors.CodeUploadFailed, "encoding summary", err)
	}
	if err := tmp.Close(); err != nil {
		return "", kerrors.NewStorageError(kerrors.CodeUploadFailed, "staging summary", err)
	}

	if err := p.store.Upload(ctx, tmp.Name(), objectPath); err != nil {
		return "", err
	}

	p.logger.Info("summary published", zap.String("run_id", s.RunID), zap.String("object", objectPath))
	return objectPath, nil
}

// Fetch downloads and decodes a published summary.
func (p *Publisher) Fetch(ctx context.Context, objectPath string) (*Summary, error) {
	dir, err := os.MkdirTemp("", "kvlat-fetch-*")
	if err != nil {
		return nil, kerrors.NewStorageError(kerrors.CodeDownloadFailed, "staging summary", err)
	}
	defer os.RemoveAll(dir)

	local := path.Join(dir, "summary.json")
	if err := p.store.Download(ctx, objectPath, local); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(local)
	if err != nil {
		return nil, kerrors.NewStorageError(kerrors.CodeDownloadFailed, "reading summary", err)
	}
	var s Summary
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, kerrors.NewStorageError(kerrors.CodeDownloadFailed, "decoding summary", err)
	}
	return &s, nil
}

// List returns the object paths of every summary published for backend,
// or for all backends when backend is empty.
func (p *Publisher) List(ctx context.Context, backend string) ([]string, error) {
	prefix := "runs"
	if backend != "" {
		prefix = path.Join(prefix, backend)
	}
	return p.store.ListObjects(ctx, prefix)
}
