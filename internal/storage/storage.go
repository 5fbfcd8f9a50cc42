// Package storage provides the object storage targets run reports are
// published to.
package storage

import (
	"context"

	kerrors "github.com/kvlat/kvlat/internal/errors"
)

// ErrObjectNotFound is returned by Download for a missing object.
var ErrObjectNotFound = kerrors.New(kerrors.ErrCategoryStorage, kerrors.CodeObjectNotFound, "object not found")

// ErrObjectExists is returned when a write would replace an existing object.
var ErrObjectExists = kerrors.New(kerrors.ErrCategoryStorage, kerrors.CodeObjectExists, "object already exists")

// ObjectStorage abstracts the object store reports are published to.
// Implementations are a local directory tree and S3.
type ObjectStorage interface {
	// Upload copies the file at localPath to objectPath.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download copies objectPath to localPath.
	Download(ctx context.Context, objectPath, localPath string) error

	// Exists reports whether objectPath is present.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

func uploadError(objectPath string, cause error) error {
	return kerrors.NewStorageError(kerrors.CodeUploadFailed, "upload failed", cause).
		WithDetails(map[string]interface{}{"object": objectPath})
}

func downloadError(objectPath string, cause error) error {
	return kerrors.NewStorageError(kerrors.CodeDownloadFailed, "download failed", cause).
		WithDetails(map[string]interface{}{"object": objectPath})
}
