// Package blobstore provides write-once storage for large binary outputs on
// the NATS object store.
//
// Files are addressed by an opaque id assigned at write time. The object
// store chunks the byte stream internally and finalizes the object only when
// the put completes, so a file id never refers to a partial write. Ownership
// and trash lifecycle live in object metadata; the bytes are never mutated.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/video-service/internal/core"
)

// Metadata keys stored on every blob.
const (
	metaOwnerID   = "owner_id"
	metaFilename  = "filename"
	metaTrashed   = "trashed"
	metaTrashedAt = "trashed_at"
)

// ErrBlobNotFound indicates an unknown file id.
var ErrBlobNotFound = errors.New("blob not found")

// NatsBlobStore implements core.BlobStore using a NATS object store bucket.
type NatsBlobStore struct {
	bucket string
	store  nats.ObjectStore
}

// New creates and initializes a NatsBlobStore, creating the bucket on first
// use and binding to it otherwise.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsBlobStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Blob storage for the %s bucket.", bucketName),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if errors.Is(err, jetstream.ErrBucketExists) {
			store, err = jetstreamContext.ObjectStore(bucketName)
			if err != nil {
				return nil, fmt.Errorf("failed to bind to existing blob bucket '%s': %w", bucketName, err)
			}
		} else {
			return nil, fmt.Errorf("failed to create blob bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsBlobStore{
		bucket: bucketName,
		store:  store,
	}, nil
}

// Write streams data into a freshly allocated file id owned by ownerID. The
// returned id is valid only once Write returns without error.
func (s *NatsBlobStore) Write(_ context.Context, ownerID, filename string, data io.Reader) (string, error) {
	fileID := uuid.NewString()

	_, err := s.store.Put(&nats.ObjectMeta{
		Name:        fileID,
		Description: filename,
		Metadata: map[string]string{
			metaOwnerID:  ownerID,
			metaFilename: filename,
			metaTrashed:  "false",
		},
	}, data)
	if err != nil {
		return "", fmt.Errorf("%w: failed to put blob '%s' to bucket '%s': %w",
			core.ErrStorage, fileID, s.bucket, err)
	}

	return fileID, nil
}

// Read streams back all chunks of a completed file in original order.
func (s *NatsBlobStore) Read(_ context.Context, fileID string) (io.ReadCloser, error) {
	obj, err := s.store.Get(fileID)
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: '%s'", ErrBlobNotFound, fileID)
		}

		return nil, fmt.Errorf("%w: failed to get blob '%s' from bucket '%s': %w",
			core.ErrStorage, fileID, s.bucket, err)
	}

	return obj, nil
}

// ReadAll reads the full byte content of a file.
func (s *NatsBlobStore) ReadAll(ctx context.Context, fileID string) ([]byte, error) {
	obj, err := s.Read(ctx, fileID)
	if err != nil {
		return nil, err
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("%w: failed to read blob '%s': %w", core.ErrStorage, fileID, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close blob '%s': %w", fileID, closeErr)
	}

	return data, nil
}

// Stat returns the blob's metadata without reading its content.
func (s *NatsBlobStore) Stat(_ context.Context, fileID string) (core.BlobInfo, error) {
	info, err := s.store.GetInfo(fileID)
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return core.BlobInfo{}, fmt.Errorf("%w: '%s'", ErrBlobNotFound, fileID)
		}

		return core.BlobInfo{}, fmt.Errorf("%w: failed to stat blob '%s': %w", core.ErrStorage, fileID, err)
	}

	return blobInfoFromMeta(fileID, info), nil
}

// Trash marks the file as trashed without touching its bytes.
func (s *NatsBlobStore) Trash(ctx context.Context, fileID string) error {
	return s.setTrashed(ctx, fileID, true)
}

// Restore clears the trashed mark.
func (s *NatsBlobStore) Restore(ctx context.Context, fileID string) error {
	return s.setTrashed(ctx, fileID, false)
}

func (s *NatsBlobStore) setTrashed(_ context.Context, fileID string, trashed bool) error {
	info, err := s.store.GetInfo(fileID)
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return fmt.Errorf("%w: '%s'", ErrBlobNotFound, fileID)
		}

		return fmt.Errorf("%w: failed to stat blob '%s': %w", core.ErrStorage, fileID, err)
	}

	meta := info.ObjectMeta
	if meta.Metadata == nil {
		meta.Metadata = make(map[string]string)
	}

	if trashed {
		meta.Metadata[metaTrashed] = "true"
		meta.Metadata[metaTrashedAt] = time.Now().UTC().Format(time.RFC3339)
	} else {
		meta.Metadata[metaTrashed] = "false"
		delete(meta.Metadata, metaTrashedAt)
	}

	updateErr := s.store.UpdateMeta(fileID, &meta)
	if updateErr != nil {
		return fmt.Errorf("%w: failed to update metadata for blob '%s': %w",
			core.ErrStorage, fileID, updateErr)
	}

	return nil
}

func blobInfoFromMeta(fileID string, info *nats.ObjectInfo) core.BlobInfo {
	blobInfo := core.BlobInfo{
		FileID:   fileID,
		Filename: info.Metadata[metaFilename],
		OwnerID:  info.Metadata[metaOwnerID],
		Size:     info.Size,
		Trashed:  info.Metadata[metaTrashed] == "true",
	}

	if raw, ok := info.Metadata[metaTrashedAt]; ok {
		trashedAt, parseErr := time.Parse(time.RFC3339, raw)
		if parseErr == nil {
			blobInfo.TrashedAt = trashedAt
		}
	}

	return blobInfo
}
