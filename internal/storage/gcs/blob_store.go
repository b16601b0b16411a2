// Package gcs mirrors snapshots to Google Cloud Storage.
package gcs

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/pricewise/internal/pricewise"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name.
	Prefix string
}

// BlobStore mirrors snapshots into a GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
	now    func() time.Time
}

// New creates a GCS-backed mirror.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		now:    time.Now,
	}, nil
}

// MirrorSnapshot uploads doc as snapshots/<id>.json, tagged with the snapshot
// id, then overwrites latest.json to point at it.
func (s *BlobStore) MirrorSnapshot(ctx context.Context, id string, doc []byte) (string, error) {
	name, err := pricewise.MirrorObjectName(id)
	if err != nil {
		return "", err
	}
	object := path.Join(s.prefix, name)
	if err := s.write(ctx, object, doc, map[string]string{"snapshot_id": id}); err != nil {
		return "", fmt.Errorf("upload snapshot %s: %w", id, err)
	}
	uri := fmt.Sprintf("gs://%s/%s", s.bucket, object)

	pointer, err := json.Marshal(pricewise.MirrorPointer{ID: id, URI: uri, MirroredAt: s.now().UTC()})
	if err != nil {
		return uri, fmt.Errorf("encode latest marker: %w", err)
	}
	if err := s.write(ctx, path.Join(s.prefix, pricewise.MirrorLatestObject), pointer, nil); err != nil {
		return uri, fmt.Errorf("update latest marker: %w", err)
	}
	return uri, nil
}

func (s *BlobStore) write(ctx context.Context, object string, data []byte, metadata map[string]string) error {
	writer := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.CacheControl = "no-store"
	writer.Metadata = metadata
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}
