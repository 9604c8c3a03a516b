//go:build gcp

package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"

	"github.com/onoal/nucleus/pkg/ledger"
)

// GCSStore archives checkpoints to a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSStoreConfig holds configuration for GCSStore.
type GCSStoreConfig struct {
	Bucket string
	Prefix string
}

// NewGCSStore creates a GCS-backed checkpoint archive. Credentials come
// from ADC.
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("CHECKPOINT_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("CHECKPOINT_GCS_BUCKET is required for GCS archival")
	}
	return NewGCSStore(ctx, GCSStoreConfig{
		Bucket: bucket,
		Prefix: os.Getenv("CHECKPOINT_GCS_PREFIX"),
	})
}

func (s *GCSStore) Put(ctx context.Context, cp *ledger.Checkpoint) (string, error) {
	key := objectKey(s.prefix, cp.ID)
	obj := s.client.Bucket(s.bucket).Object(key)

	if _, err := obj.Attrs(ctx); err == nil {
		// Already archived, write-once.
		return key, nil
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("encode checkpoint: %w", err)
	}
	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close failed: %w", err)
	}
	return key, nil
}

func (s *GCSStore) Get(ctx context.Context, id string) (*ledger.Checkpoint, error) {
	obj := s.client.Bucket(s.bucket).Object(objectKey(s.prefix, id))
	r, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("gcs get failed for %s: %w", id, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs read failed: %w", err)
	}
	var cp ledger.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}

func (s *GCSStore) Exists(ctx context.Context, id string) (bool, error) {
	obj := s.client.Bucket(s.bucket).Object(objectKey(s.prefix, id))
	_, err := obj.Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, err
}
