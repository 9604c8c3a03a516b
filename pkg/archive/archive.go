// Package archive pushes signed checkpoints to long-term object storage so
// chain commitments survive the loss of the primary database. Archival is
// write-once: a checkpoint object is never rewritten after upload.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/onoal/nucleus/pkg/ledger"
)

// Store is the checkpoint archive backend.
type Store interface {
	// Put uploads the checkpoint and returns the object key.
	Put(ctx context.Context, cp *ledger.Checkpoint) (string, error)
	// Get loads an archived checkpoint by id.
	Get(ctx context.Context, id string) (*ledger.Checkpoint, error)
	Exists(ctx context.Context, id string) (bool, error)
}

// StoreType selects the archive backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// NewStoreFromEnv creates an archive store from environment variables.
//
//   - CHECKPOINT_ARCHIVE_TYPE: "fs" (default), "s3", or "gcs"
//   - DATA_DIR: base directory for the filesystem store (default "data")
//
// For S3:
//   - CHECKPOINT_S3_BUCKET (required)
//   - CHECKPOINT_S3_REGION or AWS_REGION
//   - CHECKPOINT_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - CHECKPOINT_S3_PREFIX (optional)
//
// For GCS (requires -tags gcp):
//   - CHECKPOINT_GCS_BUCKET (required)
//   - CHECKPOINT_GCS_PREFIX (optional)
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	storeType := StoreType(os.Getenv("CHECKPOINT_ARCHIVE_TYPE"))
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeFS:
		dataDir := os.Getenv("DATA_DIR")
		if dataDir == "" {
			dataDir = "data"
		}
		return NewFileStore(filepath.Join(dataDir, "checkpoints"))
	case StoreTypeS3:
		return newS3StoreFromEnv(ctx)
	case StoreTypeGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported checkpoint archive type: %s", storeType)
	}
}

func objectKey(prefix, id string) string {
	return prefix + id + ".json"
}

// FileStore keeps archived checkpoints as JSON files under a base
// directory. The default backend for single-node deployments.
type FileStore struct {
	baseDir string
}

func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.baseDir, id+".json")
}

func (s *FileStore) Put(_ context.Context, cp *ledger.Checkpoint) (string, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("encode checkpoint: %w", err)
	}
	path := s.path(cp.ID)
	if _, err := os.Stat(path); err == nil {
		// Already archived, write-once.
		return path, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write checkpoint: %w", err)
	}
	return path, nil
}

func (s *FileStore) Get(_ context.Context, id string) (*ledger.Checkpoint, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp ledger.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}

func (s *FileStore) Exists(_ context.Context, id string) (bool, error) {
	_, err := os.Stat(s.path(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
