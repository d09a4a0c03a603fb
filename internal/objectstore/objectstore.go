// Package objectstore implements the object store boundary the pipeline
// consumes (spec §6): list() -> [source_id], get(source_id) -> bytes. The
// core treats source_id as an opaque key unique within a corpus; this
// package maps that straight onto S3-compatible object keys.
package objectstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	rerr "github.com/Aman-CERP/rcpretrieval/internal/errors"
)

// Store lists and fetches source documents by opaque source id, grounded
// on HSn0918-rag's internal/storage.ObjectStorage interface, narrowed to
// the two operations spec §6 names.
type Store interface {
	List(ctx context.Context) ([]string, error)
	Get(ctx context.Context, sourceID string) ([]byte, error)
}

// Config configures a MinIO-backed Store.
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
}

// MinIO implements Store against an S3-compatible bucket, following
// HSn0918-rag's MinIOClient: bucket existence check and creation on open,
// one client shared across calls.
type MinIO struct {
	client *minio.Client
	bucket string
}

var _ Store = (*MinIO)(nil)

// NewMinIO dials cfg.Endpoint and ensures cfg.Bucket exists.
func NewMinIO(ctx context.Context, cfg Config) (*MinIO, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, rerr.ConfigError("failed to create object store client", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, rerr.ExternalUnavailable("failed to check bucket existence", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, rerr.ExternalUnavailable("failed to create bucket", err)
		}
	}

	return &MinIO{client: client, bucket: cfg.Bucket}, nil
}

// List enumerates every object key in the bucket as a source id.
func (m *MinIO) List(ctx context.Context) ([]string, error) {
	var ids []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, rerr.ExternalUnavailable("failed to list objects", obj.Err)
		}
		ids = append(ids, obj.Key)
	}
	return ids, nil
}

// Get fetches the full contents of sourceID.
func (m *MinIO) Get(ctx context.Context, sourceID string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, sourceID, minio.GetObjectOptions{})
	if err != nil {
		return nil, rerr.ExternalUnavailable("failed to open object", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return nil, rerr.NotFound("source not found in object store", err)
		}
		return nil, rerr.ExternalUnavailable("failed to read object", err)
	}
	return data, nil
}

// Memory is an in-memory Store used by tests and by single-binary
// deployments that don't run a MinIO sidecar.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

var _ Store = (*Memory)(nil)

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// Put inserts or overwrites sourceID's content.
func (m *Memory) Put(sourceID string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[sourceID] = append([]byte(nil), data...)
}

// List implements Store, returning keys in sorted order for determinism.
func (m *Memory) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.objects))
	for id := range m.objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, sourceID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[sourceID]
	if !ok {
		return nil, rerr.NotFound("source not found in object store", nil)
	}
	return bytes.Clone(data), nil
}
