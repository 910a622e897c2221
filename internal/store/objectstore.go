package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStoreConfig captures configuration for the object storage-backed session store.
type ObjectStoreConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	Prefix    string
	Namespace string
	UseSSL    bool
	PathStyle bool
}

// ObjectStore persists the session as one JSON object in an S3-compatible bucket,
// stored under <prefix>/<namespace>.json.
type ObjectStore struct {
	client *minio.Client
	cfg    ObjectStoreConfig
	sealer *Sealer
	mu     sync.Mutex
}

// NewObjectStore initializes an object storage backed session store.
func NewObjectStore(cfg ObjectStoreConfig, sealer *Sealer) (*ObjectStore, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.AccessKey = strings.TrimSpace(cfg.AccessKey)
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	cfg.Namespace = strings.Trim(strings.TrimSpace(cfg.Namespace), "/")

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object store: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object store: bucket is required")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}

	options := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}

	client, err := minio.New(cfg.Endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("object store: create client: %w", err)
	}
	return &ObjectStore{client: client, cfg: cfg, sealer: sealer}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("object store: check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err = s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		return fmt.Errorf("object store: create bucket: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *ObjectStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, err := s.load(ctx)
	if err != nil {
		return "", false, err
	}
	value, ok := snapshot[key]
	return value, ok, nil
}

// Set implements Store.
func (s *ObjectStore) Set(ctx context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, err := s.load(ctx)
	if err != nil {
		return err
	}
	if changed := applyValues(snapshot, values); len(changed) == 0 {
		return nil
	}
	return s.save(ctx, snapshot)
}

// Delete implements Store.
func (s *ObjectStore) Delete(ctx context.Context, keys ...string) error {
	values := make(map[string]string, len(keys))
	for _, key := range keys {
		values[key] = ""
	}
	return s.Set(ctx, values)
}

func (s *ObjectStore) objectKey() string {
	key := s.cfg.Namespace + ".json"
	if s.cfg.Prefix == "" {
		return key
	}
	return s.cfg.Prefix + "/" + key
}

func (s *ObjectStore) load(ctx context.Context) (map[string]string, error) {
	key := s.objectKey()
	object, err := s.client.GetObject(ctx, s.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if isObjectNotFound(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("object store: fetch %s: %w", key, err)
	}
	defer func() { _ = object.Close() }()
	data, err := io.ReadAll(object)
	if err != nil {
		if isObjectNotFound(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("object store: read %s: %w", key, err)
	}
	if len(data) == 0 {
		return map[string]string{}, nil
	}
	plain, err := s.sealer.Open(data)
	if err != nil {
		return nil, err
	}
	snapshot := map[string]string{}
	if err = json.Unmarshal(plain, &snapshot); err != nil {
		return nil, fmt.Errorf("object store: decode %s: %w", key, err)
	}
	return snapshot, nil
}

func (s *ObjectStore) save(ctx context.Context, snapshot map[string]string) error {
	key := s.objectKey()
	if len(snapshot) == 0 {
		err := s.client.RemoveObject(ctx, s.cfg.Bucket, key, minio.RemoveObjectOptions{})
		if err != nil && !isObjectNotFound(err) {
			return fmt.Errorf("object store: delete %s: %w", key, err)
		}
		return nil
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("object store: encode session: %w", err)
	}
	data, err := s.sealer.Seal(raw)
	if err != nil {
		return err
	}
	contentType := "application/json"
	if s.sealer != nil {
		contentType = "application/octet-stream"
	}
	_, err = s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("object store: put %s: %w", key, err)
	}
	return nil
}

func isObjectNotFound(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound {
		return true
	}
	switch resp.Code {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return true
	}
	return false
}
