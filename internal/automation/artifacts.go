package automation

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"sre-platform/internal/config"
)

// ArtifactStore archives full execution output. Put returns the URL the
// artifact can be fetched from.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// NewArtifactStore builds the store named by cfg.Driver, or nil for "none".
func NewArtifactStore(ctx context.Context, cfg config.ArtifactsConfig) (ArtifactStore, error) {
	switch cfg.Driver {
	case "minio":
		s, err := NewMinioStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "dir":
		s, err := NewDirStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, nil
	}
}

type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(ctx context.Context, cfg config.ArtifactsConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

func (m *MinioStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact: %w", err)
	}
	u := *m.client.EndpointURL()
	u.Path = "/" + m.bucket + "/" + key
	return u.String(), nil
}

// DirStore writes artifacts under a local directory.
type DirStore struct {
	root string
}

func NewDirStore(root string) (*DirStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &DirStore{root: abs}, nil
}

func (d *DirStore) Put(_ context.Context, key string, data []byte) (string, error) {
	path := filepath.Join(d.root, filepath.FromSlash(key))
	if !strings.HasPrefix(path, d.root+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact key %q escapes the artifact dir", key)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String(), nil
}
