// Package catalog bundles finalized outputs into monthly and quarterly
// archives on object storage and maintains the archive manifest.
package catalog

import (
	"context"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/fresco-hpc/fresco-etl/common"
)

// Object is one stored output file.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is the object-storage surface the builder needs.
type Store interface {
	List(ctx context.Context, prefix string) ([]Object, error)
	Download(ctx context.Context, key, destPath string) error
	Upload(ctx context.Context, srcPath, key string) error
}

// StoreConfig points at an S3-compatible endpoint.
type StoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseTLS    bool
}

type minioStore struct {
	client *minio.Client
	bucket string
}

// NewStore connects to an S3-compatible bucket.
func NewStore(cfg StoreConfig) (Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
	})
	if err != nil {
		return nil, common.WrapError(common.EErrorKind.Configuration(), err, "object store client")
	}
	return &minioStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *minioStore) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, common.WrapError(common.EErrorKind.Source(), info.Err, "list objects")
		}
		objects = append(objects, Object{
			Key:          info.Key,
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}
	return objects, nil
}

func (s *minioStore) Download(ctx context.Context, key, destPath string) error {
	if err := s.client.FGetObject(ctx, s.bucket, key, destPath, minio.GetObjectOptions{}); err != nil {
		return common.WrapError(common.EErrorKind.Source(), err, "download "+key)
	}
	return nil
}

func (s *minioStore) Upload(ctx context.Context, srcPath, key string) error {
	if _, err := s.client.FPutObject(ctx, s.bucket, key, srcPath, minio.PutObjectOptions{}); err != nil {
		return common.WrapError(common.EErrorKind.Transfer(), err, "upload "+key)
	}
	return nil
}
