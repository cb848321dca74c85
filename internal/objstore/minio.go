package objstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vmware2scw/vmware2scw/internal/config"
)

// MinioStorage implements Storage against an S3-compatible endpoint.
type MinioStorage struct {
	client *minio.Client
}

var _ Storage = (*MinioStorage)(nil)

func NewMinioStorage(cfg config.ScalewayConfig) (*MinioStorage, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.S3Endpoint, "https://"), "http://")
	secure := !strings.HasPrefix(cfg.S3Endpoint, "http://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating S3 client")
	}
	return &MinioStorage{client: client}, nil
}

func (s *MinioStorage) Upload(ctx context.Context, localPath, bucket, key string) (string, error) {
	// FPutObject switches to multipart above the part threshold and resumes
	// interrupted parts, which is what makes upload_s3 re-runnable.
	info, err := s.client.FPutObject(ctx, bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", errors.Wrapf(err, "uploading %s to s3://%s/%s", localPath, bucket, key)
	}
	zap.S().Named("objstore").Infof("uploaded s3://%s/%s (%d bytes)", bucket, key, info.Size)

	u := url.URL{
		Scheme: "https",
		Host:   s.client.EndpointURL().Host,
		Path:   fmt.Sprintf("/%s/%s", bucket, key),
	}
	return u.String(), nil
}

func (s *MinioStorage) Delete(ctx context.Context, bucket, key string) error {
	err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
	return errors.Wrapf(err, "deleting s3://%s/%s", bucket, key)
}

func (s *MinioStorage) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			return false, nil
		}
		return false, errors.Wrapf(err, "checking s3://%s/%s", bucket, key)
	}
	return true, nil
}
