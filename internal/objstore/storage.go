package objstore

import (
	"context"
)

// Storage is the consumed object-storage surface used by the upload and
// cleanup stages.
type Storage interface {
	// Upload transfers localPath to bucket/key with multipart resume and
	// returns the object URL.
	Upload(ctx context.Context, localPath, bucket, key string) (string, error)
	Delete(ctx context.Context, bucket, key string) error
	Exists(ctx context.Context, bucket, key string) (bool, error)
}
