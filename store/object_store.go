package store

import "context"

// ObjectStore is the adapter contract the core is written against
// (spec §6.2). S3, an S3-compatible endpoint, and a local-filesystem dev
// adapter all implement the same interface.
type ObjectStore interface {
	Capabilities() Capabilities

	PutJSON(ctx context.Context, bucket, key string, obj any) (size int64, sha256 string, err error)
	PutBytes(ctx context.Context, bucket, key string, data []byte, contentType string) (size int64, sha256 string, err error)
	GetJSON(ctx context.Context, bucket, key string, out any) error
	GetBytes(ctx context.Context, bucket, key string) ([]byte, error)
	Delete(ctx context.Context, bucket, key string) error
	List(ctx context.Context, bucket, prefix string, opts ListOpts) (ListResult, error)
	Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error

	// PresignGet returns a time-limited GET URL. Adapters that don't
	// support presigning (Capabilities().Presign == false) may return a
	// URL that grants no time-limited access; the local-filesystem
	// adapter returns a file:// URL.
	PresignGet(ctx context.Context, bucket, key string, ttl int) (url string, err error)
}
