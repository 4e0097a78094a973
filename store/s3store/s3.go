// Package s3store implements store.ObjectStore over S3 and S3-compatible
// endpoints (MinIO, lakeFS-style gateways) using aws-sdk-go-v2, following
// the teacher's client construction idiom: static credentials, a custom
// endpoint resolver, and path-style addressing for non-AWS endpoints.
package s3store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"

	"github.com/nx-intelligence/xronox/common"
	"github.com/nx-intelligence/xronox/store"
)

var log = common.NewLogger("store.s3store")

// Store is an S3-backed store.ObjectStore.
type Store struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	presigner  *s3.PresignClient
}

// Dial builds a Store against endpoint using static credentials. endpoint
// may be the empty string to use AWS's default resolution; usePathStyle
// should be true for MinIO/lakeFS-style gateways.
func Dial(ctx context.Context, endpoint, region, accessKeyID, secretAccessKey string, usePathStyle bool) (*Store, error) {
	httpClient := &http.Client{Timeout: 60 * time.Second}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithHTTPClient(httpClient),
	}
	if accessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3store: loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
		}
		o.UsePathStyle = usePathStyle
	})

	log.WithField("endpoint", endpoint).Info("connected to object store")

	return &Store{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		presigner:  s3.NewPresignClient(client),
	}, nil
}

// EnsureBucket creates bucket if it doesn't already exist, mirroring the
// teacher's lakeFsEnsureBucketExists idempotent-create pattern.
func (s *Store) EnsureBucket(ctx context.Context, bucket string) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &bucket})
	if err == nil {
		return nil
	}
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &bucket})
	if err != nil {
		return fmt.Errorf("s3store: creating bucket %q: %w", bucket, err)
	}
	return nil
}

// Capabilities reports S3 supports presigned URLs but not cross-object
// transactions.
func (s *Store) Capabilities() store.Capabilities {
	return store.Capabilities{Transactions: false, Presign: true}
}

// PutJSON marshals obj and writes it to (bucket, key).
func (s *Store) PutJSON(ctx context.Context, bucket, key string, obj any) (int64, string, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return 0, "", fmt.Errorf("s3store: marshaling %s/%s: %w", bucket, key, err)
	}
	return s.PutBytes(ctx, bucket, key, data, "application/json")
}

// PutBytes writes data to (bucket, key) via the multipart uploader,
// returning its size and sha256 checksum.
func (s *Store) PutBytes(ctx context.Context, bucket, key string, data []byte, contentType string) (int64, string, error) {
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return 0, "", fmt.Errorf("s3store: putting %s/%s (%s): %w", bucket, key, humanize.Bytes(uint64(len(data))), err)
	}
	return int64(len(data)), checksum, nil
}

// GetJSON reads (bucket, key) and unmarshals it into out.
func (s *Store) GetJSON(ctx context.Context, bucket, key string, out any) error {
	data, err := s.GetBytes(ctx, bucket, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("s3store: unmarshaling %s/%s: %w", bucket, key, err)
	}
	return nil
}

// GetBytes reads the full object at (bucket, key).
func (s *Store) GetBytes(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return nil, fmt.Errorf("s3store: getting %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3store: reading body %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// Delete removes the object at (bucket, key). Deleting a key that
// doesn't exist is not an error, matching S3 semantics.
func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return fmt.Errorf("s3store: deleting %s/%s: %w", bucket, key, err)
	}
	return nil
}

// List enumerates keys under prefix, one page at a time.
func (s *Store) List(ctx context.Context, bucket, prefix string, opts store.ListOpts) (store.ListResult, error) {
	input := &s3.ListObjectsV2Input{Bucket: &bucket, Prefix: &prefix}
	if opts.Limit > 0 {
		limit := int32(opts.Limit)
		input.MaxKeys = &limit
	}
	if opts.After != "" {
		input.ContinuationToken = &opts.After
	}

	out, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return store.ListResult{}, fmt.Errorf("s3store: listing %s/%s: %w", bucket, prefix, err)
	}

	keys := make([]string, 0, len(out.Contents))
	for _, obj := range out.Contents {
		keys = append(keys, *obj.Key)
	}
	var next string
	if out.NextContinuationToken != nil {
		next = *out.NextContinuationToken
	}
	return store.ListResult{Keys: keys, NextToken: next}, nil
}

// Copy duplicates an object server-side from (srcBucket, srcKey) to
// (dstBucket, dstKey).
func (s *Store) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	source := srcBucket + "/" + srcKey
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     &dstBucket,
		Key:        &dstKey,
		CopySource: &source,
	})
	if err != nil {
		return fmt.Errorf("s3store: copying %s to %s/%s: %w", source, dstBucket, dstKey, err)
	}
	return nil
}

// PresignGet returns a time-limited GET URL for (bucket, key).
func (s *Store) PresignGet(ctx context.Context, bucket, key string, ttlSeconds int) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key},
		s3.WithPresignExpires(time.Duration(ttlSeconds)*time.Second))
	if err != nil {
		return "", fmt.Errorf("s3store: presigning %s/%s: %w", bucket, key, err)
	}
	return req.URL, nil
}
