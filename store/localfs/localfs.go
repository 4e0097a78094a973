// Package localfs implements store.ObjectStore over the local filesystem,
// for development environments that don't want to stand up S3 (spec
// §6.2: "A local-filesystem adapter implementing the same interface is
// required for development"). Each bucket is a subdirectory of a root
// directory; each key is a path within it.
package localfs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nx-intelligence/xronox/store"
)

// Store is a filesystem-backed store.ObjectStore rooted at a directory.
type Store struct {
	root string
}

// New creates a Store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("localfs: creating root %q: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Capabilities reports that the local adapter has no real pre-signing
// and no cross-object transaction support; PresignGet returns a
// file:// URL useful only for local inspection.
func (s *Store) Capabilities() store.Capabilities {
	return store.Capabilities{Transactions: false, Presign: false}
}

func (s *Store) path(bucket, key string) (string, error) {
	clean := filepath.Clean(filepath.Join(s.root, bucket, key))
	base := filepath.Clean(filepath.Join(s.root, bucket))
	if clean != base && !strings.HasPrefix(clean, base+string(filepath.Separator)) {
		return "", fmt.Errorf("localfs: key %q escapes bucket %q", key, bucket)
	}
	return clean, nil
}

// PutJSON marshals obj and writes it to (bucket, key).
func (s *Store) PutJSON(ctx context.Context, bucket, key string, obj any) (int64, string, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return 0, "", fmt.Errorf("localfs: marshaling %s/%s: %w", bucket, key, err)
	}
	return s.PutBytes(ctx, bucket, key, data, "application/json")
}

// PutBytes writes data to (bucket, key), creating parent directories as
// needed.
func (s *Store) PutBytes(ctx context.Context, bucket, key string, data []byte, contentType string) (int64, string, error) {
	full, err := s.path(bucket, key)
	if err != nil {
		return 0, "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return 0, "", fmt.Errorf("localfs: creating parent dir for %s/%s: %w", bucket, key, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return 0, "", fmt.Errorf("localfs: writing %s/%s: %w", bucket, key, err)
	}
	sum := sha256.Sum256(data)
	return int64(len(data)), hex.EncodeToString(sum[:]), nil
}

// GetJSON reads (bucket, key) and unmarshals it into out.
func (s *Store) GetJSON(ctx context.Context, bucket, key string, out any) error {
	data, err := s.GetBytes(ctx, bucket, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("localfs: unmarshaling %s/%s: %w", bucket, key, err)
	}
	return nil
}

// GetBytes reads the full contents at (bucket, key).
func (s *Store) GetBytes(ctx context.Context, bucket, key string) ([]byte, error) {
	full, err := s.path(bucket, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("localfs: %s/%s: %w", bucket, key, os.ErrNotExist)
		}
		return nil, fmt.Errorf("localfs: reading %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// Delete removes the file at (bucket, key). Deleting a missing key is
// not an error, matching S3 semantics.
func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	full, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("localfs: deleting %s/%s: %w", bucket, key, err)
	}
	return nil
}

// List enumerates keys under prefix within bucket. Pagination is
// in-memory over the sorted key list: NextToken is the last key of the
// page, and a page requested with After starts at the first key after it,
// adequate for a development adapter.
func (s *Store) List(ctx context.Context, bucket, prefix string, opts store.ListOpts) (store.ListResult, error) {
	base, err := s.path(bucket, "")
	if err != nil {
		return store.ListResult{}, err
	}

	var keys []string
	err = filepath.WalkDir(base, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, os.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			keys = append(keys, rel)
		}
		return nil
	})
	if err != nil {
		return store.ListResult{}, fmt.Errorf("localfs: listing %s/%s: %w", bucket, prefix, err)
	}
	sort.Strings(keys)

	start := 0
	if opts.After != "" {
		for i, k := range keys {
			if k > opts.After {
				start = i
				break
			}
		}
	}
	end := len(keys)
	limit := opts.Limit
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	page := keys[start:end]
	var next string
	if end < len(keys) {
		next = keys[end-1]
	}
	return store.ListResult{Keys: page, NextToken: next}, nil
}

// Copy duplicates the bytes at (srcBucket, srcKey) to (dstBucket, dstKey).
func (s *Store) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	data, err := s.GetBytes(ctx, srcBucket, srcKey)
	if err != nil {
		return err
	}
	_, _, err = s.PutBytes(ctx, dstBucket, dstKey, data, "")
	return err
}

// PresignGet returns a file:// URL. It grants no actual time-limited
// access; it exists only so local development code paths that call
// PresignGet don't need a backend-specific branch.
func (s *Store) PresignGet(ctx context.Context, bucket, key string, ttlSeconds int) (string, error) {
	full, err := s.path(bucket, key)
	if err != nil {
		return "", err
	}
	return "file://" + full, nil
}
