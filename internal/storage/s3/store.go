// Package s3 keeps published mart snapshots in an S3-compatible bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kpilens/kpilens/internal/storage"
)

const (
	parquetContentType = "application/vnd.apache.parquet"
	pointerContentType = "text/plain"
)

type Config struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

func (c Config) validate() error {
	var errs []error
	if strings.TrimSpace(c.Endpoint) == "" {
		errs = append(errs, errors.New("snapshot store endpoint is required"))
	}
	if strings.TrimSpace(c.Bucket) == "" {
		errs = append(errs, errors.New("snapshot store bucket is required"))
	}
	return errors.Join(errs...)
}

// bucketAPI is the subset of *minio.Client the store writes and inspects
// through. Reads go through Store.open because *minio.Object cannot be faked.
type bucketAPI interface {
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
}

type openFunc func(ctx context.Context, bucket, key string) (io.ReadCloser, error)

// Store keeps mart snapshots and their LATEST pointers in one bucket under an
// optional key prefix.
type Store struct {
	api    bucketAPI
	open   openFunc
	bucket string
	prefix string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	host, secure, err := splitEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	mc, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot store client: %w", err)
	}

	store := newStore(strings.TrimSpace(cfg.Bucket), cfg.Prefix, mc, openWith(mc))
	if cfg.AutoCreateBucket {
		if err := store.ensureBucket(ctx, strings.TrimSpace(cfg.Region)); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func newStore(bucket, prefix string, api bucketAPI, open openFunc) *Store {
	return &Store{api: api, open: open, bucket: bucket, prefix: cleanPrefix(prefix)}
}

// openWith reads through GetObject and stats the object first, because
// GetObject is lazy and would only report a missing key on the first Read.
func openWith(mc *minio.Client) openFunc {
	return func(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
		obj, err := mc.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return nil, err
		}
		if _, err := obj.Stat(); err != nil {
			_ = obj.Close()
			return nil, err
		}
		return obj, nil
	}
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = contentTypeFor(objectKey)
	}
	upload, err := s.api.PutObject(ctx, s.bucket, objectKey, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("upload %s: %w", objectKey, translateErr(err))
	}
	return storage.ObjectInfo{Key: key, Size: upload.Size, ETag: upload.ETag}, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	reader, err := s.open(ctx, s.bucket, objectKey)
	if err != nil {
		if err = translateErr(err); errors.Is(err, storage.ErrObjectNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("download %s: %w", objectKey, err)
	}
	return reader, nil
}

func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.api.StatObject(ctx, s.bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		if err = translateErr(err); errors.Is(err, storage.ErrObjectNotFound) {
			return storage.ObjectInfo{}, err
		}
		return storage.ObjectInfo{}, fmt.Errorf("stat %s: %w", objectKey, err)
	}
	return storage.ObjectInfo{Key: key, Size: info.Size, ETag: info.ETag, LastModified: info.LastModified}, nil
}

// HealthCheck reports whether the snapshot bucket is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	exists, err := s.api.BucketExists(ctx, s.bucket)
	switch {
	case err != nil:
		return fmt.Errorf("snapshot bucket %s unreachable: %w", s.bucket, err)
	case !exists:
		return fmt.Errorf("snapshot bucket %s is missing", s.bucket)
	}
	return nil
}

func (s *Store) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.api.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("snapshot bucket %s unreachable: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.api.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create snapshot bucket %s: %w", s.bucket, err)
	}
	return nil
}

// objectKey maps a snapshot or pointer key to its bucket key under the prefix.
// Keys that climb out of the prefix are refused.
func (s *Store) objectKey(key string) (string, error) {
	trimmed := strings.TrimLeft(strings.TrimSpace(key), "/")
	if trimmed == "" {
		return "", errors.New("snapshot key is required")
	}
	cleaned := path.Clean(trimmed)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || cleaned == "." {
		return "", fmt.Errorf("snapshot key %q escapes the store prefix", key)
	}
	return path.Join(s.prefix, cleaned), nil
}

func cleanPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	if prefix = path.Clean(prefix); prefix == "." {
		return ""
	}
	return prefix
}

func contentTypeFor(key string) string {
	if strings.HasSuffix(key, ".parquet") {
		return parquetContentType
	}
	return pointerContentType
}

// splitEndpoint accepts host:port or a URL. An https URL forces TLS.
func splitEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		return raw, useSSL, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("snapshot store endpoint: %w", err)
	}
	if parsed.Host == "" {
		return "", false, fmt.Errorf("snapshot store endpoint %q has no host", raw)
	}
	return parsed.Host, useSSL || parsed.Scheme == "https", nil
}

func translateErr(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return storage.ErrObjectNotFound
	}
	return err
}
