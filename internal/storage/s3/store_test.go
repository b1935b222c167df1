package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/kpilens/kpilens/internal/storage"
)

func TestPutUsesPrefixAndContentType(t *testing.T) {
	fake := &fakeBucket{}
	store := newStore("kpi-snapshots", "/kpilens/prod/", fake, fake.open)

	info, err := store.Put(context.Background(), "/mart_daily_campaign_kpi/snapshot=1.parquet", bytes.NewBufferString("abc"), 3, storage.PutOptions{})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if fake.lastBucket != "kpi-snapshots" {
		t.Fatalf("bucket = %q", fake.lastBucket)
	}
	if fake.lastKey != "kpilens/prod/mart_daily_campaign_kpi/snapshot=1.parquet" {
		t.Fatalf("key = %q", fake.lastKey)
	}
	if fake.lastContentType != parquetContentType {
		t.Fatalf("content type = %q", fake.lastContentType)
	}
	if info.Key != "/mart_daily_campaign_kpi/snapshot=1.parquet" || info.Size != 3 {
		t.Fatalf("info = %+v", info)
	}

	if _, err := store.Put(context.Background(), "mart_daily_campaign_kpi/LATEST", bytes.NewBufferString("k\n"), 2, storage.PutOptions{}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if fake.lastContentType != pointerContentType {
		t.Fatalf("pointer content type = %q", fake.lastContentType)
	}
}

func TestPutRejectsKeysOutsidePrefix(t *testing.T) {
	fake := &fakeBucket{}
	store := newStore("kpi-snapshots", "", fake, fake.open)
	for _, key := range []string{"../secrets.txt", "..", "  ", "a/../../b"} {
		if _, err := store.Put(context.Background(), key, bytes.NewBufferString("x"), 1, storage.PutOptions{}); err == nil {
			t.Fatalf("Put(%q) expected validation error", key)
		}
	}
	if fake.lastKey != "" {
		t.Fatalf("rejected key reached the bucket: %q", fake.lastKey)
	}
}

func TestEnsureBucketCreatesWhenMissing(t *testing.T) {
	fake := &fakeBucket{}
	store := newStore("kpi-snapshots", "", fake, fake.open)
	if err := store.ensureBucket(context.Background(), "us-east-1"); err != nil {
		t.Fatalf("ensureBucket() error = %v", err)
	}
	if fake.madeRegion != "us-east-1" {
		t.Fatalf("MakeBucket region = %q", fake.madeRegion)
	}
}

func TestHealthCheckFailsWhenBucketMissing(t *testing.T) {
	fake := &fakeBucket{}
	store := newStore("kpi-snapshots", "", fake, fake.open)
	if err := store.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check error")
	}
	fake.exists = true
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
}

func TestGetAndStatMapNotFound(t *testing.T) {
	fake := &fakeBucket{err: minio.ErrorResponse{Code: "NoSuchKey"}}
	store := newStore("kpi-snapshots", "", fake, fake.open)

	if _, err := store.Get(context.Background(), "mart/LATEST"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Get() error = %v", err)
	}
	if _, err := store.Stat(context.Background(), "mart/LATEST"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Stat() error = %v", err)
	}
}

func TestGetReadsPrefixedKey(t *testing.T) {
	fake := &fakeBucket{}
	store := newStore("kpi-snapshots", "env", fake, fake.open)

	reader, err := store.Get(context.Background(), "mart/LATEST")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer func() { _ = reader.Close() }()
	body, _ := io.ReadAll(reader)
	if string(body) != "env/mart/LATEST" {
		t.Fatalf("body = %q", body)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if err == nil || !strings.Contains(err.Error(), "endpoint") || !strings.Contains(err.Error(), "bucket") {
		t.Fatalf("New() error = %v", err)
	}
}

func TestSplitEndpoint(t *testing.T) {
	host, secure, err := splitEndpoint("https://minio.example.com", false)
	if err != nil {
		t.Fatalf("splitEndpoint() error = %v", err)
	}
	if host != "minio.example.com" || !secure {
		t.Fatalf("host/secure = %q/%v", host, secure)
	}

	host, secure, err = splitEndpoint("localhost:9000", false)
	if err != nil {
		t.Fatalf("splitEndpoint() error = %v", err)
	}
	if host != "localhost:9000" || secure {
		t.Fatalf("host/secure = %q/%v", host, secure)
	}

	if _, _, err := splitEndpoint("http://", false); err == nil {
		t.Fatal("expected error for endpoint without host")
	}
}

type fakeBucket struct {
	lastBucket      string
	lastKey         string
	lastContentType string
	exists          bool
	madeRegion      string
	err             error
}

func (f *fakeBucket) PutObject(_ context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.lastBucket = bucket
	f.lastKey = key
	f.lastContentType = opts.ContentType
	_, _ = io.Copy(io.Discard, reader)
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size, ETag: "etag-1"}, nil
}

func (f *fakeBucket) StatObject(_ context.Context, _, key string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	if f.err != nil {
		return minio.ObjectInfo{}, f.err
	}
	return minio.ObjectInfo{Key: key, Size: 10, LastModified: time.Now().UTC()}, nil
}

func (f *fakeBucket) BucketExists(context.Context, string) (bool, error) {
	return f.exists, nil
}

func (f *fakeBucket) MakeBucket(_ context.Context, _ string, opts minio.MakeBucketOptions) error {
	f.madeRegion = opts.Region
	return nil
}

func (f *fakeBucket) open(_ context.Context, _, key string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(key)), nil
}
