package publish

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func TestUploadToBucket(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	data := bytes.Repeat([]byte("parfetch"), 1000)
	path := writeTemp(t, "data.json", data)

	res, err := UploadToBucket(ctx, bucket, "", path, Options{
		Metadata: map[string]string{"source_url": "https://example.com/data.json"},
	})
	if err != nil {
		t.Fatalf("UploadToBucket: %v", err)
	}
	if res.Key != "data.json" || res.Size != int64(len(data)) {
		t.Errorf("unexpected result %+v", res)
	}

	got, err := bucket.ReadAll(ctx, "data.json")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("stored object differs from local file")
	}

	attrs, err := bucket.Attributes(ctx, "data.json")
	if err != nil {
		t.Fatalf("Attributes: %v", err)
	}
	if attrs.ContentType != "application/json" {
		t.Errorf("expected content type from extension, got %q", attrs.ContentType)
	}
	if attrs.Metadata["source_url"] != "https://example.com/data.json" {
		t.Errorf("expected source_url metadata, got %v", attrs.Metadata)
	}
}

func TestUploadRefusesOverwrite(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	if err := bucket.WriteAll(ctx, "file.bin", []byte("old"), nil); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	path := writeTemp(t, "file.bin", []byte("new contents"))

	_, err = UploadToBucket(ctx, bucket, "file.bin", path, Options{})
	if !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	if _, err := UploadToBucket(ctx, bucket, "file.bin", path, Options{Overwrite: true}); err != nil {
		t.Fatalf("UploadToBucket with Overwrite: %v", err)
	}
	got, _ := bucket.ReadAll(ctx, "file.bin")
	if string(got) != "new contents" {
		t.Errorf("expected overwritten object, got %q", got)
	}
}

func TestUploadFileBucket(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, "archive.tar", []byte("tarball"))

	res, err := Upload(context.Background(), "file://"+filepath.ToSlash(dir), "mirror/archive.tar", path, Options{})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Size != 7 {
		t.Errorf("expected size 7, got %d", res.Size)
	}

	got, err := os.ReadFile(filepath.Join(dir, "mirror", "archive.tar"))
	if err != nil {
		t.Fatalf("read published file: %v", err)
	}
	if string(got) != "tarball" {
		t.Errorf("unexpected content %q", got)
	}
}

func TestUploadMissingFile(t *testing.T) {
	_, err := Upload(context.Background(), "mem://", "k", filepath.Join(t.TempDir(), "missing"), Options{})
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestUploadUnknownScheme(t *testing.T) {
	path := writeTemp(t, "f", []byte("x"))
	if _, err := Upload(context.Background(), "nope://bucket", "k", path, Options{}); err == nil {
		t.Error("expected error for unregistered bucket scheme")
	}
}
