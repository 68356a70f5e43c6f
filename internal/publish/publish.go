// Package publish copies a finished download into an object store bucket
// through gocloud.dev/blob, so the same code serves S3, GCS, local
// directories and in-memory buckets.
//
// Callers register the drivers they need with blank imports
// (gocloud.dev/blob/s3blob, gcsblob, fileblob, memblob).
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

var tracer = otel.Tracer("github.com/ligustah/parfetch/internal/publish")

// ErrSizeMismatch is returned when the stored object does not match the
// local file's size. The partial object is removed.
var ErrSizeMismatch = errors.New("publish: uploaded size does not match local file")

// Options configures an upload.
type Options struct {
	// ContentType of the object. Guessed from the key's extension when empty.
	ContentType string

	// Metadata is stored alongside the object, e.g. source_url and source_etag.
	Metadata map[string]string

	// Overwrite allows replacing an existing object.
	Overwrite bool

	// Logger receives upload diagnostics. Default: slog.Default()
	Logger *slog.Logger
}

// Result describes a published object.
type Result struct {
	Key  string
	Size int64
}

// ErrExists is returned when the key already exists and Overwrite is false.
var ErrExists = errors.New("publish: object already exists")

// Upload opens the bucket at bucketURL and uploads the file at path to key.
// An empty key uses the file's base name.
func Upload(ctx context.Context, bucketURL, key, path string, opts Options) (*Result, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("publish: open bucket: %w", err)
	}
	defer bucket.Close()

	return UploadToBucket(ctx, bucket, key, path, opts)
}

// UploadToBucket uploads the file at path to key in bucket.
func UploadToBucket(ctx context.Context, bucket *blob.Bucket, key, path string, opts Options) (*Result, error) {
	if key == "" {
		key = filepath.Base(path)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, span := tracer.Start(ctx, "publish.Upload")
	defer span.End()
	span.SetAttributes(attribute.String("key", key))

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("publish: open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("publish: stat file: %w", err)
	}

	if !opts.Overwrite {
		exists, err := bucket.Exists(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("publish: check %s: %w", key, err)
		}
		if exists {
			return nil, fmt.Errorf("%w: %s", ErrExists, key)
		}
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(key))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// Cancelling the writer's context before Close discards the object.
	writeCtx, cancelWrite := context.WithCancel(ctx)
	defer cancelWrite()

	w, err := bucket.NewWriter(writeCtx, key, &blob.WriterOptions{
		ContentType: contentType,
		Metadata:    opts.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("publish: create writer: %w", err)
	}

	written, err := io.Copy(w, f)
	if err != nil {
		cancelWrite()
		w.Close()
		return nil, fmt.Errorf("publish: write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("publish: close writer: %w", err)
	}

	attrs, err := bucket.Attributes(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("publish: read back %s: %w", key, err)
	}
	if written != info.Size() || attrs.Size != info.Size() {
		if err := bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			logger.Warn("failed to remove mismatched object", "key", key, "error", err)
		}
		return nil, fmt.Errorf("%w: %s: expected %d, stored %d", ErrSizeMismatch, key, info.Size(), attrs.Size)
	}

	span.SetAttributes(attribute.Int64("size", attrs.Size))
	logger.Info("published", "key", key, "size", attrs.Size)

	return &Result{Key: key, Size: attrs.Size}, nil
}
