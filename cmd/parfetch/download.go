package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ligustah/parfetch/internal/config"
	"github.com/ligustah/parfetch/internal/control"
	"github.com/ligustah/parfetch/internal/downloader"
	parhttp "github.com/ligustah/parfetch/internal/http"
	"github.com/ligustah/parfetch/internal/progress"
	"github.com/ligustah/parfetch/internal/publish"
	"github.com/ligustah/parfetch/pkg/chunked"
)

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// outputPath picks where to write: the configured path, a file named after
// the resource inside a configured directory, or the resource name in the
// working directory.
func outputPath(configured, filename string) string {
	if configured == "" {
		return filename
	}
	if strings.HasSuffix(configured, string(os.PathSeparator)) {
		return filepath.Join(configured, filename)
	}
	if info, err := os.Stat(configured); err == nil && info.IsDir() {
		return filepath.Join(configured, filename)
	}
	return configured
}

// progressSink builds the configured progress display. The returned stop
// function flushes it and is always non-nil.
func progressSink(cfg config.Config, res *parhttp.Resource, d func() *downloader.Downloader, w io.Writer) (downloader.ProgressSink, func()) {
	switch cfg.Progress {
	case config.ProgressText:
		r := progress.NewReporter(progress.Options{
			TotalSize:   res.Size,
			TotalChunks: chunked.NewLayout(res.Size, cfg.ChunkSize).NumChunks(),
			ChunkSize:   cfg.ChunkSize,
			Connections: func() int { return d().Connections() },
			Output:      w,
			SourceURL:   res.URL,
		})
		return r, r.Stop
	case config.ProgressBar:
		b := progress.NewBar(res.Size, res.Filename, w)
		return b, func() {}
	default:
		return nil, func() {}
	}
}

func runDownload(ctx context.Context, cfg config.Config, stdout, stderr io.Writer) error {
	logger := newLogger(stderr, cfg.LogLevel)

	client := parhttp.NewClient(parhttp.Options{
		MaxIdleConnsPerHost: max(cfg.Connections*2, 16),
		Timeout:             cfg.Timeout,
		RetryAttempts:       cfg.Retry.Attempts,
		RetryBackoff:        cfg.Retry.Backoff,
		RetryMaxBackoff:     cfg.Retry.MaxBackoff,
		Username:            cfg.Username,
		Password:            cfg.Password,
		Insecure:            cfg.Insecure,
		UserAgent:           cfg.UserAgent,
		RequestsPerSecond:   cfg.RequestsPerSecond,
		Logger:              logger,
	})

	res, err := client.Probe(ctx, cfg.URL)
	if err != nil {
		return fmt.Errorf("probe %s: %w", cfg.URL, err)
	}

	output := outputPath(cfg.Output, res.Filename)

	var d *downloader.Downloader
	sink, stopProgress := progressSink(cfg, res, func() *downloader.Downloader { return d }, stderr)

	d = downloader.New(client, res, output, downloader.Options{
		Connections: cfg.Connections,
		ChunkSize:   cfg.ChunkSize,
		BufferSize:  cfg.BufferSize,
		Progress:    sink,
		Logger:      logger,
	})

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	controlDone := make(chan error, 1)
	if cfg.ControlAddr != "" {
		l, err := net.Listen("tcp", cfg.ControlAddr)
		if err != nil {
			return &usageError{fmt.Errorf("control API: %w", err)}
		}
		srv := control.New(d, logger)
		go func() { controlDone <- srv.Serve(runCtx, l) }()
	} else {
		controlDone <- nil
	}

	if r, ok := sink.(*progress.Reporter); ok {
		r.Start()
	}
	err = d.Run(runCtx)
	if b, ok := sink.(*progress.Bar); ok && err == nil {
		b.Finish()
	}
	stopProgress()

	cancelRun()
	if cerr := <-controlDone; cerr != nil {
		logger.Warn("control API stopped with error", "error", cerr)
	}

	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "%s\n", output)

	if cfg.Publish.Bucket == "" {
		return nil
	}

	result, err := publish.Upload(ctx, cfg.Publish.Bucket, cfg.Publish.Key, output, publish.Options{
		Metadata: map[string]string{
			"source_url":  res.URL,
			"source_etag": res.ETag,
		},
		Logger: logger,
	})
	if err != nil {
		return &storageError{err}
	}
	logger.Info("published download", "key", result.Key, "size", result.Size)

	return nil
}
