package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	parhttp "github.com/ligustah/parfetch/internal/http"
	"github.com/ligustah/parfetch/pkg/chunked"
)

// RangeGetter issues ranged GET requests. *http.Client implements it.
type RangeGetter interface {
	GetRange(ctx context.Context, url string, startByte, endByte int64) (*parhttp.RangeResponse, error)
}

// job is what every worker of a run shares.
type job struct {
	url     string
	client  RangeGetter
	file    *chunked.File
	layout  chunked.Layout
	alloc   *chunked.Allocator
	bufSize int
	sink    ProgressSink
	chunks  ChunkSink
	written *atomic.Int64
	logger  *slog.Logger

	// fail reports a fatal error. Only the first call has any effect.
	fail func(error)
	// wake is signalled without blocking when a worker exits.
	wake chan<- struct{}
}

// worker claims and downloads chunks until the allocator runs dry, the run
// is cancelled or the worker is retired.
type worker struct {
	id     int
	job    *job
	retire chan struct{}
	done   chan struct{}
}

func newWorker(id int, j *job) *worker {
	return &worker{
		id:     id,
		job:    j,
		retire: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// finished reports whether the worker goroutine has returned.
func (w *worker) finished() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *worker) run(ctx context.Context) {
	defer func() {
		close(w.done)
		select {
		case w.job.wake <- struct{}{}:
		default:
		}
	}()

	logger := w.job.logger.With("worker", w.id)
	buf := make([]byte, w.job.bufSize)

	for {
		select {
		case <-w.retire:
			logger.Debug("worker retired")
			return
		case <-ctx.Done():
			return
		default:
		}

		idx, err := w.job.alloc.Next()
		if err == io.EOF || errors.Is(err, chunked.ErrAllocatorStopped) {
			return
		}
		if err != nil {
			w.job.fail(err)
			return
		}

		if err := w.fetch(ctx, idx, buf); err != nil {
			if ctx.Err() != nil {
				// Cancelled mid-chunk: not this worker's failure to report.
				return
			}
			logger.Error("chunk failed", "chunk", idx, "error", err)
			w.job.fail(err)
			return
		}
	}
}

// fetch downloads chunk idx into its window of the output file.
func (w *worker) fetch(ctx context.Context, idx int, buf []byte) error {
	j := w.job
	offset, length := j.layout.Bounds(idx)

	j.chunks.ChunkStarted()

	resp, err := j.client.GetRange(ctx, j.url, offset, offset+length-1)
	if err != nil {
		j.chunks.ChunkFailed()
		return fmt.Errorf("download chunk %d: %w", idx, err)
	}
	defer resp.Body.Close()

	if resp.ContentLength != length {
		j.chunks.ChunkFailed()
		return &ProtocolMismatchError{Chunk: idx, Want: length, Got: resp.ContentLength}
	}
	if resp.Start != offset {
		j.chunks.ChunkFailed()
		return fmt.Errorf("%w: chunk %d starts at byte %d, server sent %d", ErrProtocolMismatch, idx, offset, resp.Start)
	}

	win, err := j.file.Window(offset, length)
	if err != nil {
		j.chunks.ChunkFailed()
		return fmt.Errorf("chunk %d: %w", idx, err)
	}

	for win.Remaining() > 0 {
		if err := ctx.Err(); err != nil {
			j.chunks.ChunkFailed()
			return err
		}

		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := win.Write(buf[:n]); err != nil {
				j.chunks.ChunkFailed()
				return fmt.Errorf("write chunk %d: %w", idx, err)
			}
			j.written.Add(int64(n))
			j.sink.BytesWritten(int64(n))
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			j.chunks.ChunkFailed()
			return fmt.Errorf("read chunk %d: %w", idx, rerr)
		}
	}

	if win.Remaining() != 0 {
		j.chunks.ChunkFailed()
		return &ProtocolMismatchError{Chunk: idx, Want: length, Got: win.Written()}
	}

	j.chunks.ChunkCompleted(length)
	j.logger.Debug("chunk done", "worker", w.id, "chunk", idx, "offset", offset, "length", length)
	return nil
}
