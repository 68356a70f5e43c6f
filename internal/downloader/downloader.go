package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	parhttp "github.com/ligustah/parfetch/internal/http"
	"github.com/ligustah/parfetch/pkg/chunked"
)

var tracer = otel.Tracer("github.com/ligustah/parfetch/internal/downloader")

// DefaultConnections is the configured connection count when none is set.
const DefaultConnections = 10

// Defaults applied by New for zero option values.
const (
	DefaultChunkSize    = 1 << 20
	DefaultBufferSize   = 4096
	DefaultPollInterval = 500 * time.Millisecond
)

// Options configures a Downloader.
type Options struct {
	// Connections is the initial number of concurrent range requests.
	// Values below 1, including zero, are clamped to 1. Callers wanting the
	// usual fan-out pass DefaultConnections.
	Connections int

	// ChunkSize is the size of each range request. Default: 1 MiB
	ChunkSize int64

	// BufferSize is the copy buffer used per worker. Default: 4096
	BufferSize int

	// PollInterval bounds how long the coordinator sleeps between passes
	// when no worker exits. Default: 500ms
	PollInterval time.Duration

	// Progress receives byte counts. It may also implement ChunkSink.
	Progress ProgressSink

	// Logger receives run diagnostics. Default: slog.Default()
	Logger *slog.Logger
}

// State is the lifecycle stage of a run.
type State int32

const (
	// StateIdle is a Downloader that has not been run.
	StateIdle State = iota
	// StateStarting covers creating the output file and the first workers.
	StateStarting
	// StateRunning means chunks remain to be claimed.
	StateRunning
	// StateDraining means every chunk is claimed and workers are finishing.
	StateDraining
	// StateCancelling means the run was cancelled or failed and workers
	// are being waited for.
	StateCancelling
	// StateDone is reached when Run returns.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateCancelling:
		return "cancelling"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Status is a point-in-time view of a run.
type Status struct {
	RunID         string `json:"run_id"`
	State         string `json:"state"`
	URL           string `json:"url"`
	Output        string `json:"output"`
	Size          int64  `json:"size"`
	Written       int64  `json:"written"`
	Target        int    `json:"target"`
	Active        int    `json:"active"`
	ChunksClaimed int    `json:"chunks_claimed"`
	ChunksTotal   int    `json:"chunks_total"`
}

// Downloader transfers one probed resource into one output file.
type Downloader struct {
	client RangeGetter
	res    *parhttp.Resource
	output string
	opts   Options
	runID  string
	logger *slog.Logger

	layout  chunked.Layout
	alloc   *chunked.Allocator
	pool    *pool
	state   atomic.Int32
	written atomic.Int64
	started atomic.Bool
}

// New prepares a download of res into output. Nothing touches the disk or
// the network until Run.
func New(client RangeGetter, res *parhttp.Resource, output string, opts Options) *Downloader {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Progress == nil {
		opts.Progress = nopSink{}
	}

	runID := ksuid.New().String()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run", runID)

	layout := chunked.NewLayout(res.Size, opts.ChunkSize)

	return &Downloader{
		client: client,
		res:    res,
		output: output,
		opts:   opts,
		runID:  runID,
		logger: logger,
		layout: layout,
		alloc:  chunked.NewAllocator(layout),
		pool:   newPool(opts.Connections, logger),
	}
}

// SetConnections changes the target number of concurrent connections and
// returns the value actually stored (at least 1). It is safe to call from
// any goroutine, before or during Run.
func (d *Downloader) SetConnections(n int) int {
	n = d.pool.setTarget(n)
	d.logger.Info("connection target changed", "target", n)
	return n
}

// Connections returns the current target number of connections.
func (d *Downloader) Connections() int {
	return d.pool.getTarget()
}

// RunID returns the identifier attached to this run's log records.
func (d *Downloader) RunID() string {
	return d.runID
}

// Status returns a snapshot of the run.
func (d *Downloader) Status() Status {
	return Status{
		RunID:         d.runID,
		State:         State(d.state.Load()).String(),
		URL:           d.res.URL,
		Output:        d.output,
		Size:          d.res.Size,
		Written:       d.written.Load(),
		Target:        d.pool.getTarget(),
		Active:        d.pool.size(),
		ChunksClaimed: d.alloc.Claimed(),
		ChunksTotal:   d.alloc.NumChunks(),
	}
}

func (d *Downloader) setState(s State) {
	if State(d.state.Swap(int32(s))) != s {
		d.logger.Debug("state changed", "state", s.String())
	}
}

// Run performs the transfer. It returns nil once every chunk has been
// written, the first worker error if one fails, or ctx.Err() if ctx is
// cancelled first.
func (d *Downloader) Run(ctx context.Context) (err error) {
	if !d.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, span := tracer.Start(ctx, "downloader.Run", trace.WithAttributes(
		attribute.String("url", d.res.URL),
		attribute.String("run", d.runID),
		attribute.Int64("size", d.res.Size),
		attribute.Int("chunks", d.layout.NumChunks()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	d.setState(StateStarting)
	defer d.setState(StateDone)

	file, err := chunked.Create(d.output, d.res.Size)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}

	d.logger.Info("download starting",
		"url", d.res.URL,
		"output", d.output,
		"size", d.res.Size,
		"chunks", d.layout.NumChunks(),
		"connections", d.Connections(),
	)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		failOnce sync.Once
		fatal    error
	)
	wake := make(chan struct{}, 1)

	j := &job{
		url:     d.res.URL,
		client:  d.client,
		file:    file,
		layout:  d.layout,
		alloc:   d.alloc,
		bufSize: d.opts.BufferSize,
		sink:    d.opts.Progress,
		chunks:  chunkSinkOf(d.opts.Progress),
		written: &d.written,
		logger:  d.logger,
		wake:    wake,
		fail: func(err error) {
			failOnce.Do(func() {
				fatal = err
				d.alloc.Stop()
				cancel(err)
			})
		},
	}

	d.pool.reconcile(runCtx, j)
	d.setState(StateRunning)

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		d.pool.reap()

		if runCtx.Err() != nil {
			break
		}

		if d.alloc.Exhausted() {
			if d.pool.size() == 0 {
				break
			}
			d.setState(StateDraining)
		}

		d.pool.reconcile(runCtx, j)

		select {
		case <-wake:
		case <-ticker.C:
		case <-runCtx.Done():
		}
	}

	if runCtx.Err() != nil {
		d.setState(StateCancelling)
		d.pool.wait()
	}

	closeErr := file.Close()

	switch {
	case fatal != nil:
		d.logger.Error("download failed", "error", fatal, "written", d.written.Load())
		return fatal
	case ctx.Err() != nil:
		d.logger.Warn("download cancelled", "written", d.written.Load())
		return ctx.Err()
	case closeErr != nil:
		return fmt.Errorf("close output: %w", closeErr)
	}

	d.logger.Info("download complete", "output", d.output, "size", d.res.Size)
	return nil
}

// Download probes url with client and downloads it. An empty output uses
// the filename resolved by the probe. The probe runs before the output file
// is created, so a resource that cannot be ranged leaves nothing on disk.
func Download(ctx context.Context, client *parhttp.Client, url, output string, opts Options) (*parhttp.Resource, error) {
	res, err := client.Probe(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}

	if output == "" {
		output = res.Filename
	}

	d := New(client, res, output, opts)
	if err := d.Run(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// IsFatal reports whether err came from the transfer itself rather than
// from the caller cancelling it.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
