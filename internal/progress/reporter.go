package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VividCortex/ewma"
)

// Options configures the progress reporter.
type Options struct {
	// TotalSize is the total size in bytes to download.
	TotalSize int64

	// TotalChunks is the total number of chunks.
	TotalChunks int

	// ChunkSize is the size of each chunk (for display).
	ChunkSize int64

	// Connections returns the current connection target (for display).
	// It is polled on every update so live changes show up.
	Connections func() int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration

	// SourceURL is the URL being downloaded (for display).
	SourceURL string
}

// Reporter prints periodic progress lines. It implements the downloader's
// progress and chunk sinks.
type Reporter struct {
	opts Options

	completedBytes  atomic.Int64
	completedChunks atomic.Int32
	failedChunks    atomic.Int32
	inProgress      atomic.Int32

	// Only touched by the update goroutine.
	speed      ewma.MovingAverage
	startTime  time.Time
	lastUpdate time.Time
	lastBytes  int64

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		speed:  ewma.NewMovingAverage(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start prints the header and begins periodic updates.
func (r *Reporter) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	r.startTime = time.Now()
	r.lastUpdate = r.startTime

	fmt.Fprintf(r.opts.Output, "[parfetch] Downloading: %s\n", r.opts.SourceURL)
	fmt.Fprintf(r.opts.Output, "[parfetch] Total size: %s | Chunks: %d x %s | Connections: %d\n",
		FormatBytes(r.opts.TotalSize),
		r.opts.TotalChunks,
		FormatBytes(r.opts.ChunkSize),
		r.connections(),
	)

	go r.updateLoop()
}

// Stop prints the final status and waits for the update loop to exit.
// Calling Stop more than once, or without Start, is safe.
func (r *Reporter) Stop() {
	if !r.started.Load() {
		return
	}
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

// BytesWritten records n bytes written to the output.
func (r *Reporter) BytesWritten(n int64) {
	r.completedBytes.Add(n)
}

// ChunkStarted marks a chunk as in progress.
func (r *Reporter) ChunkStarted() {
	r.inProgress.Add(1)
}

// ChunkCompleted marks a chunk as completed. Bytes are counted by
// BytesWritten as they arrive, not here.
func (r *Reporter) ChunkCompleted(int64) {
	r.completedChunks.Add(1)
	r.inProgress.Add(-1)
}

// ChunkFailed marks a chunk as failed (removes from in-progress).
func (r *Reporter) ChunkFailed() {
	r.failedChunks.Add(1)
	r.inProgress.Add(-1)
}

func (r *Reporter) connections() int {
	if r.opts.Connections == nil {
		return 0
	}
	return r.opts.Connections()
}

func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// sample folds the bytes written since the last update into the moving
// average and returns the smoothed speed in bytes per second.
func (r *Reporter) sample(now time.Time, completed int64) float64 {
	elapsed := max(now.Sub(r.lastUpdate).Seconds(), 0.1)
	r.speed.Add(float64(completed-r.lastBytes) / elapsed)
	r.lastUpdate = now
	r.lastBytes = completed
	return r.speed.Value()
}

func (r *Reporter) printProgress() {
	completed := r.completedBytes.Load()
	completedChunks := int(r.completedChunks.Load())
	inProgress := int(r.inProgress.Load())
	speed := r.sample(time.Now(), completed)

	var percent float64
	eta := "calculating..."
	if r.opts.TotalSize > 0 {
		percent = float64(completed) / float64(r.opts.TotalSize) * 100
		if speed > 0 {
			remaining := float64(r.opts.TotalSize - completed)
			eta = formatDuration(time.Duration(remaining / speed * float64(time.Second)))
		}
	}

	pending := max(r.opts.TotalChunks-completedChunks-inProgress, 0)

	fmt.Fprintf(r.opts.Output, "\r[parfetch] Progress: %.1f%% | %s / %s | Speed: %s/s | ETA: %s    ",
		percent,
		FormatBytes(completed),
		FormatBytes(r.opts.TotalSize),
		FormatBytes(int64(speed)),
		eta,
	)
	fmt.Fprintf(r.opts.Output, "\n[parfetch] Chunks: %d completed | %d in-progress | %d pending | Connections: %d    \033[A",
		completedChunks,
		inProgress,
		pending,
		r.connections(),
	)
}

func (r *Reporter) printFinalStatus() {
	completed := r.completedBytes.Load()
	duration := time.Since(r.startTime)
	avgSpeed := float64(completed) / max(duration.Seconds(), 0.001)

	status := "Complete!"
	if completed < r.opts.TotalSize || r.failedChunks.Load() > 0 {
		status = "Stopped"
	}

	var percent float64 = 100
	if r.opts.TotalSize > 0 {
		percent = float64(completed) / float64(r.opts.TotalSize) * 100
	}

	fmt.Fprintf(r.opts.Output, "\r[parfetch] Progress: %.1f%% | %s / %s | %s    \n",
		percent,
		FormatBytes(completed),
		FormatBytes(r.opts.TotalSize),
		status,
	)
	fmt.Fprintf(r.opts.Output, "[parfetch] Chunks: %d completed | %d failed    \n",
		r.completedChunks.Load(),
		r.failedChunks.Load(),
	)
	fmt.Fprintf(r.opts.Output, "[parfetch] Total time: %s | Average speed: %s/s\n",
		formatDuration(duration),
		FormatBytes(int64(avgSpeed)),
	)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
