package progress

import (
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Bar is an interactive terminal progress bar sink.
type Bar struct {
	bar *progressbar.ProgressBar
}

// NewBar creates a byte progress bar for total bytes written to w
// (os.Stderr when nil).
func NewBar(total int64, description string, w io.Writer) *Bar {
	if w == nil {
		w = os.Stderr
	}

	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionOnCompletion(func() {
			io.WriteString(w, "\n")
		}),
	)

	return &Bar{bar: bar}
}

// BytesWritten advances the bar by n bytes.
func (b *Bar) BytesWritten(n int64) {
	b.bar.Add64(n)
}

// Finish completes the bar.
func (b *Bar) Finish() error {
	return b.bar.Finish()
}

// Current returns the number of bytes recorded so far.
func (b *Bar) Current() int64 {
	return b.bar.State().CurrentNum
}
