package downloader

// ProgressSink receives byte counts as workers write them. BytesWritten is
// called concurrently from every worker and must not block.
type ProgressSink interface {
	BytesWritten(n int64)
}

// ChunkSink is implemented by progress sinks that also want per-chunk
// events. It is detected on the configured ProgressSink.
type ChunkSink interface {
	ChunkStarted()
	ChunkCompleted(size int64)
	ChunkFailed()
}

type nopSink struct{}

func (nopSink) BytesWritten(int64)   {}
func (nopSink) ChunkStarted()        {}
func (nopSink) ChunkCompleted(int64) {}
func (nopSink) ChunkFailed()         {}

func chunkSinkOf(s ProgressSink) ChunkSink {
	if cs, ok := s.(ChunkSink); ok {
		return cs
	}
	return nopSink{}
}
