package chunked

// Layout describes how a resource of Size bytes is split into chunks of
// ChunkSize bytes. The last chunk may be shorter.
type Layout struct {
	Size      int64
	ChunkSize int64
}

// NewLayout returns a Layout for size bytes split into chunkSize chunks.
// A non-positive chunkSize is treated as 1.
func NewLayout(size, chunkSize int64) Layout {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	if size < 0 {
		size = 0
	}
	return Layout{Size: size, ChunkSize: chunkSize}
}

// NumChunks returns ceil(Size / ChunkSize).
func (l Layout) NumChunks() int {
	return int((l.Size + l.ChunkSize - 1) / l.ChunkSize)
}

// Bounds returns the offset and length of chunk idx.
func (l Layout) Bounds(idx int) (offset, length int64) {
	offset = int64(idx) * l.ChunkSize
	length = min(l.ChunkSize, l.Size-offset)
	return offset, length
}
