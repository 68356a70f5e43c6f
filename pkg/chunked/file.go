package chunked

import (
	"errors"
	"fmt"
	"os"
)

// ErrWindowOverflow is returned when a write would cross the end of a Window.
var ErrWindowOverflow = errors.New("chunked: write exceeds window")

// File is a preallocated output file that is filled through Windows.
type File struct {
	f    *os.File
	path string
	size int64
}

// Create creates or truncates the file at path and sizes it to exactly size
// bytes. On most filesystems the result is sparse until written.
func Create(path string, size int64) (*File, error) {
	if size < 0 {
		return nil, fmt.Errorf("chunked: negative size %d", size)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("chunked: open output: %w", err)
	}

	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("chunked: preallocate %d bytes: %w", size, err)
	}

	return &File{f: f, path: path, size: size}, nil
}

// Path returns the file path.
func (f *File) Path() string {
	return f.path
}

// Size returns the preallocated size.
func (f *File) Size() int64 {
	return f.size
}

// Window returns a writer for the byte range [offset, offset+length).
func (f *File) Window(offset, length int64) (*Window, error) {
	if offset < 0 || length < 0 || offset+length > f.size {
		return nil, fmt.Errorf("chunked: window [%d, %d) outside file of %d bytes", offset, offset+length, f.size)
	}
	return &Window{f: f.f, offset: offset, length: length}, nil
}

// Close flushes the file to disk and closes it.
func (f *File) Close() error {
	if err := f.f.Sync(); err != nil {
		f.f.Close()
		return fmt.Errorf("chunked: sync output: %w", err)
	}
	return f.f.Close()
}

// Window is a sequential writer over one byte range of a File.
type Window struct {
	f       *os.File
	offset  int64
	length  int64
	written int64
}

// Offset returns the start of the window in the file.
func (w *Window) Offset() int64 {
	return w.offset
}

// Length returns the size of the window.
func (w *Window) Length() int64 {
	return w.length
}

// Written returns the number of bytes written so far.
func (w *Window) Written() int64 {
	return w.written
}

// Remaining returns how many bytes are still expected.
func (w *Window) Remaining() int64 {
	return w.length - w.written
}

// Write writes p at the current position of the window. Writes that would
// cross the end of the window fail with ErrWindowOverflow and write nothing.
func (w *Window) Write(p []byte) (int, error) {
	if int64(len(p)) > w.Remaining() {
		return 0, fmt.Errorf("%w: %d bytes with %d remaining", ErrWindowOverflow, len(p), w.Remaining())
	}

	n, err := w.f.WriteAt(p, w.offset+w.written)
	w.written += int64(n)
	return n, err
}
