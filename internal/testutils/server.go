// Package testutils provides shared test infrastructure: an in-process
// origin that serves byte ranges with configurable misbehaviour, and
// (under the integration tag) a MinIO container for publish tests.
package testutils

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ServerOptions controls how a RangeServer behaves.
type ServerOptions struct {
	// NoRanges makes the server omit Accept-Ranges and ignore Range headers.
	NoRanges bool

	// Username and Password require basic auth. Unauthenticated requests
	// get a 401 with a WWW-Authenticate challenge.
	Username string
	Password string

	// ContentDisposition is sent on HEAD responses when set.
	ContentDisposition string

	// Delay is slept before each range response is written.
	Delay time.Duration

	// ShortAt lists range start offsets answered with one byte less than
	// requested, with a matching Content-Length.
	ShortAt []int64

	// Status, when non-zero, is returned for every GET.
	Status int

	// IgnoreRange keeps advertising Accept-Ranges but answers every GET
	// with 200 and the whole payload.
	IgnoreRange bool
}

// RangeServer serves a fixed payload with byte range support.
type RangeServer struct {
	*httptest.Server

	Data []byte
	opts ServerOptions

	heads   atomic.Int64
	gets    atomic.Int64
	active  atomic.Int32
	peak    atomic.Int32
	authMu  sync.Mutex
	authed  []bool
	rangeMu sync.Mutex
	ranges  []string
}

// GenerateTestData returns size bytes of a deterministic pattern.
func GenerateTestData(t testing.TB, size int64) []byte {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte((i*7 + i/251) % 256)
	}
	return data
}

// NewRangeServer starts a plain http server for data and registers its
// shutdown with t.Cleanup.
func NewRangeServer(t testing.TB, data []byte, opts ServerOptions) *RangeServer {
	t.Helper()
	s := &RangeServer{Data: data, opts: opts}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// NewTLSRangeServer is like NewRangeServer but serves https with a
// self-signed certificate.
func NewTLSRangeServer(t testing.TB, data []byte, opts ServerOptions) *RangeServer {
	t.Helper()
	s := &RangeServer{Data: data, opts: opts}
	s.Server = httptest.NewTLSServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Heads returns the number of HEAD requests served.
func (s *RangeServer) Heads() int64 { return s.heads.Load() }

// Gets returns the number of GET requests served.
func (s *RangeServer) Gets() int64 { return s.gets.Load() }

// Peak returns the highest number of concurrent GETs observed.
func (s *RangeServer) Peak() int32 { return s.peak.Load() }

// Active returns the number of GETs in flight.
func (s *RangeServer) Active() int32 { return s.active.Load() }

// ResetPeak sets the observed peak back to the current in-flight count.
func (s *RangeServer) ResetPeak() { s.peak.Store(s.active.Load()) }

// Ranges returns the Range headers received, in arrival order.
func (s *RangeServer) Ranges() []string {
	s.rangeMu.Lock()
	defer s.rangeMu.Unlock()
	return append([]string(nil), s.ranges...)
}

// AuthHistory reports, per request, whether it carried credentials.
func (s *RangeServer) AuthHistory() []bool {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	return append([]bool(nil), s.authed...)
}

func (s *RangeServer) serve(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	s.authMu.Lock()
	s.authed = append(s.authed, ok)
	s.authMu.Unlock()

	if s.opts.Username != "" && (!ok || user != s.opts.Username || pass != s.opts.Password) {
		w.Header().Set("WWW-Authenticate", `Basic realm="test"`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	size := int64(len(s.Data))

	if r.Method == http.MethodHead {
		s.heads.Add(1)
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		if !s.opts.NoRanges {
			w.Header().Set("Accept-Ranges", "bytes")
		}
		if s.opts.ContentDisposition != "" {
			w.Header().Set("Content-Disposition", s.opts.ContentDisposition)
		}
		w.Header().Set("ETag", `"payload"`)
		return
	}

	s.gets.Add(1)
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if s.opts.Delay > 0 {
		select {
		case <-time.After(s.opts.Delay):
		case <-r.Context().Done():
			return
		}
	}

	if s.opts.Status != 0 {
		w.WriteHeader(s.opts.Status)
		return
	}

	rangeHeader := r.Header.Get("Range")
	s.rangeMu.Lock()
	s.ranges = append(s.ranges, rangeHeader)
	s.rangeMu.Unlock()

	if rangeHeader == "" || s.opts.NoRanges || s.opts.IgnoreRange {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Write(s.Data)
		return
	}

	start, end, err := parseRange(rangeHeader, size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	for _, off := range s.opts.ShortAt {
		if off == start && end > start {
			end--
		}
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.Header().Set("ETag", `"payload"`)
	w.WriteHeader(http.StatusPartialContent)
	w.Write(s.Data[start : end+1])
}

func parseRange(header string, size int64) (start, end int64, err error) {
	rest, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, fmt.Errorf("bad unit")
	}
	first, last, ok := strings.Cut(rest, "-")
	if !ok {
		return 0, 0, fmt.Errorf("bad range")
	}
	if start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return 0, 0, err
	}
	if end, err = strconv.ParseInt(last, 10, 64); err != nil {
		return 0, 0, err
	}
	if start >= size || end < start {
		return 0, 0, fmt.Errorf("unsatisfiable")
	}
	if end >= size {
		end = size - 1
	}
	return start, end, nil
}

// CompareReaderToData compares reader output with expected data without
// buffering the whole stream.
func CompareReaderToData(t testing.TB, reader io.Reader, expected []byte) {
	t.Helper()

	buf := make([]byte, 64*1024)
	offset := 0

	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if offset+n > len(expected) {
				t.Fatalf("read more data than expected: offset=%d, n=%d, expected len=%d", offset, n, len(expected))
			}
			if !bytes.Equal(buf[:n], expected[offset:offset+n]) {
				t.Fatalf("data mismatch at offset %d", offset)
			}
			offset += n
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read error at offset %d: %v", offset, err)
		}
	}

	if offset != len(expected) {
		t.Fatalf("incomplete read: got %d bytes, want %d", offset, len(expected))
	}
}
