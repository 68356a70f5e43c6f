// Package chunked partitions a remote resource into fixed-size chunks and
// writes them into a preallocated local file.
//
// Three types cooperate:
//
//   - [Layout] maps a chunk index to its byte range.
//   - [Allocator] hands out chunk indexes, each exactly once, in increasing order.
//   - [File] is the preallocated output; [File.Window] returns a [Window] that
//     accepts sequential writes inside one chunk's byte range.
//
// # Usage
//
//	layout := chunked.NewLayout(size, 1<<20)
//	alloc := chunked.NewAllocator(layout)
//
//	f, err := chunked.Create("out.bin", size)
//	defer f.Close()
//
//	for {
//	    idx, err := alloc.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    offset, length := layout.Bounds(idx)
//	    w, err := f.Window(offset, length)
//	    // copy length bytes into w
//	}
//
// # Concurrency
//
// [Allocator.Next] is safe for concurrent use and is the only shared mutable
// state on the claim path. Windows returned for distinct chunks never overlap,
// so writers need no coordination with each other. A single Window must not be
// written from more than one goroutine.
package chunked
