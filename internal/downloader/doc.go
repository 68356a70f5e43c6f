// Package downloader runs a multi-connection range download of a single
// resource into a local file.
//
// A Downloader owns one run: it preallocates the output file, starts a pool
// of workers that claim chunks from a shared allocator, and reconciles the
// pool against a target connection count that can be changed while the
// transfer is running.
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//	res, err := client.Probe(ctx, url)
//	if err != nil {
//	    return err
//	}
//
//	d := downloader.New(client, res, res.Filename, downloader.Options{
//	    Connections: 10,
//	    ChunkSize:   1 << 20,
//	    Progress:    reporter,
//	})
//	go func() { d.SetConnections(4) }()
//	err = d.Run(ctx)
//
// # Failure model
//
// Range requests are not retried. The first worker error stops the
// allocator, cancels every other worker and is returned by Run. Cancelling
// the context passed to Run stops the transfer at the next buffer boundary
// and Run returns the context's error. In both cases the partially written
// output file is left on disk.
//
// # Resizing
//
// Growing the pool starts new workers on the next coordinator pass.
// Shrinking retires the most recently started workers; a retired worker
// finishes the chunk it is writing before it exits, so no claimed chunk is
// ever abandoned.
package downloader
