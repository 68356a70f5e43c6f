// Package progress renders download progress.
//
// Reporter prints periodic status lines with an EWMA-smoothed transfer
// speed. Bar draws an interactive terminal bar. Both accept byte counts
// through BytesWritten and can be passed to the downloader as its progress
// sink.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalSize:   res.Size,
//	    TotalChunks: numChunks,
//	    Connections: d.Connections,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
// # Output Format
//
//	[parfetch] Downloading: https://example.com/file.tar.gz
//	[parfetch] Total size: 2.5 GiB | Chunks: 2560 x 1.0 MiB | Connections: 10
//	[parfetch] Progress: 45.2% | 1.1 GiB / 2.5 GiB | Speed: 48 MiB/s | ETA: 30s
//	[parfetch] Chunks: 1157 completed | 10 in-progress | 1393 pending | Connections: 10
package progress
