// Package http provides the HTTP client used for chunked range downloads.
//
// This package handles:
//   - Capability probes (HEAD) that resolve size, range support and filename
//   - Range requests for individual chunks
//   - Basic auth, sent up front on https and after a challenge on http
//   - Optional TLS verification bypass and request throttling
//   - Retry with exponential backoff for the probe only
//
// # Usage
//
//	client := http.NewClient(http.Options{
//	    Timeout:  30 * time.Second,
//	    Username: "user",
//	    Password: "secret",
//	})
//
//	// Resolve the resource
//	res, err := client.Probe(ctx, url)
//	// res.Size, res.Filename, res.AcceptsRanges
//
//	// Download a range
//	resp, err := client.GetRange(ctx, res.URL, startByte, endByte)
//	defer resp.Body.Close()
package http
