package downloader

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolMismatch is returned when a range response does not carry
	// exactly the bytes that were requested.
	ErrProtocolMismatch = errors.New("downloader: range response does not match request")

	// ErrAlreadyStarted is returned by Run when called a second time.
	ErrAlreadyStarted = errors.New("downloader: run already started")
)

// ProtocolMismatchError reports a chunk whose response length differed from
// the requested range length.
//
// Use errors.Is(err, ErrProtocolMismatch) to detect it.
type ProtocolMismatchError struct {
	Chunk int   // Chunk index
	Want  int64 // Requested length
	Got   int64 // Length announced or delivered by the server
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf("downloader: chunk %d: expected %d bytes, server sent %d", e.Chunk, e.Want, e.Got)
}

func (e *ProtocolMismatchError) Unwrap() error {
	return ErrProtocolMismatch
}
