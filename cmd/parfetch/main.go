package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ligustah/parfetch/internal/downloader"
	parhttp "github.com/ligustah/parfetch/internal/http"
	"github.com/ligustah/parfetch/internal/publish"
)

// Exit codes
const (
	ExitSuccess           = 0
	ExitGeneralError      = 1
	ExitInvalidArgs       = 2
	ExitSourceNotAccess   = 3
	ExitRangeNotSupported = 4
	ExitStorageError      = 5
	ExitProtocolMismatch  = 6
	ExitInterrupted       = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and maps the outcome to an exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	code := exitCode(err)
	if code == ExitInterrupted {
		io.WriteString(stderr, "[parfetch] Interrupted, partial output left on disk\n")
	} else {
		io.WriteString(stderr, "Error: "+err.Error()+"\n")
	}
	return code
}

// usageError marks errors caused by bad flags, arguments or configuration.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// storageError marks failures to publish the finished file.
type storageError struct{ err error }

func (e *storageError) Error() string { return e.err.Error() }
func (e *storageError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var (
		usage   *usageError
		storage *storageError
		status  *parhttp.StatusError
	)

	switch {
	case errors.As(err, &usage):
		return ExitInvalidArgs
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, parhttp.ErrRangeNotSupported):
		return ExitRangeNotSupported
	case errors.Is(err, downloader.ErrProtocolMismatch):
		return ExitProtocolMismatch
	case errors.As(err, &storage), errors.Is(err, publish.ErrExists), errors.Is(err, publish.ErrSizeMismatch):
		return ExitStorageError
	case errors.Is(err, parhttp.ErrNotFound),
		errors.Is(err, parhttp.ErrForbidden),
		errors.Is(err, parhttp.ErrUnauthorized),
		errors.Is(err, parhttp.ErrCertificate),
		errors.Is(err, parhttp.ErrServerError),
		errors.As(err, &status):
		return ExitSourceNotAccess
	default:
		return ExitGeneralError
	}
}
