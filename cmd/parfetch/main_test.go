package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ligustah/parfetch/internal/downloader"
	parhttp "github.com/ligustah/parfetch/internal/http"
	"github.com/ligustah/parfetch/internal/publish"
	"github.com/ligustah/parfetch/internal/testutils"
)

func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestCLIDownload(t *testing.T) {
	data := testutils.GenerateTestData(t, 300_000)
	server := testutils.NewRangeServer(t, data, testutils.ServerOptions{})

	out := filepath.Join(t.TempDir(), "file.bin")
	code, stdout, stderr := runCLI(t,
		server.URL+"/file.bin",
		"-o", out,
		"-n", "4",
		"--chunk-size", "32KiB",
		"--progress", "none",
		"--log-level", "error",
	)
	if code != ExitSuccess {
		t.Fatalf("exit code %d, stderr:\n%s", code, stderr)
	}
	if strings.TrimSpace(stdout) != out {
		t.Errorf("expected output path on stdout, got %q", stdout)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("downloaded data mismatch")
	}
	if server.Peak() > 4 {
		t.Errorf("expected at most 4 connections, saw %d", server.Peak())
	}
}

func TestCLIDownloadIntoDirectory(t *testing.T) {
	data := testutils.GenerateTestData(t, 5000)
	server := testutils.NewRangeServer(t, data, testutils.ServerOptions{})

	dir := t.TempDir()
	code, _, stderr := runCLI(t, server.URL+"/releases/app.tgz", "-o", dir, "--progress", "text", "--log-level", "error")
	if code != ExitSuccess {
		t.Fatalf("exit code %d, stderr:\n%s", code, stderr)
	}

	got, err := os.ReadFile(filepath.Join(dir, "app.tgz"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("downloaded data mismatch")
	}
	if !strings.Contains(stderr, "[parfetch] Downloading:") {
		t.Errorf("expected text progress on stderr, got:\n%s", stderr)
	}
}

func TestCLIPublish(t *testing.T) {
	data := testutils.GenerateTestData(t, 20_000)
	server := testutils.NewRangeServer(t, data, testutils.ServerOptions{})

	bucketDir := t.TempDir()
	out := filepath.Join(t.TempDir(), "f.bin")
	code, _, stderr := runCLI(t,
		server.URL+"/f.bin",
		"-o", out,
		"--progress", "none",
		"--publish-bucket", "file://"+filepath.ToSlash(bucketDir),
		"--publish-key", "mirror/f.bin",
	)
	if code != ExitSuccess {
		t.Fatalf("exit code %d, stderr:\n%s", code, stderr)
	}

	got, err := os.ReadFile(filepath.Join(bucketDir, "mirror", "f.bin"))
	if err != nil {
		t.Fatalf("read published object: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("published data mismatch")
	}
}

func TestCLIEnvironmentConfig(t *testing.T) {
	data := testutils.GenerateTestData(t, 8000)
	server := testutils.NewRangeServer(t, data, testutils.ServerOptions{Username: "bob", Password: "pw"})

	out := filepath.Join(t.TempDir(), "out")
	t.Setenv("PARFETCH_URL", server.URL+"/secret")
	t.Setenv("PARFETCH_USERNAME", "bob")
	t.Setenv("PARFETCH_PASSWORD", "pw")
	t.Setenv("PARFETCH_PROGRESS", "none")

	code, _, stderr := runCLI(t, "-o", out)
	if code != ExitSuccess {
		t.Fatalf("exit code %d, stderr:\n%s", code, stderr)
	}
	got, _ := os.ReadFile(out)
	if !bytes.Equal(got, data) {
		t.Fatal("downloaded data mismatch")
	}
}

func TestCLIConfigFile(t *testing.T) {
	data := testutils.GenerateTestData(t, 8000)
	server := testutils.NewRangeServer(t, data, testutils.ServerOptions{})

	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	cfgPath := filepath.Join(dir, "parfetch.yaml")
	yaml := fmt.Sprintf("url: %s/cfg\noutput: %s\nconnections: 2\nchunk_size: 1KiB\nprogress: none\n", server.URL, out)
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	code, _, stderr := runCLI(t, "--config", cfgPath)
	if code != ExitSuccess {
		t.Fatalf("exit code %d, stderr:\n%s", code, stderr)
	}
	if got := server.Gets(); got != 8 {
		t.Errorf("expected 8 range requests for 1KiB chunks, got %d", got)
	}
	if server.Peak() > 2 {
		t.Errorf("expected at most 2 connections, saw %d", server.Peak())
	}
}

func TestCLIZeroConnectionsFromEnv(t *testing.T) {
	data := testutils.GenerateTestData(t, 50_000)
	server := testutils.NewRangeServer(t, data, testutils.ServerOptions{})

	out := filepath.Join(t.TempDir(), "out")
	t.Setenv("PARFETCH_CONNECTIONS", "0")

	code, _, stderr := runCLI(t, server.URL+"/f", "-o", out, "--chunk-size", "4KiB", "--progress", "none")
	if code != ExitSuccess {
		t.Fatalf("exit code %d, stderr:\n%s", code, stderr)
	}
	if server.Peak() != 1 {
		t.Errorf("expected a single connection, saw peak %d", server.Peak())
	}
	got, _ := os.ReadFile(out)
	if !bytes.Equal(got, data) {
		t.Fatal("downloaded data mismatch")
	}
}

func TestCLIRetryAttemptsZero(t *testing.T) {
	var heads atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		heads.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	out := filepath.Join(t.TempDir(), "out")
	code, _, stderr := runCLI(t, server.URL+"/f", "-o", out, "--progress", "none", "--retry-attempts", "0")
	if code != ExitSourceNotAccess {
		t.Errorf("exit code = %d, want %d; stderr:\n%s", code, ExitSourceNotAccess, stderr)
	}
	if got := heads.Load(); got != 1 {
		t.Errorf("expected exactly one probe request with retries disabled, got %d", got)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("expected no output file after a failed probe, got %v", err)
	}
}

func TestCLIExitCodes(t *testing.T) {
	noRanges := testutils.NewRangeServer(t, []byte("x"), testutils.ServerOptions{NoRanges: true})
	authed := testutils.NewRangeServer(t, []byte("x"), testutils.ServerOptions{Username: "u", Password: "p"})
	short := testutils.NewRangeServer(t, testutils.GenerateTestData(t, 4096), testutils.ServerOptions{ShortAt: []int64{0}})
	whole := testutils.NewRangeServer(t, testutils.GenerateTestData(t, 4096), testutils.ServerOptions{IgnoreRange: true})

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"no url", []string{"--progress", "none"}, ExitInvalidArgs},
		{"too many args", []string{"http://a/x", "http://b/y"}, ExitInvalidArgs},
		{"unknown flag", []string{"--bogus", "http://a/x"}, ExitInvalidArgs},
		{"bad chunk size", []string{"--chunk-size", "huge", "http://a/x"}, ExitInvalidArgs},
		{"bad progress mode", []string{"--progress", "fancy", "http://a/x"}, ExitInvalidArgs},
		{"non-http url", []string{"ftp://a/x"}, ExitInvalidArgs},
		{"range not supported", []string{noRanges.URL + "/f"}, ExitRangeNotSupported},
		{"unauthorized", []string{authed.URL + "/f"}, ExitSourceNotAccess},
		{"length mismatch", []string{short.URL + "/f"}, ExitProtocolMismatch},
		{"range ignored on get", []string{"--chunk-size", "1KiB", whole.URL + "/f"}, ExitProtocolMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "out")
			args := append([]string{"-o", out, "--progress", "none", "--log-level", "error"}, tt.args...)

			code, _, stderr := runCLI(t, args...)
			if code != tt.want {
				t.Errorf("exit code = %d, want %d; stderr:\n%s", code, tt.want, stderr)
			}
			if !strings.Contains(stderr, "Error:") {
				t.Errorf("expected an error message on stderr, got:\n%s", stderr)
			}
		})
	}
}

func TestExitCodeMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{context.Canceled, ExitInterrupted},
		{fmt.Errorf("probe: %w", parhttp.ErrNotFound), ExitSourceNotAccess},
		{fmt.Errorf("probe: %w", parhttp.ErrCertificate), ExitSourceNotAccess},
		{&parhttp.StatusError{StatusCode: 418}, ExitSourceNotAccess},
		{&downloader.ProtocolMismatchError{Chunk: 1}, ExitProtocolMismatch},
		{&storageError{errors.New("bucket gone")}, ExitStorageError},
		{fmt.Errorf("wrapped: %w", publish.ErrExists), ExitStorageError},
		{&usageError{errors.New("bad flag")}, ExitInvalidArgs},
		{errors.New("disk full"), ExitGeneralError},
	}

	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestCLICancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out, errOut bytes.Buffer
	code := run(ctx, []string{"--progress", "none", "http://127.0.0.1:1/f"}, &out, &errOut)
	if code != ExitInterrupted {
		t.Errorf("exit code = %d, want %d; stderr:\n%s", code, ExitInterrupted, errOut.String())
	}
}
