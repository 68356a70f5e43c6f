package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ligustah/parfetch/internal/config"
	"github.com/ligustah/parfetch/internal/progress"
)

// flagValues holds raw flag values. Only flags the user set override the
// config file and environment.
type flagValues struct {
	configFile    string
	output        string
	connections   int
	chunkSize     string
	bufferSize    string
	user          string
	password      string
	insecure      bool
	userAgent     string
	timeout       time.Duration
	rps           int
	progress      string
	logLevel      string
	controlAddr   string
	publishBucket string
	publishKey    string
	retryAttempts int
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var fv flagValues

	cmd := &cobra.Command{
		Use:   "parfetch [flags] URL",
		Short: "Download a file over HTTP using many concurrent range requests",
		Long: `parfetch downloads a single HTTP(S) resource by splitting it into chunks and
fetching them over several connections at once, writing each chunk straight
into its place in a preallocated output file.

The number of connections can be changed while the download runs through the
control API (--control-addr):

  curl -X PUT localhost:7070/connections -d '{"connections": 4}'

Configuration is read from --config, then PARFETCH_* environment variables,
then flags.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 {
				return &usageError{fmt.Errorf("expected at most one URL, got %d arguments", len(args))}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := fv.resolve(cmd, args)
			if err != nil {
				return err
			}
			return runDownload(cmd.Context(), cfg, stdout, stderr)
		},
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err}
	})

	def := config.Default()
	f := cmd.Flags()
	f.StringVar(&fv.configFile, "config", "", "YAML configuration file")
	f.StringVarP(&fv.output, "output", "o", "", "Output file or directory (default: name from the server)")
	f.IntVarP(&fv.connections, "connections", "n", def.Connections, "Number of concurrent connections (minimum 1)")
	f.StringVar(&fv.chunkSize, "chunk-size", progress.FormatBytes(def.ChunkSize), "Size of each range request")
	f.StringVar(&fv.bufferSize, "buffer-size", progress.FormatBytes(int64(def.BufferSize)), "Copy buffer size per connection")
	f.StringVarP(&fv.user, "user", "u", "", "Username for basic auth")
	f.StringVar(&fv.password, "password", "", "Password for basic auth (or PARFETCH_PASSWORD)")
	f.BoolVarP(&fv.insecure, "insecure", "k", false, "Skip TLS certificate verification")
	f.StringVar(&fv.userAgent, "user-agent", "", "User-Agent header to send")
	f.DurationVar(&fv.timeout, "timeout", def.Timeout, "Connect and response header timeout")
	f.IntVar(&fv.rps, "rps", 0, "Limit requests per second (0 = unlimited)")
	f.StringVar(&fv.progress, "progress", def.Progress, "Progress display: bar, text or none")
	f.StringVar(&fv.logLevel, "log-level", def.LogLevel, "Log level: debug, info, warn or error")
	f.StringVar(&fv.controlAddr, "control-addr", "", "Serve the control API on this address, e.g. 127.0.0.1:7070")
	f.StringVar(&fv.publishBucket, "publish-bucket", "", "Upload the finished file to this bucket URL (s3://, gs://, file://)")
	f.StringVar(&fv.publishKey, "publish-key", "", "Object key for --publish-bucket (default: output file name)")
	f.IntVar(&fv.retryAttempts, "retry-attempts", def.Retry.Attempts, "Probe retry attempts")

	return cmd
}

// resolve layers defaults, the config file, the environment and explicitly
// set flags, then validates the result.
func (fv *flagValues) resolve(cmd *cobra.Command, args []string) (config.Config, error) {
	cfg := config.Default()
	if fv.configFile != "" {
		loaded, err := config.LoadFromFile(fv.configFile)
		if err != nil {
			return config.Config{}, &usageError{err}
		}
		cfg = loaded
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, &usageError{err}
	}

	changed := cmd.Flags().Changed

	var o config.Config
	if len(args) == 1 {
		o.URL = args[0]
	}
	if changed("output") {
		o.Output = fv.output
	}
	if changed("chunk-size") {
		n, err := progress.ParseBytes(fv.chunkSize)
		if err != nil {
			return config.Config{}, &usageError{fmt.Errorf("--chunk-size: %w", err)}
		}
		o.ChunkSize = n
	}
	if changed("buffer-size") {
		n, err := progress.ParseBytes(fv.bufferSize)
		if err != nil {
			return config.Config{}, &usageError{fmt.Errorf("--buffer-size: %w", err)}
		}
		o.BufferSize = int(n)
	}
	if changed("user") {
		o.Username = fv.user
	}
	if changed("password") {
		o.Password = fv.password
	}
	if changed("user-agent") {
		o.UserAgent = fv.userAgent
	}
	if changed("timeout") {
		o.Timeout = fv.timeout
	}
	if changed("rps") {
		o.RequestsPerSecond = fv.rps
	}
	if changed("progress") {
		o.Progress = fv.progress
	}
	if changed("log-level") {
		o.LogLevel = fv.logLevel
	}
	if changed("control-addr") {
		o.ControlAddr = fv.controlAddr
	}
	if changed("publish-bucket") {
		o.Publish.Bucket = fv.publishBucket
	}
	if changed("publish-key") {
		o.Publish.Key = fv.publishKey
	}
	cfg = cfg.Merge(o)

	// Zero and false are meaningful here, so they bypass Merge.
	if changed("connections") {
		cfg.Connections = max(fv.connections, 1)
	}
	if changed("insecure") {
		cfg.Insecure = fv.insecure
	}
	if changed("retry-attempts") {
		cfg.Retry.Attempts = fv.retryAttempts
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, &usageError{err}
	}
	return cfg, nil
}
